package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/medcore/hms/internal/config"
	"github.com/medcore/hms/internal/domain/backup"
	"github.com/medcore/hms/internal/domain/billing"
	"github.com/medcore/hms/internal/domain/identity"
	"github.com/medcore/hms/internal/domain/ivf"
	"github.com/medcore/hms/internal/domain/orders"
	"github.com/medcore/hms/internal/domain/pharmacy"
	"github.com/medcore/hms/internal/domain/scheduling"
	"github.com/medcore/hms/internal/domain/user"
	"github.com/medcore/hms/internal/domain/visit"
	"github.com/medcore/hms/internal/domain/wallet"
	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/gateway"
	"github.com/medcore/hms/internal/platform/lock"
	"github.com/medcore/hms/internal/platform/metrics"
	"github.com/medcore/hms/internal/platform/middleware"
	"github.com/medcore/hms/internal/platform/notify"
	"github.com/medcore/hms/internal/platform/validate"
	"github.com/medcore/hms/internal/platform/ws"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// seedCmd creates the first admin account so someone can log in and create
// the rest of the staff through the API.
func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			phone, _ := cmd.Flags().GetString("phone")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if email == "" && phone == "" {
				return fmt.Errorf("--email or --phone is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			users := user.NewService(user.NewRepo(pool), nil, nil, nil, logger, cfg.DefaultPhoneRegion)

			admin := &user.User{FullName: name, Role: auth.RoleAdmin}
			if email != "" {
				admin.Email = &email
			}
			if phone != "" {
				admin.Phone = &phone
			}
			if err := users.CreateUser(ctx, admin); err != nil {
				return err
			}

			fmt.Printf("Admin user created: %s (%s)\n", admin.FullName, admin.ID)
			fmt.Println("Log in by requesting an OTP for the email or phone you provided.")
			return nil
		},
	}
	cmd.Flags().String("name", "", "Full name of the admin user")
	cmd.Flags().String("email", "", "Email address for OTP login")
	cmd.Flags().String("phone", "", "Phone number for OTP login")
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("unsafe configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
	}
	logger.Info().Msg("connected to redis")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	reg := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	clinic := metrics.NewClinicMetrics(reg)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	etagCfg := middleware.DefaultETagConfig()
	etagCfg.ExcludePaths = []string{"/api/v1/ws", "/metrics"}
	e.Use(middleware.ETag(etagCfg))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(httpMetrics.Middleware())

	// Auth middleware
	tokens := auth.NewTokenManager(
		cfg.JWTSecret,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLHrs)*time.Hour,
	)
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(tokens))
	} else {
		e.Use(auth.JWTMiddleware(tokens))
	}
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")

	rateCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateCfg.RequestsPerSecond <= 0 {
		rateCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateCfg))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, rdb))
	e.GET("/metrics", metrics.HandlerFor(reg))

	// Live event hub
	hub := ws.NewHub(logger)
	hub.OnClientCountChange(clinic.SetWSClients)
	ws.NewHandler(hub).RegisterRoutes(apiV1)

	// Shared plumbing
	runTx := db.NewRunner(pool)
	locks := lock.NewService(rdb, lock.DefaultTTL)
	otp := auth.NewOTPService(rdb, time.Duration(cfg.OTPTTLSec)*time.Second)

	// Outbound messages go to the log until a real SMS/email provider is
	// configured; the dispatcher renders the same templates either way.
	sender := notify.NewLogSender(logger)
	notifier := notify.NewDispatcher(sender, sender, sender, notify.NewTemplateEngine())

	var provider gateway.Provider
	switch cfg.PaymentProvider {
	case "paystack":
		provider = gateway.NewPaystackProvider(cfg.PaystackSecretKey)
	default:
		provider = gateway.NewFakeProvider("http://localhost:" + cfg.Port)
	}

	// Patient directory
	identitySvc := identity.NewService(identity.NewRepo(pool), cfg.DefaultPhoneRegion)
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	// Staff accounts and OTP login. The auth middleware skips the public
	// login paths, so both route groups hang off the same root.
	userSvc := user.NewService(user.NewRepo(pool), tokens, otp, notifier, logger, cfg.DefaultPhoneRegion)
	userSvc.SetMetrics(clinic)
	user.NewHandler(userSvc).RegisterRoutes(apiV1, apiV1)

	// Billing and visits depend on each other; wired through setters after
	// both are constructed.
	fees, err := feeSchedule(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid fee configuration")
	}
	billingSvc := billing.NewService(billing.NewRepo(pool), fees, runTx, hub, logger)
	billingSvc.SetMetrics(clinic)
	visitSvc := visit.NewService(visit.NewRepo(pool), runTx, hub, logger)
	visitSvc.SetBiller(&visitBilling{billing: billingSvc})
	billingSvc.SetVisits(&billingVisits{visits: visitSvc})
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	visit.NewHandler(visitSvc).RegisterRoutes(apiV1)

	// Patient wallets
	walletSvc := wallet.NewService(wallet.NewRepo(pool), provider, &walletPatients{patients: identitySvc}, runTx, hub, logger)
	walletSvc.SetNotifier(notifier)
	walletSvc.SetCurrency(cfg.Currency)
	walletSvc.SetCallbackURL(cfg.PaymentCallbackURL)
	billingSvc.SetWallet(&billingWallet{wallet: walletSvc})
	wallet.NewHandler(walletSvc).RegisterRoutes(apiV1)

	// Pharmacy
	pharmacySvc := pharmacy.NewService(pharmacy.NewRepo(pool), runTx, hub, logger)
	pharmacySvc.SetBiller(&pharmacyBiller{billing: billingSvc})
	pharmacySvc.SetNotifier(notifier, cfg.StockAlertEmail)
	pharmacySvc.SetMetrics(clinic)
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(apiV1)

	// Appointments
	schedSvc := scheduling.NewService(
		scheduling.NewRepo(pool),
		&schedulingPatients{patients: identitySvc},
		&schedulingDoctors{users: userSvc},
		runTx, hub, logger,
	)
	schedSvc.SetNotifier(notifier)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)

	// IVF cycles
	ivfSvc := ivf.NewService(ivf.NewRepo(pool), &ivfPatients{patients: identitySvc}, logger)
	ivf.NewHandler(ivfSvc).RegisterRoutes(apiV1)

	// Lab and radiology orders
	orderSvc := orders.NewService(
		orders.NewRepo(pool),
		&orderGate{visits: visitSvc, billing: billingSvc},
		locks, runTx, logger,
	)
	orderSvc.SetBiller(&orderBiller{billing: billingSvc})
	orders.NewHandler(orderSvc).RegisterRoutes(apiV1)

	// Backups and the worker that drains the job queue
	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.BackupDir).Msg("failed to create backup directory")
	}
	backupSvc := backup.NewService(backup.NewRepo(pool), backup.NewPGRunner(cfg.DatabaseURL), cfg.BackupDir, hub, logger)
	backupSvc.SetMetrics(clinic)
	backup.NewHandler(backupSvc).RegisterRoutes(apiV1)
	worker := backup.NewWorker(backupSvc, backup.DefaultPollInterval, logger)
	worker.Start()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	worker.Stop()
	logger.Info().Msg("server stopped")
	return nil
}

func feeSchedule(cfg *config.Config) (billing.FeeSchedule, error) {
	registration, err := decimal.NewFromString(cfg.RegistrationFee)
	if err != nil {
		return billing.FeeSchedule{}, fmt.Errorf("REGISTRATION_FEE: %w", err)
	}
	consultation, err := decimal.NewFromString(cfg.ConsultationFee)
	if err != nil {
		return billing.FeeSchedule{}, fmt.Errorf("CONSULTATION_FEE: %w", err)
	}
	return billing.FeeSchedule{Registration: registration, Consultation: consultation}, nil
}
