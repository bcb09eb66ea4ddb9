package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	RedisAddr          string   `mapstructure:"REDIS_ADDR"`
	RedisPassword      string   `mapstructure:"REDIS_PASSWORD"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	AccessTokenTTLMin  int      `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHrs int      `mapstructure:"REFRESH_TOKEN_TTL_HRS"`
	OTPTTLSec          int      `mapstructure:"OTP_TTL_SEC"`
	DefaultPhoneRegion string   `mapstructure:"DEFAULT_PHONE_REGION"`
	PaymentProvider    string   `mapstructure:"PAYMENT_PROVIDER"`
	PaystackSecretKey  string   `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaymentCallbackURL string   `mapstructure:"PAYMENT_CALLBACK_URL"`
	Currency           string   `mapstructure:"CURRENCY"`
	RegistrationFee    string   `mapstructure:"REGISTRATION_FEE"`
	ConsultationFee    string   `mapstructure:"CONSULTATION_FEE"`
	BackupDir          string   `mapstructure:"BACKUP_DIR"`
	StockAlertEmail    string   `mapstructure:"STOCK_ALERT_EMAIL"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled         bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string   `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_HRS", 168)
	v.SetDefault("OTP_TTL_SEC", 300)
	v.SetDefault("DEFAULT_PHONE_REGION", "NG")
	v.SetDefault("PAYMENT_PROVIDER", "fake")
	v.SetDefault("PAYMENT_CALLBACK_URL", "http://localhost:3000/wallet/callback")
	v.SetDefault("CURRENCY", "NGN")
	v.SetDefault("REGISTRATION_FEE", "2000")
	v.SetDefault("CONSULTATION_FEE", "5000")
	v.SetDefault("BACKUP_DIR", "./backups")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_ADDR")
	v.BindEnv("REDIS_PASSWORD")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("ACCESS_TOKEN_TTL_MIN")
	v.BindEnv("REFRESH_TOKEN_TTL_HRS")
	v.BindEnv("OTP_TTL_SEC")
	v.BindEnv("DEFAULT_PHONE_REGION")
	v.BindEnv("PAYMENT_PROVIDER")
	v.BindEnv("PAYSTACK_SECRET_KEY")
	v.BindEnv("PAYMENT_CALLBACK_URL")
	v.BindEnv("CURRENCY")
	v.BindEnv("REGISTRATION_FEE")
	v.BindEnv("CONSULTATION_FEE")
	v.BindEnv("BACKUP_DIR")
	v.BindEnv("STOCK_ALERT_EMAIL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a token are treated as an admin session.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is mandatory so that real authentication is enforced, and the
// live payment provider refuses to start without its API secret.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf(
			"JWT_SECRET must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	switch c.PaymentProvider {
	case "fake":
		if c.IsProduction() {
			return fmt.Errorf("PAYMENT_PROVIDER=fake is not allowed in production")
		}
	case "paystack":
		if c.PaystackSecretKey == "" {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required when PAYMENT_PROVIDER is \"paystack\"")
		}
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be \"fake\" or \"paystack\", got %q", c.PaymentProvider)
	}

	if c.AccessTokenTTLMin <= 0 || c.RefreshTokenTTLHrs <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	for _, fee := range []struct{ name, value string }{
		{"REGISTRATION_FEE", c.RegistrationFee},
		{"CONSULTATION_FEE", c.ConsultationFee},
	} {
		d, err := decimal.NewFromString(fee.value)
		if err != nil {
			return fmt.Errorf("%s must be a decimal amount, got %q", fee.name, fee.value)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", fee.name)
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
