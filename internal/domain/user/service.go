package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/metrics"
	"github.com/medcore/hms/internal/platform/notify"
)

type Service struct {
	repo     Repository
	tokens   *auth.TokenManager
	otp      *auth.OTPService
	notifier *notify.Dispatcher
	clinic   *metrics.ClinicMetrics
	log      zerolog.Logger
	region   string
}

func NewService(repo Repository, tokens *auth.TokenManager, otp *auth.OTPService, notifier *notify.Dispatcher, log zerolog.Logger, region string) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		otp:      otp,
		notifier: notifier,
		log:      log,
		region:   region,
	}
}

// SetMetrics attaches clinic metrics. Safe to skip; observers are nil-tolerant.
func (s *Service) SetMetrics(m *metrics.ClinicMetrics) {
	s.clinic = m
}

// RequestOTP issues a login code for the identifier and hands it to the
// notifier. The response is identical whether or not an account exists, so
// the endpoint cannot be used to probe for registered emails or phones.
// The delivery channel follows the identifier: an email identifier is always
// delivered by email, a phone identifier by SMS unless WhatsApp was asked for.
func (s *Service) RequestOTP(ctx context.Context, identifier string, channel notify.Channel) (*OTPChallenge, error) {
	kind, normalized, err := auth.NormalizeIdentifier(identifier, s.region)
	if err != nil {
		return nil, ErrInvalidIdentifier
	}

	var masked string
	switch kind {
	case auth.IdentifierEmail:
		masked = auth.MaskEmail(normalized)
		channel = notify.ChannelEmail
	case auth.IdentifierPhone:
		masked = auth.MaskPhone(normalized)
		if channel != notify.ChannelWhatsApp {
			channel = notify.ChannelSMS
		}
	}

	challenge := &OTPChallenge{
		Success:         true,
		MaskedRecipient: masked,
		ExpiresIn:       int(s.otp.TTL().Seconds()),
	}

	usr, err := s.repo.FindByIdentifier(ctx, normalized)
	if err != nil || !usr.Active {
		// Same response, no code issued.
		s.log.Info().Str("masked", masked).Msg("otp requested for unknown or inactive identifier")
		return challenge, nil
	}

	code, err := s.otp.Issue(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("issue otp: %w", err)
	}

	data := map[string]string{
		"code":        code,
		"ttl_minutes": fmt.Sprintf("%d", int(s.otp.TTL().Minutes())),
	}
	if _, err := s.notifier.SendTemplate(ctx, channel, notify.TemplateOTPLogin, data, normalized); err != nil {
		return nil, fmt.Errorf("send otp: %w", err)
	}

	s.clinic.ObserveOTPIssued(string(channel))
	s.log.Info().
		Str("user_id", usr.ID.String()).
		Str("channel", string(channel)).
		Str("masked", masked).
		Msg("otp issued")
	return challenge, nil
}

// VerifyOTP exchanges a valid code for an access/refresh pair. Codes are
// single use; a replay of an already consumed code fails like an unknown one.
func (s *Service) VerifyOTP(ctx context.Context, identifier, code string) (*Session, error) {
	_, normalized, err := auth.NormalizeIdentifier(identifier, s.region)
	if err != nil {
		return nil, ErrInvalidIdentifier
	}

	if err := s.otp.Verify(ctx, normalized, code); err != nil {
		s.clinic.ObserveOTPVerified("rejected")
		if err == auth.ErrOTPTooManyAttempts {
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	usr, err := s.repo.FindByIdentifier(ctx, normalized)
	if err != nil {
		s.clinic.ObserveOTPVerified("rejected")
		return nil, ErrInvalidCode
	}
	if !usr.Active {
		return nil, ErrUserDisabled
	}

	pair, err := s.tokens.IssuePair(usr.ID.String(), []string{usr.Role}, usr.FullName)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.clinic.ObserveOTPVerified("success")
	s.log.Info().Str("user_id", usr.ID.String()).Str("role", usr.Role).Msg("login")
	return &Session{Success: true, Access: pair.Access, Refresh: pair.Refresh, User: usr}, nil
}

// Refresh exchanges a refresh token for a fresh pair. Role and active status
// are re-read from the user row so a disabled account cannot rotate forever.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.Verify(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, ErrInvalidRefresh
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	usr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	if !usr.Active {
		return nil, ErrUserDisabled
	}

	pair, err := s.tokens.IssuePair(usr.ID.String(), []string{usr.Role}, usr.FullName)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	return &Session{Success: true, Access: pair.Access, Refresh: pair.Refresh, User: usr}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Doctors returns the active doctor roster for appointment assignment.
func (s *Service) Doctors(ctx context.Context) ([]*User, error) {
	return s.repo.ListDoctors(ctx)
}

// DoctorExists reports whether id names an active doctor.
func (s *Service) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	usr, err := s.repo.GetByID(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return usr.Active && usr.Role == auth.RoleDoctor, nil
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if u.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if !auth.ValidRole(u.Role) {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	if u.Email == nil && u.Phone == nil {
		return fmt.Errorf("an email or phone number is required")
	}
	if u.Email != nil {
		_, normalized, err := auth.NormalizeIdentifier(*u.Email, s.region)
		if err != nil {
			return ErrInvalidIdentifier
		}
		u.Email = &normalized
	}
	if u.Phone != nil {
		normalized, err := auth.NormalizePhone(*u.Phone, s.region)
		if err != nil {
			return ErrInvalidIdentifier
		}
		u.Phone = &normalized
	}
	u.Active = true
	return s.repo.Create(ctx, u)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, fmt.Errorf("invalid role: %s", role)
	}
	return s.repo.List(ctx, role, limit, offset)
}

// Deactivate flips a user inactive. Their tokens keep working until expiry
// but refresh and new logins are refused.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	usr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	usr.Active = false
	return s.repo.Update(ctx, usr)
}

// RegisterDevice mints a device credential for the calling user. The secret
// is returned exactly once; only its bcrypt hash is persisted.
func (s *Service) RegisterDevice(ctx context.Context, userID uuid.UUID, label string) (*DeviceRegistration, error) {
	if label == "" {
		label = "device"
	}
	if _, err := s.repo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, fmt.Errorf("generate device secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash device secret: %w", err)
	}

	dt := &DeviceToken{UserID: userID, Label: label, SecretHash: string(hash)}
	if err := s.repo.CreateDevice(ctx, dt); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", userID.String()).Str("device_id", dt.ID.String()).Msg("device registered")
	return &DeviceRegistration{DeviceID: dt.ID, DeviceSecret: secret, Label: label}, nil
}

// DeviceLogin exchanges a device credential for a token pair without an OTP.
func (s *Service) DeviceLogin(ctx context.Context, deviceID uuid.UUID, secret string) (*Session, error) {
	dt, err := s.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, ErrInvalidDevice
	}
	if err := bcrypt.CompareHashAndPassword([]byte(dt.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidDevice
	}

	usr, err := s.repo.GetByID(ctx, dt.UserID)
	if err != nil {
		return nil, ErrInvalidDevice
	}
	if !usr.Active {
		return nil, ErrUserDisabled
	}

	if err := s.repo.TouchDevice(ctx, dt.ID); err != nil {
		s.log.Warn().Err(err).Str("device_id", dt.ID.String()).Msg("touch device")
	}

	pair, err := s.tokens.IssuePair(usr.ID.String(), []string{usr.Role}, usr.FullName)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	s.log.Info().Str("user_id", usr.ID.String()).Str("device_id", dt.ID.String()).Msg("device login")
	return &Session{Success: true, Access: pair.Access, Refresh: pair.Refresh, User: usr}, nil
}

func (s *Service) ListDevices(ctx context.Context, userID uuid.UUID) ([]*DeviceToken, error) {
	return s.repo.ListDevices(ctx, userID)
}

// RevokeDevice deletes a device credential. Users may only revoke their own.
func (s *Service) RevokeDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	dt, err := s.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return ErrNotFound
	}
	if dt.UserID != userID {
		return ErrNotFound
	}
	return s.repo.DeleteDevice(ctx, deviceID)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
