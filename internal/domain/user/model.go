package user

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// User maps to the app_user table. Every login belongs here, staff and
// patients alike; the role decides what the token can reach.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DeviceToken maps to the device_token table. A device registers once after a
// normal OTP login and afterwards exchanges its secret for a token pair
// without a fresh code, which is what the patient portal's biometric unlock
// uses. Only the bcrypt hash of the secret is stored.
type DeviceToken struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Label      string     `db:"label" json:"label"`
	SecretHash string     `db:"secret_hash" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// OTPChallenge is the response to a code request. The same shape comes back
// whether or not the identifier matches an account.
type OTPChallenge struct {
	Success         bool   `json:"success"`
	MaskedRecipient string `json:"masked_recipient"`
	ExpiresIn       int    `json:"expires_in"`
}

// Session is the response to a successful login or refresh.
type Session struct {
	Success bool   `json:"success"`
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user"`
}

// DeviceRegistration carries the device secret back to the client exactly
// once. It is never retrievable again.
type DeviceRegistration struct {
	DeviceID     uuid.UUID `json:"device_id"`
	DeviceSecret string    `json:"device_secret"`
	Label        string    `json:"label"`
}

var (
	ErrNotFound          = errors.New("user not found")
	ErrInvalidIdentifier = errors.New("identifier is not a valid email or phone number")
	ErrInvalidCode       = errors.New("invalid or expired code")
	ErrTooManyAttempts   = errors.New("too many verification attempts")
	ErrInvalidRefresh    = errors.New("invalid refresh token")
	ErrInvalidDevice     = errors.New("unknown device or wrong secret")
	ErrUserDisabled      = errors.New("account is disabled")
	ErrDuplicateUser     = errors.New("a user with that email or phone already exists")
)
