package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpDigits      = 6
	maxOTPAttempts = 5
)

var (
	// ErrOTPNotFound covers both never-issued and expired codes; callers
	// cannot distinguish the two, which avoids leaking account existence.
	ErrOTPNotFound        = errors.New("otp not found or expired")
	ErrOTPMismatch        = errors.New("otp code does not match")
	ErrOTPTooManyAttempts = errors.New("too many otp attempts")
)

// OTPService issues and verifies one-time login codes. Codes live in Redis
// keyed by the normalized identifier, expire after the configured TTL, and
// are deleted on first successful verification. A counter caps failed
// attempts per code.
type OTPService struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOTPService(rdb *redis.Client, ttl time.Duration) *OTPService {
	return &OTPService{rdb: rdb, ttl: ttl}
}

func otpCodeKey(identifier string) string {
	return "otp:code:" + identifier
}

func otpAttemptsKey(identifier string) string {
	return "otp:attempts:" + identifier
}

// Issue generates a fresh code for the identifier, replacing any outstanding
// one and resetting the attempt counter.
func (s *OTPService) Issue(ctx context.Context, identifier string) (string, error) {
	code, err := randomCode(otpDigits)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	if err := s.rdb.Set(ctx, otpCodeKey(identifier), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	if err := s.rdb.Del(ctx, otpAttemptsKey(identifier)).Err(); err != nil {
		return "", fmt.Errorf("reset otp attempts: %w", err)
	}

	return code, nil
}

// Verify checks the submitted code. On success the code is consumed and a
// second submission of the same code fails with ErrOTPNotFound.
func (s *OTPService) Verify(ctx context.Context, identifier, code string) error {
	stored, err := s.rdb.Get(ctx, otpCodeKey(identifier)).Result()
	if err == redis.Nil {
		return ErrOTPNotFound
	}
	if err != nil {
		return fmt.Errorf("read otp: %w", err)
	}

	attempts, err := s.rdb.Incr(ctx, otpAttemptsKey(identifier)).Result()
	if err != nil {
		return fmt.Errorf("count otp attempt: %w", err)
	}
	if attempts == 1 {
		// Attempt counter dies with the code.
		s.rdb.Expire(ctx, otpAttemptsKey(identifier), s.ttl)
	}
	if attempts > maxOTPAttempts {
		s.rdb.Del(ctx, otpCodeKey(identifier), otpAttemptsKey(identifier))
		return ErrOTPTooManyAttempts
	}

	if stored != code {
		return ErrOTPMismatch
	}

	if err := s.rdb.Del(ctx, otpCodeKey(identifier), otpAttemptsKey(identifier)).Err(); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	return nil
}

// TTL returns the configured code lifetime.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

func randomCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
