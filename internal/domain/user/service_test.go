package user

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/notify"
)

// -- Mock Repository --

type mockRepo struct {
	users   map[uuid.UUID]*User
	devices map[uuid.UUID]*DeviceToken
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		users:   make(map[uuid.UUID]*User),
		devices: make(map[uuid.UUID]*DeviceToken),
	}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *mockRepo) FindByIdentifier(_ context.Context, identifier string) (*User, error) {
	for _, u := range m.users {
		if u.Email != nil && *u.Email == identifier {
			return u, nil
		}
		if u.Phone != nil && *u.Phone == identifier {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, u *User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) List(_ context.Context, role string, limit, offset int) ([]*User, int, error) {
	var result []*User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			result = append(result, u)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) ListDoctors(_ context.Context) ([]*User, error) {
	var result []*User
	for _, u := range m.users {
		if u.Role == auth.RoleDoctor && u.Active {
			result = append(result, u)
		}
	}
	return result, nil
}

func (m *mockRepo) CreateDevice(_ context.Context, d *DeviceToken) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.devices[d.ID] = d
	return nil
}

func (m *mockRepo) GetDevice(_ context.Context, id uuid.UUID) (*DeviceToken, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return d, nil
}

func (m *mockRepo) ListDevices(_ context.Context, userID uuid.UUID) ([]*DeviceToken, error) {
	var result []*DeviceToken
	for _, d := range m.devices {
		if d.UserID == userID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockRepo) TouchDevice(_ context.Context, id uuid.UUID) error {
	if d, ok := m.devices[id]; ok {
		now := time.Now()
		d.LastUsedAt = &now
	}
	return nil
}

func (m *mockRepo) DeleteDevice(_ context.Context, id uuid.UUID) error {
	delete(m.devices, id)
	return nil
}

// -- Fixtures --

type testEnv struct {
	svc      *Service
	repo     *mockRepo
	sms      *notify.MockSMSSender
	whatsapp *notify.MockWhatsAppSender
	email    *notify.MockEmailSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := newMockRepo()
	sms := &notify.MockSMSSender{}
	whatsapp := &notify.MockWhatsAppSender{}
	email := &notify.MockEmailSender{}
	dispatcher := notify.NewDispatcher(sms, whatsapp, email, notify.NewTemplateEngine())

	tokens := auth.NewTokenManager("test-secret", 15*time.Minute, 7*24*time.Hour)
	otp := auth.NewOTPService(rdb, 5*time.Minute)

	svc := NewService(repo, tokens, otp, dispatcher, zerolog.Nop(), "NG")
	return &testEnv{svc: svc, repo: repo, sms: sms, whatsapp: whatsapp, email: email}
}

func strPtr(s string) *string { return &s }

func seedUser(env *testEnv, role, email, phone string) *User {
	u := &User{FullName: "Test " + role, Role: role, Active: true}
	if email != "" {
		u.Email = strPtr(email)
	}
	if phone != "" {
		u.Phone = strPtr(phone)
	}
	env.repo.Create(context.Background(), u)
	return u
}

// codeFromBody pulls the 6 digit code out of the rendered OTP message.
func codeFromBody(t *testing.T, body string) string {
	t.Helper()
	fields := strings.Fields(body)
	if len(fields) == 0 || len(fields[0]) != 6 {
		t.Fatalf("could not find code in message %q", body)
	}
	return fields[0]
}

// -- RequestOTP --

func TestRequestOTP_EmailIdentifier(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RoleDoctor, "john@example.com", "")

	challenge, err := env.svc.RequestOTP(context.Background(), "John@Example.com", notify.ChannelEmail)
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if !challenge.Success {
		t.Error("expected success true")
	}
	if challenge.MaskedRecipient != "jo***@example.com" {
		t.Errorf("unexpected mask: %s", challenge.MaskedRecipient)
	}
	if challenge.ExpiresIn != 300 {
		t.Errorf("expected expires_in 300, got %d", challenge.ExpiresIn)
	}

	calls := env.email.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email, got %d", len(calls))
	}
	if calls[0].To != "john@example.com" {
		t.Errorf("expected delivery to normalized email, got %s", calls[0].To)
	}
}

func TestRequestOTP_WhatsAppUsesNormalizedPhone(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RolePatient, "", "+2348012347890")

	challenge, err := env.svc.RequestOTP(context.Background(), "0801 234 7890", notify.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if challenge.MaskedRecipient != "+234******7890" {
		t.Errorf("unexpected mask: %s", challenge.MaskedRecipient)
	}

	calls := env.whatsapp.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 whatsapp message, got %d", len(calls))
	}
	if calls[0].To != "+2348012347890" {
		t.Errorf("expected E.164 recipient, got %s", calls[0].To)
	}
	if len(env.email.Calls()) != 0 {
		t.Error("phone identifier must not go out by email")
	}
}

func TestRequestOTP_EmailIdentifierOverridesChannel(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RoleNurse, "nurse@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "nurse@clinic.org", notify.ChannelSMS); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if len(env.sms.Calls()) != 0 {
		t.Error("email identifier must not go out by sms")
	}
	if len(env.email.Calls()) != 1 {
		t.Error("expected delivery by email")
	}
}

func TestRequestOTP_UnknownIdentifierSameShape(t *testing.T) {
	env := newTestEnv(t)

	challenge, err := env.svc.RequestOTP(context.Background(), "ghost@example.com", notify.ChannelEmail)
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if !challenge.Success || challenge.MaskedRecipient == "" {
		t.Error("unknown identifier must get the same response shape")
	}
	if len(env.email.Calls()) != 0 {
		t.Error("no message may be sent for an unknown identifier")
	}
}

func TestRequestOTP_InvalidIdentifier(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.RequestOTP(context.Background(), "12", notify.ChannelSMS); err != ErrInvalidIdentifier {
		t.Errorf("expected ErrInvalidIdentifier, got %v", err)
	}
}

// -- VerifyOTP --

func TestVerifyOTP_FullLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedUser(env, auth.RoleReceptionist, "front@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "front@clinic.org", notify.ChannelEmail); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	code := codeFromBody(t, env.email.Calls()[0].Body)

	session, err := env.svc.VerifyOTP(context.Background(), "front@clinic.org", code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !session.Success {
		t.Error("expected success true")
	}
	if session.Access == "" || session.Refresh == "" {
		t.Error("expected access and refresh tokens")
	}
	if session.User == nil || session.User.ID != seeded.ID {
		t.Error("expected the seeded user in the session")
	}

	// Single use: replaying the same code fails.
	if _, err := env.svc.VerifyOTP(context.Background(), "front@clinic.org", code); err != ErrInvalidCode {
		t.Errorf("expected ErrInvalidCode on replay, got %v", err)
	}
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RoleDoctor, "doc@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "doc@clinic.org", notify.ChannelEmail); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	if _, err := env.svc.VerifyOTP(context.Background(), "doc@clinic.org", "000000"); err != ErrInvalidCode {
		t.Errorf("expected ErrInvalidCode, got %v", err)
	}

	// The right code still works after a failed attempt.
	code := codeFromBody(t, env.email.Calls()[0].Body)
	if _, err := env.svc.VerifyOTP(context.Background(), "doc@clinic.org", code); err != nil {
		t.Errorf("expected success after one bad attempt, got %v", err)
	}
}

func TestVerifyOTP_AttemptCap(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RoleDoctor, "doc@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "doc@clinic.org", notify.ChannelEmail); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := env.svc.VerifyOTP(context.Background(), "doc@clinic.org", "000000"); err != ErrInvalidCode {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	if _, err := env.svc.VerifyOTP(context.Background(), "doc@clinic.org", "000000"); err != ErrTooManyAttempts {
		t.Errorf("expected ErrTooManyAttempts, got %v", err)
	}

	// The code is burned; even the right one no longer works.
	code := codeFromBody(t, env.email.Calls()[0].Body)
	if _, err := env.svc.VerifyOTP(context.Background(), "doc@clinic.org", code); err != ErrInvalidCode {
		t.Errorf("expected ErrInvalidCode after burn, got %v", err)
	}
}

func TestVerifyOTP_InactiveUser(t *testing.T) {
	env := newTestEnv(t)
	u := seedUser(env, auth.RoleDoctor, "doc@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "doc@clinic.org", notify.ChannelEmail); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	code := codeFromBody(t, env.email.Calls()[0].Body)

	u.Active = false
	if _, err := env.svc.VerifyOTP(context.Background(), "doc@clinic.org", code); err != ErrUserDisabled {
		t.Errorf("expected ErrUserDisabled, got %v", err)
	}
}

// -- Refresh --

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RoleAdmin, "admin@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "admin@clinic.org", notify.ChannelEmail); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	code := codeFromBody(t, env.email.Calls()[0].Body)
	session, err := env.svc.VerifyOTP(context.Background(), "admin@clinic.org", code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	renewed, err := env.svc.Refresh(context.Background(), session.Refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if renewed.Access == "" || renewed.Refresh == "" {
		t.Error("expected fresh token pair")
	}

	// An access token is not accepted where a refresh token belongs.
	if _, err := env.svc.Refresh(context.Background(), session.Access); err != ErrInvalidRefresh {
		t.Errorf("expected ErrInvalidRefresh for access token, got %v", err)
	}
}

func TestRefresh_DeactivatedUser(t *testing.T) {
	env := newTestEnv(t)
	u := seedUser(env, auth.RoleAdmin, "admin@clinic.org", "")

	if _, err := env.svc.RequestOTP(context.Background(), "admin@clinic.org", notify.ChannelEmail); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	code := codeFromBody(t, env.email.Calls()[0].Body)
	session, err := env.svc.VerifyOTP(context.Background(), "admin@clinic.org", code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	if err := env.svc.Deactivate(context.Background(), u.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), session.Refresh); err != ErrUserDisabled {
		t.Errorf("expected ErrUserDisabled, got %v", err)
	}
}

// -- Devices --

func TestDeviceRegistrationAndLogin(t *testing.T) {
	env := newTestEnv(t)
	u := seedUser(env, auth.RolePatient, "", "+2348012347890")

	reg, err := env.svc.RegisterDevice(context.Background(), u.ID, "Pixel 9")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if reg.DeviceSecret == "" {
		t.Fatal("expected a device secret")
	}

	// The stored record carries only a hash.
	stored := env.repo.devices[reg.DeviceID]
	if stored.SecretHash == reg.DeviceSecret {
		t.Error("device secret must not be stored in the clear")
	}

	session, err := env.svc.DeviceLogin(context.Background(), reg.DeviceID, reg.DeviceSecret)
	if err != nil {
		t.Fatalf("DeviceLogin: %v", err)
	}
	if session.User.ID != u.ID {
		t.Error("expected the device owner in the session")
	}
	if stored.LastUsedAt == nil {
		t.Error("expected last_used_at to be touched")
	}

	if _, err := env.svc.DeviceLogin(context.Background(), reg.DeviceID, "wrong-secret"); err != ErrInvalidDevice {
		t.Errorf("expected ErrInvalidDevice for wrong secret, got %v", err)
	}
	if _, err := env.svc.DeviceLogin(context.Background(), uuid.New(), reg.DeviceSecret); err != ErrInvalidDevice {
		t.Errorf("expected ErrInvalidDevice for unknown device, got %v", err)
	}
}

func TestRevokeDevice_OwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	owner := seedUser(env, auth.RolePatient, "", "+2348012347890")
	other := seedUser(env, auth.RolePatient, "", "+2348098765432")

	reg, err := env.svc.RegisterDevice(context.Background(), owner.ID, "tablet")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	if err := env.svc.RevokeDevice(context.Background(), other.ID, reg.DeviceID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for foreign device, got %v", err)
	}
	if err := env.svc.RevokeDevice(context.Background(), owner.ID, reg.DeviceID); err != nil {
		t.Errorf("owner revoke failed: %v", err)
	}
	if _, err := env.svc.DeviceLogin(context.Background(), reg.DeviceID, reg.DeviceSecret); err != ErrInvalidDevice {
		t.Errorf("expected revoked device to be rejected, got %v", err)
	}
}

// -- Roster --

func TestDoctors(t *testing.T) {
	env := newTestEnv(t)
	seedUser(env, auth.RoleDoctor, "a@clinic.org", "")
	inactive := seedUser(env, auth.RoleDoctor, "b@clinic.org", "")
	inactive.Active = false
	seedUser(env, auth.RoleNurse, "c@clinic.org", "")

	doctors, err := env.svc.Doctors(context.Background())
	if err != nil {
		t.Fatalf("Doctors: %v", err)
	}
	if len(doctors) != 1 {
		t.Errorf("expected 1 active doctor, got %d", len(doctors))
	}
}

func TestDoctorExists(t *testing.T) {
	env := newTestEnv(t)
	doc := seedUser(env, auth.RoleDoctor, "a@clinic.org", "")
	nurse := seedUser(env, auth.RoleNurse, "c@clinic.org", "")

	if ok, _ := env.svc.DoctorExists(context.Background(), doc.ID); !ok {
		t.Error("expected doctor to exist")
	}
	if ok, _ := env.svc.DoctorExists(context.Background(), nurse.ID); ok {
		t.Error("nurse must not pass the doctor check")
	}
	if ok, _ := env.svc.DoctorExists(context.Background(), uuid.New()); ok {
		t.Error("unknown id must not pass the doctor check")
	}
}

func TestCreateUser_Validation(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.CreateUser(context.Background(), &User{FullName: "X", Role: "janitor", Email: strPtr("x@y.com")}); err == nil {
		t.Error("expected invalid role to be rejected")
	}
	if err := env.svc.CreateUser(context.Background(), &User{FullName: "X", Role: auth.RoleNurse}); err == nil {
		t.Error("expected missing contact to be rejected")
	}

	u := &User{FullName: "Kemi Adeyemi", Role: auth.RoleNurse, Phone: strPtr("0801 234 7890")}
	if err := env.svc.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if *u.Phone != "+2348012347890" {
		t.Errorf("expected normalized phone, got %s", *u.Phone)
	}
	if !u.Active {
		t.Error("expected new users active")
	}
}
