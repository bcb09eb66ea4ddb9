// Package notify delivers outbound patient and staff messages over SMS,
// WhatsApp and email: login codes, appointment updates, stock alerts and
// wallet receipts. Delivery results are kept in an in-memory outbox so
// failed sends can be retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channel is the transport used to deliver a message.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// ValidChannel reports whether c is a deliverable channel.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

// Message is a single outbound message and its delivery record.
type Message struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Sender interfaces
// ---------------------------------------------------------------------------

// SMSSender sends plain text messages to an E.164 phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// WhatsAppSender sends WhatsApp messages to an E.164 phone number.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) error
}

// EmailSender sends email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template defines a reusable message template.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine manages message templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateOTPLogin,
			Name:    "Login Code",
			Subject: "Your MedCore login code",
			Body:    "{{code}} is your MedCore login code. It expires in {{ttl_minutes}} minutes. Do not share it with anyone.",
			Channel: ChannelSMS,
		},
		{
			ID:      TemplateAppointmentConfirmed,
			Name:    "Appointment Confirmed",
			Subject: "Appointment confirmed",
			Body:    "Dear {{patient_name}}, your appointment with {{doctor_name}} on {{date}} at {{time}} has been confirmed.",
			Channel: ChannelSMS,
		},
		{
			ID:      TemplateAppointmentReminder,
			Name:    "Appointment Reminder",
			Subject: "Appointment reminder",
			Body:    "Dear {{patient_name}}, this is a reminder of your appointment with {{doctor_name}} on {{date}} at {{time}}.",
			Channel: ChannelSMS,
		},
		{
			ID:      TemplateLabResultReady,
			Name:    "Lab Result Ready",
			Subject: "Your results are ready",
			Body:    "Dear {{patient_name}}, your {{test_name}} results are now available. Please log in to the patient portal to view them.",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplateLowStockAlert,
			Name:    "Low Stock Alert",
			Subject: "Low stock: {{drug_name}}",
			Body:    "Stock for {{drug_name}} {{strength}} is down to {{quantity}} units, below the reorder level of {{reorder_level}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplateWalletReceipt,
			Name:    "Wallet Top-up Receipt",
			Subject: "Wallet top-up received",
			Body:    "Dear {{patient_name}}, your wallet has been credited with NGN {{amount}}. New balance: NGN {{balance}}.",
			Channel: ChannelSMS,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// Built-in template IDs.
const (
	TemplateOTPLogin             = "otp-login"
	TemplateAppointmentConfirmed = "appointment-confirmed"
	TemplateAppointmentReminder  = "appointment-reminder"
	TemplateLabResultReady       = "lab-result-ready"
	TemplateLowStockAlert        = "low-stock-alert"
	TemplateWalletReceipt        = "wallet-topup-receipt"
)

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Log senders (development)
// ---------------------------------------------------------------------------

// LogSender writes every message to the structured log instead of delivering
// it. In development this is how login codes reach the tester.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.log.Info().Str("channel", "sms").Str("to", to).Str("body", body).Msg("outbound message")
	return nil
}

func (s *LogSender) SendWhatsApp(_ context.Context, to, body string) error {
	s.log.Info().Str("channel", "whatsapp").Str("to", to).Str("body", body).Msg("outbound message")
	return nil
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.log.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Str("body", body).Msg("outbound message")
	return nil
}

// ---------------------------------------------------------------------------
// Mock senders (test doubles)
// ---------------------------------------------------------------------------

// Call records a single delivery attempt against a mock sender.
type Call struct {
	To      string
	Subject string
	Body    string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockSMSSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockWhatsAppSender is a test double for WhatsAppSender.
type MockWhatsAppSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

func (m *MockWhatsAppSender) SendWhatsApp(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockWhatsAppSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockEmailSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher routes messages to the configured channel senders and keeps the
// delivery outbox.
type Dispatcher struct {
	sms      SMSSender
	whatsapp WhatsAppSender
	email    EmailSender
	tpl      *TemplateEngine

	mu     sync.RWMutex
	outbox map[string]*Message
}

// NewDispatcher constructs a Dispatcher. whatsapp may be nil, in which case
// WhatsApp messages are delivered through the SMS sender.
func NewDispatcher(sms SMSSender, whatsapp WhatsAppSender, email EmailSender, tpl *TemplateEngine) *Dispatcher {
	return &Dispatcher{
		sms:      sms,
		whatsapp: whatsapp,
		email:    email,
		tpl:      tpl,
		outbox:   make(map[string]*Message),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m *Message) error {
	switch m.Channel {
	case ChannelSMS:
		return d.sms.SendSMS(ctx, m.Recipient, m.Body)
	case ChannelWhatsApp:
		if d.whatsapp != nil {
			return d.whatsapp.SendWhatsApp(ctx, m.Recipient, m.Body)
		}
		return d.sms.SendSMS(ctx, m.Recipient, m.Body)
	case ChannelEmail:
		return d.email.SendEmail(ctx, m.Recipient, m.Subject, m.Body)
	default:
		return fmt.Errorf("unsupported channel: %s", m.Channel)
	}
}

// Send delivers a message through its channel, assigns an ID and timestamps,
// and records the outcome in the outbox.
func (d *Dispatcher) Send(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	m.Status = "pending"

	sendErr := d.deliver(ctx, m)
	if sendErr != nil {
		m.Status = "failed"
		m.Error = sendErr.Error()
	} else {
		m.Status = "sent"
		sentAt := time.Now().UTC()
		m.SentAt = &sentAt
	}

	d.mu.Lock()
	d.outbox[m.ID] = m
	d.mu.Unlock()

	return sendErr
}

// SendTemplate renders a template and sends the result over the given channel.
func (d *Dispatcher) SendTemplate(ctx context.Context, channel Channel, templateID string, data map[string]string, recipient string) (*Message, error) {
	subject, body, err := d.tpl.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	m := &Message{
		Channel:      channel,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := d.Send(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

// Get retrieves a message from the outbox by ID.
func (d *Dispatcher) Get(id string) (*Message, error) {
	d.mu.RLock()
	m, ok := d.outbox[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message %q not found", id)
	}
	return m, nil
}

// ListByRecipient returns outbox messages for a recipient, up to limit.
func (d *Dispatcher) ListByRecipient(recipient string, limit int) []*Message {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []*Message
	for _, m := range d.outbox {
		if m.Recipient == recipient {
			result = append(result, m)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// Retry re-sends a failed message. It returns an error if the message is not
// in "failed" status.
func (d *Dispatcher) Retry(ctx context.Context, id string) error {
	d.mu.RLock()
	m, ok := d.outbox[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("message %q not found", id)
	}
	if m.Status != "failed" {
		return fmt.Errorf("message %q is not in failed status (current: %s)", id, m.Status)
	}

	sendErr := d.deliver(ctx, m)

	d.mu.Lock()
	if sendErr != nil {
		m.Status = "failed"
		m.Error = sendErr.Error()
	} else {
		m.Status = "sent"
		sentAt := time.Now().UTC()
		m.SentAt = &sentAt
		m.Error = ""
	}
	d.mu.Unlock()

	return sendErr
}

// Stats returns outbox counts grouped by status.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]int)
	for _, m := range d.outbox {
		stats[m.Status]++
	}
	return stats
}
