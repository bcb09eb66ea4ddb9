package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FakeProvider is a development provider that issues an internal checkout
// URL and lets tests or a dev operator complete the payment without real
// gateway credentials. It must be gated by configuration and is refused in
// production by config validation.
type FakeProvider struct {
	publicBaseURL string

	mu  sync.Mutex
	txs map[string]*fakeTx
}

type fakeTx struct {
	amount decimal.Decimal
	status string
	paidAt *time.Time
}

func NewFakeProvider(publicBaseURL string) *FakeProvider {
	return &FakeProvider{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		txs:           make(map[string]*fakeTx),
	}
}

func (p *FakeProvider) InitializeTransaction(ctx context.Context, params InitParams) (*InitResponse, error) {
	_ = ctx
	if params.Reference == "" {
		return nil, fmt.Errorf("gateway: fake provider requires a reference")
	}
	if p.publicBaseURL == "" || !isValidBaseURL(p.publicBaseURL) {
		return nil, fmt.Errorf("gateway: fake provider requires an absolute http(s) base URL")
	}

	p.mu.Lock()
	p.txs[params.Reference] = &fakeTx{amount: params.Amount, status: StatusPending}
	p.mu.Unlock()

	return &InitResponse{
		AuthorizationURL: fmt.Sprintf("%s/payments/fake?reference=%s", p.publicBaseURL, url.QueryEscape(params.Reference)),
		Reference:        params.Reference,
		ProviderRef:      "fake:" + params.Reference,
	}, nil
}

func (p *FakeProvider) VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.txs[reference]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown reference %q", reference)
	}
	return &VerifyResponse{
		Reference: reference,
		Status:    tx.status,
		Amount:    tx.amount,
		Channel:   "fake",
		PaidAt:    tx.paidAt,
	}, nil
}

// Complete marks a pending transaction as paid so Verify reports success.
func (p *FakeProvider) Complete(reference string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.txs[reference]
	if !ok {
		return fmt.Errorf("gateway: unknown reference %q", reference)
	}
	now := time.Now().UTC()
	tx.status = StatusSuccess
	tx.paidAt = &now
	return nil
}

// Fail marks a pending transaction as failed.
func (p *FakeProvider) Fail(reference string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.txs[reference]
	if !ok {
		return fmt.Errorf("gateway: unknown reference %q", reference)
	}
	tx.status = StatusFailed
	return nil
}

func isValidBaseURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
