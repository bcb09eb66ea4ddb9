// Package gateway integrates the hosted payment page used for wallet
// top-ups. The server initializes a transaction and hands the caller an
// authorization URL; after the customer pays, the reference is verified
// against the provider before any balance is credited.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction verification statuses normalized across providers.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// InitParams describes the transaction to initialize.
type InitParams struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
}

// InitResponse carries the hosted payment page for the client to open.
type InitResponse struct {
	AuthorizationURL string
	Reference        string
	ProviderRef      string
}

// VerifyResponse is the provider's answer for a reference.
type VerifyResponse struct {
	Reference string
	Status    string
	Amount    decimal.Decimal
	Channel   string
	PaidAt    *time.Time
}

// Provider is implemented by each supported payment gateway.
type Provider interface {
	InitializeTransaction(ctx context.Context, params InitParams) (*InitResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error)
}
