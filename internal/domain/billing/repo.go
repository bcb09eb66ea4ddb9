package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	ListInvoicesByVisit(ctx context.Context, visitID uuid.UUID) ([]*Invoice, error)

	CreatePayment(ctx context.Context, p *Payment) error
	ListPaymentsByVisit(ctx context.Context, visitID uuid.UUID) ([]*Payment, error)
	// SumPaymentsByMethod totals payments recorded in [from, to) per method.
	SumPaymentsByMethod(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error)

	// PendingVisits lists open visits with outstanding invoices, oldest
	// first, each with its per-category breakdown.
	PendingVisits(ctx context.Context) ([]*PendingVisit, error)

	CreateReconciliation(ctx context.Context, r *Reconciliation) error
	GetReconciliation(ctx context.Context, id uuid.UUID) (*Reconciliation, error)
	GetReconciliationByDate(ctx context.Context, date time.Time) (*Reconciliation, error)
	UpdateReconciliation(ctx context.Context, r *Reconciliation) error
	ListReconciliations(ctx context.Context, limit, offset int) ([]*Reconciliation, int, error)
}
