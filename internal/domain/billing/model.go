package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice categories. Registration and consultation are the two gate fees
// seeded when a visit opens; the rest are added by the departments as care
// happens.
const (
	CategoryRegistration = "registration"
	CategoryConsultation = "consultation"
	CategoryLaboratory   = "laboratory"
	CategoryRadiology    = "radiology"
	CategoryPharmacy     = "pharmacy"
	CategoryProcedure    = "procedure"
	CategoryIVF          = "ivf"
)

var validCategories = map[string]bool{
	CategoryRegistration: true,
	CategoryConsultation: true,
	CategoryLaboratory:   true,
	CategoryRadiology:    true,
	CategoryPharmacy:     true,
	CategoryProcedure:    true,
	CategoryIVF:          true,
}

const (
	InvoicePending       = "PENDING"
	InvoicePartiallyPaid = "PARTIALLY_PAID"
	InvoicePaid          = "PAID"
	InvoiceWaived        = "WAIVED"
)

const (
	MethodCash      = "cash"
	MethodCard      = "card"
	MethodTransfer  = "transfer"
	MethodWallet    = "wallet"
	MethodInsurance = "insurance"
)

var validMethods = map[string]bool{
	MethodCash:      true,
	MethodCard:      true,
	MethodTransfer:  true,
	MethodWallet:    true,
	MethodInsurance: true,
}

const (
	ReconciliationDraft     = "DRAFT"
	ReconciliationFinalized = "FINALIZED"
)

type Invoice struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	VisitID     uuid.UUID       `db:"visit_id" json:"visit_id"`
	PatientID   uuid.UUID       `db:"patient_id" json:"patient_id"`
	Category    string          `db:"category" json:"category"`
	Description string          `db:"description" json:"description"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	AmountPaid  decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	Status      string          `db:"status" json:"status"`
	CreatedBy   uuid.UUID       `db:"created_by" json:"created_by"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Outstanding is what the patient still owes on this invoice. Waived
// invoices owe nothing regardless of what was paid.
func (i *Invoice) Outstanding() decimal.Decimal {
	if i.Status == InvoiceWaived {
		return decimal.Zero
	}
	return i.Amount.Sub(i.AmountPaid)
}

// Settled means no further payment is expected.
func (i *Invoice) Settled() bool {
	return i.Status == InvoicePaid || i.Status == InvoiceWaived
}

type Payment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	InvoiceID  uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	VisitID    uuid.UUID       `db:"visit_id" json:"visit_id"`
	PatientID  uuid.UUID       `db:"patient_id" json:"patient_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method"`
	Reference  *string         `db:"reference" json:"reference,omitempty"`
	Notes      *string         `db:"notes" json:"notes,omitempty"`
	ReceivedBy uuid.UUID       `db:"received_by" json:"received_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Reconciliation is the end-of-day cash drawer record, one per calendar
// day. Totals are recomputed from the payment ledger while the record is a
// draft; a finalized record never changes again.
type Reconciliation struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Date           time.Time       `db:"recon_date" json:"date"`
	Status         string          `db:"status" json:"status"`
	TotalCash      decimal.Decimal `db:"total_cash" json:"total_cash"`
	TotalCard      decimal.Decimal `db:"total_card" json:"total_card"`
	TotalTransfer  decimal.Decimal `db:"total_transfer" json:"total_transfer"`
	TotalWallet    decimal.Decimal `db:"total_wallet" json:"total_wallet"`
	TotalInsurance decimal.Decimal `db:"total_insurance" json:"total_insurance"`
	TotalCollected decimal.Decimal `db:"total_collected" json:"total_collected"`
	ExpectedCash   decimal.Decimal `db:"expected_cash" json:"expected_cash"`
	CountedCash    decimal.Decimal `db:"counted_cash" json:"counted_cash"`
	Variance       decimal.Decimal `db:"variance" json:"variance"`
	VisitsClosed   int             `db:"visits_closed" json:"visits_closed"`
	StaffName      *string         `db:"staff_name" json:"staff_name,omitempty"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
	FinalizedBy    *uuid.UUID      `db:"finalized_by" json:"finalized_by,omitempty"`
	FinalizedAt    *time.Time      `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// PendingItem is one category's outstanding total within a pending visit.
type PendingItem struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// PendingVisit is a row on the cashier's queue: an open visit with money
// still owed, oldest first.
type PendingVisit struct {
	VisitID      uuid.UUID       `json:"visit_id"`
	VisitNumber  string          `json:"visit_number"`
	PatientID    uuid.UUID       `json:"patient_id"`
	PatientName  string          `json:"patient_name"`
	OpenedAt     time.Time       `json:"opened_at"`
	TotalPending decimal.Decimal `json:"total_pending"`
	Items        []PendingItem   `json:"items"`
}

// GateStatus mirrors the two checkpoints the visit chart hangs on.
type GateStatus struct {
	RegistrationPaid bool
	ConsultationPaid bool
}

var (
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrVisitNotFound           = errors.New("visit not found")
	ErrVisitClosed             = errors.New("visit is closed")
	ErrInvoiceSettled          = errors.New("invoice is already settled")
	ErrOverpayment             = errors.New("amount exceeds the outstanding balance on this invoice")
	ErrInsufficientFunds       = errors.New("insufficient wallet balance")
	ErrReconciliationNotFound  = errors.New("no reconciliation for that date")
	ErrDuplicateReconciliation = errors.New("a reconciliation already exists for that date")
	ErrReconciliationFinalized = errors.New("reconciliation is finalized and can no longer change")
	ErrConfirmationRequired    = errors.New("finalizing requires confirmed: true")
	ErrClaimState              = errors.New("insurance claim is not in the right state for that change")
)
