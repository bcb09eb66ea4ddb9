package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/metrics"
	"github.com/medcore/hms/internal/platform/ws"
)

// Visit status and payment standing strings, as the visit domain spells
// them. Billing owns the recompute; visits own the vocabulary.
const (
	visitOpen   = "OPEN"
	visitClosed = "CLOSED"

	visitUnpaid           = "UNPAID"
	visitPartiallyPaid    = "PARTIALLY_PAID"
	visitPaid             = "PAID"
	visitInsurancePending = "INSURANCE_PENDING"
	visitInsuranceClaimed = "INSURANCE_CLAIMED"
	visitSettled          = "SETTLED"
)

func insuranceTrack(status string) bool {
	switch status {
	case visitInsurancePending, visitInsuranceClaimed, visitSettled:
		return true
	}
	return false
}

// VisitInfo is the slice of a visit billing needs.
type VisitInfo struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	Status        string
	PaymentStatus string
}

// Visits is implemented by an adapter over the visit service.
type Visits interface {
	Info(ctx context.Context, id uuid.UUID) (*VisitInfo, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error
	OpenIDs(ctx context.Context) ([]uuid.UUID, error)
	Close(ctx context.Context, id, closedBy uuid.UUID) error
}

// WalletDebiter charges a patient's wallet. Implementations must report
// a short balance as ErrInsufficientFunds.
type WalletDebiter interface {
	Debit(ctx context.Context, patientID uuid.UUID, amount decimal.Decimal, reference string) error
}

// FeeSchedule is the pair of gate fees seeded on every new visit.
type FeeSchedule struct {
	Registration decimal.Decimal
	Consultation decimal.Decimal
}

type Service struct {
	repo   Repository
	visits Visits
	wallet WalletDebiter
	runTx  db.TxRunner
	events ws.Publisher
	clinic *metrics.ClinicMetrics
	log    zerolog.Logger
	fees   FeeSchedule
	now    func() time.Time
}

func NewService(repo Repository, fees FeeSchedule, runTx db.TxRunner, events ws.Publisher, log zerolog.Logger) *Service {
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	if events == nil {
		events = ws.NopPublisher{}
	}
	return &Service{
		repo:   repo,
		fees:   fees,
		runTx:  runTx,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// SetVisits attaches the visit dependency. Wired after construction because
// visits in turn depend on billing.
func (s *Service) SetVisits(v Visits) { s.visits = v }

// SetWallet attaches the wallet used for wallet-method payments.
func (s *Service) SetWallet(w WalletDebiter) { s.wallet = w }

// SetMetrics attaches clinic metrics. Safe to skip; observers are nil-tolerant.
func (s *Service) SetMetrics(m *metrics.ClinicMetrics) { s.clinic = m }

// OpenVisitInvoices seeds the two gate fees for a freshly opened visit. It
// runs inside the visit-create transaction and so never checks the visit
// row itself. A zero fee is born settled so its gate opens immediately.
func (s *Service) OpenVisitInvoices(ctx context.Context, visitID, patientID, createdBy uuid.UUID) error {
	seeds := []struct {
		category, description string
		amount                decimal.Decimal
	}{
		{CategoryRegistration, "Registration fee", s.fees.Registration},
		{CategoryConsultation, "Consultation fee", s.fees.Consultation},
	}
	for _, seed := range seeds {
		inv := &Invoice{
			VisitID:     visitID,
			PatientID:   patientID,
			Category:    seed.category,
			Description: seed.description,
			Amount:      seed.amount,
			AmountPaid:  decimal.Zero,
			Status:      InvoicePending,
			CreatedBy:   createdBy,
		}
		if seed.amount.IsZero() {
			inv.Status = InvoicePaid
		}
		if err := s.repo.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("seed %s invoice: %w", seed.category, err)
		}
	}
	return nil
}

// CreateInvoice adds a charge to an open visit.
func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if !validCategories[inv.Category] {
		return fmt.Errorf("unknown category: %s", inv.Category)
	}
	if inv.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}
	vi, err := s.visits.Info(ctx, inv.VisitID)
	if err != nil {
		return err
	}
	if vi.Status == visitClosed {
		return ErrVisitClosed
	}

	inv.PatientID = vi.PatientID
	inv.AmountPaid = decimal.Zero
	inv.Status = InvoicePending
	if inv.Amount.IsZero() {
		inv.Status = InvoicePaid
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		return s.refreshVisitStatus(ctx, inv.VisitID, "")
	})
	if err != nil {
		return err
	}

	s.publishQueue(ctx)
	s.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("visit_id", inv.VisitID.String()).
		Str("category", inv.Category).
		Str("amount", inv.Amount.String()).
		Msg("invoice created")
	return nil
}

// VisitBilling is the cashier's view of one visit.
type VisitBilling struct {
	Invoices    []*Invoice      `json:"invoices"`
	Payments    []*Payment      `json:"payments"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

func (s *Service) VisitBilling(ctx context.Context, visitID uuid.UUID) (*VisitBilling, error) {
	if _, err := s.visits.Info(ctx, visitID); err != nil {
		return nil, err
	}
	invoices, err := s.repo.ListInvoicesByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPaymentsByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	outstanding := decimal.Zero
	for _, inv := range invoices {
		outstanding = outstanding.Add(inv.Outstanding())
	}
	if invoices == nil {
		invoices = []*Invoice{}
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return &VisitBilling{Invoices: invoices, Payments: payments, Outstanding: outstanding}, nil
}

// RecordPayment posts money against an invoice. Wallet payments debit the
// patient's wallet in the same transaction, so a short balance rolls the
// whole payment back. After the invoice is updated the visit's standing is
// recomputed; an insurance payment parks the visit on the insurance track.
func (s *Service) RecordPayment(ctx context.Context, p *Payment) (*Payment, error) {
	if !validMethods[p.Method] {
		return nil, fmt.Errorf("unknown payment method: %s", p.Method)
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	inv, err := s.repo.GetInvoice(ctx, p.InvoiceID)
	if err != nil {
		return nil, err
	}
	vi, err := s.visits.Info(ctx, inv.VisitID)
	if err != nil {
		return nil, err
	}
	if vi.Status == visitClosed {
		return nil, ErrVisitClosed
	}
	if inv.Settled() {
		return nil, ErrInvoiceSettled
	}
	if p.Amount.GreaterThan(inv.Outstanding()) {
		return nil, ErrOverpayment
	}

	p.VisitID = inv.VisitID
	p.PatientID = inv.PatientID

	err = s.runTx(ctx, func(ctx context.Context) error {
		if p.Method == MethodWallet {
			if s.wallet == nil {
				return fmt.Errorf("wallet payments are not configured")
			}
			if err := s.wallet.Debit(ctx, inv.PatientID, p.Amount, "invoice "+inv.ID.String()); err != nil {
				return err
			}
		}
		if err := s.repo.CreatePayment(ctx, p); err != nil {
			return err
		}
		inv.AmountPaid = inv.AmountPaid.Add(p.Amount)
		if inv.AmountPaid.GreaterThanOrEqual(inv.Amount) {
			inv.Status = InvoicePaid
		} else {
			inv.Status = InvoicePartiallyPaid
		}
		if err := s.repo.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return s.refreshVisitStatus(ctx, inv.VisitID, p.Method)
	})
	if err != nil {
		return nil, err
	}

	s.clinic.ObservePayment(inv.Category, p.Method)
	s.publish(ctx, ws.NewEvent(ws.EventPaymentRecorded, ws.TopicPayments, map[string]interface{}{
		"payment_id": p.ID,
		"invoice_id": inv.ID,
		"visit_id":   inv.VisitID,
		"amount":     p.Amount,
		"method":     p.Method,
	}))
	s.publishQueue(ctx)
	s.log.Info().
		Str("payment_id", p.ID.String()).
		Str("invoice_id", inv.ID.String()).
		Str("method", p.Method).
		Str("amount", p.Amount.String()).
		Msg("payment recorded")
	return p, nil
}

// WaiveInvoice forgives an invoice's remaining balance. Admin-only at the
// route layer.
func (s *Service) WaiveInvoice(ctx context.Context, id, waivedBy uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Settled() {
		return nil, ErrInvoiceSettled
	}

	inv.Status = InvoiceWaived
	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return s.refreshVisitStatus(ctx, inv.VisitID, "")
	})
	if err != nil {
		return nil, err
	}

	s.publishQueue(ctx)
	s.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("waived_by", waivedBy.String()).
		Msg("invoice waived")
	return inv, nil
}

// Gates reports the two payment checkpoints for a visit. A gate opens only
// when at least one invoice of its category exists and every one of them is
// settled.
func (s *Service) Gates(ctx context.Context, visitID uuid.UUID) (GateStatus, error) {
	invoices, err := s.repo.ListInvoicesByVisit(ctx, visitID)
	if err != nil {
		return GateStatus{}, err
	}
	return GateStatus{
		RegistrationPaid: categorySettled(invoices, CategoryRegistration),
		ConsultationPaid: categorySettled(invoices, CategoryConsultation),
	}, nil
}

// OutstandingBalance totals what the patient still owes across the visit.
func (s *Service) OutstandingBalance(ctx context.Context, visitID uuid.UUID) (decimal.Decimal, error) {
	invoices, err := s.repo.ListInvoicesByVisit(ctx, visitID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.Outstanding())
	}
	return total, nil
}

// MarkInsuranceClaimed advances a visit from INSURANCE_PENDING once the
// claim has been filed with the insurer.
func (s *Service) MarkInsuranceClaimed(ctx context.Context, visitID uuid.UUID) error {
	vi, err := s.visits.Info(ctx, visitID)
	if err != nil {
		return err
	}
	if vi.PaymentStatus != visitInsurancePending {
		return ErrClaimState
	}
	if err := s.visits.SetPaymentStatus(ctx, visitID, visitInsuranceClaimed); err != nil {
		return err
	}
	s.log.Info().Str("visit_id", visitID.String()).Msg("insurance claim filed")
	return nil
}

// MarkInsuranceSettled records the insurer's payout for a claimed visit.
func (s *Service) MarkInsuranceSettled(ctx context.Context, visitID uuid.UUID) error {
	vi, err := s.visits.Info(ctx, visitID)
	if err != nil {
		return err
	}
	if vi.PaymentStatus != visitInsuranceClaimed {
		return ErrClaimState
	}
	if err := s.visits.SetPaymentStatus(ctx, visitID, visitSettled); err != nil {
		return err
	}
	s.log.Info().Str("visit_id", visitID.String()).Msg("insurance claim settled")
	return nil
}

// PendingQueue lists open visits that still owe money, oldest first.
func (s *Service) PendingQueue(ctx context.Context) ([]*PendingVisit, error) {
	pending, err := s.repo.PendingVisits(ctx)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []*PendingVisit{}
	}
	return pending, nil
}

// Today returns the current day's reconciliation. Absence simply means the
// drawer has not been opened yet.
func (s *Service) Today(ctx context.Context) (*Reconciliation, error) {
	day, _ := dayBounds(s.now())
	return s.repo.GetReconciliationByDate(ctx, day)
}

func (s *Service) GetReconciliation(ctx context.Context, id uuid.UUID) (*Reconciliation, error) {
	return s.repo.GetReconciliation(ctx, id)
}

func (s *Service) ListReconciliations(ctx context.Context, limit, offset int) ([]*Reconciliation, int, error) {
	return s.repo.ListReconciliations(ctx, limit, offset)
}

// CreateReconciliation opens the day's drawer record with totals computed
// from the payment ledger. With closeVisits set, every open visit that owes
// nothing is closed; visits with balances stay open and are reported back
// in VisitsClosed untouched.
func (s *Service) CreateReconciliation(ctx context.Context, date time.Time, closeVisits bool, staffName *string, actor uuid.UUID) (*Reconciliation, error) {
	if date.IsZero() {
		date = s.now()
	}
	day, _ := dayBounds(date)

	rec := &Reconciliation{
		Date:      day,
		Status:    ReconciliationDraft,
		StaffName: staffName,
	}
	if err := s.computeTotals(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.repo.CreateReconciliation(ctx, rec); err != nil {
		return nil, err
	}

	if closeVisits {
		ids, err := s.visits.OpenIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if err := s.visits.Close(ctx, id, actor); err != nil {
				// Balances keep their visits open; that is the expected path.
				s.log.Debug().Err(err).Str("visit_id", id.String()).Msg("visit left open at day close")
				continue
			}
			rec.VisitsClosed++
		}
		if rec.VisitsClosed > 0 {
			if err := s.repo.UpdateReconciliation(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	s.log.Info().
		Str("reconciliation_id", rec.ID.String()).
		Str("date", day.Format("2006-01-02")).
		Int("visits_closed", rec.VisitsClosed).
		Msg("reconciliation opened")
	return rec, nil
}

// Refresh recomputes a draft's totals from the ledger.
func (s *Service) Refresh(ctx context.Context, id uuid.UUID) (*Reconciliation, error) {
	rec, err := s.repo.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == ReconciliationFinalized {
		return nil, ErrReconciliationFinalized
	}
	if err := s.computeTotals(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FinalizeRequest carries the cashier's count. Confirmed must be true; the
// UI shows the variance before the cashier commits to it.
type FinalizeRequest struct {
	Confirmed   bool
	CountedCash decimal.Decimal
	StaffName   *string
	Notes       *string
}

// Finalize locks the day. Totals get one last refresh, the counted cash is
// recorded and the variance fixed. After this only export works.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, req FinalizeRequest, actor uuid.UUID) (*Reconciliation, error) {
	rec, err := s.repo.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == ReconciliationFinalized {
		return nil, ErrReconciliationFinalized
	}
	if !req.Confirmed {
		return nil, ErrConfirmationRequired
	}

	if err := s.computeTotals(ctx, rec); err != nil {
		return nil, err
	}
	rec.CountedCash = req.CountedCash
	rec.Variance = req.CountedCash.Sub(rec.ExpectedCash)
	if req.StaffName != nil {
		rec.StaffName = req.StaffName
	}
	if req.Notes != nil {
		rec.Notes = req.Notes
	}
	now := s.now()
	rec.Status = ReconciliationFinalized
	rec.FinalizedAt = &now
	rec.FinalizedBy = &actor

	if err := s.repo.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("reconciliation_id", rec.ID.String()).
		Str("variance", rec.Variance.String()).
		Msg("reconciliation finalized")
	return rec, nil
}

// ExportRows renders a reconciliation as field/value rows for CSV and XLSX
// downloads.
func ExportRows(rec *Reconciliation) [][]string {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return [][]string{
		{"Field", "Value"},
		{"Date", rec.Date.Format("2006-01-02")},
		{"Status", rec.Status},
		{"Total Cash", rec.TotalCash.StringFixed(2)},
		{"Total Card", rec.TotalCard.StringFixed(2)},
		{"Total Transfer", rec.TotalTransfer.StringFixed(2)},
		{"Total Wallet", rec.TotalWallet.StringFixed(2)},
		{"Total Insurance", rec.TotalInsurance.StringFixed(2)},
		{"Total Collected", rec.TotalCollected.StringFixed(2)},
		{"Expected Cash", rec.ExpectedCash.StringFixed(2)},
		{"Counted Cash", rec.CountedCash.StringFixed(2)},
		{"Variance", rec.Variance.StringFixed(2)},
		{"Visits Closed", strconv.Itoa(rec.VisitsClosed)},
		{"Staff Name", deref(rec.StaffName)},
		{"Notes", deref(rec.Notes)},
	}
}

func (s *Service) computeTotals(ctx context.Context, rec *Reconciliation) error {
	from, to := dayBounds(rec.Date)
	sums, err := s.repo.SumPaymentsByMethod(ctx, from, to)
	if err != nil {
		return err
	}
	rec.TotalCash = sums[MethodCash]
	rec.TotalCard = sums[MethodCard]
	rec.TotalTransfer = sums[MethodTransfer]
	rec.TotalWallet = sums[MethodWallet]
	rec.TotalInsurance = sums[MethodInsurance]
	rec.TotalCollected = rec.TotalCash.
		Add(rec.TotalCard).
		Add(rec.TotalTransfer).
		Add(rec.TotalWallet).
		Add(rec.TotalInsurance)
	rec.ExpectedCash = rec.TotalCash
	return nil
}

// refreshVisitStatus recomputes the visit's payment standing from its
// invoices. An insurance payment moves the visit onto the insurance track;
// once there, only the claim endpoints move it again.
func (s *Service) refreshVisitStatus(ctx context.Context, visitID uuid.UUID, lastMethod string) error {
	vi, err := s.visits.Info(ctx, visitID)
	if err != nil {
		return err
	}

	var next string
	switch {
	case lastMethod == MethodInsurance:
		next = visitInsurancePending
	case insuranceTrack(vi.PaymentStatus):
		return nil
	default:
		invoices, err := s.repo.ListInvoicesByVisit(ctx, visitID)
		if err != nil {
			return err
		}
		next = deriveStatus(invoices)
	}

	if next == vi.PaymentStatus {
		return nil
	}
	return s.visits.SetPaymentStatus(ctx, visitID, next)
}

func deriveStatus(invoices []*Invoice) string {
	if len(invoices) == 0 {
		return visitUnpaid
	}
	allSettled := true
	anyPaid := false
	for _, inv := range invoices {
		if !inv.Settled() {
			allSettled = false
		}
		if inv.AmountPaid.IsPositive() {
			anyPaid = true
		}
	}
	if allSettled {
		return visitPaid
	}
	if anyPaid {
		return visitPartiallyPaid
	}
	return visitUnpaid
}

func categorySettled(invoices []*Invoice, category string) bool {
	found := false
	for _, inv := range invoices {
		if inv.Category != category {
			continue
		}
		found = true
		if !inv.Settled() {
			return false
		}
	}
	return found
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day, day.AddDate(0, 0, 1)
}

func (s *Service) publish(ctx context.Context, event ws.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", event.Type).Msg("publish event")
	}
}

func (s *Service) publishQueue(ctx context.Context) {
	s.publish(ctx, ws.NewEvent(ws.EventQueueUpdated, ws.TopicQueue, nil))
}
