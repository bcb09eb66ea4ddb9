package visit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/ws"
)

// Biller is the slice of the billing service visits depend on. Wired after
// construction because billing in turn depends on visits.
type Biller interface {
	// OpenVisitInvoices seeds the registration and consultation invoices for
	// a freshly opened visit, inside the caller's transaction.
	OpenVisitInvoices(ctx context.Context, visitID, patientID, createdBy uuid.UUID) error
	Gates(ctx context.Context, visitID uuid.UUID) (Gates, error)
	OutstandingBalance(ctx context.Context, visitID uuid.UUID) (decimal.Decimal, error)
}

type Service struct {
	repo    Repository
	billing Biller
	runTx   db.TxRunner
	events  ws.Publisher
	log     zerolog.Logger
}

func NewService(repo Repository, runTx db.TxRunner, events ws.Publisher, log zerolog.Logger) *Service {
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	if events == nil {
		events = ws.NopPublisher{}
	}
	return &Service{repo: repo, runTx: runTx, events: events, log: log}
}

// SetBiller attaches the billing dependency. Must be called before visits
// are opened; until then gates read as unpaid.
func (s *Service) SetBiller(b Biller) {
	s.billing = b
}

// Create opens a visit and seeds its registration and consultation invoices
// in one transaction. A patient can have at most one open visit.
func (s *Service) Create(ctx context.Context, v *Visit) error {
	if v.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	v.Status = StatusOpen
	v.PaymentStatus = PaymentUnpaid
	v.ClosedAt = nil

	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, v); err != nil {
			return err
		}
		if s.billing != nil {
			return s.billing.OpenVisitInvoices(ctx, v.ID, v.PatientID, v.OpenedBy)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, ws.EventVisitOpened, ws.TopicVisits, v)
	s.log.Info().
		Str("visit_id", v.ID.String()).
		Str("visit_number", v.VisitNumber).
		Str("patient_id", v.PatientID.String()).
		Msg("visit opened")
	return nil
}

// Get returns the visit with its payment gates attached.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.gates(ctx, id)
	if err != nil {
		return nil, err
	}
	v.Gates = &g
	return v, nil
}

// Info returns the bare visit row. Cross-domain callers use this to avoid
// the gate lookup Get performs.
func (s *Service) Info(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	if f.Status != "" && f.Status != StatusOpen && f.Status != StatusClosed {
		return nil, 0, fmt.Errorf("status must be %s or %s", StatusOpen, StatusClosed)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// OpenIDs lists every open visit, oldest first. Used by end-of-day close.
func (s *Service) OpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.OpenIDs(ctx)
}

// Close ends a visit. The patient must owe nothing unless an insurer has
// taken over the balance.
func (s *Service) Close(ctx context.Context, id, closedBy uuid.UUID) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status == StatusClosed {
		return nil, ErrVisitClosed
	}

	if s.billing != nil && !InsuranceCovered(v.PaymentStatus) {
		balance, err := s.billing.OutstandingBalance(ctx, id)
		if err != nil {
			return nil, err
		}
		if balance.IsPositive() {
			return nil, ErrOutstandingBalance
		}
	}

	now := time.Now()
	if err := s.repo.SetStatus(ctx, id, StatusClosed, &now); err != nil {
		return nil, err
	}
	v.Status = StatusClosed
	v.ClosedAt = &now

	s.publish(ctx, ws.EventVisitClosed, ws.TopicVisits, v)
	s.log.Info().
		Str("visit_id", id.String()).
		Str("closed_by", closedBy.String()).
		Msg("visit closed")
	return v, nil
}

// Reopen reverses a close. Admin-only at the route layer.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusClosed {
		return nil, ErrVisitNotClosed
	}
	if err := s.repo.SetStatus(ctx, id, StatusOpen, nil); err != nil {
		return nil, err
	}
	v.Status = StatusOpen
	v.ClosedAt = nil

	s.publish(ctx, ws.EventVisitOpened, ws.TopicVisits, v)
	s.log.Info().Str("visit_id", id.String()).Msg("visit reopened")
	return v, nil
}

// AssignDoctor attaches the attending doctor to an open visit.
func (s *Service) AssignDoctor(ctx context.Context, id, doctorID uuid.UUID) error {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == StatusClosed {
		return ErrVisitClosed
	}
	return s.repo.AssignDoctor(ctx, id, doctorID)
}

// SetPaymentStatus is called by billing after it recomputes the visit's
// standing from its invoices.
func (s *Service) SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !validPaymentStatuses[status] {
		return fmt.Errorf("invalid payment status: %s", status)
	}
	return s.repo.SetPaymentStatus(ctx, id, status)
}

// GetConsultation returns the note for a visit. Reading the chart requires
// the registration fee to have been paid. A visit with no note yet is not
// an error state worth more than a 404.
func (s *Service) GetConsultation(ctx context.Context, visitID uuid.UUID) (*Consultation, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	g, err := s.gates(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if !g.RegistrationPaid {
		return nil, ErrRegistrationUnpaid
	}
	return s.repo.GetConsultation(ctx, visitID)
}

// CreateConsultation starts the encounter. Both payment gates must be open
// and the visit must still be open.
func (s *Service) CreateConsultation(ctx context.Context, c *Consultation) error {
	v, err := s.repo.GetByID(ctx, c.VisitID)
	if err != nil {
		return err
	}
	if v.Status == StatusClosed {
		return ErrVisitClosed
	}
	g, err := s.gates(ctx, c.VisitID)
	if err != nil {
		return err
	}
	if !g.RegistrationPaid {
		return ErrRegistrationUnpaid
	}
	if !g.ConsultationPaid {
		return ErrConsultationUnpaid
	}

	if err := s.repo.CreateConsultation(ctx, c); err != nil {
		return err
	}
	s.log.Info().
		Str("visit_id", c.VisitID.String()).
		Str("doctor_id", c.CreatedBy.String()).
		Msg("consultation started")
	return nil
}

// UpdateConsultation saves the note if nobody else saved it first. The
// caller sends back the version it loaded; a mismatch means the note moved
// on and the save is refused rather than silently overwritten.
func (s *Service) UpdateConsultation(ctx context.Context, c *Consultation, prevVersion int) (*Consultation, error) {
	v, err := s.repo.GetByID(ctx, c.VisitID)
	if err != nil {
		return nil, err
	}
	if v.Status == StatusClosed {
		return nil, ErrVisitClosed
	}
	g, err := s.gates(ctx, c.VisitID)
	if err != nil {
		return nil, err
	}
	if !g.RegistrationPaid {
		return nil, ErrRegistrationUnpaid
	}

	written, err := s.repo.UpdateConsultation(ctx, c, prevVersion)
	if err != nil {
		return nil, err
	}
	if !written {
		// Distinguish a missing note from a lost race.
		if _, err := s.repo.GetConsultation(ctx, c.VisitID); err != nil {
			return nil, err
		}
		return nil, ErrStaleVersion
	}
	return c, nil
}

func (s *Service) gates(ctx context.Context, visitID uuid.UUID) (Gates, error) {
	if s.billing == nil {
		return Gates{}, nil
	}
	return s.billing.Gates(ctx, visitID)
}

func (s *Service) publish(ctx context.Context, eventType, topic string, v *Visit) {
	payload := map[string]interface{}{
		"visit_id":       v.ID,
		"visit_number":   v.VisitNumber,
		"patient_id":     v.PatientID,
		"status":         v.Status,
		"payment_status": v.PaymentStatus,
	}
	if err := s.events.Publish(ctx, ws.NewEvent(eventType, topic, payload)); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
