package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/lock"
)

// Visits gates order creation on the visit's standing: the visit must
// exist, be open, and have the registration fee paid. Implemented by an
// adapter over the visit service; failures come back as this package's
// sentinels.
type Visits interface {
	EnsureOrderable(ctx context.Context, visitID uuid.UUID) error
}

// Biller adds the test's invoice item to the visit.
type Biller interface {
	ChargeVisit(ctx context.Context, visitID uuid.UUID, category, description string, amount decimal.Decimal, createdBy uuid.UUID) error
}

type Service struct {
	repo   Repository
	visits Visits
	biller Biller
	locks  *lock.Service
	runTx  db.TxRunner
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, visits Visits, locks *lock.Service, runTx db.TxRunner, log zerolog.Logger) *Service {
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		repo:   repo,
		visits: visits,
		locks:  locks,
		runTx:  runTx,
		log:    log,
		now:    time.Now,
	}
}

// SetBiller attaches invoice creation. Without it orders carry no charge.
func (s *Service) SetBiller(b Biller) { s.biller = b }

// Resource names the order's action lock in Redis.
func Resource(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// CreateInput carries a new test order.
type CreateInput struct {
	VisitID   uuid.UUID
	Modality  string
	TestCode  string
	TestName  string
	Price     decimal.Decimal
	OrderedBy uuid.UUID
}

// Create places the order and bills the visit in one transaction. The
// registration gate is checked first so unregistered visits never accrue
// test charges.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if !validModalities[in.Modality] {
		return nil, ErrInvalidModality
	}
	if err := s.visits.EnsureOrderable(ctx, in.VisitID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:        uuid.New(),
		VisitID:   in.VisitID,
		Modality:  in.Modality,
		TestCode:  in.TestCode,
		TestName:  in.TestName,
		Price:     in.Price,
		Status:    StatusOrdered,
		OrderedBy: in.OrderedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}
		if s.biller != nil && o.Price.IsPositive() {
			category := CategoryFor(o.Modality)
			if err := s.biller.ChargeVisit(ctx, o.VisitID, category, o.TestName, o.Price, o.OrderedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", o.ID.String()).
		Str("visit_id", o.VisitID.String()).
		Str("modality", o.Modality).
		Str("test", o.TestCode).
		Msg("test ordered")
	return s.repo.GetByID(ctx, o.ID)
}

// CategoryFor maps a modality to its invoice category.
func CategoryFor(modality string) string {
	if modality == ModalityRadiology {
		return "radiology"
	}
	return "laboratory"
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Worklist(ctx context.Context, f ListFilter) ([]*Order, int, error) {
	list, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if list == nil {
		list = []*Order{}
	}
	return list, total, nil
}

// AcquireLock claims the order for result entry. An ORDERED test moves to
// IN_PROGRESS on first claim; re-acquiring by the same holder refreshes the
// lease. Held by someone else surfaces as *lock.HeldError.
func (s *Service) AcquireLock(ctx context.Context, id uuid.UUID, holder lock.Holder) (*lock.Info, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusOrdered && o.Status != StatusInProgress {
		return nil, ErrOrderState
	}

	info, err := s.locks.Acquire(ctx, Resource(id), holder)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusOrdered {
		if _, err := s.repo.UpdateStatus(ctx, id, StatusOrdered, StatusInProgress); err != nil {
			s.log.Warn().Err(err).Str("order_id", id.String()).Msg("mark order in progress")
		}
	}
	return info, nil
}

// LockStatus returns who holds the order, or nil when it is free.
func (s *Service) LockStatus(ctx context.Context, id uuid.UUID) (*lock.Info, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.locks.Status(ctx, Resource(id))
}

// ReleaseLock frees the order. Only the holder may release unless force.
func (s *Service) ReleaseLock(ctx context.Context, id uuid.UUID, requesterID string, force bool) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.locks.Release(ctx, Resource(id), requesterID, force)
}

// ResultInput carries a posted finding.
type ResultInput struct {
	Value      string
	ReportText string
	Flags      string
	PostedBy   uuid.UUID
}

// PostResult writes the finding and moves the order to RESULTED. The caller
// must hold the action lock; it is released once the result lands.
func (s *Service) PostResult(ctx context.Context, id uuid.UUID, in ResultInput) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusOrdered && o.Status != StatusInProgress {
		return nil, ErrOrderState
	}

	holds, err := s.locks.IsHolder(ctx, Resource(id), in.PostedBy.String())
	if err != nil {
		return nil, err
	}
	if !holds {
		return nil, ErrLockRequired
	}

	res := &Result{
		ID:         uuid.New(),
		OrderID:    id,
		Value:      in.Value,
		ReportText: in.ReportText,
		Flags:      in.Flags,
		PostedBy:   in.PostedBy,
		PostedAt:   s.now().UTC(),
	}
	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateResult(ctx, res); err != nil {
			return err
		}
		ok, err := s.repo.UpdateStatus(ctx, id, o.Status, StatusResulted)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.locks.Release(ctx, Resource(id), in.PostedBy.String(), true); err != nil {
		s.log.Warn().Err(err).Str("order_id", id.String()).Msg("release order lock")
	}
	s.log.Info().
		Str("order_id", id.String()).
		Str("posted_by", in.PostedBy.String()).
		Msg("result posted")
	return s.repo.GetByID(ctx, id)
}

// Verify signs off a RESULTED order.
func (s *Service) Verify(ctx context.Context, id uuid.UUID, verifiedBy uuid.UUID) (*Order, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.repo.SetVerified(ctx, id, verifiedBy)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderState
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel withdraws an order nobody has started working.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Order, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.repo.UpdateStatus(ctx, id, StatusOrdered, StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderState
	}
	return s.repo.GetByID(ctx, id)
}
