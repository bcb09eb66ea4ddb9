package ivf

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Patients is implemented by an adapter over the patient directory. Unknown
// patients must come back as ErrPatientNotFound.
type Patients interface {
	Name(ctx context.Context, patientID uuid.UUID) (string, error)
}

type Service struct {
	repo     Repository
	patients Patients
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients Patients, log zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, log: log, now: time.Now}
}

// CreateInput carries a new treatment cycle.
type CreateInput struct {
	PatientID uuid.UUID
	Protocol  string
	StartDate time.Time
	Notes     string
	CreatedBy uuid.UUID
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Cycle, error) {
	if !validProtocols[in.Protocol] {
		return nil, ErrInvalidProtocol
	}
	if _, err := s.patients.Name(ctx, in.PatientID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	start := in.StartDate
	if start.IsZero() {
		start = now
	}
	c := &Cycle{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		Protocol:  in.Protocol,
		Status:    StatusPlanned,
		Outcome:   OutcomeOngoing,
		StartDate: start,
		Notes:     in.Notes,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, c.ID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Cycle, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Cycle, int, error) {
	cycles, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if cycles == nil {
		cycles = []*Cycle{}
	}
	return cycles, total, nil
}

// UpdateInput carries the fields recorded as a cycle progresses.
type UpdateInput struct {
	Protocol           string
	OocytesRetrieved   int
	OocytesFertilized  int
	EmbryosTransferred int
	Notes              string
}

// Update records counts and notes. Terminal cycles are immutable.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Cycle, error) {
	if !validProtocols[in.Protocol] {
		return nil, ErrInvalidProtocol
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(c.Status) {
		return nil, ErrCycleTerminal
	}

	c.Protocol = in.Protocol
	c.OocytesRetrieved = in.OocytesRetrieved
	c.OocytesFertilized = in.OocytesFertilized
	c.EmbryosTransferred = in.EmbryosTransferred
	c.Notes = in.Notes
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Advance moves the cycle one stage forward in the treatment sequence. The
// status check and update are conditional so racing advances cannot skip a
// stage.
func (s *Service) Advance(ctx context.Context, id uuid.UUID) (*Cycle, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(c.Status) {
		return nil, ErrCycleTerminal
	}
	next := NextStage(c.Status)
	if next == "" {
		return nil, ErrCycleTerminal
	}

	ok, err := s.repo.UpdateStatus(ctx, id, c.Status, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCycleTerminal
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel abandons a cycle from any non-terminal stage.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Cycle, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(c.Status) {
		return nil, ErrCycleTerminal
	}

	ok, err := s.repo.UpdateStatus(ctx, id, c.Status, StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCycleTerminal
	}
	return s.repo.GetByID(ctx, id)
}

// RecordOutcome sets the result of a completed cycle.
func (s *Service) RecordOutcome(ctx context.Context, id uuid.UUID, outcome string) (*Cycle, error) {
	if !validOutcomes[outcome] {
		return nil, ErrInvalidOutcome
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusCompleted {
		return nil, ErrOutcomePending
	}

	ok, err := s.repo.SetOutcome(ctx, id, outcome)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOutcomePending
	}
	return s.repo.GetByID(ctx, id)
}

// Statistics aggregates the clinic's counts. The rate is pregnancies over
// completed cycles as a percent, one decimal, zero when nothing completed.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		TotalCycles:     counts.Total,
		CompletedCycles: counts.Completed,
		CancelledCycles: counts.Cancelled,
		Pregnancies:     counts.Pregnancies,
	}
	if counts.Completed > 0 {
		rate := float64(counts.Pregnancies) / float64(counts.Completed) * 100
		stats.PregnancyRate = math.Round(rate*10) / 10
	}
	return stats, nil
}

// FormatRate renders a rate as the export expects, "33.3%" for 33.3.
func FormatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%"
}

// ExportRows lays the statistics out as field/value pairs for CSV and XLSX
// downloads.
func ExportRows(stats *Statistics) [][]string {
	return [][]string{
		{"Field", "Value"},
		{"Total Cycles", strconv.Itoa(stats.TotalCycles)},
		{"Completed Cycles", strconv.Itoa(stats.CompletedCycles)},
		{"Cancelled Cycles", strconv.Itoa(stats.CancelledCycles)},
		{"Pregnancies", strconv.Itoa(stats.Pregnancies)},
		{"Pregnancy Rate", FormatRate(stats.PregnancyRate)},
	}
}
