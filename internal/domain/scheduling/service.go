package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/notify"
	"github.com/medcore/hms/internal/platform/ws"
)

// PatientContact is the slice of the patient record used for confirmations.
type PatientContact struct {
	Name  string
	Phone string
}

// Patients is implemented by an adapter over the patient directory. Unknown
// patients must come back as ErrPatientNotFound.
type Patients interface {
	Contact(ctx context.Context, patientID uuid.UUID) (*PatientContact, error)
}

// Doctors is implemented by an adapter over the staff directory. Inactive or
// non-doctor users must come back as ErrDoctorNotFound.
type Doctors interface {
	Name(ctx context.Context, doctorID uuid.UUID) (string, error)
}

type Service struct {
	repo     Repository
	patients Patients
	doctors  Doctors
	runTx    db.TxRunner
	events   ws.Publisher
	notifier *notify.Dispatcher
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients Patients, doctors Doctors, runTx db.TxRunner, events ws.Publisher, log zerolog.Logger) *Service {
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	if events == nil {
		events = ws.NopPublisher{}
	}
	return &Service{
		repo:     repo,
		patients: patients,
		doctors:  doctors,
		runTx:    runTx,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// SetNotifier attaches confirmation delivery. Safe to skip in tests.
func (s *Service) SetNotifier(n *notify.Dispatcher) { s.notifier = n }

// CreateInput carries a booking request.
type CreateInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Reason          string
	Notes           string
	CreatedBy       uuid.UUID
}

// Create books a slot. The overlap check and insert share a transaction so
// two racing bookings cannot both land on the same doctor.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if _, err := s.patients.Contact(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.doctors.Name(ctx, in.DoctorID); err != nil {
		return nil, err
	}
	duration := in.DurationMinutes
	if duration <= 0 {
		duration = DefaultDurationMinutes
	}

	now := s.now().UTC()
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: duration,
		Reason:          in.Reason,
		Notes:           in.Notes,
		Status:          StatusScheduled,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.runTx(ctx, func(ctx context.Context) error {
		busy, err := s.repo.HasOverlap(ctx, a.DoctorID, a.ScheduledAt, a.End(), uuid.Nil)
		if err != nil {
			return err
		}
		if busy {
			return ErrOverlap
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	created, err := s.repo.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	appts, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return appts, total, nil
}

// DoctorDay lists one doctor's schedule for a calendar day (UTC bounds).
func (s *Service) DoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]*Appointment, error) {
	if _, err := s.doctors.Name(ctx, doctorID); err != nil {
		return nil, err
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	appts, _, err := s.repo.List(ctx, ListFilter{
		DoctorID: doctorID,
		From:     from,
		To:       from.AddDate(0, 0, 1),
		Limit:    200,
	})
	if err != nil {
		return nil, err
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return appts, nil
}

// Transition moves an appointment to a new status, honoring the legal table.
// The status check and update are conditional so a racing transition loses
// cleanly instead of overwriting.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to string) (*Appointment, error) {
	if !validStatuses[to] {
		return nil, ErrIllegalTransition
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, ErrIllegalTransition
	}
	ok, err := s.repo.UpdateStatus(ctx, id, a.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIllegalTransition
	}

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	if to == StatusConfirmed {
		s.sendConfirmation(ctx, updated)
	}
	return updated, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusConfirmed)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled)
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusNoShow)
}

func (s *Service) publish(ctx context.Context, a *Appointment) {
	event := ws.NewEvent(ws.EventAppointmentUpdated, ws.TopicAppointments, map[string]any{
		"appointment_id": a.ID,
		"doctor_id":      a.DoctorID,
		"scheduled_at":   a.ScheduledAt,
		"status":         a.Status,
	})
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Msg("publish appointment event")
	}
}

func (s *Service) sendConfirmation(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	contact, err := s.patients.Contact(ctx, a.PatientID)
	if err != nil || contact.Phone == "" {
		return
	}
	data := map[string]string{
		"patient_name": a.PatientName,
		"doctor_name":  a.DoctorName,
		"date":         a.ScheduledAt.Format("2006-01-02"),
		"time":         a.ScheduledAt.Format("15:04"),
	}
	if _, err := s.notifier.SendTemplate(ctx, notify.ChannelSMS, notify.TemplateAppointmentConfirmed, data, contact.Phone); err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", a.ID).Msg("send appointment confirmation")
	}
}
