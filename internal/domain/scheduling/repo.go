package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows appointment listings. Zero values mean "any".
type ListFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)

	// UpdateStatus flips id from one status to another and reports whether a
	// row matched. A false return means the appointment was absent or no
	// longer in the expected status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	// HasOverlap reports whether the doctor has a non-cancelled appointment
	// intersecting [start, end). exclude skips one appointment, for reschedules.
	HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error)
}
