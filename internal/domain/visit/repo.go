package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows visit listings. Zero values mean "no filter".
type ListFilter struct {
	Status    string
	PatientID uuid.UUID
	From      time.Time
	To        time.Time
}

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error)
	// OpenIDs returns the ids of every OPEN visit, oldest first.
	OpenIDs(ctx context.Context) ([]uuid.UUID, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, closedAt *time.Time) error
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error
	AssignDoctor(ctx context.Context, id uuid.UUID, doctorID uuid.UUID) error

	CreateConsultation(ctx context.Context, c *Consultation) error
	GetConsultation(ctx context.Context, visitID uuid.UUID) (*Consultation, error)
	// UpdateConsultation persists c only when the stored version still equals
	// prevVersion, bumping it by one. It reports whether a row was written.
	UpdateConsultation(ctx context.Context, c *Consultation, prevVersion int) (bool, error)
}
