package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// Search matches names, MRN and phone, case-insensitively.
	Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)

	CreatePractitioner(ctx context.Context, pr *Practitioner) error
	GetPractitionerByUser(ctx context.Context, userID uuid.UUID) (*Practitioner, error)
	ListPractitioners(ctx context.Context, role string) ([]*Practitioner, error)
}
