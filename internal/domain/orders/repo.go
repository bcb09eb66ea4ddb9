package orders

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows the worklist. Zero values mean "any".
type ListFilter struct {
	VisitID  uuid.UUID
	Modality string
	Status   string
	Limit    int
	Offset   int
}

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, int, error)

	// UpdateStatus flips id from one status to another and reports whether a
	// row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	// SetVerified stamps the verifier on a RESULTED order and reports whether
	// a row matched.
	SetVerified(ctx context.Context, id uuid.UUID, verifiedBy uuid.UUID) (bool, error)

	CreateResult(ctx context.Context, r *Result) error

	// GetResult returns nil with no error when nothing has been posted yet.
	GetResult(ctx context.Context, orderID uuid.UUID) (*Result, error)
}
