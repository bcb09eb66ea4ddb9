package ivf

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows cycle listings. Zero values mean "any".
type ListFilter struct {
	PatientID uuid.UUID
	Status    string
	Protocol  string
	Limit     int
	Offset    int
}

// StatCounts are the raw aggregates behind Statistics.
type StatCounts struct {
	Total       int
	Completed   int
	Cancelled   int
	Pregnancies int
}

type Repository interface {
	Create(ctx context.Context, c *Cycle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Cycle, error)
	Update(ctx context.Context, c *Cycle) error
	List(ctx context.Context, f ListFilter) ([]*Cycle, int, error)

	// UpdateStatus flips id from one status to another and reports whether a
	// row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	// SetOutcome records the outcome on a COMPLETED cycle and reports whether
	// a row matched.
	SetOutcome(ctx context.Context, id uuid.UUID, outcome string) (bool, error)

	Stats(ctx context.Context) (*StatCounts, error)
}
