package backup

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Backup) error
	GetByID(ctx context.Context, id uuid.UUID) (*Backup, error)
	List(ctx context.Context, limit, offset int) ([]*Backup, int, error)

	// ClaimPending atomically takes the oldest PENDING backup and marks it
	// IN_PROGRESS. Returns nil when the queue is empty. Concurrent workers
	// never claim the same row.
	ClaimPending(ctx context.Context) (*Backup, error)

	MarkCompleted(ctx context.Context, id uuid.UUID, filePath string, sizeBytes int64, checksum string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// CancelPending flips a PENDING backup to CANCELLED and reports whether a
	// row matched.
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)

	CreateRestore(ctx context.Context, r *RestoreRun) error
	GetRestore(ctx context.Context, id uuid.UUID) (*RestoreRun, error)
	ListRestores(ctx context.Context, limit, offset int) ([]*RestoreRun, int, error)
	ClaimPendingRestore(ctx context.Context) (*RestoreRun, error)
	MarkRestoreCompleted(ctx context.Context, id uuid.UUID) error
	MarkRestoreFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}
