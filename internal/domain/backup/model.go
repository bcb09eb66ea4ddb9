// Package backup queues database backup and restore jobs. Requests land as
// PENDING rows; a background worker claims them one at a time, shells out to
// the postgres dump tools, and walks the status machine the dashboard polls.
package backup

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job statuses, shared by backups and restore runs.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Backup kinds. FULL captures schema and data; DATA only the rows.
const (
	KindFull = "FULL"
	KindData = "DATA"
)

var validKinds = map[string]bool{
	KindFull: true,
	KindData: true,
}

type Backup struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Kind        string     `db:"kind" json:"kind"`
	Status      string     `db:"status" json:"status"`
	FilePath    string     `db:"file_path" json:"file_path,omitempty"`
	SizeBytes   int64      `db:"size_bytes" json:"size_bytes"`
	Checksum    string     `db:"checksum" json:"checksum,omitempty"`
	Error       string     `db:"error_message" json:"error,omitempty"`
	RequestedBy uuid.UUID  `db:"requested_by" json:"requested_by"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// RestoreRun replays a completed backup into the live database.
type RestoreRun struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	BackupID    uuid.UUID  `db:"backup_id" json:"backup_id"`
	Status      string     `db:"status" json:"status"`
	Error       string     `db:"error_message" json:"error,omitempty"`
	RequestedBy uuid.UUID  `db:"requested_by" json:"requested_by"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

var (
	ErrBackupNotFound  = errors.New("backup not found")
	ErrRestoreNotFound = errors.New("restore run not found")
	ErrInvalidKind     = errors.New("unknown backup kind")
	ErrBackupState     = errors.New("backup is not in a state that allows this")
)
