package backup

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repoPG struct {
	pool querier
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const backupCols = `id, kind, status, file_path, size_bytes, checksum, error_message,
	requested_by, started_at, finished_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, b *Backup) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO backup
			(id, kind, status, file_path, size_bytes, checksum, error_message, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.Kind, b.Status, b.FilePath, b.SizeBytes, b.Checksum, b.Error,
		b.RequestedBy, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Backup, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+backupCols+` FROM backup WHERE id = $1`, id)
	return scanBackup(row)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Backup, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM backup`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count backups: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+backupCols+` FROM backup
		ORDER BY created_at DESC LIMIT `+strconv.Itoa(limit)+` OFFSET `+strconv.Itoa(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// ClaimPending uses FOR UPDATE SKIP LOCKED so parallel workers each take a
// different row.
func (r *repoPG) ClaimPending(ctx context.Context) (*Backup, error) {
	row := r.conn(ctx).QueryRow(ctx, `UPDATE backup
		SET status = 'IN_PROGRESS', started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM backup WHERE status = 'PENDING'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+backupCols)
	b, err := scanBackup(row)
	if errors.Is(err, ErrBackupNotFound) {
		return nil, nil
	}
	return b, err
}

func (r *repoPG) MarkCompleted(ctx context.Context, id uuid.UUID, filePath string, sizeBytes int64, checksum string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE backup
		SET status = 'COMPLETED', file_path = $2, size_bytes = $3, checksum = $4,
			finished_at = now(), updated_at = now()
		WHERE id = $1`, id, filePath, sizeBytes, checksum)
	if err != nil {
		return fmt.Errorf("complete backup: %w", err)
	}
	return nil
}

func (r *repoPG) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE backup
		SET status = 'FAILED', error_message = $2, finished_at = now(), updated_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("fail backup: %w", err)
	}
	return nil
}

func (r *repoPG) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE backup
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return false, fmt.Errorf("cancel backup: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const restoreCols = `id, backup_id, status, error_message, requested_by, started_at, finished_at, created_at`

func (r *repoPG) CreateRestore(ctx context.Context, run *RestoreRun) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO restore_run
			(id, backup_id, status, error_message, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.BackupID, run.Status, run.Error, run.RequestedBy, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert restore run: %w", err)
	}
	return nil
}

func (r *repoPG) GetRestore(ctx context.Context, id uuid.UUID) (*RestoreRun, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+restoreCols+` FROM restore_run WHERE id = $1`, id)
	return scanRestore(row)
}

func (r *repoPG) ListRestores(ctx context.Context, limit, offset int) ([]*RestoreRun, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM restore_run`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count restore runs: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+restoreCols+` FROM restore_run
		ORDER BY created_at DESC LIMIT `+strconv.Itoa(limit)+` OFFSET `+strconv.Itoa(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list restore runs: %w", err)
	}
	defer rows.Close()

	var out []*RestoreRun
	for rows.Next() {
		run, err := scanRestore(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ClaimPendingRestore(ctx context.Context) (*RestoreRun, error) {
	row := r.conn(ctx).QueryRow(ctx, `UPDATE restore_run
		SET status = 'IN_PROGRESS', started_at = now()
		WHERE id = (
			SELECT id FROM restore_run WHERE status = 'PENDING'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+restoreCols)
	run, err := scanRestore(row)
	if errors.Is(err, ErrRestoreNotFound) {
		return nil, nil
	}
	return run, err
}

func (r *repoPG) MarkRestoreCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE restore_run
		SET status = 'COMPLETED', finished_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete restore run: %w", err)
	}
	return nil
}

func (r *repoPG) MarkRestoreFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE restore_run
		SET status = 'FAILED', error_message = $2, finished_at = now() WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("fail restore run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*Backup, error) {
	var b Backup
	err := row.Scan(&b.ID, &b.Kind, &b.Status, &b.FilePath, &b.SizeBytes, &b.Checksum,
		&b.Error, &b.RequestedBy, &b.StartedAt, &b.FinishedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("scan backup: %w", err)
	}
	return &b, nil
}

func scanRestore(row rowScanner) (*RestoreRun, error) {
	var r RestoreRun
	err := row.Scan(&r.ID, &r.BackupID, &r.Status, &r.Error, &r.RequestedBy,
		&r.StartedAt, &r.FinishedAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRestoreNotFound
		}
		return nil, fmt.Errorf("scan restore run: %w", err)
	}
	return &r, nil
}
