package ivf

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

const cycleSelect = `SELECT c.id, c.patient_id,
		p.first_name || ' ' || p.last_name AS patient_name,
		c.protocol, c.status, c.outcome, c.start_date,
		c.oocytes_retrieved, c.oocytes_fertilized, c.embryos_transferred,
		c.notes, c.created_by, c.created_at, c.updated_at
	FROM ivf_cycle c
	JOIN patient p ON p.id = c.patient_id`

func (r *repoPG) Create(ctx context.Context, c *Cycle) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO ivf_cycle
			(id, patient_id, protocol, status, outcome, start_date,
			 oocytes_retrieved, oocytes_fertilized, embryos_transferred,
			 notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.PatientID, c.Protocol, c.Status, c.Outcome, c.StartDate,
		c.OocytesRetrieved, c.OocytesFertilized, c.EmbryosTransferred,
		c.Notes, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("insert ivf cycle: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Cycle, error) {
	row := r.conn(ctx).QueryRow(ctx, cycleSelect+` WHERE c.id = $1`, id)
	return scanCycle(row)
}

func (r *repoPG) Update(ctx context.Context, c *Cycle) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE ivf_cycle SET
			protocol = $2, oocytes_retrieved = $3, oocytes_fertilized = $4,
			embryos_transferred = $5, notes = $6, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Protocol, c.OocytesRetrieved, c.OocytesFertilized,
		c.EmbryosTransferred, c.Notes)
	if err != nil {
		return fmt.Errorf("update ivf cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Cycle, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		where += " AND " + cond + "$" + strconv.Itoa(n)
		args = append(args, v)
	}
	if f.PatientID != uuid.Nil {
		add("c.patient_id = ", f.PatientID)
	}
	if f.Status != "" {
		add("c.status = ", f.Status)
	}
	if f.Protocol != "" {
		add("c.protocol = ", f.Protocol)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ivf_cycle c`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ivf cycles: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := cycleSelect + where + " ORDER BY c.start_date DESC, c.created_at DESC" +
		" LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(f.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ivf cycles: %w", err)
	}
	defer rows.Close()

	var out []*Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE ivf_cycle SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("update ivf cycle status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) SetOutcome(ctx context.Context, id uuid.UUID, outcome string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE ivf_cycle SET outcome = $2, updated_at = now()
		WHERE id = $1 AND status = 'COMPLETED'`,
		id, outcome)
	if err != nil {
		return false, fmt.Errorf("set ivf cycle outcome: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) Stats(ctx context.Context) (*StatCounts, error) {
	var s StatCounts
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'CANCELLED'),
			COUNT(*) FILTER (WHERE outcome = 'PREGNANT')
		FROM ivf_cycle`).Scan(&s.Total, &s.Completed, &s.Cancelled, &s.Pregnancies)
	if err != nil {
		return nil, fmt.Errorf("ivf stats: %w", err)
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*Cycle, error) {
	var c Cycle
	err := row.Scan(&c.ID, &c.PatientID, &c.PatientName, &c.Protocol, &c.Status,
		&c.Outcome, &c.StartDate, &c.OocytesRetrieved, &c.OocytesFertilized,
		&c.EmbryosTransferred, &c.Notes, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("scan ivf cycle: %w", err)
	}
	return &c, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
