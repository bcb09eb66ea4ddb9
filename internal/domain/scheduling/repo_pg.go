package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

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

const apptSelect = `SELECT a.id, a.patient_id,
		p.first_name || ' ' || p.last_name AS patient_name,
		a.doctor_id, u.full_name AS doctor_name,
		a.scheduled_at, a.duration_minutes, a.reason, a.notes, a.status,
		a.created_by, a.created_at, a.updated_at
	FROM appointment a
	JOIN patient p ON p.id = a.patient_id
	JOIN app_user u ON u.id = a.doctor_id`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO appointment
			(id, patient_id, doctor_id, scheduled_at, duration_minutes, reason, notes, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.DurationMinutes,
		a.Reason, a.Notes, a.Status, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, apptSelect+` WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		where += " AND " + cond + "$" + strconv.Itoa(n)
		args = append(args, v)
	}
	if f.DoctorID != uuid.Nil {
		add("a.doctor_id = ", f.DoctorID)
	}
	if f.PatientID != uuid.Nil {
		add("a.patient_id = ", f.PatientID)
	}
	if f.Status != "" {
		add("a.status = ", f.Status)
	}
	if !f.From.IsZero() {
		add("a.scheduled_at >= ", f.From)
	}
	if !f.To.IsZero() {
		add("a.scheduled_at < ", f.To)
	}

	var total int
	countSQL := `SELECT COUNT(*) FROM appointment a` + where
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := apptSelect + where + " ORDER BY a.scheduled_at" +
		" LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(f.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("update appointment status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1
			  AND status <> 'CANCELLED'
			  AND id <> $4
			  AND scheduled_at < $3
			  AND scheduled_at + make_interval(mins => duration_minutes) > $2
		)`, doctorID, start, end, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName,
		&a.ScheduledAt, &a.DurationMinutes, &a.Reason, &a.Notes, &a.Status,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &a, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
