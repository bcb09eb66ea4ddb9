package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const visitCols = `v.id, v.visit_number, v.patient_id,
	p.first_name || ' ' || p.last_name AS patient_name,
	v.status, v.payment_status, v.reason, v.doctor_id, v.opened_by,
	v.closed_at, v.created_at, v.updated_at`

const visitFrom = ` FROM visit v JOIN patient p ON p.id = v.patient_id `

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	// visit_number defaults to the next value of visit_number_seq. A partial
	// unique index forbids a second OPEN visit for the same patient.
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (id, patient_id, status, payment_status, reason, doctor_id, opened_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING visit_number, created_at, updated_at`,
		v.ID, v.PatientID, v.Status, v.PaymentStatus, v.Reason, v.DoctorID, v.OpenedBy,
	).Scan(&v.VisitNumber, &v.CreatedAt, &v.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrOpenVisitExists
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+visitFrom+`WHERE v.id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	var clauses []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("v.status = $%d", len(args)))
	}
	if f.PatientID != uuid.Nil {
		args = append(args, f.PatientID)
		clauses = append(clauses, fmt.Sprintf("v.patient_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		clauses = append(clauses, fmt.Sprintf("v.created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		clauses = append(clauses, fmt.Sprintf("v.created_at < $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*)`+visitFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+visitFrom+where+
			fmt.Sprintf(` ORDER BY v.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	visits, err := collectVisits(rows)
	return visits, total, err
}

func (r *repoPG) OpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM visit WHERE status = $1 ORDER BY created_at`, StatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, closedAt *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE visit SET status=$2, closed_at=$3, updated_at=NOW() WHERE id=$1`,
		id, status, closedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE visit SET payment_status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AssignDoctor(ctx context.Context, id uuid.UUID, doctorID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE visit SET doctor_id=$2, updated_at=NOW() WHERE id=$1`, id, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const consultationCols = `id, visit_id, complaint, history, examination, diagnosis,
	plan, notes, version, created_by, updated_by, created_at, updated_at`

func (r *repoPG) CreateConsultation(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	c.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation (id, visit_id, complaint, history, examination, diagnosis, plan, notes, version, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		RETURNING created_at, updated_at`,
		c.ID, c.VisitID, c.Complaint, c.History, c.Examination, c.Diagnosis,
		c.Plan, c.Notes, c.Version, c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConsultationExists
	}
	return err
}

func (r *repoPG) GetConsultation(ctx context.Context, visitID uuid.UUID) (*Consultation, error) {
	var c Consultation
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultation WHERE visit_id = $1`, visitID).
		Scan(&c.ID, &c.VisitID, &c.Complaint, &c.History, &c.Examination, &c.Diagnosis,
			&c.Plan, &c.Notes, &c.Version, &c.CreatedBy, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrConsultationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) UpdateConsultation(ctx context.Context, c *Consultation, prevVersion int) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE consultation SET
			complaint=$3, history=$4, examination=$5, diagnosis=$6, plan=$7, notes=$8,
			version = version + 1, updated_by=$9, updated_at=NOW()
		WHERE visit_id = $1 AND version = $2
		RETURNING id, version, created_by, created_at, updated_at`,
		c.VisitID, prevVersion, c.Complaint, c.History, c.Examination, c.Diagnosis,
		c.Plan, c.Notes, c.UpdatedBy,
	).Scan(&c.ID, &c.Version, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.VisitNumber, &v.PatientID, &v.PatientName,
		&v.Status, &v.PaymentStatus, &v.Reason, &v.DoctorID, &v.OpenedBy,
		&v.ClosedAt, &v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows) ([]*Visit, error) {
	var visits []*Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.VisitNumber, &v.PatientID, &v.PatientName,
			&v.Status, &v.PaymentStatus, &v.Reason, &v.DoctorID, &v.OpenedBy,
			&v.ClosedAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		visits = append(visits, &v)
	}
	return visits, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
