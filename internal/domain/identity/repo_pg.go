package identity

import (
	"context"
	"errors"

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

const patientCols = `id, mrn, first_name, last_name, other_names, phone, email,
	date_of_birth, sex, address, user_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	// The mrn column defaults to the next value of mrn_seq.
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, other_names, phone, email, date_of_birth, sex, address, user_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING mrn, created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.OtherNames, p.Phone, p.Email, p.DateOfBirth, p.Sex, p.Address, p.UserID,
	).Scan(&p.MRN, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicatePatient
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE mrn = $1`, mrn))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			first_name=$2, last_name=$3, other_names=$4, phone=$5, email=$6,
			date_of_birth=$7, sex=$8, address=$9, user_id=$10, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.OtherNames, p.Phone, p.Email,
		p.DateOfBirth, p.Sex, p.Address, p.UserID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicatePatient
	}
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	patients, err := collectPatients(rows)
	return patients, total, err
}

func (r *repoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	pattern := "%" + q + "%"
	where := `WHERE first_name ILIKE $1 OR last_name ILIKE $1
		OR COALESCE(other_names, '') ILIKE $1 OR mrn ILIKE $1 OR COALESCE(phone, '') ILIKE $1`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient `+where, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient `+where+` ORDER BY last_name, first_name LIMIT $2 OFFSET $3`,
		pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	patients, err := collectPatients(rows)
	return patients, total, err
}

func (r *repoPG) CreatePractitioner(ctx context.Context, pr *Practitioner) error {
	pr.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO practitioner (id, user_id, role, specialty, license_number)
		VALUES ($1,$2,$3,$4,$5)`,
		pr.ID, pr.UserID, pr.Role, pr.Specialty, pr.LicenseNumber,
	)
	return err
}

func (r *repoPG) GetPractitionerByUser(ctx context.Context, userID uuid.UUID) (*Practitioner, error) {
	var pr Practitioner
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, role, specialty, license_number, created_at, updated_at
		FROM practitioner WHERE user_id = $1`, userID).
		Scan(&pr.ID, &pr.UserID, &pr.Role, &pr.Specialty, &pr.LicenseNumber, &pr.CreatedAt, &pr.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (r *repoPG) ListPractitioners(ctx context.Context, role string) ([]*Practitioner, error) {
	query := `SELECT id, user_id, role, specialty, license_number, created_at, updated_at FROM practitioner`
	args := []interface{}{}
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []*Practitioner
	for rows.Next() {
		var pr Practitioner
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.Role, &pr.Specialty, &pr.LicenseNumber, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		prs = append(prs, &pr)
	}
	return prs, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.OtherNames, &p.Phone, &p.Email,
		&p.DateOfBirth, &p.Sex, &p.Address, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	var patients []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.OtherNames, &p.Phone, &p.Email,
			&p.DateOfBirth, &p.Sex, &p.Address, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		patients = append(patients, &p)
	}
	return patients, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
