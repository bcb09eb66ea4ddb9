package user

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/auth"
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

const userCols = `id, full_name, role, email, phone, specialty, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO app_user (id, full_name, role, email, phone, specialty, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.FullName, u.Role, u.Email, u.Phone, u.Specialty, u.Active,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
}

func (r *repoPG) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE email = $1 OR phone = $1`, identifier))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE app_user SET
			full_name=$2, role=$3, email=$4, phone=$5, specialty=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.FullName, u.Role, u.Email, u.Phone, u.Specialty, u.Active,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	return err
}

func (r *repoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	where := ``
	args := []interface{}{}
	if role != "" {
		where = `WHERE role = $1`
		args = append(args, role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM app_user `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + userCols + ` FROM app_user ` + where +
		` ORDER BY full_name LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users, err := collectUsers(rows)
	return users, total, err
}

func (r *repoPG) ListDoctors(ctx context.Context) ([]*User, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userCols+` FROM app_user WHERE role = $1 AND active ORDER BY full_name`,
		auth.RoleDoctor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *repoPG) CreateDevice(ctx context.Context, d *DeviceToken) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO device_token (id, user_id, label, secret_hash)
		VALUES ($1,$2,$3,$4)`,
		d.ID, d.UserID, d.Label, d.SecretHash,
	)
	return err
}

func (r *repoPG) GetDevice(ctx context.Context, id uuid.UUID) (*DeviceToken, error) {
	var d DeviceToken
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, label, secret_hash, created_at, last_used_at
		FROM device_token WHERE id = $1`, id).
		Scan(&d.ID, &d.UserID, &d.Label, &d.SecretHash, &d.CreatedAt, &d.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) ListDevices(ctx context.Context, userID uuid.UUID) ([]*DeviceToken, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, label, secret_hash, created_at, last_used_at
		FROM device_token WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*DeviceToken
	for rows.Next() {
		var d DeviceToken
		if err := rows.Scan(&d.ID, &d.UserID, &d.Label, &d.SecretHash, &d.CreatedAt, &d.LastUsedAt); err != nil {
			return nil, err
		}
		devices = append(devices, &d)
	}
	return devices, nil
}

func (r *repoPG) TouchDevice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE device_token SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM device_token WHERE id = $1`, id)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Role, &u.Email, &u.Phone, &u.Specialty, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Role, &u.Email, &u.Phone, &u.Specialty, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
