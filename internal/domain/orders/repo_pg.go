package orders

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

const orderSelect = `SELECT o.id, o.visit_id, v.visit_number,
		p.first_name || ' ' || p.last_name AS patient_name,
		o.modality, o.test_code, o.test_name, o.price, o.status,
		o.ordered_by, o.verified_by, o.verified_at, o.created_at, o.updated_at
	FROM lab_order o
	JOIN visit v ON v.id = o.visit_id
	JOIN patient p ON p.id = v.patient_id`

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO lab_order
			(id, visit_id, modality, test_code, test_name, price, status, ordered_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.VisitID, o.Modality, o.TestCode, o.TestName, o.Price,
		o.Status, o.OrderedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrVisitNotFound
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.conn(ctx).QueryRow(ctx, orderSelect+` WHERE o.id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	result, err := r.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Result = result
	return o, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Order, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		where += " AND " + cond + "$" + strconv.Itoa(n)
		args = append(args, v)
	}
	if f.VisitID != uuid.Nil {
		add("o.visit_id = ", f.VisitID)
	}
	if f.Modality != "" {
		add("o.modality = ", f.Modality)
	}
	if f.Status != "" {
		add("o.status = ", f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_order o`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := orderSelect + where + " ORDER BY o.created_at DESC" +
		" LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(f.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab_order SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) SetVerified(ctx context.Context, id uuid.UUID, verifiedBy uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab_order SET status = 'VERIFIED', verified_by = $2, verified_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'RESULTED'`,
		id, verifiedBy)
	if err != nil {
		return false, fmt.Errorf("verify order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) CreateResult(ctx context.Context, res *Result) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO order_result
			(id, order_id, value, report_text, flags, posted_by, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, res.OrderID, res.Value, res.ReportText, res.Flags, res.PostedBy, res.PostedAt)
	if err != nil {
		return fmt.Errorf("insert order result: %w", err)
	}
	return nil
}

func (r *repoPG) GetResult(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	var res Result
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, order_id, value, report_text, flags, posted_by, posted_at
		FROM order_result WHERE order_id = $1`, orderID).
		Scan(&res.ID, &res.OrderID, &res.Value, &res.ReportText, &res.Flags, &res.PostedBy, &res.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order result: %w", err)
	}
	return &res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.VisitID, &o.VisitNumber, &o.PatientName,
		&o.Modality, &o.TestCode, &o.TestName, &o.Price, &o.Status,
		&o.OrderedBy, &o.VerifiedBy, &o.VerifiedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
