package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
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

const drugCols = `id, code, name, form, strength, unit_price, reorder_level, created_at, updated_at`

func (r *repoPG) CreateDrug(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug (id, code, name, form, strength, unit_price, reorder_level)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		d.ID, d.Code, d.Name, d.Form, d.Strength, d.UnitPrice, d.ReorderLevel,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (r *repoPG) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	var d Drug
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+drugCols+` FROM drug WHERE id = $1`, id,
	).Scan(&d.ID, &d.Code, &d.Name, &d.Form, &d.Strength, &d.UnitPrice, &d.ReorderLevel, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrDrugNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) UpdateDrug(ctx context.Context, d *Drug) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug SET name=$2, form=$3, strength=$4, unit_price=$5, reorder_level=$6, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.Form, d.Strength, d.UnitPrice, d.ReorderLevel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDrugNotFound
	}
	return nil
}

func (r *repoPG) ListDrugs(ctx context.Context, q string, limit, offset int) ([]*Drug, int, error) {
	where := ""
	args := []interface{}{}
	if q != "" {
		where = ` WHERE name ILIKE $1 OR code ILIKE $1`
		args = append(args, "%"+q+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM drug%s ORDER BY name LIMIT $%d OFFSET $%d`,
		drugCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var drugs []*Drug
	for rows.Next() {
		var d Drug
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Form, &d.Strength, &d.UnitPrice, &d.ReorderLevel, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		drugs = append(drugs, &d)
	}
	return drugs, total, rows.Err()
}

const inventorySelect = `
	SELECT i.id, i.drug_id, i.batch_number, i.quantity, i.expiry_date, i.created_at, i.updated_at,
		d.name AS drug_name, d.strength, d.unit_price, d.reorder_level
	FROM drug_inventory i
	JOIN drug d ON d.id = i.drug_id`

func (r *repoPG) CreateInventory(ctx context.Context, item *InventoryItem) error {
	item.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_inventory (id, drug_id, batch_number, quantity, expiry_date)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		item.ID, item.DrugID, item.BatchNumber, item.Quantity, item.ExpiryDate,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if isForeignKeyViolation(err) {
		return ErrDrugNotFound
	}
	return err
}

func (r *repoPG) GetInventory(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	item, err := scanInventory(r.conn(ctx).QueryRow(ctx, inventorySelect+` WHERE i.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrInventoryNotFound
	}
	return item, err
}

func (r *repoPG) ListInventory(ctx context.Context, lowOnly bool, limit, offset int) ([]*InventoryItem, int, error) {
	where := ""
	if lowOnly {
		where = ` WHERE i.quantity <= d.reorder_level`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM drug_inventory i JOIN drug d ON d.id = i.drug_id`+where,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		inventorySelect+where+` ORDER BY drug_name, i.batch_number LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*InventoryItem
	for rows.Next() {
		item, err := scanInventory(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AdjustQuantity(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var quantity int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE drug_inventory SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING quantity`, id, delta,
	).Scan(&quantity)
	if err == pgx.ErrNoRows {
		return 0, ErrInsufficientStock
	}
	return quantity, err
}

func (r *repoPG) CreateMovement(ctx context.Context, m *StockMovement) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_movement (id, inventory_id, drug_id, movement_type, quantity, balance_after,
			reference, reason, notes, visit_id, performed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		m.ID, m.InventoryID, m.DrugID, m.Type, m.Quantity, m.BalanceAfter,
		m.Reference, m.Reason, m.Notes, m.VisitID, m.PerformedBy,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) ListMovements(ctx context.Context, inventoryID uuid.UUID, limit int) ([]*StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, inventory_id, drug_id, movement_type, quantity, balance_after,
			reference, reason, notes, visit_id, performed_by, created_at
		FROM stock_movement WHERE inventory_id = $1
		ORDER BY created_at DESC LIMIT $2`, inventoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []*StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.InventoryID, &m.DrugID, &m.Type, &m.Quantity, &m.BalanceAfter,
			&m.Reference, &m.Reason, &m.Notes, &m.VisitID, &m.PerformedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, &m)
	}
	return movements, rows.Err()
}

func scanInventory(row pgx.Row) (*InventoryItem, error) {
	var item InventoryItem
	err := row.Scan(&item.ID, &item.DrugID, &item.BatchNumber, &item.Quantity, &item.ExpiryDate,
		&item.CreatedAt, &item.UpdatedAt, &item.DrugName, &item.Strength, &item.UnitPrice, &item.ReorderLevel)
	if err != nil {
		return nil, err
	}
	item.deriveFlags()
	return &item, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
