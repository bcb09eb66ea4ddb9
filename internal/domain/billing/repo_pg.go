package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// repoPG holds its base connection as the querier interface so tests can
// substitute a mock pool.
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

const invoiceCols = `id, visit_id, patient_id, category, description, amount, amount_paid,
	status, created_by, created_at, updated_at`

func (r *repoPG) CreateInvoice(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, visit_id, patient_id, category, description, amount, amount_paid, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		inv.ID, inv.VisitID, inv.PatientID, inv.Category, inv.Description,
		inv.Amount, inv.AmountPaid, inv.Status, inv.CreatedBy,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

func (r *repoPG) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
}

func (r *repoPG) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET amount=$2, amount_paid=$3, status=$4, description=$5, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.Amount, inv.AmountPaid, inv.Status, inv.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *repoPG) ListInvoicesByVisit(ctx context.Context, visitID uuid.UUID) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.VisitID, &inv.PatientID, &inv.Category, &inv.Description,
			&inv.Amount, &inv.AmountPaid, &inv.Status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, &inv)
	}
	return invoices, rows.Err()
}

func (r *repoPG) CreatePayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, visit_id, patient_id, amount, method, reference, notes, received_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.VisitID, p.PatientID, p.Amount, p.Method, p.Reference, p.Notes, p.ReceivedBy,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) ListPaymentsByVisit(ctx context.Context, visitID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, visit_id, patient_id, amount, method, reference, notes, received_by, created_at
		FROM payment WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.VisitID, &p.PatientID, &p.Amount,
			&p.Method, &p.Reference, &p.Notes, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

func (r *repoPG) SumPaymentsByMethod(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT method, COALESCE(SUM(amount), 0)
		FROM payment WHERE created_at >= $1 AND created_at < $2
		GROUP BY method`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var method string
		var sum decimal.Decimal
		if err := rows.Scan(&method, &sum); err != nil {
			return nil, err
		}
		totals[method] = sum
	}
	return totals, rows.Err()
}

func (r *repoPG) PendingVisits(ctx context.Context) ([]*PendingVisit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT v.id, v.visit_number, v.patient_id,
			p.first_name || ' ' || p.last_name AS patient_name,
			v.created_at, i.category, SUM(i.amount - i.amount_paid) AS owed
		FROM visit v
		JOIN patient p ON p.id = v.patient_id
		JOIN invoice i ON i.visit_id = v.id
		WHERE v.status = 'OPEN' AND i.status IN ('PENDING','PARTIALLY_PAID')
		GROUP BY v.id, v.visit_number, v.patient_id, patient_name, v.created_at, i.category
		ORDER BY v.created_at, i.category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PendingVisit
	byVisit := make(map[uuid.UUID]*PendingVisit)
	for rows.Next() {
		var (
			visitID     uuid.UUID
			visitNumber string
			patientID   uuid.UUID
			patientName string
			openedAt    time.Time
			category    string
			owed        decimal.Decimal
		)
		if err := rows.Scan(&visitID, &visitNumber, &patientID, &patientName, &openedAt, &category, &owed); err != nil {
			return nil, err
		}
		pv, ok := byVisit[visitID]
		if !ok {
			pv = &PendingVisit{
				VisitID:      visitID,
				VisitNumber:  visitNumber,
				PatientID:    patientID,
				PatientName:  patientName,
				OpenedAt:     openedAt,
				TotalPending: decimal.Zero,
			}
			byVisit[visitID] = pv
			result = append(result, pv)
		}
		pv.Items = append(pv.Items, PendingItem{Category: category, Amount: owed})
		pv.TotalPending = pv.TotalPending.Add(owed)
	}
	return result, rows.Err()
}

const reconCols = `id, recon_date, status, total_cash, total_card, total_transfer, total_wallet,
	total_insurance, total_collected, expected_cash, counted_cash, variance, visits_closed,
	staff_name, notes, finalized_by, finalized_at, created_at, updated_at`

func (r *repoPG) CreateReconciliation(ctx context.Context, rec *Reconciliation) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reconciliation (id, recon_date, status, total_cash, total_card, total_transfer,
			total_wallet, total_insurance, total_collected, expected_cash, counted_cash, variance,
			visits_closed, staff_name, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		rec.ID, rec.Date, rec.Status, rec.TotalCash, rec.TotalCard, rec.TotalTransfer,
		rec.TotalWallet, rec.TotalInsurance, rec.TotalCollected, rec.ExpectedCash,
		rec.CountedCash, rec.Variance, rec.VisitsClosed, rec.StaffName, rec.Notes,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateReconciliation
	}
	return err
}

func (r *repoPG) GetReconciliation(ctx context.Context, id uuid.UUID) (*Reconciliation, error) {
	return scanReconciliation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reconCols+` FROM reconciliation WHERE id = $1`, id))
}

func (r *repoPG) GetReconciliationByDate(ctx context.Context, date time.Time) (*Reconciliation, error) {
	return scanReconciliation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reconCols+` FROM reconciliation WHERE recon_date = $1`, date))
}

func (r *repoPG) UpdateReconciliation(ctx context.Context, rec *Reconciliation) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reconciliation SET
			status=$2, total_cash=$3, total_card=$4, total_transfer=$5, total_wallet=$6,
			total_insurance=$7, total_collected=$8, expected_cash=$9, counted_cash=$10,
			variance=$11, visits_closed=$12, staff_name=$13, notes=$14, finalized_by=$15,
			finalized_at=$16, updated_at=NOW()
		WHERE id = $1`,
		rec.ID, rec.Status, rec.TotalCash, rec.TotalCard, rec.TotalTransfer, rec.TotalWallet,
		rec.TotalInsurance, rec.TotalCollected, rec.ExpectedCash, rec.CountedCash,
		rec.Variance, rec.VisitsClosed, rec.StaffName, rec.Notes, rec.FinalizedBy, rec.FinalizedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReconciliationNotFound
	}
	return nil
}

func (r *repoPG) ListReconciliations(ctx context.Context, limit, offset int) ([]*Reconciliation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reconCols+` FROM reconciliation ORDER BY recon_date DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*Reconciliation
	for rows.Next() {
		rec, err := scanReconciliationRow(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.VisitID, &inv.PatientID, &inv.Category, &inv.Description,
		&inv.Amount, &inv.AmountPaid, &inv.Status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanReconciliation(row pgx.Row) (*Reconciliation, error) {
	rec, err := scanReconciliationRow(row)
	if err == pgx.ErrNoRows {
		return nil, ErrReconciliationNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanReconciliationRow(row pgx.Row) (*Reconciliation, error) {
	var rec Reconciliation
	err := row.Scan(&rec.ID, &rec.Date, &rec.Status, &rec.TotalCash, &rec.TotalCard,
		&rec.TotalTransfer, &rec.TotalWallet, &rec.TotalInsurance, &rec.TotalCollected,
		&rec.ExpectedCash, &rec.CountedCash, &rec.Variance, &rec.VisitsClosed,
		&rec.StaffName, &rec.Notes, &rec.FinalizedBy, &rec.FinalizedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
