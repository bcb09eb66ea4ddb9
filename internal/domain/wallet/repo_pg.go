package wallet

import (
	"context"
	"errors"

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

func (r *repoPG) Create(ctx context.Context, w *Wallet) error {
	w.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wallet (id, patient_id, balance)
		VALUES ($1, $2, 0)
		RETURNING balance, created_at, updated_at`,
		w.ID, w.PatientID,
	).Scan(&w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrWalletExists
	}
	return err
}

func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	var w Wallet
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, balance, created_at, updated_at
		FROM wallet WHERE patient_id = $1`, patientID,
	).Scan(&w.ID, &w.PatientID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repoPG) Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE wallet SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance`, walletID, amount,
	).Scan(&balance)
	if err == pgx.ErrNoRows {
		return decimal.Zero, ErrWalletNotFound
	}
	return balance, err
}

func (r *repoPG) Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE wallet SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance`, walletID, amount,
	).Scan(&balance)
	if err == pgx.ErrNoRows {
		return decimal.Zero, ErrInsufficientFunds
	}
	return balance, err
}

const txnCols = `id, wallet_id, patient_id, txn_type, amount, balance_after,
	reference, status, description, created_at, updated_at`

func (r *repoPG) CreateTransaction(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wallet_transaction (id, wallet_id, patient_id, txn_type, amount, balance_after, reference, status, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		t.ID, t.WalletID, t.PatientID, t.Type, t.Amount, t.BalanceAfter,
		t.Reference, t.Status, t.Description,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (r *repoPG) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	var t Transaction
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM wallet_transaction WHERE reference = $1`, reference,
	).Scan(&t.ID, &t.WalletID, &t.PatientID, &t.Type, &t.Amount, &t.BalanceAfter,
		&t.Reference, &t.Status, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) SettleTransaction(ctx context.Context, id uuid.UUID, status string, balanceAfter decimal.Decimal) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE wallet_transaction SET status = $2, balance_after = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		id, status, balanceAfter)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+txnCols+` FROM wallet_transaction WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`,
		walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.PatientID, &t.Type, &t.Amount, &t.BalanceAfter,
			&t.Reference, &t.Status, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, &t)
	}
	return txns, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
