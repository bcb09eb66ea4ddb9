package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, w *Wallet) error
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error)

	// Credit adds to the balance and returns the new balance.
	Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)

	// Debit subtracts from the balance only when it covers the amount and
	// returns the new balance, otherwise ErrInsufficientFunds.
	Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)

	// SettleTransaction flips a PENDING transaction to status, stamping the
	// balance. It reports false when the transaction was already settled.
	SettleTransaction(ctx context.Context, id uuid.UUID, status string, balanceAfter decimal.Decimal) (bool, error)

	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error)
}
