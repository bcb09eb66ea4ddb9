// Package wallet keeps a prepaid balance per patient. Balances grow through
// gateway top-ups verified against the provider and shrink when invoices are
// paid with the wallet method.
package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxnTopup   = "TOPUP"
	TxnPayment = "PAYMENT"
	TxnRefund  = "REFUND"
)

// Transaction statuses. Top-ups are born PENDING and settle only after the
// provider confirms the reference.
const (
	TxnPending = "PENDING"
	TxnSuccess = "SUCCESS"
	TxnFailed  = "FAILED"
)

type Wallet struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PatientID uuid.UUID       `db:"patient_id" json:"patient_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction is one ledger entry against a wallet. BalanceAfter is recorded
// at settlement time so statements read without recomputation.
type Transaction struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	WalletID     uuid.UUID       `db:"wallet_id" json:"wallet_id"`
	PatientID    uuid.UUID       `db:"patient_id" json:"patient_id"`
	Type         string          `db:"txn_type" json:"type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	Reference    string          `db:"reference" json:"reference"`
	Status       string          `db:"status" json:"status"`
	Description  string          `db:"description" json:"description"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists for patient")
	ErrTransactionNotFound = errors.New("wallet transaction not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrInsufficientFunds   = errors.New("insufficient wallet balance")
	ErrDuplicateReference  = errors.New("transaction reference already used")
)
