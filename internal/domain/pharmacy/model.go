// Package pharmacy manages the drug catalog, batch inventory and the stock
// movement ledger. Every change to on-hand quantity goes through a movement
// row; dispensing additionally bills the visit.
package pharmacy

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stock movement types.
const (
	MovementRestock    = "RESTOCK"
	MovementAdjustment = "ADJUSTMENT"
	MovementDispense   = "DISPENSE"
)

type Drug struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Code         string          `db:"code" json:"code"`
	Name         string          `db:"name" json:"name"`
	Form         string          `db:"form" json:"form"`
	Strength     string          `db:"strength" json:"strength"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	ReorderLevel int             `db:"reorder_level" json:"reorder_level"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// InventoryItem is one batch of a drug on the shelf. The stock flags are
// derived on read; clients treat them as read-only.
type InventoryItem struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	DrugID      uuid.UUID  `db:"drug_id" json:"drug_id"`
	BatchNumber string     `db:"batch_number" json:"batch_number"`
	Quantity    int        `db:"quantity" json:"quantity"`
	ExpiryDate  *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	// Joined from the drug row.
	DrugName     string          `db:"drug_name" json:"drug_name"`
	Strength     string          `db:"strength" json:"strength"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	ReorderLevel int             `db:"reorder_level" json:"reorder_level"`

	IsLowStock   bool `db:"-" json:"is_low_stock"`
	IsOutOfStock bool `db:"-" json:"is_out_of_stock"`
}

func (i *InventoryItem) deriveFlags() {
	i.IsLowStock = i.Quantity <= i.ReorderLevel
	i.IsOutOfStock = i.Quantity <= 0
}

// StockMovement is the audit row behind every quantity change. Quantity is
// signed; BalanceAfter is the on-hand count once the movement applied.
type StockMovement struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	InventoryID  uuid.UUID  `db:"inventory_id" json:"inventory_id"`
	DrugID       uuid.UUID  `db:"drug_id" json:"drug_id"`
	Type         string     `db:"movement_type" json:"type"`
	Quantity     int        `db:"quantity" json:"quantity"`
	BalanceAfter int        `db:"balance_after" json:"balance_after"`
	Reference    string     `db:"reference" json:"reference,omitempty"`
	Reason       string     `db:"reason" json:"reason,omitempty"`
	Notes        string     `db:"notes" json:"notes,omitempty"`
	VisitID      *uuid.UUID `db:"visit_id" json:"visit_id,omitempty"`
	PerformedBy  uuid.UUID  `db:"performed_by" json:"performed_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

var (
	ErrDrugNotFound      = errors.New("drug not found")
	ErrInventoryNotFound = errors.New("inventory item not found")
	ErrDuplicateCode     = errors.New("drug code already exists")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVisitNotFound     = errors.New("visit not found")
	ErrVisitClosed       = errors.New("visit is closed")
)
