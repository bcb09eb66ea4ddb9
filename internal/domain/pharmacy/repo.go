package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateDrug(ctx context.Context, d *Drug) error
	GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error)
	UpdateDrug(ctx context.Context, d *Drug) error
	ListDrugs(ctx context.Context, q string, limit, offset int) ([]*Drug, int, error)

	CreateInventory(ctx context.Context, item *InventoryItem) error
	GetInventory(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	ListInventory(ctx context.Context, lowOnly bool, limit, offset int) ([]*InventoryItem, int, error)

	// AdjustQuantity applies a signed delta and returns the new on-hand
	// count. Deltas that would take stock negative report
	// ErrInsufficientStock and leave the row untouched.
	AdjustQuantity(ctx context.Context, id uuid.UUID, delta int) (int, error)

	CreateMovement(ctx context.Context, m *StockMovement) error
	ListMovements(ctx context.Context, inventoryID uuid.UUID, limit int) ([]*StockMovement, error)
}
