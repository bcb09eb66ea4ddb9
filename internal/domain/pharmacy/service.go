package pharmacy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/metrics"
	"github.com/medcore/hms/internal/platform/notify"
	"github.com/medcore/hms/internal/platform/ws"
)

// Biller adds a pharmacy charge to a visit. The adapter must translate a
// missing or closed visit into this package's sentinels.
type Biller interface {
	ChargeVisit(ctx context.Context, visitID uuid.UUID, category, description string, amount decimal.Decimal, createdBy uuid.UUID) error
}

type Service struct {
	repo       Repository
	biller     Biller
	runTx      db.TxRunner
	events     ws.Publisher
	notifier   *notify.Dispatcher
	clinic     *metrics.ClinicMetrics
	log        zerolog.Logger
	alertEmail string
}

func NewService(repo Repository, runTx db.TxRunner, events ws.Publisher, log zerolog.Logger) *Service {
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	if events == nil {
		events = ws.NopPublisher{}
	}
	return &Service{repo: repo, runTx: runTx, events: events, log: log}
}

// SetBiller attaches invoice creation for dispense charges.
func (s *Service) SetBiller(b Biller) { s.biller = b }

// SetNotifier enables low-stock alert mail.
func (s *Service) SetNotifier(n *notify.Dispatcher, alertEmail string) {
	s.notifier = n
	s.alertEmail = alertEmail
}

// SetMetrics attaches clinic metrics. Observers are nil-tolerant.
func (s *Service) SetMetrics(m *metrics.ClinicMetrics) { s.clinic = m }

func (s *Service) CreateDrug(ctx context.Context, d *Drug) error {
	if d.Code == "" || d.Name == "" {
		return fmt.Errorf("code and name are required")
	}
	if d.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price must not be negative")
	}
	if err := s.repo.CreateDrug(ctx, d); err != nil {
		return err
	}
	s.log.Info().Str("drug_id", d.ID.String()).Str("code", d.Code).Msg("drug created")
	return nil
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.repo.GetDrug(ctx, id)
}

func (s *Service) UpdateDrug(ctx context.Context, d *Drug) error {
	if d.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price must not be negative")
	}
	return s.repo.UpdateDrug(ctx, d)
}

func (s *Service) ListDrugs(ctx context.Context, q string, limit, offset int) ([]*Drug, int, error) {
	return s.repo.ListDrugs(ctx, q, limit, offset)
}

func (s *Service) AddInventory(ctx context.Context, item *InventoryItem) (*InventoryItem, error) {
	if item.Quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.repo.GetDrug(ctx, item.DrugID); err != nil {
		return nil, err
	}
	if err := s.repo.CreateInventory(ctx, item); err != nil {
		return nil, err
	}
	// Re-read for the joined drug fields and derived flags.
	return s.repo.GetInventory(ctx, item.ID)
}

func (s *Service) GetInventory(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return s.repo.GetInventory(ctx, id)
}

func (s *Service) ListInventory(ctx context.Context, lowOnly bool, limit, offset int) ([]*InventoryItem, int, error) {
	return s.repo.ListInventory(ctx, lowOnly, limit, offset)
}

func (s *Service) Movements(ctx context.Context, inventoryID uuid.UUID, limit int) ([]*StockMovement, error) {
	if _, err := s.repo.GetInventory(ctx, inventoryID); err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, inventoryID, limit)
	if err != nil {
		return nil, err
	}
	if movements == nil {
		movements = []*StockMovement{}
	}
	return movements, nil
}

// Restock receives new stock into a batch. Quantity must be positive.
func (s *Service) Restock(ctx context.Context, inventoryID uuid.UUID, quantity int, reference, notes string, actor uuid.UUID) (*InventoryItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	item, err := s.repo.GetInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.AdjustQuantity(ctx, inventoryID, quantity)
		if err != nil {
			return err
		}
		item.Quantity = balance
		return s.repo.CreateMovement(ctx, &StockMovement{
			InventoryID:  inventoryID,
			DrugID:       item.DrugID,
			Type:         MovementRestock,
			Quantity:     quantity,
			BalanceAfter: balance,
			Reference:    reference,
			Notes:        notes,
			PerformedBy:  actor,
		})
	})
	if err != nil {
		return nil, err
	}

	item.deriveFlags()
	s.log.Info().
		Str("inventory_id", inventoryID.String()).
		Int("quantity", quantity).
		Int("balance", item.Quantity).
		Msg("stock received")
	return item, nil
}

// Adjust corrects the on-hand count by a signed delta. Zero deltas are
// rejected and stock can never go negative.
func (s *Service) Adjust(ctx context.Context, inventoryID uuid.UUID, quantity int, reason, notes string, actor uuid.UUID) (*InventoryItem, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	item, err := s.repo.GetInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.AdjustQuantity(ctx, inventoryID, quantity)
		if err != nil {
			return err
		}
		item.Quantity = balance
		return s.repo.CreateMovement(ctx, &StockMovement{
			InventoryID:  inventoryID,
			DrugID:       item.DrugID,
			Type:         MovementAdjustment,
			Quantity:     quantity,
			BalanceAfter: balance,
			Reason:       reason,
			Notes:        notes,
			PerformedBy:  actor,
		})
	})
	if err != nil {
		return nil, err
	}

	item.deriveFlags()
	s.maybeAlertLowStock(ctx, item)
	s.log.Info().
		Str("inventory_id", inventoryID.String()).
		Int("quantity", quantity).
		Int("balance", item.Quantity).
		Str("reason", reason).
		Msg("stock adjusted")
	return item, nil
}

// Dispense hands drugs to a patient: stock goes down, a DISPENSE movement is
// written and the visit is billed for quantity times unit price, all in one
// transaction.
func (s *Service) Dispense(ctx context.Context, inventoryID uuid.UUID, quantity int, visitID uuid.UUID, actor uuid.UUID) (*InventoryItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	item, err := s.repo.GetInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	if item.Quantity < quantity {
		return nil, ErrInsufficientStock
	}

	charge := item.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	description := item.DrugName
	if item.Strength != "" {
		description += " " + item.Strength
	}
	description += " x" + strconv.Itoa(quantity)

	err = s.runTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.AdjustQuantity(ctx, inventoryID, -quantity)
		if err != nil {
			return err
		}
		item.Quantity = balance
		if err := s.repo.CreateMovement(ctx, &StockMovement{
			InventoryID:  inventoryID,
			DrugID:       item.DrugID,
			Type:         MovementDispense,
			Quantity:     -quantity,
			BalanceAfter: balance,
			Reference:    "visit " + visitID.String(),
			VisitID:      &visitID,
			PerformedBy:  actor,
		}); err != nil {
			return err
		}
		if s.biller == nil {
			return fmt.Errorf("billing is not configured")
		}
		return s.biller.ChargeVisit(ctx, visitID, "pharmacy", description, charge, actor)
	})
	if err != nil {
		return nil, err
	}

	item.deriveFlags()
	s.clinic.ObserveDispense()
	s.maybeAlertLowStock(ctx, item)
	s.log.Info().
		Str("inventory_id", inventoryID.String()).
		Str("visit_id", visitID.String()).
		Int("quantity", quantity).
		Str("charge", charge.String()).
		Msg("drugs dispensed")
	return item, nil
}

// maybeAlertLowStock fires the stock.low event and the alert mail once the
// on-hand count reaches the reorder level.
func (s *Service) maybeAlertLowStock(ctx context.Context, item *InventoryItem) {
	if !item.IsLowStock {
		return
	}

	event := ws.NewEvent(ws.EventStockLow, ws.TopicStock, map[string]interface{}{
		"inventory_id":  item.ID,
		"drug_name":     item.DrugName,
		"quantity":      item.Quantity,
		"reorder_level": item.ReorderLevel,
	})
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", event.Type).Msg("publish event")
	}

	if s.notifier == nil || s.alertEmail == "" {
		return
	}
	data := map[string]string{
		"drug_name":     item.DrugName,
		"strength":      item.Strength,
		"quantity":      strconv.Itoa(item.Quantity),
		"reorder_level": strconv.Itoa(item.ReorderLevel),
	}
	if _, err := s.notifier.SendTemplate(ctx, notify.ChannelEmail, notify.TemplateLowStockAlert, data, s.alertEmail); err != nil {
		s.log.Warn().Err(err).Str("drug", item.DrugName).Msg("send low stock alert")
	}
}
