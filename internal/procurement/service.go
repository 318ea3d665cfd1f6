package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// TxRepository exposes order writes and the ledger bound to one transaction.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	InsertOrder(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error)
	InsertLine(ctx context.Context, line Line) (Line, error)
	UpdateOrder(ctx context.Context, order PurchaseOrder) error
	UpdateLineReceived(ctx context.Context, lineID, received int64) error
	Ledger() inventory.TxRepository
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter ListFilters) ([]PurchaseOrder, error)
}

// ShopDirectory is the part of shops.Directory procurement needs.
type ShopDirectory interface {
	RequireActive(ctx context.Context, id int64) (shops.Shop, error)
	NextNumber(ctx context.Context, shopID int64, prefix string) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates procurement flows.
type Service struct {
	repo      RepositoryPort
	inventory *inventory.Service
	shops     ShopDirectory
	audit     AuditPort
	events    IntegrationHandler
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inv *inventory.Service, shopDir ShopDirectory, audit AuditPort, events IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		inventory: inv,
		shops:     shopDir,
		audit:     audit,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput describes a new purchase order.
type CreateOrderInput struct {
	ShopID               int64
	SupplierID           int64
	Notes                string
	TaxAmount            decimal.Decimal
	ExpectedDeliveryDate *time.Time
	ActorID              int64
	Lines                []LineInput
}

// LineInput describes one ordered item.
type LineInput struct {
	ItemID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// CreatePurchaseOrder persists a draft order with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if input.TaxAmount.IsNegative() {
		return PurchaseOrder{}, fmt.Errorf("%w: tax must be >= 0", ErrValidation)
	}
	seen := make(map[int64]struct{}, len(input.Lines))
	for _, line := range input.Lines {
		if line.ItemID == 0 || line.Quantity <= 0 || line.UnitPrice.IsNegative() {
			return PurchaseOrder{}, fmt.Errorf("%w: line needs item, quantity > 0 and price >= 0", ErrValidation)
		}
		if _, dup := seen[line.ItemID]; dup {
			return PurchaseOrder{}, fmt.Errorf("%w: item %d ordered twice", ErrValidation, line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	if _, err := s.shops.RequireActive(ctx, input.ShopID); err != nil {
		return PurchaseOrder{}, err
	}
	number, err := s.shops.NextNumber(ctx, input.ShopID, shops.SequencePurchaseOrder)
	if err != nil {
		return PurchaseOrder{}, err
	}
	order := PurchaseOrder{
		Number:               number,
		ShopID:               input.ShopID,
		SupplierID:           input.SupplierID,
		Status:               POStatusDraft,
		TaxAmount:            input.TaxAmount,
		Notes:                input.Notes,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		CreatedBy:            input.ActorID,
		CreatedAt:            s.now(),
	}
	for _, line := range input.Lines {
		order.Lines = append(order.Lines, Line{ItemID: line.ItemID, OrderedQuantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	order.recompute()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines := order.Lines
		created, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		created.Lines = make([]Line, 0, len(lines))
		for _, line := range lines {
			if _, err := tx.Ledger().GetItem(ctx, line.ItemID); err != nil {
				return err
			}
			line.OrderID = created.ID
			saved, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			created.Lines = append(created.Lines, saved)
		}
		order = created
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, order, "procurement:po_created", nil)
	return order, nil
}

// SendPurchaseOrder marks a draft order as sent to the supplier.
func (s *Service) SendPurchaseOrder(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, orderID, actorID, "procurement:po_sent", func(o *PurchaseOrder) error {
		if o.Status != POStatusDraft {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, o.Number, o.Status)
		}
		o.Status = POStatusSent
		return nil
	})
}

// ConfirmPurchaseOrder records the supplier confirmation of a sent order.
func (s *Service) ConfirmPurchaseOrder(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, orderID, actorID, "procurement:po_confirmed", func(o *PurchaseOrder) error {
		if o.Status != POStatusSent {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, o.Number, o.Status)
		}
		o.Status = POStatusConfirmed
		o.ApprovedBy = actorID
		return nil
	})
}

// CancelPurchaseOrder cancels an order that has not received goods yet.
func (s *Service) CancelPurchaseOrder(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, orderID, actorID, "procurement:po_cancelled", func(o *PurchaseOrder) error {
		switch o.Status {
		case POStatusDraft, POStatusSent, POStatusConfirmed:
			o.Status = POStatusCancelled
			return nil
		default:
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, o.Number, o.Status)
		}
	})
}

func (s *Service) transition(ctx context.Context, orderID, actorID int64, action string, fn func(*PurchaseOrder) error) (PurchaseOrder, error) {
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(&order); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, order, action, map[string]any{"status": string(order.Status)})
	return order, nil
}

// ReceiveInput books delivered goods against order lines.
type ReceiveInput struct {
	OrderID int64
	ActorID int64
	Lines   []ReceiveLine
}

// ReceiveLine is the delivered quantity of one order line.
type ReceiveLine struct {
	LineID   int64
	Quantity int64
}

// ReceiveResult summarises one receipt.
type ReceiveResult struct {
	OrderID       int64    `json:"order_id"`
	Status        POStatus `json:"status"`
	ReceivedTotal int64    `json:"received_total"`
}

type pendingReceipt struct {
	idx       int
	quantity  int64
	balanceID int64
}

// ReceivePurchaseOrder writes a receipt movement and a cost history entry
// per delivered line, updates received quantities and derives the order
// status, all in one transaction.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	var (
		order   PurchaseOrder
		result  ReceiveResult
		applied []inventory.Applied
		booked  []ReceivedLineEvent
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.Receivable() {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Number, order.Status)
		}
		if _, err := s.shops.RequireActive(ctx, order.ShopID); err != nil {
			return err
		}
		ledger := tx.Ledger()
		pending := make([]pendingReceipt, 0, len(input.Lines))
		ids := make([]int64, 0, len(input.Lines))
		for _, rl := range input.Lines {
			if rl.Quantity <= 0 {
				continue
			}
			idx, ok := order.line(rl.LineID)
			if !ok {
				return fmt.Errorf("%w: line %d on order %s", ErrNotFound, rl.LineID, order.Number)
			}
			bal, err := ledger.EnsureBalance(ctx, order.ShopID, order.Lines[idx].ItemID)
			if err != nil {
				return err
			}
			pending = append(pending, pendingReceipt{idx: idx, quantity: rl.Quantity, balanceID: bal.ID})
			ids = append(ids, bal.ID)
		}
		sort.SliceStable(pending, func(i, j int) bool { return pending[i].balanceID < pending[j].balanceID })
		if err := inventory.LockBalances(ctx, ledger, ids); err != nil {
			return err
		}
		engine := s.inventory.Engine()
		notes := "Purchase order " + order.Number
		for _, p := range pending {
			line := &order.Lines[p.idx]
			a, err := engine.Apply(ctx, ledger, inventory.MovementRequest{
				BalanceID:       p.balanceID,
				Type:            inventory.MovementReceipt,
				QuantityChange:  p.quantity,
				ActorID:         input.ActorID,
				Notes:           notes,
				ReferenceNumber: order.Number,
				PurchaseOrderID: order.ID,
				CostPerUnit:     decimal.NewNullDecimal(line.UnitPrice),
			})
			if err != nil {
				return err
			}
			err = ledger.InsertCostHistory(ctx, inventory.CostHistory{
				ItemID:     line.ItemID,
				ShopID:     order.ShopID,
				Source:     inventory.CostSourcePurchaseOrder,
				SourceID:   order.ID,
				Cost:       line.UnitPrice,
				Quantity:   p.quantity,
				Notes:      notes,
				ReceivedAt: a.Movement.CreatedAt,
			})
			if err != nil {
				return err
			}
			line.ReceivedQuantity += p.quantity
			if err := tx.UpdateLineReceived(ctx, line.ID, line.ReceivedQuantity); err != nil {
				return err
			}
			applied = append(applied, a)
			booked = append(booked, ReceivedLineEvent{LineID: line.ID, ItemID: line.ItemID, Quantity: p.quantity})
			result.ReceivedTotal += p.quantity
		}
		order.Status = order.deriveStatus()
		if result.ReceivedTotal > 0 {
			now := s.now()
			order.ActualDeliveryDate = &now
		}
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	result.OrderID = order.ID
	result.Status = order.Status
	s.inventory.RecordApplied(ctx, applied...)
	s.recordAudit(ctx, input.ActorID, order, "procurement:po_received", map[string]any{
		"status":         string(order.Status),
		"received_total": result.ReceivedTotal,
	})
	if s.events != nil && len(booked) > 0 {
		evt := OrderReceivedEvent{
			OrderID:    order.ID,
			Number:     order.Number,
			ShopID:     order.ShopID,
			SupplierID: order.SupplierID,
			Status:     order.Status,
			Lines:      booked,
			ReceivedAt: *order.ActualDeliveryDate,
		}
		if err := s.events.HandleOrderReceived(ctx, evt); err != nil {
			s.logger.Error("publish order received", slog.String("order", order.Number), slog.Any("error", err))
		}
	}
	return result, nil
}

// GetPurchaseOrder loads an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListFilters narrows order listings.
type ListFilters struct {
	ShopID     int64
	Status     POStatus
	SupplierID int64
	Limit      int
	Offset     int
}

// ListPurchaseOrders lists order headers of a shop, newest first.
func (s *Service) ListPurchaseOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	if filters.ShopID == 0 {
		return nil, fmt.Errorf("%w: shop required", ErrValidation)
	}
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}
	return s.repo.ListOrders(ctx, filters)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, order PurchaseOrder, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = order.Number
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		ShopID:   order.ShopID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(order.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
