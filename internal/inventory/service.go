package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/miazigoo/RepireCRM/internal/platform/cache"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	GetItemBySKU(ctx context.Context, sku string) (Item, error)
	FindBarcodeMatches(ctx context.Context, code string) ([]BarcodeMatch, error)
	ListBarcodes(ctx context.Context, itemID int64) ([]ItemBarcode, error)
	ListPriceHistory(ctx context.Context, itemID int64) ([]PriceHistory, error)
	GetBalance(ctx context.Context, id int64) (Balance, error)
	FindBalance(ctx context.Context, shopID, itemID int64) (Balance, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]BalanceView, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ReorderCandidates(ctx context.Context, shopID int64) ([]ReorderCandidate, error)
	MovementSummary(ctx context.Context, filter TurnoverFilter) ([]TurnoverRow, error)
	InsertScanEvent(ctx context.Context, evt ScanEvent) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ShopDirectory is the slice of shops.Directory the ledger needs.
type ShopDirectory interface {
	RequireActive(ctx context.Context, id int64) (shops.Shop, error)
	ListActive(ctx context.Context) ([]shops.Shop, error)
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	shops    ShopDirectory
	audit    AuditPort
	engine   *Engine
	resolver *Resolver
	logger   *slog.Logger
	metrics  LedgerMetrics
	events   IntegrationHandler
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Logger       *slog.Logger
	Metrics      LedgerMetrics
	Events       IntegrationHandler
	BarcodeCache *cache.JSONStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, shopDir ShopDirectory, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		shops:    shopDir,
		audit:    audit,
		engine:   NewEngine(),
		resolver: NewResolver(repo, cfg.BarcodeCache, logger),
		logger:   logger,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
	}
}

// Engine exposes the tx-scoped movement core for composing workflows.
func (s *Service) Engine() *Engine { return s.engine }

// Resolver exposes barcode resolution.
func (s *Service) Resolver() *Resolver { return s.resolver }

// ApplyMovement applies one movement to an existing balance.
func (s *Service) ApplyMovement(ctx context.Context, req MovementRequest) (Movement, error) {
	if err := req.validate(); err != nil {
		s.reject(err)
		return Movement{}, err
	}
	var applied Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		applied, err = s.engine.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		s.reject(err)
		return Movement{}, err
	}
	s.RecordApplied(ctx, applied)
	return applied.Movement, nil
}

// ShopMovementInput addresses a movement by shop and item.
type ShopMovementInput struct {
	ShopID          int64
	ItemID          int64
	Type            MovementType
	QuantityChange  int64
	ActorID         int64
	Notes           string
	ReferenceNumber string
	RepairOrderID   int64
	SaleID          int64
}

// ApplyShopMovement get-or-creates the balance and applies the movement.
func (s *Service) ApplyShopMovement(ctx context.Context, input ShopMovementInput) (Movement, error) {
	req := MovementRequest{
		Type:            input.Type,
		QuantityChange:  input.QuantityChange,
		ActorID:         input.ActorID,
		Notes:           input.Notes,
		ReferenceNumber: input.ReferenceNumber,
		RepairOrderID:   input.RepairOrderID,
		SaleID:          input.SaleID,
	}
	if err := req.validate(); err != nil {
		s.reject(err)
		return Movement{}, err
	}
	if input.ShopID == 0 || input.ItemID == 0 {
		return Movement{}, validationf("shop and item required")
	}
	if _, err := s.shops.RequireActive(ctx, input.ShopID); err != nil {
		return Movement{}, err
	}
	var applied Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.EnsureBalance(ctx, input.ShopID, input.ItemID)
		if err != nil {
			return err
		}
		req.BalanceID = bal.ID
		applied, err = s.engine.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		s.reject(err)
		return Movement{}, err
	}
	s.RecordApplied(ctx, applied)
	return applied.Movement, nil
}

// ReserveInput describes a reservation against a shop balance.
type ReserveInput struct {
	ShopID        int64
	ItemID        int64
	Quantity      int64
	ActorID       int64
	Notes         string
	RepairOrderID int64
}

// Reserve holds stock for a repair order or quote.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Balance, error) {
	if input.Quantity <= 0 {
		return Balance{}, validationf("quantity must be positive")
	}
	return s.reserve(ctx, input, input.Quantity)
}

// Unreserve releases held stock.
func (s *Service) Unreserve(ctx context.Context, input ReserveInput) (Balance, error) {
	if input.Quantity <= 0 {
		return Balance{}, validationf("quantity must be positive")
	}
	return s.reserve(ctx, input, -input.Quantity)
}

func (s *Service) reserve(ctx context.Context, input ReserveInput, qty int64) (Balance, error) {
	if input.ShopID == 0 || input.ItemID == 0 {
		return Balance{}, validationf("shop and item required")
	}
	var applied Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.EnsureBalance(ctx, input.ShopID, input.ItemID)
		if err != nil {
			return err
		}
		applied, err = s.engine.Reserve(ctx, tx, ReserveRequest{
			BalanceID:     bal.ID,
			Quantity:      qty,
			ActorID:       input.ActorID,
			Notes:         input.Notes,
			RepairOrderID: input.RepairOrderID,
		})
		return err
	})
	if err != nil {
		s.reject(err)
		return Balance{}, err
	}
	s.RecordApplied(ctx, applied)
	return applied.Balance, nil
}

// RepairDebitInput debits parts consumed by a repair order.
type RepairDebitInput struct {
	ShopID             int64
	ItemID             int64
	Quantity           int64
	RepairOrderID      int64
	ActorID            int64
	Notes              string
	ConsumeReservation bool
}

// DebitForRepairOrder writes a shipment for a repair order, optionally
// releasing a matching reservation first in the same transaction.
func (s *Service) DebitForRepairOrder(ctx context.Context, input RepairDebitInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, validationf("quantity must be positive")
	}
	if input.RepairOrderID == 0 {
		return Movement{}, validationf("repair order required")
	}
	if _, err := s.shops.RequireActive(ctx, input.ShopID); err != nil {
		return Movement{}, err
	}
	notes := input.Notes
	if notes == "" {
		notes = fmt.Sprintf("Repair order %d", input.RepairOrderID)
	}
	var applied []Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.EnsureBalance(ctx, input.ShopID, input.ItemID)
		if err != nil {
			return err
		}
		if input.ConsumeReservation {
			res, err := s.engine.Reserve(ctx, tx, ReserveRequest{
				BalanceID:     bal.ID,
				Quantity:      -input.Quantity,
				ActorID:       input.ActorID,
				Notes:         notes,
				RepairOrderID: input.RepairOrderID,
			})
			if err != nil {
				return err
			}
			applied = append(applied, res)
		}
		out, err := s.engine.Apply(ctx, tx, MovementRequest{
			BalanceID:      bal.ID,
			Type:           MovementShipment,
			QuantityChange: -input.Quantity,
			ActorID:        input.ActorID,
			Notes:          notes,
			RepairOrderID:  input.RepairOrderID,
		})
		if err != nil {
			return err
		}
		applied = append(applied, out)
		return nil
	})
	if err != nil {
		s.reject(err)
		return Movement{}, err
	}
	s.RecordApplied(ctx, applied...)
	return applied[len(applied)-1].Movement, nil
}

// TransferInput moves stock between two shops.
type TransferInput struct {
	ItemID     int64
	FromShopID int64
	ToShopID   int64
	Quantity   int64
	ActorID    int64
	Notes      string
	Reference  string
}

// Transfer writes an outbound and an inbound transfer movement in one tx.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Movement, Movement, error) {
	if input.ItemID == 0 || input.FromShopID == 0 || input.ToShopID == 0 {
		return Movement{}, Movement{}, validationf("item and shops required")
	}
	if input.FromShopID == input.ToShopID {
		return Movement{}, Movement{}, validationf("source and destination shop must differ")
	}
	if input.Quantity <= 0 {
		return Movement{}, Movement{}, validationf("quantity must be positive")
	}
	for _, id := range []int64{input.FromShopID, input.ToShopID} {
		if _, err := s.shops.RequireActive(ctx, id); err != nil {
			return Movement{}, Movement{}, err
		}
	}
	var out, in Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.EnsureBalance(ctx, input.FromShopID, input.ItemID)
		if err != nil {
			return err
		}
		dst, err := tx.EnsureBalance(ctx, input.ToShopID, input.ItemID)
		if err != nil {
			return err
		}
		if err := LockBalances(ctx, tx, []int64{src.ID, dst.ID}); err != nil {
			return err
		}
		out, err = s.engine.Apply(ctx, tx, MovementRequest{
			BalanceID:       src.ID,
			Type:            MovementTransfer,
			QuantityChange:  -input.Quantity,
			ActorID:         input.ActorID,
			Notes:           fmt.Sprintf("Transfer to shop %d: %s", input.ToShopID, input.Notes),
			ReferenceNumber: input.Reference,
		})
		if err != nil {
			return err
		}
		in, err = s.engine.Apply(ctx, tx, MovementRequest{
			BalanceID:       dst.ID,
			Type:            MovementTransfer,
			QuantityChange:  input.Quantity,
			ActorID:         input.ActorID,
			Notes:           fmt.Sprintf("Transfer from shop %d: %s", input.FromShopID, input.Notes),
			ReferenceNumber: input.Reference,
		})
		return err
	})
	if err != nil {
		s.reject(err)
		return Movement{}, Movement{}, err
	}
	s.RecordApplied(ctx, out, in)
	return out.Movement, in.Movement, nil
}

// CountInput records a physical stock count.
type CountInput struct {
	ShopID  int64
	ItemID  int64
	Counted int64
	ActorID int64
	Notes   string
}

// Count writes an inventory movement for the counted difference. A zero
// difference only stamps LastInventoryAt.
func (s *Service) Count(ctx context.Context, input CountInput) (Balance, *Movement, error) {
	if input.Counted < 0 {
		return Balance{}, nil, validationf("counted quantity must be >= 0")
	}
	if _, err := s.shops.RequireActive(ctx, input.ShopID); err != nil {
		return Balance{}, nil, err
	}
	var (
		applied Applied
		moved   bool
		result  Balance
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.EnsureBalance(ctx, input.ShopID, input.ItemID)
		if err != nil {
			return err
		}
		bal, err = tx.GetBalanceForUpdate(ctx, bal.ID)
		if err != nil {
			return err
		}
		diff := input.Counted - bal.Quantity
		if diff == 0 {
			now := s.engine.now()
			bal.LastInventoryAt = &now
			bal.recompute()
			result = bal
			return tx.UpdateBalance(ctx, bal)
		}
		notes := input.Notes
		if notes == "" {
			notes = fmt.Sprintf("Stock count: %d counted, %d on record", input.Counted, bal.Quantity)
		}
		applied, err = s.engine.Apply(ctx, tx, MovementRequest{
			BalanceID:      bal.ID,
			Type:           MovementInventory,
			QuantityChange: diff,
			ActorID:        input.ActorID,
			Notes:          notes,
		})
		if err != nil {
			return err
		}
		moved = true
		result = applied.Balance
		return nil
	})
	if err != nil {
		s.reject(err)
		return Balance{}, nil, err
	}
	if !moved {
		return result, nil, nil
	}
	s.RecordApplied(ctx, applied)
	return result, &applied.Movement, nil
}

// ThresholdsInput updates balance metadata.
type ThresholdsInput struct {
	BalanceID    int64
	MinQuantity  int64
	MaxQuantity  int64
	ReorderPoint int64
	Location     string
	Shelf        string
	ActorID      int64
}

// UpdateThresholds changes min/max/reorder point and storage location. It
// never touches the quantity.
func (s *Service) UpdateThresholds(ctx context.Context, input ThresholdsInput) (Balance, error) {
	if input.MinQuantity < 0 || input.MaxQuantity < 0 || input.ReorderPoint < 0 {
		return Balance{}, validationf("thresholds must be >= 0")
	}
	if input.MaxQuantity < input.MinQuantity {
		return Balance{}, validationf("max quantity must be >= min quantity")
	}
	var bal Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bal, err = tx.GetBalanceForUpdate(ctx, input.BalanceID)
		if err != nil {
			return err
		}
		bal.MinQuantity = input.MinQuantity
		bal.MaxQuantity = input.MaxQuantity
		bal.ReorderPoint = input.ReorderPoint
		bal.Location = input.Location
		bal.Shelf = input.Shelf
		bal.recompute()
		return tx.UpdateBalance(ctx, bal)
	})
	if err != nil {
		return Balance{}, err
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		ShopID:   bal.ShopID,
		Action:   "inventory:thresholds",
		Entity:   "stock_balance",
		EntityID: strconv.FormatInt(bal.ID, 10),
		Meta: map[string]any{
			"min_quantity":  bal.MinQuantity,
			"max_quantity":  bal.MaxQuantity,
			"reorder_point": bal.ReorderPoint,
		},
	})
	return bal, nil
}

// GetItem loads one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// GetBalance loads one balance.
func (s *Service) GetBalance(ctx context.Context, id int64) (Balance, error) {
	return s.repo.GetBalance(ctx, id)
}

// FindBalance loads the balance of an item in a shop.
func (s *Service) FindBalance(ctx context.Context, shopID, itemID int64) (Balance, error) {
	return s.repo.FindBalance(ctx, shopID, itemID)
}

// RecordApplied runs the post-commit effects of committed movements: audit,
// metrics and events. Failures are logged; the movements stay committed.
func (s *Service) RecordApplied(ctx context.Context, applied ...Applied) {
	for _, a := range applied {
		mv := a.Movement
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(mv.Type))
		}
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  mv.CreatedBy,
			ShopID:   mv.ShopID,
			Action:   fmt.Sprintf("inventory:%s", mv.Type),
			Entity:   "stock_movement",
			EntityID: strconv.FormatInt(mv.ID, 10),
			Meta: map[string]any{
				"balance_id":      mv.BalanceID,
				"item_id":         mv.ItemID,
				"quantity_change": mv.QuantityChange,
				"quantity_after":  mv.QuantityAfter,
				"reserved_change": mv.ReservedChange,
				"notes":           mv.Notes,
			},
			At: mv.CreatedAt,
		})
		if s.events == nil {
			continue
		}
		if err := s.events.HandleMovementRecorded(ctx, movementEvent(a)); err != nil {
			s.logger.Error("publish movement recorded", slog.Int64("movement_id", mv.ID), slog.Any("error", err))
		}
		if a.CrossedMin() {
			if err := s.events.HandleLowStock(ctx, lowStockEvent(a)); err != nil {
				s.logger.Error("publish low stock", slog.Int64("balance_id", mv.BalanceID), slog.Any("error", err))
			}
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("record audit", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func (s *Service) reject(err error) {
	if s.metrics == nil || err == nil {
		return
	}
	s.metrics.ObserveRejection(ErrorCode(err))
}

// Error codes reported per batch entry and on rejection metrics.
const (
	CodeValidation        = "validation"
	CodeItemNotFound      = "item_not_found"
	CodeInsufficientStock = "insufficient_stock"
	CodeBalanceNotFound   = "balance_not_found"
	CodeInvalidState      = "invalid_state"
	CodeInvalidShop       = "invalid_shop"
	CodeInternal          = "internal"
)

// ErrorCode maps an error to a machine readable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrItemNotFound):
		return CodeItemNotFound
	case errors.Is(err, ErrBalanceNotFound):
		return CodeBalanceNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, shops.ErrNotFound), errors.Is(err, shops.ErrInactive):
		return CodeInvalidShop
	default:
		return CodeInternal
	}
}
