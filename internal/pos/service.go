package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// TxRepository exposes sale writes plus the ledger and payment repositories
// bound to the same transaction.
type TxRepository interface {
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	UpdateSale(ctx context.Context, sale Sale) error
	UpsertLine(ctx context.Context, line Line) (Line, error)
	DeleteLine(ctx context.Context, saleID, itemID int64) error
	Ledger() inventory.TxRepository
	Payments() finance.TxRepository
}

// RepositoryPort abstracts sale persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
}

// ShopDirectory is the slice of shops.Directory the POS needs.
type ShopDirectory interface {
	RequireActive(ctx context.Context, id int64) (shops.Shop, error)
	Settings(ctx context.Context, shopID int64) (shops.Settings, error)
	NextNumber(ctx context.Context, shopID int64, prefix string) (string, error)
}

// EventHandler receives completed sales for loyalty and reporting.
type EventHandler interface {
	HandleSaleCompleted(ctx context.Context, evt SaleCompletedEvent) error
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the retail sale state machine.
type Service struct {
	repo      RepositoryPort
	inventory *inventory.Service
	shops     ShopDirectory
	recorder  *finance.Recorder
	idem      shared.IdempotencyPort
	events    EventHandler
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// Config groups optional collaborators.
type Config struct {
	Idempotency shared.IdempotencyPort
	Events      EventHandler
	Audit       AuditPort
	Logger      *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, inv *inventory.Service, shopDir ShopDirectory, recorder *finance.Recorder, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = finance.NewRecorder()
	}
	return &Service{
		repo:      repo,
		inventory: inv,
		shops:     shopDir,
		recorder:  recorder,
		idem:      cfg.Idempotency,
		events:    cfg.Events,
		audit:     cfg.Audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartSaleInput opens a draft sale.
type StartSaleInput struct {
	ShopID     int64
	CashierID  int64
	CustomerID int64
	Notes      string
}

// StartSale creates a draft sale with the next shop sale number.
func (s *Service) StartSale(ctx context.Context, in StartSaleInput) (Sale, error) {
	if in.CashierID == 0 {
		return Sale{}, fmt.Errorf("%w: cashier required", ErrValidation)
	}
	if _, err := s.shops.RequireActive(ctx, in.ShopID); err != nil {
		return Sale{}, err
	}
	settings, err := s.shops.Settings(ctx, in.ShopID)
	if err != nil {
		return Sale{}, err
	}
	if !settings.POSBarcodeEnabled {
		return Sale{}, fmt.Errorf("%w: shop %d", ErrPOSDisabled, in.ShopID)
	}
	number, err := s.shops.NextNumber(ctx, in.ShopID, shops.SequenceSale)
	if err != nil {
		return Sale{}, err
	}
	sale := Sale{
		Number:         number,
		ShopID:         in.ShopID,
		CashierID:      in.CashierID,
		CustomerID:     in.CustomerID,
		Status:         StatusDraft,
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TotalAmount:    decimal.Zero,
		Notes:          in.Notes,
		CreatedAt:      s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.InsertSale(ctx, sale)
		return err
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, in.CashierID, sale, "pos:sale_started", nil)
	return sale, nil
}

// AddLineInput adds an item to a draft sale.
type AddLineInput struct {
	SaleID   int64
	Ref      inventory.ItemRef
	Quantity int64
	ActorID  int64
}

// AddLine resolves the item and adds it to the sale. A second add of the
// same item increments the existing line and re-snapshots its unit price.
func (s *Service) AddLine(ctx context.Context, in AddLineInput) (Sale, error) {
	if in.Quantity < 1 {
		in.Quantity = 1
	}
	current, err := s.repo.GetSale(ctx, in.SaleID)
	if err != nil {
		return Sale{}, err
	}
	if err := current.requireDraft(); err != nil {
		return Sale{}, err
	}
	item, err := s.inventory.Resolver().Lookup(ctx, in.Ref, inventory.ScanMeta{
		ShopID:   current.ShopID,
		UserID:   in.ActorID,
		Context:  inventory.ScanContextPOS,
		Quantity: in.Quantity,
	})
	if err != nil {
		return Sale{}, err
	}
	return s.mutateDraft(ctx, in.SaleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		idx, ok := sale.line(item.ID)
		if !ok {
			sale.Lines = append(sale.Lines, Line{SaleID: sale.ID, ItemID: item.ID, SKU: item.SKU, Name: item.Name})
			idx = len(sale.Lines) - 1
		}
		line := &sale.Lines[idx]
		line.Quantity += in.Quantity
		line.UnitPrice = item.SellingPrice
		line.recompute()
		saved, err := tx.UpsertLine(ctx, *line)
		if err != nil {
			return err
		}
		line.ID = saved.ID
		return nil
	})
}

// UpdateLineQuantity sets the quantity of a line. Zero removes it.
func (s *Service) UpdateLineQuantity(ctx context.Context, saleID, itemID, quantity int64) (Sale, error) {
	if quantity < 0 {
		return Sale{}, fmt.Errorf("%w: quantity must be >= 0", ErrValidation)
	}
	if quantity == 0 {
		return s.RemoveLine(ctx, saleID, itemID)
	}
	return s.mutateDraft(ctx, saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		idx, ok := sale.line(itemID)
		if !ok {
			return fmt.Errorf("%w: item %d not on sale", inventory.ErrItemNotFound, itemID)
		}
		sale.Lines[idx].Quantity = quantity
		sale.Lines[idx].recompute()
		_, err := tx.UpsertLine(ctx, sale.Lines[idx])
		return err
	})
}

// RemoveLine drops an item from a draft sale.
func (s *Service) RemoveLine(ctx context.Context, saleID, itemID int64) (Sale, error) {
	return s.mutateDraft(ctx, saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		idx, ok := sale.line(itemID)
		if !ok {
			return fmt.Errorf("%w: item %d not on sale", inventory.ErrItemNotFound, itemID)
		}
		sale.Lines = append(sale.Lines[:idx], sale.Lines[idx+1:]...)
		return tx.DeleteLine(ctx, saleID, itemID)
	})
}

// SetDiscount sets the absolute discount. It must lie within the subtotal.
func (s *Service) SetDiscount(ctx context.Context, saleID int64, discount decimal.Decimal) (Sale, error) {
	return s.mutateDraft(ctx, saleID, func(_ context.Context, _ TxRepository, sale *Sale) error {
		if discount.IsNegative() || discount.GreaterThan(sale.Subtotal) {
			return fmt.Errorf("%w: discount must be between 0 and %s", ErrValidation, sale.Subtotal.StringFixed(2))
		}
		sale.DiscountAmount = discount
		return nil
	})
}

// CancelSale moves a draft sale to cancelled. No stock is touched.
func (s *Service) CancelSale(ctx context.Context, saleID, actorID int64) (Sale, error) {
	sale, err := s.mutateDraft(ctx, saleID, func(_ context.Context, _ TxRepository, sale *Sale) error {
		now := s.now()
		sale.Status = StatusCancelled
		sale.CancelledAt = &now
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actorID, sale, "pos:sale_cancelled", nil)
	return sale, nil
}

// mutateDraft locks the sale, checks it is a draft, applies fn and saves
// the recomputed totals.
func (s *Service) mutateDraft(ctx context.Context, saleID int64, fn func(context.Context, TxRepository, *Sale) error) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if err := sale.requireDraft(); err != nil {
			return err
		}
		if err := fn(ctx, tx, &sale); err != nil {
			return err
		}
		sale.recompute()
		if sale.DiscountAmount.GreaterThan(sale.Subtotal) {
			return fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrValidation,
				sale.DiscountAmount.StringFixed(2), sale.Subtotal.StringFixed(2))
		}
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// PaymentInput selects how a finalized sale is paid.
type PaymentInput struct {
	MethodCode     string
	CashRegisterID int64
	Description    string
}

// FinalizeInput completes a sale.
type FinalizeInput struct {
	SaleID         int64
	ActorID        int64
	IdempotencyKey string
	Payment        *PaymentInput
}

const idempotencyModule = "pos.finalize"

// Finalize debits stock for every line and completes the sale in one
// transaction. Any failing line leaves the sale draft and the ledger
// untouched.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (Sale, error) {
	in.Payment = nil
	sale, _, err := s.finalize(ctx, in)
	return sale, err
}

// FinalizeWithPayment finalizes and records the payment for the sale total
// in the same transaction, crediting the cash register when one is given.
func (s *Service) FinalizeWithPayment(ctx context.Context, in FinalizeInput) (Sale, finance.Payment, error) {
	if in.Payment == nil || strings.TrimSpace(in.Payment.MethodCode) == "" {
		return Sale{}, finance.Payment{}, fmt.Errorf("%w: payment method required", ErrValidation)
	}
	return s.finalize(ctx, in)
}

type pendingLine struct {
	line      Line
	balanceID int64
}

func (s *Service) finalize(ctx context.Context, in FinalizeInput) (Sale, finance.Payment, error) {
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return Sale{}, finance.Payment{}, err
		}
	}
	sale, payment, applied, err := s.finalizeTx(ctx, in)
	if err != nil {
		if in.IdempotencyKey != "" && s.idem != nil {
			if delErr := s.idem.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return Sale{}, finance.Payment{}, err
	}
	s.inventory.RecordApplied(ctx, applied...)
	s.recordAudit(ctx, in.ActorID, sale, "pos:sale_completed", map[string]any{"payment_id": payment.ID})
	s.publishCompleted(ctx, sale)
	return sale, payment, nil
}

func (s *Service) finalizeTx(ctx context.Context, in FinalizeInput) (Sale, finance.Payment, []inventory.Applied, error) {
	var (
		sale    Sale
		payment finance.Payment
		applied []inventory.Applied
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, in.SaleID)
		if err != nil {
			return err
		}
		if err := sale.requireDraft(); err != nil {
			return err
		}
		if len(sale.Lines) == 0 {
			return fmt.Errorf("%w: sale %s has no lines", ErrValidation, sale.Number)
		}
		sale.recompute()
		if sale.TotalAmount.IsNegative() {
			return fmt.Errorf("%w: sale %s total is negative", ErrValidation, sale.Number)
		}
		if _, err := s.shops.RequireActive(ctx, sale.ShopID); err != nil {
			return err
		}
		ledger := tx.Ledger()
		pending := make([]pendingLine, 0, len(sale.Lines))
		ids := make([]int64, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			bal, err := ledger.EnsureBalance(ctx, sale.ShopID, line.ItemID)
			if err != nil {
				return err
			}
			pending = append(pending, pendingLine{line: line, balanceID: bal.ID})
			ids = append(ids, bal.ID)
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].balanceID < pending[j].balanceID })
		if err := inventory.LockBalances(ctx, ledger, ids); err != nil {
			return err
		}
		notes := "POS sale " + sale.Number
		engine := s.inventory.Engine()
		for _, p := range pending {
			a, err := engine.Apply(ctx, ledger, inventory.MovementRequest{
				BalanceID:       p.balanceID,
				Type:            inventory.MovementShipment,
				QuantityChange:  -p.line.Quantity,
				ActorID:         in.ActorID,
				Notes:           notes,
				ReferenceNumber: sale.Number,
				SaleID:          sale.ID,
			})
			if err != nil {
				return err
			}
			applied = append(applied, a)
		}
		// A fully discounted sale completes without a payment row.
		if in.Payment != nil && sale.TotalAmount.IsPositive() {
			payment, err = s.pay(ctx, tx.Payments(), sale, in)
			if err != nil {
				return err
			}
			sale.PaymentID = payment.ID
		}
		now := s.now()
		sale.Status = StatusCompleted
		sale.CompletedAt = &now
		sale.recompute()
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, finance.Payment{}, nil, err
	}
	return sale, payment, applied, nil
}

func (s *Service) pay(ctx context.Context, tx finance.TxRepository, sale Sale, in FinalizeInput) (finance.Payment, error) {
	description := in.Payment.Description
	if description == "" {
		description = "Payment for sale " + sale.Number
	}
	payment, err := s.recorder.RecordPayment(ctx, tx, finance.PaymentInput{
		ShopID:          sale.ShopID,
		Amount:          sale.TotalAmount,
		MethodCode:      in.Payment.MethodCode,
		CashRegisterID:  in.Payment.CashRegisterID,
		SaleID:          sale.ID,
		Description:     description,
		ReferenceNumber: sale.Number,
		ActorID:         in.ActorID,
	})
	if err != nil {
		return finance.Payment{}, err
	}
	if in.Payment.CashRegisterID != 0 {
		if _, err := s.recorder.CreditCashRegister(ctx, tx, sale.ShopID, in.Payment.CashRegisterID, sale.TotalAmount); err != nil {
			return finance.Payment{}, err
		}
	}
	return payment, nil
}

func (s *Service) publishCompleted(ctx context.Context, sale Sale) {
	if s.events == nil {
		return
	}
	evt := SaleCompletedEvent{
		SaleID:      sale.ID,
		Number:      sale.Number,
		ShopID:      sale.ShopID,
		CashierID:   sale.CashierID,
		CustomerID:  sale.CustomerID,
		TotalAmount: sale.TotalAmount,
		PaymentID:   sale.PaymentID,
		Lines:       make([]SoldLine, 0, len(sale.Lines)),
	}
	if sale.CompletedAt != nil {
		evt.CompletedAt = *sale.CompletedAt
	}
	for _, l := range sale.Lines {
		evt.Lines = append(evt.Lines, SoldLine{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	if err := s.events.HandleSaleCompleted(ctx, evt); err != nil {
		s.logger.Error("publish sale completed", slog.String("sale", sale.Number), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, sale Sale, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = sale.Number
	meta["total"] = sale.TotalAmount.StringFixed(2)
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		ShopID:   sale.ShopID,
		Action:   action,
		Entity:   "retail_sale",
		EntityID: strconv.FormatInt(sale.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// SaleFilter narrows sale listings.
type SaleFilter struct {
	ShopID int64
	Status Status
	Limit  int
	Offset int
}

// GetSale loads a sale with its lines.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales lists sale headers, newest first.
func (s *Service) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	if filter.ShopID == 0 {
		return nil, fmt.Errorf("%w: shop required", ErrValidation)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListSales(ctx, filter)
}

// IsRetryable reports whether err came from stock the caller may restock.
func IsRetryable(err error) bool {
	return errors.Is(err, inventory.ErrInsufficientStock)
}
