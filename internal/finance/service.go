package finance

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/miazigoo/RepireCRM/internal/shared"
)

// RepositoryPort abstracts finance persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMethods(ctx context.Context) ([]PaymentMethod, error)
	ListRegisters(ctx context.Context, shopID int64) ([]CashRegister, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records payments that are not part of a sale, such as repair
// order prepayments.
type Service struct {
	repo     RepositoryPort
	recorder *Recorder
	audit    AuditPort
	logger   *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, recorder: NewRecorder(), audit: audit, logger: logger}
}

// Recorder exposes the tx-scoped payment writer.
func (s *Service) Recorder() *Recorder { return s.recorder }

// RecordPayment stores a payment and credits the register when one is given
// and the method is cash, all in one transaction.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (Payment, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = s.recorder.RecordPayment(ctx, tx, in)
		if err != nil {
			return err
		}
		if in.CashRegisterID == 0 {
			return nil
		}
		method, err := tx.GetMethodByCode(ctx, payment.MethodCode)
		if err != nil {
			return err
		}
		if !method.IsCash {
			return nil
		}
		_, err = s.recorder.CreditCashRegister(ctx, tx, in.ShopID, in.CashRegisterID, payment.Amount)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			ShopID:   in.ShopID,
			Action:   "finance:payment_recorded",
			Entity:   "payment",
			EntityID: strconv.FormatInt(payment.ID, 10),
			Meta:     map[string]any{"number": payment.Number, "amount": payment.Amount.String()},
			At:       payment.PaymentDate,
		}); err != nil {
			s.logger.Warn("record audit", slog.String("payment", payment.Number), slog.Any("error", err))
		}
	}
	return payment, nil
}

// ListMethods lists payment methods.
func (s *Service) ListMethods(ctx context.Context) ([]PaymentMethod, error) {
	return s.repo.ListMethods(ctx)
}

// ListRegisters lists the registers of a shop.
func (s *Service) ListRegisters(ctx context.Context, shopID int64) ([]CashRegister, error) {
	return s.repo.ListRegisters(ctx, shopID)
}

// GetPayment loads one payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}
