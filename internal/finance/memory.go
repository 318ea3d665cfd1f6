package finance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/memlock"
)

// MemoryStore is an in-process RepositoryPort. Register rows are locked per
// transaction and writes become visible on commit.
type MemoryStore struct {
	mu        sync.Mutex
	locks     *memlock.Table
	methods   map[string]PaymentMethod
	registers map[int64]CashRegister
	payments  []Payment
	paySeq    int64
	seq       int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:     memlock.NewTable(),
		methods:   make(map[string]PaymentMethod),
		registers: make(map[int64]CashRegister),
	}
}

// AddMethod registers a payment method.
func (m *MemoryStore) AddMethod(method PaymentMethod) PaymentMethod {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	method.ID = m.seq
	m.methods[method.Code] = method
	return method
}

// AddRegister opens a cash register.
func (m *MemoryStore) AddRegister(reg CashRegister) CashRegister {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	reg.ID = m.seq
	m.registers[reg.ID] = reg
	return reg
}

// Register returns the committed state of a register.
func (m *MemoryStore) Register(id int64) (CashRegister, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registers[id]
	return reg, ok
}

// Payments returns committed payments, oldest first.
func (m *MemoryStore) Payments() []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Payment(nil), m.payments...)
}

// MemoryTx is one open finance transaction.
type MemoryTx struct {
	store     *MemoryStore
	held      *memlock.Held
	done      bool
	payments  []Payment
	registers map[int64]CashRegister
}

// Begin opens a transaction. Callers must Commit or Rollback it.
func (m *MemoryStore) Begin() *MemoryTx {
	return &MemoryTx{store: m, held: m.locks.Begin(), registers: make(map[int64]CashRegister)}
}

// WithTx runs fn in a transaction, committing on success.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := m.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// Commit publishes staged writes and releases register locks.
func (t *MemoryTx) Commit() {
	if t.done {
		return
	}
	t.done = true
	defer t.held.Release()
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, t.payments...)
	for id, reg := range t.registers {
		s.registers[id] = reg
	}
}

// Rollback discards staged writes.
func (t *MemoryTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.held.Release()
}

func (t *MemoryTx) GetMethodByCode(_ context.Context, code string) (PaymentMethod, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	m, ok := t.store.methods[code]
	if !ok {
		return PaymentMethod{}, fmt.Errorf("%w: %s", ErrMethodNotFound, code)
	}
	return m, nil
}

func (t *MemoryTx) NextPaymentNumber(_ context.Context) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.paySeq++
	return t.store.paySeq, nil
}

func (t *MemoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	t.store.mu.Lock()
	t.store.seq++
	p.ID = t.store.seq
	t.store.mu.Unlock()
	t.payments = append(t.payments, p)
	return p, nil
}

func (t *MemoryTx) GetRegisterForUpdate(_ context.Context, id int64) (CashRegister, error) {
	t.store.mu.Lock()
	_, ok := t.store.registers[id]
	t.store.mu.Unlock()
	if !ok {
		return CashRegister{}, fmt.Errorf("%w: %d", ErrRegisterNotFound, id)
	}
	t.held.Lock(id)
	if reg, staged := t.registers[id]; staged {
		return reg, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.registers[id], nil
}

func (t *MemoryTx) UpdateRegisterBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	reg, err := t.GetRegisterForUpdate(ctx, id)
	if err != nil {
		return err
	}
	reg.CashBalance = balance
	t.registers[id] = reg
	return nil
}

// ListMethods lists payment methods by code.
func (m *MemoryStore) ListMethods(_ context.Context) ([]PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PaymentMethod, 0, len(m.methods))
	for _, method := range m.methods {
		out = append(out, method)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ListRegisters lists the registers of a shop.
func (m *MemoryStore) ListRegisters(_ context.Context, shopID int64) ([]CashRegister, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CashRegister
	for _, reg := range m.registers {
		if reg.ShopID == shopID {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPayment loads one payment.
func (m *MemoryStore) GetPayment(_ context.Context, id int64) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}
