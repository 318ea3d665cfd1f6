package pos

import (
	"context"
	"sort"
	"sync"

	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/platform/memlock"
)

// MemoryStore keeps sales in process and joins the inventory and finance
// memory stores into one transaction.
type MemoryStore struct {
	mu       sync.Mutex
	locks    *memlock.Table
	ledger   *inventory.MemoryStore
	payments *finance.MemoryStore
	sales    map[int64]Sale
	seq      int64
}

// NewMemoryStore constructs a MemoryStore over the given ledger and payment
// stores.
func NewMemoryStore(ledger *inventory.MemoryStore, payments *finance.MemoryStore) *MemoryStore {
	return &MemoryStore{
		locks:    memlock.NewTable(),
		ledger:   ledger,
		payments: payments,
		sales:    make(map[int64]Sale),
	}
}

type memoryTx struct {
	store    *MemoryStore
	held     *memlock.Held
	ledger   *inventory.MemoryTx
	payments *finance.MemoryTx
	sales    map[int64]Sale
}

// WithTx runs fn in a transaction. The ledger commits first because it is
// the only part that can still reject at commit time.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		store:    m,
		held:     m.locks.Begin(),
		ledger:   m.ledger.Begin(),
		payments: m.payments.Begin(),
		sales:    make(map[int64]Sale),
	}
	defer tx.held.Release()
	if err := fn(ctx, tx); err != nil {
		tx.ledger.Rollback()
		tx.payments.Rollback()
		return err
	}
	if err := tx.ledger.Commit(); err != nil {
		tx.payments.Rollback()
		return err
	}
	tx.payments.Commit()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range tx.sales {
		m.sales[id] = s
	}
	return nil
}

func (t *memoryTx) Ledger() inventory.TxRepository  { return t.ledger }
func (t *memoryTx) Payments() finance.TxRepository { return t.payments }

func (t *memoryTx) GetSaleForUpdate(_ context.Context, id int64) (Sale, error) {
	t.store.mu.Lock()
	_, ok := t.store.sales[id]
	t.store.mu.Unlock()
	if !ok {
		if s, staged := t.sales[id]; staged {
			return cloneSale(s), nil
		}
		return Sale{}, ErrSaleNotFound
	}
	t.held.Lock(id)
	if s, staged := t.sales[id]; staged {
		return cloneSale(s), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return cloneSale(t.store.sales[id]), nil
}

func (t *memoryTx) InsertSale(_ context.Context, s Sale) (Sale, error) {
	t.store.mu.Lock()
	t.store.seq++
	s.ID = t.store.seq
	t.store.mu.Unlock()
	t.held.Lock(s.ID)
	s.Lines = []Line{}
	t.sales[s.ID] = s
	return cloneSale(s), nil
}

func (t *memoryTx) UpdateSale(_ context.Context, s Sale) error {
	t.sales[s.ID] = cloneSale(s)
	return nil
}

// Line writes are carried by UpdateSale, which stores the full line set.
func (t *memoryTx) UpsertLine(_ context.Context, l Line) (Line, error) {
	if l.ID == 0 {
		t.store.mu.Lock()
		t.store.seq++
		l.ID = t.store.seq
		t.store.mu.Unlock()
	}
	return l, nil
}

func (t *memoryTx) DeleteLine(context.Context, int64, int64) error { return nil }

func cloneSale(s Sale) Sale {
	s.Lines = append([]Line{}, s.Lines...)
	return s
}

// GetSale loads a committed sale.
func (m *MemoryStore) GetSale(_ context.Context, id int64) (Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return cloneSale(s), nil
}

// ListSales lists committed sales of a shop, newest first.
func (m *MemoryStore) ListSales(_ context.Context, filter SaleFilter) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Sale{}
	for _, s := range m.sales {
		if s.ShopID != filter.ShopID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		s.Lines = nil
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset >= len(out) {
		return []Sale{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
