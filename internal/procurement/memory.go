package procurement

import (
	"context"
	"sort"
	"sync"

	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/platform/memlock"
)

// MemoryStore keeps purchase orders in process and shares transactions with
// an inventory MemoryStore.
type MemoryStore struct {
	mu     sync.Mutex
	locks  *memlock.Table
	ledger *inventory.MemoryStore
	orders map[int64]PurchaseOrder
	seq    int64
}

// NewMemoryStore constructs a MemoryStore over the ledger store.
func NewMemoryStore(ledger *inventory.MemoryStore) *MemoryStore {
	return &MemoryStore{locks: memlock.NewTable(), ledger: ledger, orders: make(map[int64]PurchaseOrder)}
}

type memoryTx struct {
	store  *MemoryStore
	held   *memlock.Held
	ledger *inventory.MemoryTx
	orders map[int64]PurchaseOrder
}

// WithTx runs fn in a transaction; ledger writes commit before order rows.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{store: m, held: m.locks.Begin(), ledger: m.ledger.Begin(), orders: make(map[int64]PurchaseOrder)}
	defer tx.held.Release()
	if err := fn(ctx, tx); err != nil {
		tx.ledger.Rollback()
		return err
	}
	if err := tx.ledger.Commit(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range tx.orders {
		m.orders[id] = o
	}
	return nil
}

func (t *memoryTx) Ledger() inventory.TxRepository { return t.ledger }

func cloneOrder(o PurchaseOrder) PurchaseOrder {
	o.Lines = append([]Line{}, o.Lines...)
	return o
}

func (t *memoryTx) GetOrderForUpdate(_ context.Context, id int64) (PurchaseOrder, error) {
	if o, staged := t.orders[id]; staged {
		return cloneOrder(o), nil
	}
	t.store.mu.Lock()
	_, ok := t.store.orders[id]
	t.store.mu.Unlock()
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	t.held.Lock(id)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return cloneOrder(t.store.orders[id]), nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o PurchaseOrder) (PurchaseOrder, error) {
	t.store.mu.Lock()
	t.store.seq++
	o.ID = t.store.seq
	t.store.mu.Unlock()
	t.held.Lock(o.ID)
	o.Lines = []Line{}
	t.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (t *memoryTx) InsertLine(_ context.Context, l Line) (Line, error) {
	o, ok := t.orders[l.OrderID]
	if !ok {
		return Line{}, ErrNotFound
	}
	t.store.mu.Lock()
	t.store.seq++
	l.ID = t.store.seq
	t.store.mu.Unlock()
	o.Lines = append(o.Lines, l)
	t.orders[o.ID] = o
	return l, nil
}

func (t *memoryTx) UpdateOrder(_ context.Context, o PurchaseOrder) error {
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

// Received quantities travel with UpdateOrder, which stores every line.
func (t *memoryTx) UpdateLineReceived(context.Context, int64, int64) error { return nil }

// GetOrder loads a committed order.
func (m *MemoryStore) GetOrder(_ context.Context, id int64) (PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

// ListOrders lists committed orders, newest first.
func (m *MemoryStore) ListOrders(_ context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []PurchaseOrder{}
	for _, o := range m.orders {
		if o.ShopID != filters.ShopID {
			continue
		}
		if filters.Status != "" && o.Status != filters.Status {
			continue
		}
		if filters.SupplierID != 0 && o.SupplierID != filters.SupplierID {
			continue
		}
		o.Lines = nil
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filters.Offset >= len(out) {
		return []PurchaseOrder{}, nil
	}
	out = out[filters.Offset:]
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}
