package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/memlock"
)

type balanceKey struct{ shopID, itemID int64 }

type supplierKey struct{ supplierID, itemID int64 }

// MemoryStore is an in-process RepositoryPort for development and tests.
// Balance rows are locked per transaction and writes become visible on
// commit, mirroring the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	locks *memlock.Table

	items      map[int64]Item
	barcodes   map[int64]ItemBarcode
	suppliers  map[supplierKey]SupplierItem
	prices     []PriceHistory
	costs      []CostHistory
	balances   map[int64]Balance
	balanceIdx map[balanceKey]int64
	pending    map[balanceKey]*pendingBalance
	movements  []Movement
	scans      []ScanEvent

	seq int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:      memlock.NewTable(),
		items:      make(map[int64]Item),
		barcodes:   make(map[int64]ItemBarcode),
		suppliers:  make(map[supplierKey]SupplierItem),
		balances:   make(map[int64]Balance),
		balanceIdx: make(map[balanceKey]int64),
		pending:    make(map[balanceKey]*pendingBalance),
	}
}

// pendingBalance reserves a balance id for a (shop, item) pair that open
// transactions have created but not yet committed.
type pendingBalance struct {
	id   int64
	refs int
}

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

// MemoryTx is one open transaction against a MemoryStore.
type MemoryTx struct {
	store *MemoryStore
	held  *memlock.Held
	done  bool

	balances        map[int64]Balance
	created         map[int64]createdBalance
	movements       []Movement
	costs           []CostHistory
	items           map[int64]Item
	prices          []PriceHistory
	barcodes        []ItemBarcode
	deletedBarcodes map[int64]struct{}
	suppliers       []SupplierItem
}

// Begin opens a transaction. Callers must Commit or Rollback it.
func (m *MemoryStore) Begin() *MemoryTx {
	return &MemoryTx{
		store:           m,
		held:            m.locks.Begin(),
		balances:        make(map[int64]Balance),
		created:         make(map[int64]createdBalance),
		items:           make(map[int64]Item),
		deletedBarcodes: make(map[int64]struct{}),
	}
}

type createdBalance struct {
	key     balanceKey
	initial Balance
}

// WithTx runs fn in a transaction, committing on success.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := m.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Commit publishes staged writes and releases row locks.
func (t *MemoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.held.Release()
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range t.items {
		for id, existing := range s.items {
			if id != it.ID && existing.SKU == it.SKU {
				t.releasePending()
				return fmt.Errorf("%w: sku %s", ErrDuplicate, it.SKU)
			}
		}
	}
	for id, it := range t.items {
		s.items[id] = it
	}
	for id, c := range t.created {
		if _, committed := s.balances[id]; !committed {
			s.balances[id] = c.initial
			s.balanceIdx[c.key] = id
		}
		delete(s.pending, c.key)
	}
	for id, b := range t.balances {
		s.balances[id] = b
	}
	s.movements = append(s.movements, t.movements...)
	s.costs = append(s.costs, t.costs...)
	s.prices = append(s.prices, t.prices...)
	for id := range t.deletedBarcodes {
		delete(s.barcodes, id)
	}
	for _, b := range t.barcodes {
		s.barcodes[b.ID] = b
	}
	for _, si := range t.suppliers {
		if si.IsPreferred {
			for k, other := range s.suppliers {
				if k.itemID == si.ItemID && k.supplierID != si.SupplierID {
					other.IsPreferred = false
					s.suppliers[k] = other
				}
			}
		}
		s.suppliers[supplierKey{si.SupplierID, si.ItemID}] = si
	}
	return nil
}

// Rollback discards staged writes and releases row locks.
func (t *MemoryTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	defer t.held.Release()
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.releasePending()
}

// releasePending drops this tx's reservations. Callers hold store.mu.
func (t *MemoryTx) releasePending() {
	s := t.store
	for id, c := range t.created {
		p, ok := s.pending[c.key]
		if !ok || p.id != id {
			continue
		}
		p.refs--
		if p.refs <= 0 {
			delete(s.pending, c.key)
		}
	}
}

func (t *MemoryTx) GetItem(_ context.Context, id int64) (Item, error) {
	if it, ok := t.items[id]; ok {
		return it, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	it, ok := t.store.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

// EnsureBalance stages a zero balance when the pair has none yet. The row
// only becomes visible to other readers on Commit; concurrent transactions
// creating the same pair share one reserved id.
func (t *MemoryTx) EnsureBalance(_ context.Context, shopID, itemID int64) (Balance, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey{shopID, itemID}
	if id, ok := s.balanceIdx[key]; ok {
		if b, staged := t.balances[id]; staged {
			return b, nil
		}
		return s.balances[id], nil
	}
	if p, ok := s.pending[key]; ok {
		if c, mine := t.created[p.id]; mine {
			if b, staged := t.balances[p.id]; staged {
				return b, nil
			}
			return c.initial, nil
		}
	}
	if _, ok := s.items[itemID]; !ok {
		if _, staged := t.items[itemID]; !staged {
			return Balance{}, ErrItemNotFound
		}
	}
	p, ok := s.pending[key]
	if !ok {
		p = &pendingBalance{id: s.nextID()}
		s.pending[key] = p
	}
	p.refs++
	b := newBalance(shopID, itemID)
	b.ID = p.id
	b.recompute()
	t.created[b.ID] = createdBalance{key: key, initial: b}
	return b, nil
}

// visible reports whether balanceID is committed or created by this tx.
func (t *MemoryTx) visible(balanceID int64) bool {
	if _, ok := t.created[balanceID]; ok {
		return true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.balances[balanceID]
	return ok
}

func (t *MemoryTx) GetBalanceForUpdate(_ context.Context, balanceID int64) (Balance, error) {
	if !t.visible(balanceID) {
		return Balance{}, ErrBalanceNotFound
	}
	t.held.Lock(balanceID)
	if b, ok := t.balances[balanceID]; ok {
		return b, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if b, ok := t.store.balances[balanceID]; ok {
		return b, nil
	}
	return t.created[balanceID].initial, nil
}

func (t *MemoryTx) UpdateBalance(_ context.Context, b Balance) error {
	if !t.visible(b.ID) {
		return ErrBalanceNotFound
	}
	t.held.Lock(b.ID)
	t.balances[b.ID] = b
	return nil
}

func (t *MemoryTx) InsertMovement(_ context.Context, mv Movement) (Movement, error) {
	t.store.mu.Lock()
	mv.ID = t.store.nextID()
	t.store.mu.Unlock()
	t.movements = append(t.movements, mv)
	return mv, nil
}

func (t *MemoryTx) InsertCostHistory(_ context.Context, c CostHistory) error {
	t.store.mu.Lock()
	c.ID = t.store.nextID()
	t.store.mu.Unlock()
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now().UTC()
	}
	t.costs = append(t.costs, c)
	return nil
}

func (t *MemoryTx) InsertItem(_ context.Context, it Item) (Item, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.SKU == it.SKU {
			return Item{}, fmt.Errorf("%w: sku %s", ErrDuplicate, it.SKU)
		}
	}
	for _, staged := range t.items {
		if staged.SKU == it.SKU {
			return Item{}, fmt.Errorf("%w: sku %s", ErrDuplicate, it.SKU)
		}
	}
	it.ID = s.nextID()
	it.CreatedAt = time.Now().UTC()
	t.items[it.ID] = it
	return it, nil
}

func (t *MemoryTx) UpdateItemPrices(ctx context.Context, itemID int64, purchase, selling decimal.Decimal) error {
	it, err := t.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	it.PurchasePrice = purchase
	it.SellingPrice = selling
	t.items[itemID] = it
	return nil
}

func (t *MemoryTx) InsertPriceHistory(_ context.Context, p PriceHistory) error {
	t.store.mu.Lock()
	p.ID = t.store.nextID()
	t.store.mu.Unlock()
	if p.ChangedAt.IsZero() {
		p.ChangedAt = time.Now().UTC()
	}
	t.prices = append(t.prices, p)
	return nil
}

func (t *MemoryTx) InsertBarcode(_ context.Context, b ItemBarcode) (ItemBarcode, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.barcodes {
		if _, gone := t.deletedBarcodes[id]; gone {
			continue
		}
		if existing.ItemID == b.ItemID && existing.Barcode == b.Barcode {
			return ItemBarcode{}, fmt.Errorf("%w: barcode %s already on item %d", ErrDuplicate, b.Barcode, b.ItemID)
		}
	}
	for _, staged := range t.barcodes {
		if staged.ItemID == b.ItemID && staged.Barcode == b.Barcode {
			return ItemBarcode{}, fmt.Errorf("%w: barcode %s already on item %d", ErrDuplicate, b.Barcode, b.ItemID)
		}
	}
	b.ID = s.nextID()
	b.CreatedAt = time.Now().UTC()
	t.barcodes = append(t.barcodes, b)
	return b, nil
}

func (t *MemoryTx) DeleteBarcode(_ context.Context, itemID int64, code string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.barcodes {
		if existing.ItemID == itemID && existing.Barcode == code {
			t.deletedBarcodes[id] = struct{}{}
			return nil
		}
	}
	return ErrItemNotFound
}

func (t *MemoryTx) UpsertSupplierItem(_ context.Context, si SupplierItem) error {
	t.suppliers = append(t.suppliers, si)
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (m *MemoryStore) GetItemBySKU(_ context.Context, sku string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.SKU == sku {
			return it, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (m *MemoryStore) FindBarcodeMatches(_ context.Context, code string) ([]BarcodeMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BarcodeMatch
	for _, b := range m.barcodes {
		if b.Barcode != code {
			continue
		}
		out = append(out, BarcodeMatch{Barcode: b, Item: m.items[b.ItemID]})
	}
	return out, nil
}

func (m *MemoryStore) ListBarcodes(_ context.Context, itemID int64) ([]ItemBarcode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ItemBarcode
	for _, b := range m.barcodes {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListPriceHistory(_ context.Context, itemID int64) ([]PriceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PriceHistory
	for _, p := range m.prices {
		if p.ItemID == itemID {
			out = append(out, p)
		}
	}
	return out, nil
}

// CostHistory returns cost rows for an item, oldest first.
func (m *MemoryStore) CostHistory(itemID int64) []CostHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CostHistory
	for _, c := range m.costs {
		if c.ItemID == itemID {
			out = append(out, c)
		}
	}
	return out
}

// ScanEvents returns every logged scan, oldest first.
func (m *MemoryStore) ScanEvents() []ScanEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ScanEvent(nil), m.scans...)
}

func (m *MemoryStore) GetBalance(_ context.Context, id int64) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (m *MemoryStore) FindBalance(_ context.Context, shopID, itemID int64) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.balanceIdx[balanceKey{shopID, itemID}]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return m.balances[id], nil
}

func (m *MemoryStore) ListBalances(_ context.Context, filter BalanceFilter) ([]BalanceView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(filter.Search)
	var out []BalanceView
	for _, b := range m.balances {
		if filter.ShopID != 0 && b.ShopID != filter.ShopID {
			continue
		}
		if filter.LowStockOnly && !b.IsLowStock() {
			continue
		}
		it := m.items[b.ItemID]
		if search != "" && !strings.Contains(strings.ToLower(it.SKU), search) && !strings.Contains(strings.ToLower(it.Name), search) {
			continue
		}
		out = append(out, BalanceView{Balance: b, SKU: it.SKU, Name: it.Name, LowStock: b.IsLowStock()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShopID != out[j].ShopID {
			return out[i].ShopID < out[j].ShopID
		}
		return out[i].SKU < out[j].SKU
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Movement
	for _, mv := range m.movements {
		if filter.BalanceID != 0 && mv.BalanceID != filter.BalanceID {
			continue
		}
		if filter.ShopID != 0 && mv.ShopID != filter.ShopID {
			continue
		}
		if filter.ItemID != 0 && mv.ItemID != filter.ItemID {
			continue
		}
		if filter.Type != "" && mv.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && mv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && mv.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ReorderCandidates(_ context.Context, shopID int64) ([]ReorderCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReorderCandidate
	for _, b := range m.balances {
		if b.ShopID != shopID || !b.NeedsReorder() {
			continue
		}
		it, ok := m.items[b.ItemID]
		if !ok || !it.IsActive || !it.TrackQuantity {
			continue
		}
		c := ReorderCandidate{Balance: b, SKU: it.SKU, Name: it.Name, PurchasePrice: it.PurchasePrice, MinOrderQty: 1}
		if si, ok := m.preferredSupplier(it); ok {
			c.SupplierID = si.SupplierID
			c.SupplierPrice = decimal.NewNullDecimal(si.SupplierPrice)
			// Rounding follows the preferred supplier's MOQ only.
			if si.IsPreferred && si.MinOrderQty > 0 {
				c.MinOrderQty = si.MinOrderQty
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) preferredSupplier(it Item) (SupplierItem, bool) {
	var rows []SupplierItem
	for k, si := range m.suppliers {
		if k.itemID == it.ID {
			rows = append(rows, si)
		}
	}
	if len(rows) == 0 {
		return SupplierItem{}, false
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].IsPreferred != rows[j].IsPreferred {
			return rows[i].IsPreferred
		}
		pi, pj := rows[i].SupplierID == it.PrimarySupplierID, rows[j].SupplierID == it.PrimarySupplierID
		if pi != pj {
			return pi
		}
		return rows[i].SupplierID < rows[j].SupplierID
	})
	return rows[0], true
}

func (m *MemoryStore) MovementSummary(_ context.Context, filter TurnoverFilter) ([]TurnoverRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make(map[int64]*TurnoverRow)
	for _, mv := range m.movements {
		if filter.ShopID != 0 && mv.ShopID != filter.ShopID {
			continue
		}
		if mv.CreatedAt.Before(filter.Since) {
			continue
		}
		row, ok := rows[mv.ItemID]
		if !ok {
			it := m.items[mv.ItemID]
			row = &TurnoverRow{ItemID: it.ID, SKU: it.SKU, Name: it.Name}
			rows[mv.ItemID] = row
		}
		row.MovementsCount++
		switch mv.Type {
		case MovementReceipt:
			row.Received += mv.QuantityChange
		case MovementShipment:
			row.Shipped -= mv.QuantityChange
		}
	}
	out := make([]TurnoverRow, 0, len(rows))
	for _, row := range rows {
		row.Net = row.Received - row.Shipped
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MovementsCount != out[j].MovementsCount {
			return out[i].MovementsCount > out[j].MovementsCount
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (m *MemoryStore) InsertScanEvent(_ context.Context, evt ScanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt.ID = m.nextID()
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	m.scans = append(m.scans, evt)
	return nil
}
