package shops

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu        sync.Mutex
	shops     map[int64]Shop
	settings  map[int64]Settings
	sequences map[string]int64
	nextID    int64
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		shops:     make(map[int64]Shop),
		settings:  make(map[int64]Settings),
		sequences: make(map[string]int64),
	}
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shops[id]
	if !ok {
		return Shop{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryRepository) ListActive(_ context.Context) ([]Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Shop, 0, len(m.shops))
	for _, s := range m.shops {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, shop Shop) (Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shops {
		if s.Code == shop.Code {
			return Shop{}, ErrDuplicate
		}
	}
	m.nextID++
	shop.ID = m.nextID
	shop.CreatedAt = time.Now().UTC()
	m.shops[shop.ID] = shop
	m.settings[shop.ID] = Settings{ShopID: shop.ID}
	return shop, nil
}

// SetActive toggles a shop; used by tests and the dev seed.
func (m *MemoryRepository) SetActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shops[id]; ok {
		s.IsActive = active
		m.shops[id] = s
	}
}

func (m *MemoryRepository) Settings(_ context.Context, shopID int64) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[shopID]; ok {
		return s, nil
	}
	return Settings{ShopID: shopID}, nil
}

func (m *MemoryRepository) SaveSettings(_ context.Context, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[settings.ShopID] = settings
	return nil
}

func (m *MemoryRepository) NextValue(_ context.Context, shopID int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shops[shopID]; !ok {
		return 0, ErrNotFound
	}
	key := name + ":" + itoa(shopID)
	m.sequences[key]++
	return m.sequences[key], nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
