package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userQuery = `SELECT u.id, u.username, u.email, u.password_hash, u.role, u.permissions, u.is_superuser, u.is_active,
	u.created_at, COALESCE(array_agg(us.shop_id) FILTER (WHERE us.shop_id IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_shops us ON us.user_id = u.id
WHERE %s
GROUP BY u.id`

func (r *PGRepository) findOne(ctx context.Context, where string, arg any) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, fmt.Sprintf(userQuery, where), arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Permissions, &u.IsSuperuser, &u.IsActive,
		&u.CreatedAt, &u.ShopIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// FindByUsername fetches a user by login name.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, "u.username = $1", username)
}

// GetByID fetches a user by id.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (User, error) {
	return r.findOne(ctx, "u.id = $1", id)
}

var _ Repository = (*PGRepository)(nil)

// MemoryRepository keeps users in process for tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[int64]User
	seq   int64
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[int64]User)}
}

// Add stores a user and assigns its id.
func (m *MemoryRepository) Add(u User) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	u.ID = m.seq
	m.users[u.ID] = u
	return u
}

// SetActive toggles a user account.
func (m *MemoryRepository) SetActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsActive = active
		m.users[id] = u
	}
}

func (m *MemoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *MemoryRepository) GetByID(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

var _ Repository = (*MemoryRepository)(nil)
