package rbac

import (
	"errors"
	"sort"
	"strings"

	"github.com/miazigoo/RepireCRM/internal/shared"
)

// ErrNotFound indicates that the requested role does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service resolves role permissions.
type Service struct {
	roles map[string]Role
}

// NewService constructs a Service from a role catalog.
func NewService(roles []Role) *Service {
	m := make(map[string]Role, len(roles))
	for _, r := range roles {
		r.Permissions = normalizePermissions(r.Permissions)
		m[strings.ToLower(r.Code)] = r
	}
	return &Service{roles: m}
}

// ListRoles returns all roles ordered by code.
func (s *Service) ListRoles() []Role {
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// GetRole fetches a role by code.
func (s *Service) GetRole(code string) (Role, error) {
	r, ok := s.roles[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

// EffectivePermissions merges role permissions with those granted directly.
func (s *Service) EffectivePermissions(role string, direct []string) []string {
	perms := append([]string(nil), direct...)
	if r, err := s.GetRole(role); err == nil {
		perms = append(perms, r.Permissions...)
	}
	return normalizePermissions(perms)
}

// Expand returns the actor with its role permissions resolved. Directors get
// access to every shop.
func (s *Service) Expand(actor shared.Actor) shared.Actor {
	actor.Permissions = s.EffectivePermissions(actor.Role, actor.Permissions)
	if strings.EqualFold(actor.Role, RoleDirector) {
		actor.Director = true
	}
	return actor
}
