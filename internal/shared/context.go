package shared

import (
	"context"
	"slices"
	"strings"
)

// Actor is the authenticated caller resolved by the auth layer.
type Actor struct {
	UserID      int64
	Username    string
	Role        string
	Permissions []string
	ShopIDs     []int64
	Superuser   bool
	Director    bool
}

// HasPermission reports whether the actor holds the permission code.
func (a Actor) HasPermission(code string) bool {
	if a.Superuser {
		return true
	}
	code = strings.ToLower(strings.TrimSpace(code))
	for _, p := range a.Permissions {
		if strings.ToLower(p) == code {
			return true
		}
	}
	return false
}

// CanAccessShop reports whether shopID is within the actor's available
// shops. Superusers and directors see every shop.
func (a Actor) CanAccessShop(shopID int64) bool {
	if a.Superuser || a.Director {
		return true
	}
	return slices.Contains(a.ShopIDs, shopID)
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
