package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates a request without a valid actor.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrShopForbidden occurs when the actor may not operate on the shop.
	ErrShopForbidden = errors.New("shop not available for actor")
)
