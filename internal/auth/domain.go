package auth

import (
	"errors"
	"time"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Permissions  []string
	ShopIDs      []int64
	IsSuperuser  bool
	IsActive     bool
	CreatedAt    time.Time
}

// Token is an issued bearer token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var (
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken indicates a malformed, expired or revoked token.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("auth: user not found")
)
