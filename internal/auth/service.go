package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

// Config holds token settings.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	roles  *rbac.Service
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, roles *rbac.Service, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 8 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "repaircrm"
	}
	return &Service{
		repo:   repo,
		roles:  roles,
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword returns the bcrypt hash stored in users.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type claims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return Token{}, err
	}
	return s.IssueToken(user)
}

// IssueToken signs an HS256 token for the user.
func (s *Service) IssueToken(user User) (Token, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	c := claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: user.Role,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// Verify parses the token and resolves the current actor. The user row is
// reloaded so deactivation and shop changes apply before the token expires.
func (s *Service) Verify(ctx context.Context, token string) (shared.Actor, error) {
	c := &claims{}
	parsed, err := jwtlib.ParseWithClaims(token, c, func(*jwtlib.Token) (any, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(s.issuer), jwtlib.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return shared.Actor{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return shared.Actor{}, ErrInvalidToken
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return shared.Actor{}, ErrInvalidToken
		}
		return shared.Actor{}, err
	}
	if !user.IsActive {
		return shared.Actor{}, ErrInvalidToken
	}
	actor := shared.Actor{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: append([]string(nil), user.Permissions...),
		ShopIDs:     append([]int64(nil), user.ShopIDs...),
		Superuser:   user.IsSuperuser,
	}
	if s.roles != nil {
		actor = s.roles.Expand(actor)
	}
	return actor, nil
}
