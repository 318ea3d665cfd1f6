package shops

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Repository persists shops, settings and number sequences.
type Repository interface {
	Get(ctx context.Context, id int64) (Shop, error)
	ListActive(ctx context.Context) ([]Shop, error)
	Create(ctx context.Context, shop Shop) (Shop, error)
	Settings(ctx context.Context, shopID int64) (Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
	// NextValue atomically increments and returns the named counter.
	NextValue(ctx context.Context, shopID int64, name string) (int64, error)
}

// Directory answers shop lookups for the stock and sale services.
type Directory struct {
	repo  Repository
	upper cases.Caser
}

// NewDirectory constructs Directory.
func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo, upper: cases.Upper(language.Und)}
}

// Get returns the shop.
func (d *Directory) Get(ctx context.Context, id int64) (Shop, error) {
	if id <= 0 {
		return Shop{}, ErrNotFound
	}
	return d.repo.Get(ctx, id)
}

// RequireActive returns the shop or ErrInactive when it is switched off.
func (d *Directory) RequireActive(ctx context.Context, id int64) (Shop, error) {
	shop, err := d.Get(ctx, id)
	if err != nil {
		return Shop{}, err
	}
	if !shop.IsActive {
		return Shop{}, ErrInactive
	}
	return shop, nil
}

// ListActive lists active shops ordered by id.
func (d *Directory) ListActive(ctx context.Context) ([]Shop, error) {
	return d.repo.ListActive(ctx)
}

// Create validates and inserts a shop with default settings.
func (d *Directory) Create(ctx context.Context, shop Shop) (Shop, error) {
	shop.Code = d.upper.String(strings.TrimSpace(shop.Code))
	shop.Name = strings.TrimSpace(shop.Name)
	if !codePattern.MatchString(shop.Code) {
		return Shop{}, fmt.Errorf("%w: code must match [A-Z0-9]+", ErrValidation)
	}
	if shop.Name == "" {
		return Shop{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	shop.IsActive = true
	return d.repo.Create(ctx, shop)
}

// Settings returns the shop settings, defaults when none were saved.
func (d *Directory) Settings(ctx context.Context, shopID int64) (Settings, error) {
	return d.repo.Settings(ctx, shopID)
}

// SaveSettings stores settings for an existing shop.
func (d *Directory) SaveSettings(ctx context.Context, settings Settings) error {
	if _, err := d.Get(ctx, settings.ShopID); err != nil {
		return err
	}
	settings.OrderNumberPrefix = strings.TrimSpace(settings.OrderNumberPrefix)
	return d.repo.SaveSettings(ctx, settings)
}

// NextNumber allocates the next document number PREFIX-SHOPCODE-000001.
func (d *Directory) NextNumber(ctx context.Context, shopID int64, prefix string) (string, error) {
	shop, err := d.Get(ctx, shopID)
	if err != nil {
		return "", err
	}
	n, err := d.repo.NextValue(ctx, shopID, prefix)
	if err != nil {
		return "", fmt.Errorf("shops: next %s number: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%06d", prefix, shop.Code, n), nil
}
