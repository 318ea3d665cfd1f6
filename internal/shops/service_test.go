package shops

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateNormalisesCode(t *testing.T) {
	dir := NewDirectory(NewMemoryRepository())
	ctx := context.Background()

	shop, err := dir.Create(ctx, Shop{Code: " msk1 ", Name: "Moscow"})
	require.NoError(t, err)
	require.Equal(t, "MSK1", shop.Code)
	require.True(t, shop.IsActive)

	_, err = dir.Create(ctx, Shop{Code: "MSK1", Name: "Again"})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = dir.Create(ctx, Shop{Code: "MSK-2", Name: "Dash"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestNextNumberIsSequentialPerShop(t *testing.T) {
	repo := NewMemoryRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()
	a, err := dir.Create(ctx, Shop{Code: "A1", Name: "A"})
	require.NoError(t, err)
	b, err := dir.Create(ctx, Shop{Code: "B1", Name: "B"})
	require.NoError(t, err)

	n, err := dir.NextNumber(ctx, a.ID, SequenceSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-A1-000001", n)
	n, err = dir.NextNumber(ctx, a.ID, SequenceSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-A1-000002", n)
	n, err = dir.NextNumber(ctx, b.ID, SequenceSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-B1-000001", n)
	n, err = dir.NextNumber(ctx, a.ID, SequencePurchaseOrder)
	require.NoError(t, err)
	require.Equal(t, "PO-A1-000001", n)
}

func TestNextNumberConcurrentUnique(t *testing.T) {
	dir := NewDirectory(NewMemoryRepository())
	ctx := context.Background()
	shop, err := dir.Create(ctx, Shop{Code: "C1", Name: "C"})
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := dir.NextNumber(ctx, shop.ID, SequenceSale)
			if err == nil {
				numbers <- n
			}
		}()
	}
	wg.Wait()
	close(numbers)
	seen := map[string]bool{}
	for n := range numbers {
		require.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
	require.Len(t, seen, workers)
}

func TestRequireActiveAndSettingsDefaults(t *testing.T) {
	repo := NewMemoryRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()
	shop, err := dir.Create(ctx, Shop{Code: "D1", Name: "D"})
	require.NoError(t, err)

	settings, err := dir.Settings(ctx, shop.ID)
	require.NoError(t, err)
	require.False(t, settings.POSBarcodeEnabled)

	require.NoError(t, dir.SaveSettings(ctx, Settings{ShopID: shop.ID, POSBarcodeEnabled: true}))
	settings, err = dir.Settings(ctx, shop.ID)
	require.NoError(t, err)
	require.True(t, settings.POSBarcodeEnabled)

	repo.SetActive(shop.ID, false)
	_, err = dir.RequireActive(ctx, shop.ID)
	require.ErrorIs(t, err, ErrInactive)
	_, err = dir.RequireActive(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}
