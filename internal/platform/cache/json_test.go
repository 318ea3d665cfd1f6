package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ItemID int64  `json:"item_id"`
	Name   string `json:"name"`
}

func TestJSONStoreRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewJSONStore(client, "barcode", time.Minute)
	ctx := context.Background()

	var got payload
	hit, err := store.Get(ctx, "4601234567890", &got)
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, store.Set(ctx, "4601234567890", payload{ItemID: 7, Name: "Display"}))
	require.True(t, mr.Exists("barcode:4601234567890"))

	hit, err = store.Get(ctx, "4601234567890", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, int64(7), got.ItemID)

	mr.FastForward(2 * time.Minute)
	hit, err = store.Get(ctx, "4601234567890", &got)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestJSONStoreDeleteAndNilClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewJSONStore(client, "reorder", time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "1", []int{1, 2}))
	require.NoError(t, store.Delete(ctx, "1"))
	require.False(t, mr.Exists("reorder:1"))

	var empty *JSONStore
	hit, err := empty.Get(ctx, "x", &payload{})
	require.NoError(t, err)
	require.False(t, hit)
	require.NoError(t, NewJSONStore(nil, "p", time.Minute).Set(ctx, "x", 1))
}
