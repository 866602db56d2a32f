package assets

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/rwaexchange/internal/models"
)

type countingSource struct {
	assets map[int64]models.Asset
	calls  int
}

func (s *countingSource) GetAsset(ctx context.Context, id int64) (*models.Asset, error) {
	s.calls++
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %d: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func newSource() *countingSource {
	return &countingSource{assets: map[int64]models.Asset{
		1: {ID: 1, Symbol: "TBILL-3M", Chain: "ethereum", Status: models.AssetActive, VaultAddress: "0xabc"},
		2: {ID: 2, Symbol: "REIT-7", Chain: "polygon", Status: models.AssetHalted},
	}}
}

func TestRegistry_ReadsThroughCache(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := newSource()
	r := NewRegistry(src, NewMemoryCache(time.Minute), logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, err := r.Asset(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "TBILL-3M", a.Symbol)
		assert.Equal(t, "0xabc", a.VaultAddress)
	}
	assert.Equal(t, 1, src.calls)

	ok, err := r.IsTradable(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsTradable(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Asset(ctx, 9)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegistry_InvalidateSeesStatusChange(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := newSource()
	r := NewRegistry(src, NewMemoryCache(time.Hour), logger)
	ctx := context.Background()

	ok, err := r.IsTradable(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	halted := src.assets[1]
	halted.Status = models.AssetHalted
	src.assets[1] = halted

	ok, err = r.IsTradable(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok, "cached until invalidated")

	require.NoError(t, r.Invalidate(ctx, 1))
	ok, err = r.IsTradable(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, models.Asset{ID: 5, Symbol: "GOLD"}))
	a, ok, err := c.Get(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "GOLD", a.Symbol)

	now = now.Add(time.Second)
	_, ok, err = c.Get(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_RedisUnavailableFallsBackToSource(t *testing.T) {
	logger, hook := test.NewNullLogger()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	src := newSource()
	r := NewRegistry(src, NewRedisCache(client, time.Minute), logger)

	a, err := r.Asset(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "TBILL-3M", a.Symbol)
	assert.Equal(t, 1, src.calls)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "asset:42", redisKey(42))
}
