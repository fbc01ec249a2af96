package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manulmonday/economy/internal/model"
	"manulmonday/economy/internal/repository"
)

type countingCatalog struct {
	*repository.MemoryStore
	itemLoads atomic.Int32
	fail      error
	// stall, when set, holds ListItems until it is closed or ctx ends.
	stall chan struct{}
}

func (c *countingCatalog) ListItems(ctx context.Context) ([]model.Item, error) {
	c.itemLoads.Add(1)
	if c.stall != nil {
		select {
		case <-c.stall:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.fail != nil {
		return nil, c.fail
	}
	return c.MemoryStore.ListItems(ctx)
}

func stalled(t *testing.T, backing *countingCatalog) {
	t.Helper()
	backing.stall = make(chan struct{})
	t.Cleanup(func() { close(backing.stall) })
}

func newCountingCatalog(t *testing.T) *countingCatalog {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.PublishItems(context.Background(), []model.Item{
		{ID: "hat", Type: model.ItemAccessory, Cost: 5},
	}))
	require.NoError(t, store.PublishManuls(context.Background(), []model.Manul{
		{ID: model.StarterManulID, Type: model.ManulStandard},
	}))
	return &countingCatalog{MemoryStore: store}
}

func TestCatalogCache_ServesFromSnapshot(t *testing.T) {
	backing := newCountingCatalog(t)
	cache := NewCatalogCache(backing, backing, time.Minute, time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := cache.GetItem(ctx, "hat")
			assert.NoError(t, err)
			assert.Equal(t, int64(5), it.Cost)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backing.itemLoads.Load())
}

func TestCatalogCache_ExpiresAfterTTL(t *testing.T) {
	backing := newCountingCatalog(t)
	cache := NewCatalogCache(backing, backing, time.Minute, time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cache.ListItems(ctx)
	require.NoError(t, err)
	require.NoError(t, backing.PublishItems(ctx, []model.Item{{ID: "scarf", Type: model.ItemAccessory, Cost: 9}}))

	items, err := cache.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1, "stale within ttl")

	now = now.Add(time.Minute)
	items, err = cache.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int32(2), backing.itemLoads.Load())
}

func TestCatalogCache_InvalidateAndFallThrough(t *testing.T) {
	backing := newCountingCatalog(t)
	cache := NewCatalogCache(backing, backing, time.Hour, time.Second)
	ctx := context.Background()

	_, err := cache.GetManul(ctx, model.StarterManulID)
	require.NoError(t, err)

	require.NoError(t, backing.PublishItems(ctx, []model.Item{{ID: "scarf", Type: model.ItemAccessory, Cost: 3}}))
	it, err := cache.GetItem(ctx, "scarf")
	require.NoError(t, err)
	assert.Equal(t, "scarf", it.ID)

	_, err = cache.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	cache.Invalidate()
	items, err := cache.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int32(2), backing.itemLoads.Load())
}

func TestCatalogCache_LoadError(t *testing.T) {
	backing := newCountingCatalog(t)
	backing.fail = errors.New("connection refused")
	cache := NewCatalogCache(backing, backing, time.Hour, time.Second)

	_, err := cache.ListItems(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load items")

	backing.fail = nil
	items, err := cache.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCatalogCache_ReloadBoundedByTimeout(t *testing.T) {
	backing := newCountingCatalog(t)
	stalled(t, backing)
	cache := NewCatalogCache(backing, backing, time.Hour, 50*time.Millisecond)

	start := time.Now()
	_, err := cache.ListItems(context.Background())
	assert.ErrorIs(t, err, model.ErrTransientStore)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCatalogCache_ReaderStopsWaitingWithItsContext(t *testing.T) {
	backing := newCountingCatalog(t)
	stalled(t, backing)
	cache := NewCatalogCache(backing, backing, time.Hour, 5*time.Second)

	go func() { _, _ = cache.ListItems(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := cache.GetItem(ctx, "hat")
	assert.ErrorIs(t, err, model.ErrTransientStore)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCatalogCache_SlowReloadDoesNotHoldPurchases(t *testing.T) {
	backing := newCountingCatalog(t)
	stalled(t, backing)
	cache := NewCatalogCache(backing, backing, time.Hour, 5*time.Second)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := model.NewUser("alice", "alice@example.com", "alice", now)
	u.Currency = 100
	require.NoError(t, backing.CreateUser(context.Background(), u))

	economy := NewEconomyService(backing.MemoryStore, cache, cache, Options{
		StoreTimeout:         200 * time.Millisecond,
		MaxAttempts:          1,
		RetryInitialInterval: time.Millisecond,
		Now:                  func() time.Time { return now },
	}, nil)

	go func() { _, _ = cache.ListItems(context.Background()) }()

	start := time.Now()
	_, err := economy.PurchaseItem(context.Background(), "alice", "hat", "")
	assert.ErrorIs(t, err, model.ErrTransientStore)
	assert.Less(t, time.Since(start), 2*time.Second)

	// the ledger lock was released with the attempt
	got, err := backing.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Currency)
}

func TestCatalogCache_InvalidateDiscardsInflightReload(t *testing.T) {
	backing := newCountingCatalog(t)
	backing.stall = make(chan struct{})
	cache := NewCatalogCache(backing, backing, time.Hour, 5*time.Second)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.ListItems(ctx)
	}()
	require.Eventually(t, func() bool { return backing.itemLoads.Load() == 1 }, time.Second, time.Millisecond)

	cache.Invalidate()
	close(backing.stall)
	<-done

	_, err := cache.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), backing.itemLoads.Load())
}
