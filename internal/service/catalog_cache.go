package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"manulmonday/economy/internal/metrics"
	"manulmonday/economy/internal/model"
)

type catalogSnapshot struct {
	items   []model.Item
	manuls  []model.Manul
	quizzes []model.Quiz

	itemIndex  map[string]int
	manulIndex map[string]int
	quizIndex  map[string]int

	expiry time.Time
}

// CatalogCache serves catalog and quiz reads from a snapshot refreshed every
// ttl. Catalog content changes rarely, so readers tolerate staleness up to ttl.
// Ids missing from the snapshot are looked up in the backing store.
//
// A refill runs once for all concurrent readers, bounded by timeout. Each
// reader waits for it only as long as its own context allows.
type CatalogCache struct {
	catalog Catalog
	quizzes Quizzes
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu         sync.RWMutex
	snapshot   *catalogSnapshot
	generation uint64

	fill singleflight.Group
}

const snapshotKey = "snapshot"

func NewCatalogCache(catalog Catalog, quizzes Quizzes, ttl, timeout time.Duration) *CatalogCache {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &CatalogCache{
		catalog: catalog,
		quizzes: quizzes,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
	}
}

// Invalidate drops the snapshot so the next read reloads it. A refill already
// in flight is not installed.
func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.generation++
	c.mu.Unlock()
	c.fill.Forget(snapshotKey)
}

// fresh returns the snapshot if it has not expired, plus the current generation.
func (c *CatalogCache) fresh() (*catalogSnapshot, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot != nil && c.now().Before(c.snapshot.expiry) {
		return c.snapshot, c.generation
	}
	return nil, c.generation
}

func (c *CatalogCache) load(ctx context.Context) (*catalogSnapshot, error) {
	if snap, _ := c.fresh(); snap != nil {
		metrics.RecordCacheLookup(true)
		return snap, nil
	}

	ch := c.fill.DoChan(snapshotKey, func() (any, error) {
		// Double check logic
		snap, generation := c.fresh()
		if snap != nil {
			metrics.RecordCacheLookup(true)
			return snap, nil
		}
		metrics.RecordCacheLookup(false)

		// The fill outlives any single reader and must not run in a reader's transaction.
		fillCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		snap, err := c.fetch(fillCtx)
		if err != nil {
			return nil, storeError(err)
		}

		c.mu.Lock()
		if c.generation == generation {
			c.snapshot = snap
		}
		c.mu.Unlock()
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*catalogSnapshot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for catalog snapshot: %w", model.ErrTransientStore, ctx.Err())
	}
}

func (c *CatalogCache) fetch(ctx context.Context) (*catalogSnapshot, error) {
	g, gctx := errgroup.WithContext(ctx)
	fresh := &catalogSnapshot{}

	g.Go(func() error {
		var err error
		if fresh.items, err = c.catalog.ListItems(gctx); err != nil {
			return fmt.Errorf("failed to load items: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if fresh.manuls, err = c.catalog.ListManuls(gctx); err != nil {
			return fmt.Errorf("failed to load manuls: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if fresh.quizzes, err = c.quizzes.ListQuizzes(gctx); err != nil {
			return fmt.Errorf("failed to load quizzes: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fresh.itemIndex = make(map[string]int, len(fresh.items))
	for i, it := range fresh.items {
		fresh.itemIndex[it.ID] = i
	}
	fresh.manulIndex = make(map[string]int, len(fresh.manuls))
	for i, m := range fresh.manuls {
		fresh.manulIndex[m.ID] = i
	}
	fresh.quizIndex = make(map[string]int, len(fresh.quizzes))
	for i, q := range fresh.quizzes {
		fresh.quizIndex[q.ID] = i
	}
	fresh.expiry = c.now().Add(c.ttl)
	return fresh, nil
}

func (c *CatalogCache) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if i, ok := snap.itemIndex[itemID]; ok {
		it := snap.items[i]
		return &it, nil
	}
	return c.catalog.GetItem(ctx, itemID)
}

func (c *CatalogCache) ListItems(ctx context.Context) ([]model.Item, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.items), nil
}

func (c *CatalogCache) GetManul(ctx context.Context, manulID string) (*model.Manul, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if i, ok := snap.manulIndex[manulID]; ok {
		m := snap.manuls[i]
		m.AppliedItemIDs = slices.Clone(m.AppliedItemIDs)
		return &m, nil
	}
	return c.catalog.GetManul(ctx, manulID)
}

func (c *CatalogCache) ListManuls(ctx context.Context) ([]model.Manul, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.manuls), nil
}

func (c *CatalogCache) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if i, ok := snap.quizIndex[quizID]; ok {
		q := snap.quizzes[i]
		return &q, nil
	}
	return c.quizzes.GetQuiz(ctx, quizID)
}

func (c *CatalogCache) ListQuizzes(ctx context.Context) ([]model.Quiz, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.quizzes), nil
}
