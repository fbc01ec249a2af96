package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manulmonday/economy/internal/metrics"
	"manulmonday/economy/internal/model"
	"manulmonday/economy/internal/service/content"
)

type BundleSource interface {
	FetchBundle(ctx context.Context) (*content.Bundle, error)
}

type SyncStats struct {
	Items   int
	Manuls  int
	Quizzes int
	Skipped int
}

// CatalogSyncer copies published content into the catalog store. Each store
// write is bounded by timeout.
type CatalogSyncer struct {
	source  BundleSource
	writer  CatalogWriter
	cache   *CatalogCache
	timeout time.Duration
	logger  *zap.Logger
}

func NewCatalogSyncer(source BundleSource, writer CatalogWriter, cache *CatalogCache, timeout time.Duration, logger *zap.Logger) *CatalogSyncer {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogSyncer{source: source, writer: writer, cache: cache, timeout: timeout, logger: logger}
}

// Sync fetches the bundle, drops entries that fail validation and writes the
// rest. Items and manuls already published keep their stored values.
func (s *CatalogSyncer) Sync(ctx context.Context) (stats SyncStats, err error) {
	defer func() { metrics.RecordSync(err) }()

	bundle, err := s.source.FetchBundle(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch content bundle: %w", err)
	}

	items := keepValid(bundle.Items, model.Item.Validate, &stats, s.logger)
	manuls := keepValid(bundle.Manuls, model.Manul.Validate, &stats, s.logger)
	quizzes := keepValid(bundle.Quizzes, model.Quiz.Validate, &stats, s.logger)

	writes := []func(context.Context) error{
		func(ctx context.Context) error { return s.writer.PublishItems(ctx, items) },
		func(ctx context.Context) error { return s.writer.PublishManuls(ctx, manuls) },
		func(ctx context.Context) error { return s.writer.UpsertQuizzes(ctx, quizzes) },
	}
	for _, write := range writes {
		if err := s.write(ctx, write); err != nil {
			return stats, err
		}
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}

	stats.Items, stats.Manuls, stats.Quizzes = len(items), len(manuls), len(quizzes)
	s.logger.Info("catalog synced",
		zap.Int("items", stats.Items), zap.Int("manuls", stats.Manuls),
		zap.Int("quizzes", stats.Quizzes), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (s *CatalogSyncer) write(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return storeError(fn(ctx))
}

// Run syncs immediately and then every interval until ctx is done.
func (s *CatalogSyncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("catalog sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func keepValid[T any](entries []T, validate func(T) error, stats *SyncStats, logger *zap.Logger) []T {
	valid := make([]T, 0, len(entries))
	for _, e := range entries {
		if err := validate(e); err != nil {
			stats.Skipped++
			logger.Warn("skipping invalid catalog entry", zap.Error(err))
			continue
		}
		valid = append(valid, e)
	}
	return valid
}
