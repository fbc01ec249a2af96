package service

import (
	"context"
	"fmt"
	"time"

	"manulmonday/economy/internal/model"
)

// CatalogService answers read-only catalog and quiz schedule queries. Each
// read is bounded by timeout.
type CatalogService struct {
	catalog Catalog
	quizzes Quizzes
	timeout time.Duration
	now     func() time.Time
}

func NewCatalogService(catalog Catalog, quizzes Quizzes, timeout time.Duration, now func() time.Time) *CatalogService {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &CatalogService{catalog: catalog, quizzes: quizzes, timeout: timeout, now: now}
}

// ListCatalog returns all items, or only items of itemType when it is set.
func (s *CatalogService) ListCatalog(ctx context.Context, itemType model.ItemType) ([]model.Item, error) {
	if itemType != "" && !itemType.Valid() {
		return nil, fmt.Errorf("%w: unknown item type %q", model.ErrValidation, itemType)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	items, err := s.catalog.ListItems(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	if itemType == "" {
		return items, nil
	}
	filtered := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.Type == itemType {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}

func (s *CatalogService) ListManuls(ctx context.Context) ([]model.Manul, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	manuls, err := s.catalog.ListManuls(ctx)
	return manuls, storeError(err)
}

// CurrentQuiz returns the live quiz, or nil when none is scheduled right now.
func (s *CatalogService) CurrentQuiz(ctx context.Context) (*model.Quiz, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	quizzes, err := s.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return model.SelectCurrent(quizzes, s.now()), nil
}

func (s *CatalogService) UpcomingQuizzes(ctx context.Context, limit int) ([]model.Quiz, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	quizzes, err := s.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return model.SelectUpcoming(quizzes, s.now(), limit), nil
}

func (s *CatalogService) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	return quiz, storeError(err)
}
