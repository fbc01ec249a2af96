package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"manulmonday/economy/internal/model"
)

// MemoryStore keeps the ledger, catalog and quizzes in process memory. It
// gives the same guarantees as PostgresStore: RunAtomic serializes per user
// and discards every staged write when fn fails.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	receipts []model.Receipt
	items    map[string]model.Item
	manuls   map[string]model.Manul
	quizzes  map[string]model.Quiz

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.User),
		items:   make(map[string]model.Item),
		manuls:  make(map[string]model.Manul),
		quizzes: make(map[string]model.Quiz),
		locks:   make(map[string]chan struct{}),
	}
}

type memTx struct {
	users    map[string]*model.User
	receipts []model.Receipt
}

type memTxKey struct{}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *MemoryStore) userLock(userID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[userID] = l
	}
	return l
}

// RunAtomic waits for the user's lock until ctx is done, then runs fn against
// staged copies and commits them only if fn succeeds.
func (s *MemoryStore) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	lock := s.userLock(userID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for ledger lock of user %s: %w", model.ErrTransientStore, userID, ctx.Err())
	}
	defer func() { <-lock }()

	tx := &memTx{users: make(map[string]*model.User)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrTransientStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range tx.users {
		s.users[id] = u
	}
	s.receipts = append(s.receipts, tx.receipts...)
	return nil
}

func (s *MemoryStore) lookupUser(ctx context.Context, userID string) (*model.User, error) {
	if tx := txFrom(ctx); tx != nil {
		if u, ok := tx.users[userID]; ok {
			return u.Clone(), nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	return u.Clone(), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.lookupUser(ctx, userID)
}

// GetUserForUpdate behaves like GetUser; the lock is already held by RunAtomic.
func (s *MemoryStore) GetUserForUpdate(ctx context.Context, userID string) (*model.User, error) {
	return s.lookupUser(ctx, userID)
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	if _, err := s.lookupUser(ctx, u.ID); err == nil {
		return fmt.Errorf("%w: user %s", model.ErrAlreadyExists, u.ID)
	}
	if tx := txFrom(ctx); tx != nil {
		tx.users[u.ID] = u.Clone()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *MemoryStore) SaveUser(ctx context.Context, u *model.User) error {
	if _, err := s.lookupUser(ctx, u.ID); err != nil {
		return err
	}
	if tx := txFrom(ctx); tx != nil {
		tx.users[u.ID] = u.Clone()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *MemoryStore) CreateReceipt(ctx context.Context, rc *model.Receipt) error {
	if !rc.Kind.Valid() {
		return fmt.Errorf("%w: unknown receipt kind %q", model.ErrValidation, rc.Kind)
	}
	if rc.IdempotencyKey != "" {
		if _, err := s.FindReceiptByKey(ctx, rc.UserID, rc.IdempotencyKey); err == nil {
			return fmt.Errorf("%w: key %s", model.ErrIdempotencyConflict, rc.IdempotencyKey)
		}
	}
	if tx := txFrom(ctx); tx != nil {
		tx.receipts = append(tx.receipts, *rc)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, *rc)
	return nil
}

func (s *MemoryStore) FindReceiptByKey(ctx context.Context, userID, key string) (*model.Receipt, error) {
	match := func(rc model.Receipt) bool {
		return rc.UserID == userID && rc.IdempotencyKey == key
	}
	if tx := txFrom(ctx); tx != nil {
		if i := slices.IndexFunc(tx.receipts, match); i >= 0 {
			rc := tx.receipts[i]
			return &rc, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := slices.IndexFunc(s.receipts, match); i >= 0 {
		rc := s.receipts[i]
		return &rc, nil
	}
	return nil, fmt.Errorf("%w: receipt with key %s", model.ErrNotFound, key)
}

func (s *MemoryStore) ListReceipts(ctx context.Context, userID string, kind model.ReceiptKind, limit int) ([]model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipts := []model.Receipt{}
	for i := len(s.receipts) - 1; i >= 0; i-- {
		rc := s.receipts[i]
		if rc.UserID != userID || (kind != "" && rc.Kind != kind) {
			continue
		}
		receipts = append(receipts, rc)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	if limit > 0 && len(receipts) > limit {
		receipts = receipts[:limit]
	}
	return receipts, nil
}

func (s *MemoryStore) GetItem(_ context.Context, itemID string) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", model.ErrNotFound, itemID)
	}
	return &it, nil
}

func (s *MemoryStore) ListItems(_ context.Context) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]model.Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) GetManul(_ context.Context, manulID string) (*model.Manul, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manuls[manulID]
	if !ok {
		return nil, fmt.Errorf("%w: manul %s", model.ErrNotFound, manulID)
	}
	m.AppliedItemIDs = slices.Clone(m.AppliedItemIDs)
	return &m, nil
}

func (s *MemoryStore) ListManuls(_ context.Context) ([]model.Manul, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	manuls := make([]model.Manul, 0, len(s.manuls))
	for _, m := range s.manuls {
		m.AppliedItemIDs = slices.Clone(m.AppliedItemIDs)
		manuls = append(manuls, m)
	}
	sort.Slice(manuls, func(i, j int) bool { return manuls[i].ID < manuls[j].ID })
	return manuls, nil
}

func (s *MemoryStore) GetQuiz(_ context.Context, quizID string) (*model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[quizID]
	if !ok {
		return nil, fmt.Errorf("%w: quiz %s", model.ErrNotFound, quizID)
	}
	return &q, nil
}

func (s *MemoryStore) ListQuizzes(_ context.Context) ([]model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quizzes := make([]model.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		quizzes = append(quizzes, q)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ReleaseDate.Before(quizzes[j].ReleaseDate) })
	return quizzes, nil
}

// PublishItems adds items that are not published yet. Published items never change.
func (s *MemoryStore) PublishItems(_ context.Context, items []model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if _, ok := s.items[it.ID]; ok {
			continue
		}
		s.items[it.ID] = it
	}
	return nil
}

func (s *MemoryStore) PublishManuls(_ context.Context, manuls []model.Manul) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range manuls {
		if _, ok := s.manuls[m.ID]; ok {
			continue
		}
		m.AppliedItemIDs = slices.Clone(m.AppliedItemIDs)
		s.manuls[m.ID] = m
	}
	return nil
}

func (s *MemoryStore) UpsertQuizzes(_ context.Context, quizzes []model.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quizzes {
		s.quizzes[q.ID] = q
	}
	return nil
}
