package service_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manulmonday/economy/internal/model"
	"manulmonday/economy/internal/repository"
	"manulmonday/economy/internal/service"
)

var testNow = time.Date(2026, 10, 12, 12, 0, 0, 0, time.UTC)

func fourQuestionQuiz(id string, reward int64) model.Quiz {
	q := model.Quiz{
		ID: id, Title: "Pallas's cat basics",
		ReleaseDate: testNow.Add(-time.Hour), ExpirationDate: testNow.Add(24 * time.Hour),
		RewardCurrency: reward,
	}
	for _, qid := range []string{"a", "b", "c", "d"} {
		q.Questions = append(q.Questions, model.Question{
			ID: qid, Type: model.QuestionMultipleChoice, Options: []string{"yes", "no", "maybe"}, CorrectAnswerIndex: 1,
		})
	}
	return q
}

func newStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PublishItems(ctx, []model.Item{
		{ID: "hat", Name: "Hat", Type: model.ItemAccessory, Cost: 60},
		{ID: "scarf", Name: "Scarf", Type: model.ItemAccessory, Cost: 60},
		{ID: "ball", Name: "Ball", Type: model.ItemToy, Cost: 10},
		{ID: "yurt", Name: "Yurt", Type: model.ItemHabitat, Cost: 20, IsSubscriberOnly: true},
		{ID: "free", Name: "Pebble", Type: model.ItemHabitat, Cost: 0},
	}))
	require.NoError(t, store.PublishManuls(ctx, []model.Manul{
		{ID: model.StarterManulID, Type: model.ManulStandard},
		{ID: "snow-manul", Type: model.ManulSnow, UnlockCost: 40},
		{ID: "desert-manul", Type: model.ManulDesert, UnlockCost: 30},
		{ID: "rare-manul", Type: model.ManulRare, UnlockCost: 10, IsSubscriberOnly: true},
	}))
	require.NoError(t, store.UpsertQuizzes(ctx, []model.Quiz{fourQuestionQuiz("q1", 100), fourQuestionQuiz("q2", 7)}))
	return store
}

func newService(store service.Ledger, catalog *repository.MemoryStore) *service.EconomyService {
	return service.NewEconomyService(store, catalog, catalog, service.Options{
		StoreTimeout:         200 * time.Millisecond,
		MaxAttempts:          3,
		RetryInitialInterval: time.Millisecond,
		Now:                  func() time.Time { return testNow },
	}, nil)
}

func addUser(t *testing.T, store *repository.MemoryStore, id string, currency int64, subscriber bool) {
	t.Helper()
	u := model.NewUser(id, id+"@example.com", id, testNow)
	u.Currency = currency
	u.IsSubscriber = subscriber
	require.NoError(t, store.CreateUser(context.Background(), u))
}

func balance(t *testing.T, store *repository.MemoryStore, id string) int64 {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Currency
}

func TestPurchaseItem_Success(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 100, false)

	res, err := svc.PurchaseItem(context.Background(), "u1", "hat", "")
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.NewBalance)
	assert.Equal(t, []string{"hat"}, res.OwnedItemIDs)
	assert.Equal(t, model.ReceiptPurchase, res.Receipt.Kind)
	assert.Equal(t, int64(60), res.Receipt.Cost)
	assert.NotEmpty(t, res.Receipt.ID)

	assert.Equal(t, int64(40), balance(t, store, "u1"))
	receipts, err := store.ListReceipts(context.Background(), "u1", model.ReceiptPurchase, 10)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "hat", receipts[0].TargetID)
}

func TestPurchaseItem_PreconditionOrder(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	ctx := context.Background()

	_, err := svc.PurchaseItem(ctx, "ghost", "missing", "")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "item missing")

	_, err = svc.PurchaseItem(ctx, "ghost", "hat", "")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "user ghost")

	// owned and unaffordable: ownership is checked first
	addUser(t, store, "u1", 60, false)
	_, err = svc.PurchaseItem(ctx, "u1", "hat", "")
	require.NoError(t, err)
	_, err = svc.PurchaseItem(ctx, "u1", "hat", "")
	assert.ErrorIs(t, err, model.ErrAlreadyOwned)

	// unaffordable and subscriber-only: funds are checked first
	addUser(t, store, "poor", 5, false)
	_, err = svc.PurchaseItem(ctx, "poor", "yurt", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
}

func TestPurchaseItem_AlreadyOwnedLeavesBalance(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 100, false)
	ctx := context.Background()

	_, err := svc.PurchaseItem(ctx, "u1", "ball", "")
	require.NoError(t, err)
	before := balance(t, store, "u1")

	_, err = svc.PurchaseItem(ctx, "u1", "ball", "")
	assert.ErrorIs(t, err, model.ErrAlreadyOwned)
	assert.Equal(t, before, balance(t, store, "u1"))
}

func TestPurchaseItem_InsufficientFunds(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 59, false)

	_, err := svc.PurchaseItem(context.Background(), "u1", "hat", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Equal(t, int64(59), balance(t, store, "u1"))
}

func TestPurchaseItem_SubscriberOnly(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "free-tier", 1000, false)
	addUser(t, store, "member", 1000, true)
	ctx := context.Background()

	_, err := svc.PurchaseItem(ctx, "free-tier", "yurt", "")
	assert.ErrorIs(t, err, model.ErrSubscriberOnly)
	assert.Equal(t, int64(1000), balance(t, store, "free-tier"))

	res, err := svc.PurchaseItem(ctx, "member", "yurt", "")
	require.NoError(t, err)
	assert.Equal(t, int64(980), res.NewBalance)
}

func TestPurchaseItem_FreeItem(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 0, false)

	res, err := svc.PurchaseItem(context.Background(), "u1", "free", "")
	require.NoError(t, err)
	assert.Zero(t, res.NewBalance)
	assert.Contains(t, res.OwnedItemIDs, "free")
}

func TestPurchaseItem_ConcurrentOnlyOneAffordable(t *testing.T) {
	for run := 0; run < 20; run++ {
		store := newStore(t)
		svc := newService(store, store)
		addUser(t, store, "u1", 100, false)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, item := range []string{"hat", "scarf"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.PurchaseItem(context.Background(), "u1", item, "")
			}()
		}
		wg.Wait()

		succeeded, insufficient := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, model.ErrInsufficientFunds):
				insufficient++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, insufficient)
		assert.Equal(t, int64(40), balance(t, store, "u1"))
	}
}

func TestPurchaseItem_Idempotent(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 100, false)
	ctx := context.Background()

	first, err := svc.PurchaseItem(ctx, "u1", "ball", "key-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.PurchaseItem(ctx, "u1", "ball", "key-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Receipt.ID, second.Receipt.ID)
	assert.Equal(t, int64(90), second.NewBalance)
	assert.Equal(t, int64(90), balance(t, store, "u1"))

	_, err = svc.PurchaseItem(ctx, "u1", "hat", "key-1")
	assert.ErrorIs(t, err, model.ErrIdempotencyConflict)

	receipts, err := store.ListReceipts(ctx, "u1", "", 10)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func TestPurchaseManul_ActivatesFirstManul(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &model.User{
		ID: "fresh", Currency: 100, OwnedManulIDs: []string{}, OwnedItemIDs: []string{},
		CompletedQuizIDs: []string{}, AppliedItems: map[string][]string{},
	}))

	res, err := svc.PurchaseManul(ctx, "fresh", "snow-manul", "")
	require.NoError(t, err)
	require.NotNil(t, res.ActiveManulID)
	assert.Equal(t, "snow-manul", *res.ActiveManulID)
	assert.Equal(t, int64(60), res.NewBalance)

	res, err = svc.PurchaseManul(ctx, "fresh", "desert-manul", "")
	require.NoError(t, err)
	assert.Equal(t, "snow-manul", *res.ActiveManulID)
	assert.ElementsMatch(t, []string{"snow-manul", "desert-manul"}, res.OwnedManulIDs)
	assert.Equal(t, int64(30), res.NewBalance)

	u, err := store.GetUser(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "snow-manul", *u.ActiveManulID)
}

func TestPurchaseManul_Preconditions(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 35, false)
	ctx := context.Background()

	_, err := svc.PurchaseManul(ctx, "u1", "unknown", "")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.PurchaseManul(ctx, "u1", model.StarterManulID, "")
	assert.ErrorIs(t, err, model.ErrAlreadyOwned)
	_, err = svc.PurchaseManul(ctx, "u1", "snow-manul", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	_, err = svc.PurchaseManul(ctx, "u1", "rare-manul", "")
	assert.ErrorIs(t, err, model.ErrSubscriberOnly)
	assert.Equal(t, int64(35), balance(t, store, "u1"))

	receipts, err := store.ListReceipts(ctx, "u1", model.ReceiptManulPurchase, 10)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func intPtr(v int) *int { return &v }

func TestSettleQuiz_RewardTruncates(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 0, false)

	res, err := svc.SettleQuiz(context.Background(), service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.Reward)
	assert.Equal(t, int64(75), res.NewBalance)
	assert.Equal(t, 3, res.Receipt.Score)
	assert.Equal(t, 4, res.Receipt.MaxScore)
	assert.Equal(t, testNow, res.Receipt.CreatedAt)

	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, u.CompletedQuizIDs)
	require.NotNil(t, u.LastQuizCompleted)
	assert.Equal(t, "q1", *u.LastQuizCompleted)

	// 7 * 3 / 4 = 5.25
	res, err = svc.SettleQuiz(context.Background(), service.SettleQuizRequest{UserID: "u1", QuizID: "q2", Score: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Reward)
}

func TestSettleQuiz_OnlyOnce(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 10, false)
	ctx := context.Background()

	_, err := svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(4)})
	require.NoError(t, err)
	_, err = svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(4)})
	assert.ErrorIs(t, err, model.ErrAlreadyCompleted)

	assert.Equal(t, int64(110), balance(t, store, "u1"))
	receipts, err := store.ListReceipts(ctx, "u1", model.ReceiptQuizResult, 10)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func TestSettleQuiz_ConcurrentSubmissionsPayOnce(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 0, false)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SettleQuiz(context.Background(), service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(4)})
			if err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, model.ErrAlreadyCompleted)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int64(100), balance(t, store, "u1"))
}

func TestSettleQuiz_Validation(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 0, false)
	ctx := context.Background()

	_, err := svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(5)})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(-1)})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "q1"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(1), Answers: []int{1}})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: "u1", QuizID: "missing", Score: intPtr(1)})
	assert.ErrorIs(t, err, model.ErrNotFound)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.CompletedQuizIDs)
	assert.Zero(t, u.Currency)
}

func TestSettleQuiz_GradesAnswers(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 0, false)

	res, err := svc.SettleQuiz(context.Background(), service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Answers: []int{1, 0, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, int64(50), res.Reward)
}

func TestSettleQuiz_IdempotentReplay(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	addUser(t, store, "u1", 0, false)
	ctx := context.Background()

	req := service.SettleQuizRequest{UserID: "u1", QuizID: "q1", Score: intPtr(3), IdempotencyKey: "retry-me"}
	first, err := svc.SettleQuiz(ctx, req)
	require.NoError(t, err)
	second, err := svc.SettleQuiz(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Reward, second.Reward)
	assert.Equal(t, int64(75), balance(t, store, "u1"))
}

// flakyLedger fails the first failures RunAtomic calls with a transient error.
type flakyLedger struct {
	*repository.MemoryStore
	failures int32
	calls    atomic.Int32
}

func (f *flakyLedger) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if f.calls.Add(1) <= f.failures {
		return model.ErrTransientStore
	}
	return f.MemoryStore.RunAtomic(ctx, userID, fn)
}

func TestPurchaseItem_RetriesTransientErrors(t *testing.T) {
	store := newStore(t)
	addUser(t, store, "u1", 100, false)
	ledger := &flakyLedger{MemoryStore: store, failures: 2}
	svc := newService(ledger, store)

	res, err := svc.PurchaseItem(context.Background(), "u1", "ball", "")
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.NewBalance)
	assert.Equal(t, int32(3), ledger.calls.Load())
}

func TestPurchaseItem_GivesUpAfterMaxAttempts(t *testing.T) {
	store := newStore(t)
	addUser(t, store, "u1", 100, false)
	ledger := &flakyLedger{MemoryStore: store, failures: 100}
	svc := newService(ledger, store)

	_, err := svc.PurchaseItem(context.Background(), "u1", "ball", "")
	assert.ErrorIs(t, err, model.ErrTransientStore)
	assert.Equal(t, int32(3), ledger.calls.Load())
	assert.Equal(t, int64(100), balance(t, store, "u1"))
}

func TestPurchaseItem_PreconditionNotRetried(t *testing.T) {
	store := newStore(t)
	addUser(t, store, "u1", 0, false)
	ledger := &flakyLedger{MemoryStore: store}
	svc := newService(ledger, store)

	_, err := svc.PurchaseItem(context.Background(), "u1", "ball", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Equal(t, int32(1), ledger.calls.Load())
}

func TestPurchaseItem_LockTimeoutIsTransient(t *testing.T) {
	store := newStore(t)
	addUser(t, store, "u1", 100, false)
	svc := newService(store, store)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.RunAtomic(context.Background(), "u1", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := svc.PurchaseItem(context.Background(), "u1", "ball", "")
	assert.ErrorIs(t, err, model.ErrTransientStore)
}

func TestLedger_CurrencyNeverNegative(t *testing.T) {
	store := newStore(t)
	svc := newService(store, store)
	ctx := context.Background()
	addUser(t, store, "u1", 50, false)
	addUser(t, store, "u2", 5, true)

	rng := rand.New(rand.NewSource(42))
	users := []string{"u1", "u2"}
	items := []string{"hat", "scarf", "ball", "yurt", "free"}
	manuls := []string{"snow-manul", "desert-manul", "rare-manul"}
	quizzes := []string{"q1", "q2"}

	for i := 0; i < 300; i++ {
		user := users[rng.Intn(len(users))]
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = svc.PurchaseItem(ctx, user, items[rng.Intn(len(items))], "")
		case 1:
			_, err = svc.PurchaseManul(ctx, user, manuls[rng.Intn(len(manuls))], "")
		case 2:
			_, err = svc.SettleQuiz(ctx, service.SettleQuizRequest{UserID: user, QuizID: quizzes[rng.Intn(len(quizzes))], Score: intPtr(rng.Intn(5))})
		}
		if err != nil {
			require.True(t, model.IsPrecondition(err), "unexpected error: %v", err)
		}
		for _, u := range users {
			require.GreaterOrEqual(t, balance(t, store, u), int64(0))
		}
	}
}

func settle(userID, quizID string, score int) service.SettleQuizRequest {
	return service.SettleQuizRequest{UserID: userID, QuizID: quizID, Score: intPtr(score)}
}
