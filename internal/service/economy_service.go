package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"manulmonday/economy/internal/metrics"
	"manulmonday/economy/internal/model"
)

const defaultStoreTimeout = 3 * time.Second

type Options struct {
	// StoreTimeout bounds a single attempt against the ledger.
	StoreTimeout time.Duration
	// MaxAttempts caps attempts on transient store errors.
	MaxAttempts uint
	// RetryInitialInterval is the first backoff delay between attempts.
	RetryInitialInterval time.Duration
	Now                  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 50 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type EconomyService struct {
	ledger  Ledger
	catalog Catalog
	quizzes Quizzes
	opts    Options
	logger  *zap.Logger
}

func NewEconomyService(ledger Ledger, catalog Catalog, quizzes Quizzes, opts Options, logger *zap.Logger) *EconomyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EconomyService{
		ledger:  ledger,
		catalog: catalog,
		quizzes: quizzes,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

type PurchaseItemResult struct {
	NewBalance   int64         `json:"new_balance"`
	OwnedItemIDs []string      `json:"owned_item_ids"`
	Receipt      model.Receipt `json:"receipt"`
	Replayed     bool          `json:"replayed"`
}

type PurchaseManulResult struct {
	NewBalance    int64         `json:"new_balance"`
	OwnedManulIDs []string      `json:"owned_manul_ids"`
	ActiveManulID *string       `json:"active_manul_id"`
	Receipt       model.Receipt `json:"receipt"`
	Replayed      bool          `json:"replayed"`
}

type SettleQuizRequest struct {
	UserID string
	QuizID string
	// Exactly one of Score and Answers must be set.
	Score          *int
	Answers        []int
	IdempotencyKey string
}

type SettleQuizResult struct {
	Reward     int64         `json:"reward"`
	NewBalance int64         `json:"new_balance"`
	Score      int           `json:"score"`
	MaxScore   int           `json:"max_score"`
	Receipt    model.Receipt `json:"receipt"`
	Replayed   bool          `json:"replayed"`
}

// PurchaseItem debits the item cost and grants the item in one transaction.
// Checks run in order: item exists, user exists, not owned, enough currency,
// subscriber gate.
func (s *EconomyService) PurchaseItem(ctx context.Context, userID, itemID, idempotencyKey string) (*PurchaseItemResult, error) {
	var result *PurchaseItemResult
	err := s.atomically(ctx, "purchase_item", userID, func(ctx context.Context) error {
		item, err := s.catalog.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		user, err := s.ledger.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		if prior, err := s.replay(ctx, userID, idempotencyKey, model.ReceiptPurchase, itemID); err != nil {
			return err
		} else if prior != nil {
			result = &PurchaseItemResult{NewBalance: user.Currency, OwnedItemIDs: user.OwnedItemIDs, Receipt: *prior, Replayed: true}
			return nil
		}

		if user.OwnsItem(itemID) {
			return fmt.Errorf("%w: item %s", model.ErrAlreadyOwned, itemID)
		}
		if user.Currency < item.Cost {
			return fmt.Errorf("%w: item %s costs %d, balance %d", model.ErrInsufficientFunds, itemID, item.Cost, user.Currency)
		}
		if item.IsSubscriberOnly && !user.IsSubscriber {
			return fmt.Errorf("%w: item %s", model.ErrSubscriberOnly, itemID)
		}

		user.Currency -= item.Cost
		user.OwnedItemIDs = append(user.OwnedItemIDs, itemID)
		rc := s.newReceipt(model.ReceiptPurchase, userID, itemID, idempotencyKey)
		rc.Cost = item.Cost

		if err := s.commit(ctx, user, rc); err != nil {
			return err
		}
		result = &PurchaseItemResult{NewBalance: user.Currency, OwnedItemIDs: user.OwnedItemIDs, Receipt: *rc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		metrics.RecordSpend(result.Receipt.Cost)
		s.logger.Info("item purchased",
			zap.String("user_id", userID), zap.String("item_id", itemID),
			zap.Int64("cost", result.Receipt.Cost), zap.Int64("balance", result.NewBalance))
	}
	return result, nil
}

// PurchaseManul unlocks a manul. The first manul a user owns becomes active.
func (s *EconomyService) PurchaseManul(ctx context.Context, userID, manulID, idempotencyKey string) (*PurchaseManulResult, error) {
	var result *PurchaseManulResult
	err := s.atomically(ctx, "purchase_manul", userID, func(ctx context.Context) error {
		manul, err := s.catalog.GetManul(ctx, manulID)
		if err != nil {
			return err
		}
		user, err := s.ledger.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		if prior, err := s.replay(ctx, userID, idempotencyKey, model.ReceiptManulPurchase, manulID); err != nil {
			return err
		} else if prior != nil {
			result = &PurchaseManulResult{
				NewBalance: user.Currency, OwnedManulIDs: user.OwnedManulIDs, ActiveManulID: user.ActiveManulID,
				Receipt: *prior, Replayed: true,
			}
			return nil
		}

		if user.OwnsManul(manulID) {
			return fmt.Errorf("%w: manul %s", model.ErrAlreadyOwned, manulID)
		}
		if user.Currency < manul.UnlockCost {
			return fmt.Errorf("%w: manul %s costs %d, balance %d", model.ErrInsufficientFunds, manulID, manul.UnlockCost, user.Currency)
		}
		if manul.IsSubscriberOnly && !user.IsSubscriber {
			return fmt.Errorf("%w: manul %s", model.ErrSubscriberOnly, manulID)
		}

		user.Currency -= manul.UnlockCost
		user.OwnedManulIDs = append(user.OwnedManulIDs, manulID)
		if user.ActiveManulID == nil {
			active := manulID
			user.ActiveManulID = &active
		}
		rc := s.newReceipt(model.ReceiptManulPurchase, userID, manulID, idempotencyKey)
		rc.Cost = manul.UnlockCost

		if err := s.commit(ctx, user, rc); err != nil {
			return err
		}
		result = &PurchaseManulResult{
			NewBalance: user.Currency, OwnedManulIDs: user.OwnedManulIDs, ActiveManulID: user.ActiveManulID, Receipt: *rc,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		metrics.RecordSpend(result.Receipt.Cost)
		s.logger.Info("manul purchased",
			zap.String("user_id", userID), zap.String("manul_id", manulID),
			zap.Int64("cost", result.Receipt.Cost), zap.Int64("balance", result.NewBalance))
	}
	return result, nil
}

// SettleQuiz pays out a quiz once per user. The reward is
// rewardCurrency*score/questionCount truncated toward zero.
func (s *EconomyService) SettleQuiz(ctx context.Context, req SettleQuizRequest) (*SettleQuizResult, error) {
	if (req.Score == nil) == (req.Answers == nil) {
		return nil, fmt.Errorf("%w: exactly one of score or answers is required", model.ErrValidation)
	}

	var result *SettleQuizResult
	err := s.atomically(ctx, "settle_quiz", req.UserID, func(ctx context.Context) error {
		quiz, err := s.quizzes.GetQuiz(ctx, req.QuizID)
		if err != nil {
			return err
		}
		user, err := s.ledger.GetUserForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}

		if prior, err := s.replay(ctx, req.UserID, req.IdempotencyKey, model.ReceiptQuizResult, req.QuizID); err != nil {
			return err
		} else if prior != nil {
			result = &SettleQuizResult{
				Reward: prior.Reward, NewBalance: user.Currency, Score: prior.Score, MaxScore: prior.MaxScore,
				Receipt: *prior, Replayed: true,
			}
			return nil
		}

		if user.HasCompleted(req.QuizID) {
			return fmt.Errorf("%w: quiz %s", model.ErrAlreadyCompleted, req.QuizID)
		}

		score := 0
		if req.Score != nil {
			score = *req.Score
		} else if score, err = quiz.Grade(req.Answers); err != nil {
			return err
		}
		reward, err := quiz.Reward(score)
		if err != nil {
			return err
		}

		quizID := req.QuizID
		user.CompletedQuizIDs = append(user.CompletedQuizIDs, quizID)
		user.LastQuizCompleted = &quizID
		user.Currency += reward
		rc := s.newReceipt(model.ReceiptQuizResult, req.UserID, quizID, req.IdempotencyKey)
		rc.Score = score
		rc.MaxScore = quiz.MaxScore()
		rc.Reward = reward

		if err := s.commit(ctx, user, rc); err != nil {
			return err
		}
		result = &SettleQuizResult{
			Reward: reward, NewBalance: user.Currency, Score: score, MaxScore: rc.MaxScore, Receipt: *rc,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		metrics.RecordReward(result.Reward)
		s.logger.Info("quiz settled",
			zap.String("user_id", req.UserID), zap.String("quiz_id", req.QuizID),
			zap.Int("score", result.Score), zap.Int("max_score", result.MaxScore),
			zap.Int64("reward", result.Reward), zap.Int64("balance", result.NewBalance))
	}
	return result, nil
}

func (s *EconomyService) newReceipt(kind model.ReceiptKind, userID, targetID, key string) *model.Receipt {
	return &model.Receipt{
		ID:             ksuid.New().String(),
		Kind:           kind,
		UserID:         userID,
		TargetID:       targetID,
		IdempotencyKey: key,
		CreatedAt:      s.opts.Now().UTC(),
	}
}

func (s *EconomyService) commit(ctx context.Context, user *model.User, rc *model.Receipt) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if err := s.ledger.SaveUser(ctx, user); err != nil {
		return err
	}
	return s.ledger.CreateReceipt(ctx, rc)
}

// replay returns the receipt previously recorded under key, or nil when the
// key is unused. A key recorded for a different operation is a conflict.
func (s *EconomyService) replay(ctx context.Context, userID, key string, kind model.ReceiptKind, targetID string) (*model.Receipt, error) {
	if key == "" {
		return nil, nil
	}
	prior, err := s.ledger.FindReceiptByKey(ctx, userID, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prior.Kind != kind || prior.TargetID != targetID {
		return nil, fmt.Errorf("%w: key %s was used for %s %s", model.ErrIdempotencyConflict, key, prior.Kind, prior.TargetID)
	}
	return prior, nil
}

// atomically runs fn inside a ledger transaction for userID. Each attempt is
// bounded by StoreTimeout; only transient store errors are retried, and every
// retry re-validates preconditions from a fresh read.
func (s *EconomyService) atomically(ctx context.Context, operation, userID string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval
	b.MaxInterval = 20 * s.opts.RetryInitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			metrics.RecordRetry(operation)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()

		err := storeError(s.ledger.RunAtomic(attemptCtx, userID, fn))
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, model.ErrTransientStore) {
			s.logger.Warn("transient ledger error",
				zap.String("operation", operation), zap.String("user_id", userID),
				zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxAttempts),
	)
	if err != nil && ctx.Err() != nil && !errors.Is(err, model.ErrTransientStore) && !isBusinessError(err) {
		err = fmt.Errorf("%w: %w", model.ErrTransientStore, err)
	}

	metrics.RecordOperation(operation, err)
	if err != nil && isBusinessError(err) {
		s.logger.Debug("ledger operation rejected",
			zap.String("operation", operation), zap.String("user_id", userID), zap.Error(err))
	} else if err != nil && !errors.Is(err, model.ErrTransientStore) {
		s.logger.Error("ledger operation failed",
			zap.String("operation", operation), zap.String("user_id", userID), zap.Error(err))
	}
	return err
}

// storeError reports a store call that ran out of time as a transient failure.
func storeError(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrTransientStore) {
		return fmt.Errorf("%w: %w", model.ErrTransientStore, err)
	}
	return err
}

// isBusinessError reports errors that describe the request rather than the store.
func isBusinessError(err error) bool {
	return model.IsPrecondition(err) ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrAlreadyExists) ||
		errors.Is(err, model.ErrNotOwned) ||
		errors.Is(err, model.ErrIdempotencyConflict)
}
