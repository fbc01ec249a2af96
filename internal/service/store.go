package service

import (
	"context"

	"manulmonday/economy/internal/model"
)

// Ledger is the source of truth for user balances, ownership and receipts.
// RunAtomic must serialize calls for the same user and discard all writes of
// a failed fn.
type Ledger interface {
	RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context) error) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GetUserForUpdate(ctx context.Context, userID string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	SaveUser(ctx context.Context, u *model.User) error
	CreateReceipt(ctx context.Context, rc *model.Receipt) error
	FindReceiptByKey(ctx context.Context, userID, key string) (*model.Receipt, error)
	ListReceipts(ctx context.Context, userID string, kind model.ReceiptKind, limit int) ([]model.Receipt, error)
}

// Catalog is the read-only view of purchasable items and manuls.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	GetManul(ctx context.Context, manulID string) (*model.Manul, error)
	ListManuls(ctx context.Context) ([]model.Manul, error)
}

type Quizzes interface {
	GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error)
	ListQuizzes(ctx context.Context) ([]model.Quiz, error)
}

// CatalogWriter publishes catalog content. Only the catalog sync uses it.
// Items and manuls are immutable once published; quizzes are replaced.
type CatalogWriter interface {
	PublishItems(ctx context.Context, items []model.Item) error
	PublishManuls(ctx context.Context, manuls []model.Manul) error
	UpsertQuizzes(ctx context.Context, quizzes []model.Quiz) error
}
