package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"manulmonday/economy/internal/model"
)

const userColumns = `id, email, display_name, join_date, currency, is_subscriber, last_quiz_completed,
	completed_quiz_ids, owned_manul_ids, active_manul_id, owned_item_ids, applied_items`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.JoinDate, &u.Currency, &u.IsSubscriber, &u.LastQuizCompleted,
		&u.CompletedQuizIDs, &u.OwnedManulIDs, &u.ActiveManulID, &u.OwnedItemIDs, &u.AppliedItems,
	)
	if err != nil {
		return nil, err
	}
	if u.AppliedItems == nil {
		u.AppliedItems = map[string][]string{}
	}
	return &u, nil
}

func (r *PostgresStore) getUser(ctx context.Context, userID string, forUpdate bool) (*model.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	u, err := scanUser(r.getExecutor(ctx).QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
		}
		return nil, classify(fmt.Errorf("failed to get user: %w", err))
	}
	return u, nil
}

// GetUser reads the ledger without locking it.
func (r *PostgresStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return r.getUser(ctx, userID, false)
}

// GetUserForUpdate locks the user row until the surrounding transaction ends.
func (r *PostgresStore) GetUserForUpdate(ctx context.Context, userID string) (*model.User, error) {
	return r.getUser(ctx, userID, true)
}

func (r *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := r.getExecutor(ctx).Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.Email, u.DisplayName, u.JoinDate, u.Currency, u.IsSubscriber, u.LastQuizCompleted,
		u.CompletedQuizIDs, u.OwnedManulIDs, u.ActiveManulID, u.OwnedItemIDs, u.AppliedItems,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", model.ErrAlreadyExists, u.ID)
		}
		return classify(fmt.Errorf("failed to create user: %w", err))
	}
	return nil
}

// SaveUser overwrites the mutable ledger fields of an existing user.
func (r *PostgresStore) SaveUser(ctx context.Context, u *model.User) error {
	tag, err := r.getExecutor(ctx).Exec(ctx, `UPDATE users SET
		display_name = $2, currency = $3, is_subscriber = $4, last_quiz_completed = $5,
		completed_quiz_ids = $6, owned_manul_ids = $7, active_manul_id = $8, owned_item_ids = $9, applied_items = $10
		WHERE id = $1`,
		u.ID, u.DisplayName, u.Currency, u.IsSubscriber, u.LastQuizCompleted,
		u.CompletedQuizIDs, u.OwnedManulIDs, u.ActiveManulID, u.OwnedItemIDs, u.AppliedItems,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to save user: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", model.ErrNotFound, u.ID)
	}
	return nil
}

func nullableKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

// CreateReceipt appends a receipt to the table matching its kind.
func (r *PostgresStore) CreateReceipt(ctx context.Context, rc *model.Receipt) error {
	var err error
	exec := r.getExecutor(ctx)
	switch rc.Kind {
	case model.ReceiptPurchase:
		_, err = exec.Exec(ctx, `INSERT INTO purchases (id, user_id, item_id, cost, idempotency_key, purchased_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, rc.ID, rc.UserID, rc.TargetID, rc.Cost, nullableKey(rc.IdempotencyKey), rc.CreatedAt)
	case model.ReceiptManulPurchase:
		_, err = exec.Exec(ctx, `INSERT INTO manul_purchases (id, user_id, manul_id, cost, idempotency_key, purchased_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, rc.ID, rc.UserID, rc.TargetID, rc.Cost, nullableKey(rc.IdempotencyKey), rc.CreatedAt)
	case model.ReceiptQuizResult:
		_, err = exec.Exec(ctx, `INSERT INTO quiz_results (id, user_id, quiz_id, score, max_score, reward, idempotency_key, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, rc.ID, rc.UserID, rc.TargetID, rc.Score, rc.MaxScore, rc.Reward, nullableKey(rc.IdempotencyKey), rc.CreatedAt)
	default:
		return fmt.Errorf("%w: unknown receipt kind %q", model.ErrValidation, rc.Kind)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: key %s", model.ErrIdempotencyConflict, rc.IdempotencyKey)
		}
		return classify(fmt.Errorf("failed to create %s receipt: %w", rc.Kind, err))
	}
	return nil
}

const receiptsUnion = `
	SELECT id, 'purchase' AS kind, user_id, item_id AS target_id, cost, 0 AS score, 0 AS max_score, 0::bigint AS reward,
		COALESCE(idempotency_key, '') AS idempotency_key, purchased_at AS created_at FROM purchases
	UNION ALL
	SELECT id, 'manul_purchase', user_id, manul_id, cost, 0, 0, 0::bigint,
		COALESCE(idempotency_key, ''), purchased_at FROM manul_purchases
	UNION ALL
	SELECT id, 'quiz_result', user_id, quiz_id, 0::bigint, score, max_score, reward,
		COALESCE(idempotency_key, ''), completed_at FROM quiz_results`

func scanReceipt(row pgx.Row) (model.Receipt, error) {
	var rc model.Receipt
	var kind string
	err := row.Scan(&rc.ID, &kind, &rc.UserID, &rc.TargetID, &rc.Cost, &rc.Score, &rc.MaxScore, &rc.Reward, &rc.IdempotencyKey, &rc.CreatedAt)
	rc.Kind = model.ReceiptKind(kind)
	return rc, err
}

func (r *PostgresStore) FindReceiptByKey(ctx context.Context, userID, key string) (*model.Receipt, error) {
	row := r.getExecutor(ctx).QueryRow(ctx,
		`SELECT * FROM (`+receiptsUnion+`) r WHERE user_id = $1 AND idempotency_key = $2 LIMIT 1`, userID, key)
	rc, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: receipt with key %s", model.ErrNotFound, key)
		}
		return nil, classify(fmt.Errorf("failed to find receipt: %w", err))
	}
	return &rc, nil
}

// ListReceipts returns the newest receipts first. An empty kind lists all kinds.
func (r *PostgresStore) ListReceipts(ctx context.Context, userID string, kind model.ReceiptKind, limit int) ([]model.Receipt, error) {
	rows, err := r.getExecutor(ctx).Query(ctx,
		`SELECT * FROM (`+receiptsUnion+`) r WHERE user_id = $1 AND ($2::text = '' OR kind = $2::text)
		ORDER BY created_at DESC LIMIT $3`, userID, string(kind), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list receipts: %w", err))
	}
	defer rows.Close()

	receipts := []model.Receipt{}
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to list receipts: %w", err))
	}
	return receipts, nil
}
