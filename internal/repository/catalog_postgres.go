package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"manulmonday/economy/internal/model"
)

func (r *PostgresStore) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	var it model.Item
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT id, name, description, type, cost, image_name, is_subscriber_only FROM items WHERE id = $1", itemID,
	).Scan(&it.ID, &it.Name, &it.Description, &it.Type, &it.Cost, &it.ImageName, &it.IsSubscriberOnly)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", model.ErrNotFound, itemID)
		}
		return nil, classify(fmt.Errorf("failed to get item: %w", err))
	}
	return &it, nil
}

func (r *PostgresStore) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := r.getExecutor(ctx).Query(ctx,
		"SELECT id, name, description, type, cost, image_name, is_subscriber_only FROM items ORDER BY id")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list items: %w", err))
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Item, error) {
		var it model.Item
		err := row.Scan(&it.ID, &it.Name, &it.Description, &it.Type, &it.Cost, &it.ImageName, &it.IsSubscriberOnly)
		return it, err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list items: %w", err))
	}
	return items, nil
}

func (r *PostgresStore) GetManul(ctx context.Context, manulID string) (*model.Manul, error) {
	var m model.Manul
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT id, name, type, unlock_cost, is_subscriber_only, applied_item_ids FROM manuls WHERE id = $1", manulID,
	).Scan(&m.ID, &m.Name, &m.Type, &m.UnlockCost, &m.IsSubscriberOnly, &m.AppliedItemIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: manul %s", model.ErrNotFound, manulID)
		}
		return nil, classify(fmt.Errorf("failed to get manul: %w", err))
	}
	return &m, nil
}

func (r *PostgresStore) ListManuls(ctx context.Context) ([]model.Manul, error) {
	rows, err := r.getExecutor(ctx).Query(ctx,
		"SELECT id, name, type, unlock_cost, is_subscriber_only, applied_item_ids FROM manuls ORDER BY id")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list manuls: %w", err))
	}
	manuls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Manul, error) {
		var m model.Manul
		err := row.Scan(&m.ID, &m.Name, &m.Type, &m.UnlockCost, &m.IsSubscriberOnly, &m.AppliedItemIDs)
		return m, err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list manuls: %w", err))
	}
	return manuls, nil
}

const quizColumns = "id, title, description, release_date, expiration_date, questions, reward_currency, is_special_event"

func scanQuiz(row pgx.Row) (model.Quiz, error) {
	var q model.Quiz
	err := row.Scan(&q.ID, &q.Title, &q.Description, &q.ReleaseDate, &q.ExpirationDate, &q.Questions, &q.RewardCurrency, &q.IsSpecialEvent)
	return q, err
}

func (r *PostgresStore) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	q, err := scanQuiz(r.getExecutor(ctx).QueryRow(ctx, "SELECT "+quizColumns+" FROM quizzes WHERE id = $1", quizID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: quiz %s", model.ErrNotFound, quizID)
		}
		return nil, classify(fmt.Errorf("failed to get quiz: %w", err))
	}
	return &q, nil
}

func (r *PostgresStore) ListQuizzes(ctx context.Context) ([]model.Quiz, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, "SELECT "+quizColumns+" FROM quizzes ORDER BY release_date")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list quizzes: %w", err))
	}
	quizzes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Quiz, error) {
		return scanQuiz(row)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list quizzes: %w", err))
	}
	return quizzes, nil
}

// PublishItems inserts catalog items in one batch. Items already published
// are immutable and left untouched.
func (r *PostgresStore) PublishItems(ctx context.Context, items []model.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO items (id, name, description, type, cost, image_name, is_subscriber_only)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			it.ID, it.Name, it.Description, string(it.Type), it.Cost, it.ImageName, it.IsSubscriberOnly)
	}
	return r.sendBatch(ctx, batch, "items")
}

// PublishManuls inserts manuls that are not published yet.
func (r *PostgresStore) PublishManuls(ctx context.Context, manuls []model.Manul) error {
	batch := &pgx.Batch{}
	for _, m := range manuls {
		applied := m.AppliedItemIDs
		if applied == nil {
			applied = []string{}
		}
		batch.Queue(`INSERT INTO manuls (id, name, type, unlock_cost, is_subscriber_only, applied_item_ids)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.Name, string(m.Type), m.UnlockCost, m.IsSubscriberOnly, applied)
	}
	return r.sendBatch(ctx, batch, "manuls")
}

func (r *PostgresStore) UpsertQuizzes(ctx context.Context, quizzes []model.Quiz) error {
	batch := &pgx.Batch{}
	for _, q := range quizzes {
		batch.Queue(`INSERT INTO quizzes (`+quizColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description,
				release_date = EXCLUDED.release_date, expiration_date = EXCLUDED.expiration_date,
				questions = EXCLUDED.questions, reward_currency = EXCLUDED.reward_currency,
				is_special_event = EXCLUDED.is_special_event`,
			q.ID, q.Title, q.Description, q.ReleaseDate, q.ExpirationDate, q.Questions, q.RewardCurrency, q.IsSpecialEvent)
	}
	return r.sendBatch(ctx, batch, "quizzes")
}

func (r *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	return r.RunAtomic(ctx, "", func(ctx context.Context) error {
		tx := r.getExecutor(ctx).(pgx.Tx)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return classify(fmt.Errorf("failed to publish %s: %w", what, err))
		}
		return nil
	})
}
