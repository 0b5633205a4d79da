package topic

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL topic repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create stores a new topic.
func (r *PostgresRepository) Create(ctx context.Context, topic *Topic) error {
	query := `
		INSERT INTO topics (id, app_id, key, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query, topic.ID, topic.AppID, topic.Key, topic.Name, topic.CreatedAt)
	if isUniqueViolation(err) {
		return ErrTopicExists
	}
	return err
}

// Get retrieves a topic by application and topic ID.
func (r *PostgresRepository) Get(ctx context.Context, appID, topicID string) (*Topic, error) {
	query := `
		SELECT id, app_id, key, name, created_at
		FROM topics
		WHERE id = $1 AND app_id = $2
	`

	var t Topic
	err := r.pool.QueryRow(ctx, query, topicID, appID).Scan(&t.ID, &t.AppID, &t.Key, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTopicNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List retrieves the topics of an application ordered by name.
func (r *PostgresRepository) List(ctx context.Context, appID string) ([]*Topic, error) {
	query := `
		SELECT id, app_id, key, name, created_at
		FROM topics
		WHERE app_id = $1
		ORDER BY name ASC
	`

	rows, err := r.pool.Query(ctx, query, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.AppID, &t.Key, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

// Delete removes a topic together with its subscriptions.
func (r *PostgresRepository) Delete(ctx context.Context, appID, topicID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM topic_subscriptions s
		USING topics t
		WHERE s.topic_id = t.id AND t.id = $1 AND t.app_id = $2
	`, topicID, appID); err != nil {
		return fmt.Errorf("deleting subscriptions: %w", err)
	}

	result, err := tx.Exec(ctx, `DELETE FROM topics WHERE id = $1 AND app_id = $2`, topicID, appID)
	if err != nil {
		return fmt.Errorf("deleting topic: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTopicNotFound
	}

	return tx.Commit(ctx)
}

// Subscribe stores a subscription.
func (r *PostgresRepository) Subscribe(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO topic_subscriptions (id, topic_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, sub.ID, sub.TopicID, sub.UserID, sub.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadySubscribed
	}
	return err
}

// Unsubscribe removes a subscription.
func (r *PostgresRepository) Unsubscribe(ctx context.Context, topicID, userID string) (bool, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM topic_subscriptions WHERE topic_id = $1 AND user_id = $2`,
		topicID, userID,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// SubscriberIDs returns the IDs of users subscribed to a topic.
func (r *PostgresRepository) SubscriberIDs(ctx context.Context, topicID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM topic_subscriptions WHERE topic_id = $1 ORDER BY created_at`,
		topicID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ Repository = (*PostgresRepository)(nil)
