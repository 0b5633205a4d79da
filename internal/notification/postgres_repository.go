package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL notification repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const notificationColumns = `id, app_id, title, body, data, topic_id, user_ids, schedule_at, status, created_at, updated_at`

// Create stores a new notification.
func (r *PostgresRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	userIDs := n.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		n.ID, n.AppID, n.Title, n.Body, data, n.TopicID, userIDs,
		n.ScheduleAt, string(n.Status), n.CreatedAt, n.UpdatedAt,
	)
	return err
}

// Get retrieves a notification of an application.
func (r *PostgresRepository) Get(ctx context.Context, appID, id string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND app_id = $2`

	n, err := scanNotification(r.pool.QueryRow(ctx, query, id, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

// List retrieves the newest notifications of an application.
func (r *PostgresRepository) List(ctx context.Context, appID string, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE app_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryNotifications(ctx, query, appID, limit)
}

// TransitionStatus performs a status compare-and-swap.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	query := `
		UPDATE notifications
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListDue retrieves pending notifications due at or before now. Released
// immediate notifications have no schedule time and are due from creation.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND COALESCE(schedule_at, created_at) <= $1
		ORDER BY COALESCE(schedule_at, created_at) ASC
		LIMIT $2
	`
	return r.queryNotifications(ctx, query, now, limit)
}

// CreateDeliveries stores delivery records in a single round trip.
func (r *PostgresRepository) CreateDeliveries(ctx context.Context, deliveries []*Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	query := `
		INSERT INTO deliveries (id, notification_id, device_id, provider, status, error, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(query, d.ID, d.NotificationID, d.DeviceID, d.Provider, string(d.Status), d.Error, d.ProviderMessageID, d.CreatedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range deliveries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
	}
	return nil
}

// ListDeliveries retrieves the deliveries of a notification.
func (r *PostgresRepository) ListDeliveries(ctx context.Context, notificationID string) ([]*Delivery, error) {
	query := `
		SELECT id, notification_id, device_id, provider, status, error, provider_message_id, created_at
		FROM deliveries
		WHERE notification_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		var d Delivery
		var status string
		if err := rows.Scan(&d.ID, &d.NotificationID, &d.DeviceID, &d.Provider, &status, &d.Error, &d.ProviderMessageID, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Status = DeliveryStatus(status)
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

// DeleteByTopic removes the notifications of a topic and their deliveries in one transaction.
func (r *PostgresRepository) DeleteByTopic(ctx context.Context, appID, topicID string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		DELETE FROM deliveries
		WHERE notification_id IN (
			SELECT id FROM notifications WHERE app_id = $1 AND topic_id = $2
		)
	`, appID, topicID)
	if err != nil {
		return 0, fmt.Errorf("delete deliveries: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM notifications WHERE app_id = $1 AND topic_id = $2`, appID, topicID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]*Notification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var status string
	err := row.Scan(
		&n.ID, &n.AppID, &n.Title, &n.Body, &n.Data, &n.TopicID, &n.UserIDs,
		&n.ScheduleAt, &status, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Status = Status(status)
	return &n, nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
