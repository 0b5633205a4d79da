package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const deviceColumns = `id, app_id, user_id, platform, provider, push_token, is_active, last_seen_at, created_at, updated_at`

// FindOrCreateUser returns the user with the given external ID, creating it if absent.
// The no-op update makes RETURNING yield the existing row on conflict.
func (r *PostgresRepository) FindOrCreateUser(ctx context.Context, appID, externalID string) (*User, error) {
	query := `
		INSERT INTO app_users (id, app_id, external_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (app_id, external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, app_id, external_id, created_at
	`

	var u User
	err := r.pool.QueryRow(ctx, query, "usr_"+uuid.New().String(), appID, externalID).Scan(
		&u.ID,
		&u.AppID,
		&u.ExternalID,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return &u, nil
}

// GetUser retrieves a user by application and user ID.
func (r *PostgresRepository) GetUser(ctx context.Context, appID, userID string) (*User, error) {
	query := `
		SELECT id, app_id, external_id, created_at
		FROM app_users
		WHERE id = $1 AND app_id = $2
	`

	var u User
	err := r.pool.QueryRow(ctx, query, userID, appID).Scan(&u.ID, &u.AppID, &u.ExternalID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

// Upsert creates or updates a device keyed by (app_id, push_token).
func (r *PostgresRepository) Upsert(ctx context.Context, device *Device) (bool, string, error) {
	query := `
		WITH prior AS (
			SELECT user_id FROM devices WHERE app_id = $2 AND push_token = $6
		)
		INSERT INTO devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $8)
		ON CONFLICT (app_id, push_token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			provider = EXCLUDED.provider,
			is_active = true,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0) AS inserted, (SELECT user_id FROM prior)
	`

	var (
		inserted bool
		previous *string
	)
	err := r.pool.QueryRow(ctx, query,
		device.ID,
		device.AppID,
		device.UserID,
		device.Platform,
		device.Provider,
		device.PushToken,
		device.LastSeenAt,
		device.UpdatedAt,
	).Scan(&device.ID, &device.CreatedAt, &inserted, &previous)
	if err != nil {
		return false, "", fmt.Errorf("upserting device: %w", err)
	}

	device.IsActive = true
	if inserted || previous == nil {
		return inserted, "", nil
	}
	return false, *previous, nil
}

// Get retrieves a device by application and device ID.
func (r *PostgresRepository) Get(ctx context.Context, appID, deviceID string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1 AND app_id = $2`

	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

// List retrieves devices of an application, newest first.
func (r *PostgresRepository) List(ctx context.Context, appID string, opts ListOptions) ([]*Device, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		where = []string{"d.app_id = $1"}
		args  = []interface{}{appID}
	)
	if opts.Platform != "" {
		args = append(args, opts.Platform)
		where = append(where, fmt.Sprintf("d.platform = $%d", len(args)))
	}
	if opts.ExternalUserID != "" {
		args = append(args, opts.ExternalUserID)
		where = append(where, fmt.Sprintf("u.external_id = $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT d.id, d.app_id, d.user_id, d.platform, d.provider, d.push_token,
		       d.is_active, d.last_seen_at, d.created_at, d.updated_at
		FROM devices d
		JOIN app_users u ON u.id = d.user_id
		WHERE %s
		ORDER BY d.created_at DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	return r.queryDevices(ctx, query, args...)
}

// Delete removes a device and returns it.
func (r *PostgresRepository) Delete(ctx context.Context, appID, deviceID string) (*Device, error) {
	query := `DELETE FROM devices WHERE id = $1 AND app_id = $2 RETURNING ` + deviceColumns

	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

// DeleteUserIfOrphaned removes the user and its subscriptions when it owns no devices.
// Subscriptions go first because they reference the user. The NOT EXISTS guard on
// the user delete keeps a concurrent registration from losing its user; when it
// matches nothing the transaction rolls back and the subscriptions stay.
func (r *PostgresRepository) DeleteUserIfOrphaned(ctx context.Context, appID, userID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM topic_subscriptions s
		USING app_users u
		WHERE s.user_id = u.id AND u.id = $1 AND u.app_id = $2
		  AND NOT EXISTS (SELECT 1 FROM devices d WHERE d.user_id = u.id)
	`, userID, appID); err != nil {
		return false, fmt.Errorf("deleting subscriptions of orphaned user: %w", err)
	}

	result, err := tx.Exec(ctx, `
		DELETE FROM app_users u
		WHERE u.id = $1 AND u.app_id = $2
		  AND NOT EXISTS (SELECT 1 FROM devices d WHERE d.user_id = u.id)
	`, userID, appID)
	if err != nil {
		return false, fmt.Errorf("deleting orphaned user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Deactivate marks devices inactive.
func (r *PostgresRepository) Deactivate(ctx context.Context, appID string, deviceIDs []string) (int64, error) {
	if len(deviceIDs) == 0 {
		return 0, nil
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE devices SET is_active = false, updated_at = now()
		WHERE app_id = $1 AND id = ANY($2) AND is_active
	`, appID, deviceIDs)
	if err != nil {
		return 0, fmt.Errorf("deactivating devices: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListActiveByUsers retrieves active devices owned by any of the given users.
func (r *PostgresRepository) ListActiveByUsers(ctx context.Context, appID string, userIDs []string) ([]*Device, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE app_id = $1 AND user_id = ANY($2) AND is_active
		ORDER BY created_at
	`
	return r.queryDevices(ctx, query, appID, userIDs)
}

func (r *PostgresRepository) queryDevices(ctx context.Context, query string, args ...interface{}) ([]*Device, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// scanDevice scans a single device row in deviceColumns order.
func scanDevice(row pgx.Row) (*Device, error) {
	var device Device
	err := row.Scan(
		&device.ID,
		&device.AppID,
		&device.UserID,
		&device.Platform,
		&device.Provider,
		&device.PushToken,
		&device.IsActive,
		&device.LastSeenAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

var _ Repository = (*PostgresRepository)(nil)
