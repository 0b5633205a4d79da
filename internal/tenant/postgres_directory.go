package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory is a PostgreSQL implementation of Directory.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a new PostgreSQL tenant directory.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// FindByIssuer finds a tenant by issuer.
func (d *PostgresDirectory) FindByIssuer(ctx context.Context, issuer string) (*Tenant, error) {
	query := `
		SELECT id, name, issuer, audience, alg, hs_secret, jwks_url, default_app_id, created_at
		FROM tenants
		WHERE issuer = $1
	`

	var t Tenant
	err := d.pool.QueryRow(ctx, query, issuer).Scan(
		&t.ID,
		&t.Name,
		&t.Issuer,
		&t.Audience,
		&t.Algorithm,
		&t.SharedSecret,
		&t.KeySetURL,
		&t.DefaultApplicationID,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	return &t, nil
}

// FindApplication finds an application by ID.
func (d *PostgresDirectory) FindApplication(ctx context.Context, appID string) (*Application, error) {
	query := `SELECT id, tenant_id, name, created_at FROM applications WHERE id = $1`

	var app Application
	err := d.pool.QueryRow(ctx, query, appID).Scan(&app.ID, &app.TenantID, &app.Name, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}

	return &app, nil
}

var _ Directory = (*PostgresDirectory)(nil)
