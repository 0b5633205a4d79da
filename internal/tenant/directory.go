package tenant

import "context"

// Directory looks up tenants and applications.
type Directory interface {
	// FindByIssuer finds the tenant whose issuer matches exactly.
	FindByIssuer(ctx context.Context, issuer string) (*Tenant, error)

	// FindApplication finds an application by ID.
	FindApplication(ctx context.Context, appID string) (*Application, error)
}
