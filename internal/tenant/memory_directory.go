package tenant

import (
	"context"
	"sync"
)

// InMemoryDirectory is an in-memory implementation of Directory.
// It backs tests and file-provisioned development setups.
type InMemoryDirectory struct {
	mu           sync.RWMutex
	byIssuer     map[string]*Tenant
	applications map[string]*Application
}

// NewInMemoryDirectory creates an empty in-memory directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		byIssuer:     make(map[string]*Tenant),
		applications: make(map[string]*Application),
	}
}

// AddTenant registers a tenant, replacing any tenant with the same issuer.
func (d *InMemoryDirectory) AddTenant(t *Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tenantCopy := *t
	d.byIssuer[t.Issuer] = &tenantCopy
}

// AddApplication registers an application.
func (d *InMemoryDirectory) AddApplication(app *Application) {
	d.mu.Lock()
	defer d.mu.Unlock()

	appCopy := *app
	d.applications[app.ID] = &appCopy
}

// FindByIssuer finds a tenant by issuer.
func (d *InMemoryDirectory) FindByIssuer(_ context.Context, issuer string) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.byIssuer[issuer]
	if !ok {
		return nil, ErrTenantNotFound
	}

	tenantCopy := *t
	return &tenantCopy, nil
}

// FindApplication finds an application by ID.
func (d *InMemoryDirectory) FindApplication(_ context.Context, appID string) (*Application, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	app, ok := d.applications[appID]
	if !ok {
		return nil, ErrApplicationNotFound
	}

	appCopy := *app
	return &appCopy, nil
}

var _ Directory = (*InMemoryDirectory)(nil)
