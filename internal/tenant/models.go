// Package tenant provides read-only lookup of tenant signing configuration and applications.
package tenant

import (
	"errors"
	"time"
)

// Directory errors.
var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrApplicationNotFound = errors.New("application not found")
)

// Algorithm is the signing scheme a tenant uses for the tokens it issues.
type Algorithm string

const (
	// AlgorithmHS256 is a shared-secret HMAC scheme.
	AlgorithmHS256 Algorithm = "HS256"

	// AlgorithmRS256 is an RSA scheme with public keys served from a remote key set.
	AlgorithmRS256 Algorithm = "RS256"
)

// Valid reports whether the algorithm is one the gateway can verify.
func (a Algorithm) Valid() bool {
	return a == AlgorithmHS256 || a == AlgorithmRS256
}

// Tenant is the top-level security boundary. Tenants are provisioned outside the
// gateway and never mutated by it.
type Tenant struct {
	ID        string
	Name      string
	Issuer    string
	Audience  string
	Algorithm Algorithm

	// SharedSecret is required for HS256 tenants.
	SharedSecret *string

	// KeySetURL is required for RS256 tenants.
	KeySetURL *string

	// DefaultApplicationID is used when a token carries no application claim.
	DefaultApplicationID *string

	CreatedAt time.Time
}

// Application is the scoping unit beneath a tenant.
type Application struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}
