package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pushgate/pushgate/internal/tenant"
)

// DefaultLeeway is the clock skew tolerated on exp, nbf and iat checks.
const DefaultLeeway = 5 * time.Second

// Identity is the verified caller attached to a request.
type Identity struct {
	TenantID      string
	ApplicationID string
	UserID        string
	Email         string
}

// tokenClaims accepts the claim name variants tenants are known to issue.
type tokenClaims struct {
	jwt.RegisteredClaims

	TenantID      string `json:"tenant_id,omitempty"`
	TenantIDCamel string `json:"tenantId,omitempty"`

	AppID         string `json:"app_id,omitempty"`
	AppIDCamel    string `json:"appId,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`

	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

func (c *tokenClaims) tenantID() string {
	return firstNonEmpty(c.TenantID, c.TenantIDCamel)
}

func (c *tokenClaims) applicationID() string {
	return firstNonEmpty(c.AppID, c.AppIDCamel, c.ApplicationID)
}

func (c *tokenClaims) userID() string {
	return firstNonEmpty(c.Subject, c.UserID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// AuthenticatorConfig holds configuration for the authenticator.
type AuthenticatorConfig struct {
	// Directory looks up tenants by issuer and applications by ID.
	Directory tenant.Directory

	// Resolver supplies verification keys. If nil, one with a default cache is created.
	Resolver *KeyResolver

	// Leeway is the tolerated clock skew. Default: DefaultLeeway
	Leeway time.Duration

	// RequireApplicationClaim rejects tokens without an application claim
	// unless the tenant declares a default application.
	RequireApplicationClaim bool

	// Now overrides the clock used for time-based claims. Tests only.
	Now func() time.Time
}

// Authenticator verifies bearer credentials and produces identities.
type Authenticator struct {
	directory  tenant.Directory
	resolver   *KeyResolver
	leeway     time.Duration
	requireApp bool
	now        func() time.Time
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	if cfg.Resolver == nil {
		cfg.Resolver = NewKeyResolver(nil)
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultLeeway
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{
		directory:  cfg.Directory,
		resolver:   cfg.Resolver,
		leeway:     cfg.Leeway,
		requireApp: cfg.RequireApplicationClaim,
		now:        cfg.Now,
	}
}

// Authenticate verifies a raw token and returns the caller's identity.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	// Decode without verification to learn which tenant issued the token.
	var hint tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &hint); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedToken, err.Error())
	}
	if hint.Issuer == "" {
		return nil, fmt.Errorf("%w: iss", ErrMissingClaims)
	}

	t, err := a.directory.FindByIssuer(ctx, hint.Issuer)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, hint.Issuer)
		}
		return nil, fmt.Errorf("finding tenant: %w", err)
	}

	if a.requireApp && hint.applicationID() == "" && t.DefaultApplicationID == nil {
		return nil, fmt.Errorf("%w: application", ErrMissingClaims)
	}

	key, err := a.resolver.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{string(t.Algorithm)}),
		jwt.WithIssuer(t.Issuer),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	}
	if t.Audience != "" {
		opts = append(opts, jwt.WithAudience(t.Audience))
	}

	var claims tokenClaims
	token, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, key.Keyfunc(ctx))
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	return a.identity(ctx, t, &claims)
}

// identity builds the canonical identity from verified claims. Claims can refine
// the issuer-resolved tenant but never move the caller to a different one.
func (a *Authenticator) identity(ctx context.Context, t *tenant.Tenant, claims *tokenClaims) (*Identity, error) {
	if tid := claims.tenantID(); tid != "" && tid != t.ID {
		return nil, fmt.Errorf("%w: tenant claim %q", ErrClaimMismatch, tid)
	}

	appID := claims.applicationID()
	if appID == "" && t.DefaultApplicationID != nil {
		appID = *t.DefaultApplicationID
	}
	if appID == "" {
		return nil, fmt.Errorf("%w: application", ErrMissingClaims)
	}

	app, err := a.directory.FindApplication(ctx, appID)
	if err != nil {
		if errors.Is(err, tenant.ErrApplicationNotFound) {
			return nil, fmt.Errorf("%w: application %q", ErrClaimMismatch, appID)
		}
		return nil, fmt.Errorf("finding application: %w", err)
	}
	if app.TenantID != t.ID {
		return nil, fmt.Errorf("%w: application %q belongs to another tenant", ErrClaimMismatch, appID)
	}

	return &Identity{
		TenantID:      t.ID,
		ApplicationID: app.ID,
		UserID:        claims.userID(),
		Email:         claims.Email,
	}, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrFetchingKeySet):
		return fmt.Errorf("%w: %s", ErrSignatureInvalid, err.Error())
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %s", ErrSignatureInvalid, err.Error())
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %s", ErrClaimMismatch, err.Error())
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %s", ErrSignatureInvalid, err.Error())
	default:
		return fmt.Errorf("%w: %s", ErrMalformedToken, err.Error())
	}
}
