package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pushgate/pushgate/internal/tenant"
)

// ResolvedKey is the verification material for one tenant: either an HMAC secret
// or a remote key set.
type ResolvedKey struct {
	Algorithm tenant.Algorithm

	secret []byte
	keySet *RemoteKeySet
}

// Keyfunc returns the jwt.Keyfunc that supplies this key to the parser.
func (k *ResolvedKey) Keyfunc(ctx context.Context) jwt.Keyfunc {
	if k.keySet != nil {
		return k.keySet.Keyfunc(ctx)
	}
	return func(*jwt.Token) (interface{}, error) {
		return k.secret, nil
	}
}

// KeyResolver maps a tenant to the key material its tokens are verified with.
type KeyResolver struct {
	cache *KeySetCache
}

// NewKeyResolver creates a resolver backed by the given key set cache.
func NewKeyResolver(cache *KeySetCache) *KeyResolver {
	if cache == nil {
		cache = NewKeySetCache(KeySetCacheConfig{})
	}
	return &KeyResolver{cache: cache}
}

// Resolve returns the verification key for a tenant.
func (r *KeyResolver) Resolve(_ context.Context, t *tenant.Tenant) (*ResolvedKey, error) {
	switch t.Algorithm {
	case tenant.AlgorithmHS256:
		if t.SharedSecret == nil || *t.SharedSecret == "" {
			return nil, fmt.Errorf("%w: tenant %s", ErrMissingSecret, t.ID)
		}
		return &ResolvedKey{Algorithm: t.Algorithm, secret: []byte(*t.SharedSecret)}, nil

	case tenant.AlgorithmRS256:
		if t.KeySetURL == nil || *t.KeySetURL == "" {
			return nil, fmt.Errorf("%w: tenant %s", ErrMissingKeySetURL, t.ID)
		}
		return &ResolvedKey{Algorithm: t.Algorithm, keySet: r.cache.Get(t.ID, *t.KeySetURL)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, t.Algorithm)
	}
}
