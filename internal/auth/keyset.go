package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultRefetchCooldown is the minimum time between two fetches of the same key set
// triggered by an unknown key ID.
const DefaultRefetchCooldown = 60 * time.Second

// JWK represents a single JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS represents a JSON Web Key Set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// HTTPDoer is an interface for making HTTP requests.
// Both *http.Client and *resilience.Client satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// fetchTimeout bounds a shared key set fetch, which runs detached from the
// request that triggered it.
const fetchTimeout = 15 * time.Second

// RemoteKeySet is a lazily fetched RSA key set served at a URL.
//
// Keys are fetched on first use. A token whose key ID is not in the set causes a
// refetch, but at most once per cooldown window. A failed fetch holds its error
// for the same window. Concurrent fetches collapse into one.
type RemoteKeySet struct {
	url        string
	httpClient HTTPDoer
	cooldown   time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	state keySetState

	group singleflight.Group
}

type keySetState struct {
	keys        map[string]*rsa.PublicKey // nil until a fetch succeeds
	attemptedAt time.Time
	err         error // outcome of the last attempt
}

// NewRemoteKeySet creates a key set bound to url. Nothing is fetched until a key is needed.
func NewRemoteKeySet(url string, httpClient HTTPDoer, cooldown time.Duration) *RemoteKeySet {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cooldown <= 0 {
		cooldown = DefaultRefetchCooldown
	}
	return &RemoteKeySet{
		url:        url,
		httpClient: httpClient,
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// URL returns the URL the set is bound to.
func (s *RemoteKeySet) URL() string {
	return s.url
}

// Keyfunc returns a jwt.Keyfunc that resolves the verification key from the token's kid header.
// A token without a kid is checked against every key in the set.
func (s *RemoteKeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return s.lookup(ctx, kid)
	}
}

func (s *RemoteKeySet) lookup(ctx context.Context, kid string) (interface{}, error) {
	st := s.snapshot()

	if st.keys == nil {
		if !st.attemptedAt.IsZero() && !s.cooledDown(st.attemptedAt) {
			return nil, st.err
		}
		if err := s.refresh(ctx, st.attemptedAt); err != nil {
			return nil, err
		}
		st = s.snapshot()
	}

	if kid == "" {
		return allKeys(st.keys)
	}

	if key, ok := st.keys[kid]; ok {
		return key, nil
	}

	if !s.cooledDown(st.attemptedAt) {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	if err := s.refresh(ctx, st.attemptedAt); err != nil {
		return nil, err
	}

	st = s.snapshot()
	if key, ok := st.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (s *RemoteKeySet) cooledDown(at time.Time) bool {
	return s.now().Sub(at) >= s.cooldown
}

func (s *RemoteKeySet) snapshot() keySetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func allKeys(keys map[string]*rsa.PublicKey) (interface{}, error) {
	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}
	set := jwt.VerificationKeySet{Keys: make([]jwt.VerificationKey, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, k)
	}
	return set, nil
}

// refresh fetches the key set unless another attempt happened since seen.
// Concurrent callers share a single request, which outlives any one caller's
// context. A failed refetch keeps the keys already held.
func (s *RemoteKeySet) refresh(ctx context.Context, seen time.Time) error {
	ch := s.group.DoChan(s.url, func() (interface{}, error) {
		if st := s.snapshot(); st.attemptedAt.After(seen) {
			return nil, st.err
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		keys, err := s.fetch(fetchCtx)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.state.attemptedAt = s.now()
		s.state.err = err
		if err == nil {
			s.state.keys = keys
		}
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrFetchingKeySet, ctx.Err().Error())
	}
}

func (s *RemoteKeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFetchingKeySet, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFetchingKeySet, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchingKeySet, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFetchingKeySet, err.Error())
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}

		key, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue // Skip invalid keys
		}
		keys[jwk.Kid] = key
	}
	return keys, nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key.
func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil || len(nBytes) == 0 {
		return nil, fmt.Errorf("%w: invalid modulus", ErrInvalidKeyFormat)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, fmt.Errorf("%w: invalid exponent", ErrInvalidKeyFormat)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
