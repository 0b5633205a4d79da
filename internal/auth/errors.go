// Package auth turns bearer credentials issued by tenants into verified identities.
//
// Verification is two-phase: the token is first decoded without verification to
// find its issuer, the issuer selects a tenant, and the tenant's declared
// algorithm and key material are then used to verify the token. The algorithm
// embedded in the token header is never trusted on its own.
package auth

import "errors"

// Authentication errors. All of them surface to clients as a single
// unauthorized response; the specific cause is for logs only. Any other error
// returned by Authenticate is a failure of the gateway itself.
var (
	ErrMissingToken         = errors.New("missing bearer token")
	ErrMalformedToken       = errors.New("malformed token")
	ErrMissingClaims        = errors.New("required claims missing")
	ErrUnknownIssuer        = errors.New("unknown token issuer")
	ErrMissingSecret        = errors.New("tenant has no shared secret configured")
	ErrMissingKeySetURL     = errors.New("tenant has no key set url configured")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrSignatureInvalid     = errors.New("token signature invalid")
	ErrClaimMismatch        = errors.New("token claims do not match tenant")
	ErrKeyNotFound          = errors.New("signing key not found")
	ErrFetchingKeySet       = errors.New("failed to fetch key set")
	ErrInvalidKeyFormat     = errors.New("invalid key format")
)

var credentialErrors = []error{
	ErrMissingToken,
	ErrMalformedToken,
	ErrMissingClaims,
	ErrUnknownIssuer,
	ErrMissingSecret,
	ErrMissingKeySetURL,
	ErrUnsupportedAlgorithm,
	ErrSignatureInvalid,
	ErrClaimMismatch,
	ErrKeyNotFound,
	ErrFetchingKeySet,
	ErrInvalidKeyFormat,
}

// IsCredentialError reports whether err rejects the presented credential.
func IsCredentialError(err error) bool {
	for _, target := range credentialErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
