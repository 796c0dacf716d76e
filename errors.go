package portier

import (
	"errors"
	"strings"

	"github.com/ggoodman/portier-go/jwk"
	"github.com/ggoodman/portier-go/store"
)

var (
	// ErrInvalidRedirectURI indicates the redirect URI has no usable origin.
	ErrInvalidRedirectURI = errors.New("portier: invalid redirect uri")
	// ErrMissingStore indicates NewClient was given a nil Store.
	ErrMissingStore = errors.New("portier: store is required")
	// ErrInvalidBroker indicates the broker origin is empty.
	ErrInvalidBroker = errors.New("portier: invalid broker origin")

	// ErrDiscovery indicates the broker's discovery or key set document did
	// not have the expected shape.
	ErrDiscovery = errors.New("portier: invalid broker discovery document")

	// ErrKeyNotFound indicates the token names no key (kid) or names one
	// the broker does not publish for signing.
	ErrKeyNotFound = errors.New("portier: cannot find the public key used to sign the token")

	// ErrUnsupportedAlgorithm indicates the signing key declares an
	// algorithm or curve this client does not verify.
	ErrUnsupportedAlgorithm = errors.New("portier: unsupported signing algorithm")

	// ErrMalformedToken indicates the token is not a compact JWS.
	ErrMalformedToken = errors.New("portier: malformed token")
	// ErrInvalidSignature indicates the token signature did not validate.
	ErrInvalidSignature = errors.New("portier: token signature did not validate")
	// ErrInvalidIssuer indicates the token was not issued by the broker.
	ErrInvalidIssuer = errors.New("portier: token issuer does not match broker")
	// ErrTokenExpired indicates exp lies in the past, beyond the leeway.
	ErrTokenExpired = errors.New("portier: token has expired")
	// ErrTokenNotYetValid indicates iat or nbf lies in the future, beyond the leeway.
	ErrTokenNotYetValid = errors.New("portier: token is not yet valid")
	// ErrMissingClaims is matched by *MissingClaimsError.
	ErrMissingClaims = errors.New("portier: token is missing required claims")
	// ErrInvalidClaim indicates a claim has the wrong type or value.
	ErrInvalidClaim = errors.New("portier: token claim is invalid")

	// ErrInvalidNonce indicates the nonce was unknown, expired, already
	// used, or bound to a different client or email address.
	ErrInvalidNonce = store.ErrInvalidNonce

	// ErrAlgorithmMismatch indicates the token was signed with a different
	// algorithm than the one pinned when authentication started.
	ErrAlgorithmMismatch = errors.New("portier: token signing algorithm does not match the requested algorithm")
)

// MissingClaimsError lists every required claim absent from a token.
type MissingClaimsError struct {
	Claims []string
}

func (e *MissingClaimsError) Error() string {
	return ErrMissingClaims.Error() + ": " + strings.Join(e.Claims, ", ")
}

// Is reports a match against ErrMissingClaims.
func (e *MissingClaimsError) Is(target error) bool {
	return target == ErrMissingClaims
}

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind int

const (
	// KindUnknown is any error not produced by this module.
	KindUnknown ErrorKind = iota
	// KindConfiguration covers invalid client configuration.
	KindConfiguration
	// KindTransport covers failed or unparseable broker fetches.
	KindTransport
	// KindDiscovery covers malformed discovery or key set documents.
	KindDiscovery
	// KindKeyResolution covers missing or malformed signing keys.
	KindKeyResolution
	// KindUnsupported covers algorithms, key types and curves outside the
	// supported set.
	KindUnsupported
	// KindValidation covers signature and claim failures.
	KindValidation
	// KindNonce covers nonce consumption failures.
	KindNonce
	// KindAlgorithmPinning covers algorithm downgrade attempts.
	KindAlgorithmPinning
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindDiscovery:
		return "discovery"
	case KindKeyResolution:
		return "key_resolution"
	case KindUnsupported:
		return "unsupported"
	case KindValidation:
		return "validation"
	case KindNonce:
		return "nonce"
	case KindAlgorithmPinning:
		return "algorithm_pinning"
	default:
		return "unknown"
	}
}

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrAlgorithmMismatch, KindAlgorithmPinning},
	{ErrInvalidNonce, KindNonce},
	{ErrUnsupportedAlgorithm, KindUnsupported},
	{jwk.ErrUnsupportedKey, KindUnsupported},
	{ErrKeyNotFound, KindKeyResolution},
	{jwk.ErrIncompleteKey, KindKeyResolution},
	{jwk.ErrInvalidBase64, KindKeyResolution},
	{ErrDiscovery, KindDiscovery},
	{store.ErrFetch, KindTransport},
	{store.ErrInvalidDocument, KindTransport},
	{ErrMalformedToken, KindValidation},
	{ErrInvalidSignature, KindValidation},
	{ErrInvalidIssuer, KindValidation},
	{ErrTokenExpired, KindValidation},
	{ErrTokenNotYetValid, KindValidation},
	{ErrMissingClaims, KindValidation},
	{ErrInvalidClaim, KindValidation},
	{ErrInvalidRedirectURI, KindConfiguration},
	{ErrMissingStore, KindConfiguration},
	{ErrInvalidBroker, KindConfiguration},
}

// KindOf classifies err. Errors wrapping several sentinels report the most
// specific security-relevant kind first.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindUnknown
}
