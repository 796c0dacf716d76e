package portier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ggoodman/portier-go/internal/logctx"
	"github.com/ggoodman/portier-go/jwk"
	"github.com/golang-jwt/jwt/v5"
)

// VerifyResult is the outcome of a successful Verify.
type VerifyResult struct {
	// Email is the verified, broker-normalized address.
	Email string
	// State is the value passed to Authenticate, if any.
	State string
	// HasState reports whether the token carried a state claim.
	HasState bool
}

var requiredClaims = []string{"iss", "aud", "exp", "iat", "email", "nonce"}

// Verify validates an id_token posted back by the broker and consumes its
// nonce. A token verifies at most once.
func (c *Client) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	ctx = logctx.WithOperation(ctx, "verify", c.clientID)

	res, err := c.verify(ctx, token)
	if err != nil {
		c.log.DebugContext(ctx, "token rejected",
			slog.String("kind", KindOf(err).String()),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	c.log.DebugContext(ctx, "token verified")
	return res, nil
}

func (c *Client) verify(ctx context.Context, token string) (*VerifyResult, error) {
	var keyErr error
	keyFunc := func(t *jwt.Token) (any, error) {
		key, err := c.resolveKey(ctx, t)
		if err != nil {
			keyErr = err
			return nil, err
		}
		return key, nil
	}

	parser := jwt.NewParser(
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, keyFunc)
	if err != nil {
		if keyErr != nil {
			return nil, keyErr
		}
		return nil, mapParseError(err)
	}

	if iss, ok := claims["iss"]; ok {
		if s, _ := iss.(string); s != c.broker {
			return nil, ErrInvalidIssuer
		}
	}

	var missing []string
	for _, name := range requiredClaims {
		// A null claim is present with the wrong type, not missing.
		if _, ok := claims[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingClaimsError{Claims: missing}
	}

	aud, err := singleAudience(claims["aud"])
	if err != nil {
		return nil, err
	}
	base, pinned, err := splitClientID(aud)
	if err != nil {
		return nil, err
	}
	if base != c.clientID {
		return nil, fmt.Errorf("%w: audience does not match client_id", ErrInvalidClaim)
	}

	nonce, ok := claims["nonce"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: nonce is not a string", ErrInvalidClaim)
	}
	email, ok := claims["email"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: email is not a string", ErrInvalidClaim)
	}
	emailOriginal := email
	if v, ok := claims["email_original"]; ok {
		if emailOriginal, ok = v.(string); !ok {
			return nil, fmt.Errorf("%w: email_original is not a string", ErrInvalidClaim)
		}
	}

	if err := c.store.ConsumeNonce(ctx, nonce, aud, emailOriginal); err != nil {
		return nil, err
	}

	// The nonce was bound to the full client_id, so the pin cannot have
	// been altered after Authenticate.
	if alg := parsed.Method.Alg(); alg != pinned {
		return nil, fmt.Errorf("%w: requested %s, token signed with %s", ErrAlgorithmMismatch, pinned, jwk.Truncate(alg))
	}

	res := &VerifyResult{Email: email}
	if s, ok := claims["state"].(string); ok {
		res.State = s
		res.HasState = true
	}
	return res, nil
}

// resolveKey finds the broker key named by the token's kid and returns it in
// the form golang-jwt verifies with. The key's own alg decides the algorithm.
func (c *Client) resolveKey(ctx context.Context, t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no key ID", ErrKeyNotFound)
	}

	pc, err := c.fetchDiscovery(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := c.fetchKeys(ctx, pc)
	if err != nil {
		return nil, err
	}
	k, ok := findSigningKey(keys, kid)
	if !ok {
		return nil, ErrKeyNotFound
	}

	var key any
	switch k.Alg {
	case algRS256:
		if k.Kty != "RSA" {
			return nil, fmt.Errorf("%w: RS256 key has kty %s", ErrUnsupportedAlgorithm, jwk.Truncate(k.Kty))
		}
		pem, err := k.ToPEM()
		if err != nil {
			return nil, err
		}
		if key, err = jwt.ParseRSAPublicKeyFromPEM([]byte(pem)); err != nil {
			return nil, fmt.Errorf("%w: %v", jwk.ErrIncompleteKey, err)
		}
	case algEdDSA:
		if k.Kty != "OKP" {
			return nil, fmt.Errorf("%w: EdDSA key has kty %s", ErrUnsupportedAlgorithm, jwk.Truncate(k.Kty))
		}
		if k.Crv != "Ed25519" {
			return nil, fmt.Errorf("%w: EdDSA curve %s", ErrUnsupportedAlgorithm, jwk.Truncate(k.Crv))
		}
		pub, err := k.PublicKey()
		if err != nil {
			return nil, err
		}
		raw := pub.(*jwk.OKPKey).Raw()
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: Ed25519 key is %d bytes", jwk.ErrIncompleteKey, len(raw))
		}
		key = ed25519.PublicKey(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, jwk.Truncate(k.Alg))
	}

	if t.Method.Alg() != k.Alg {
		return nil, fmt.Errorf("%w: token alg does not match key alg", ErrInvalidSignature)
	}
	return key, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
}

// singleAudience requires aud to be an array holding exactly one string.
func singleAudience(v any) (string, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 1 {
		return "", fmt.Errorf("%w: aud must be an array with one entry", ErrInvalidClaim)
	}
	aud, ok := list[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: aud entry is not a string", ErrInvalidClaim)
	}
	return aud, nil
}

// splitClientID separates a client_id into its origin and the algorithm it
// requested, RS256 unless pinned.
func splitClientID(clientID string) (base, alg string, err error) {
	base, query, found := strings.Cut(clientID, "?")
	alg = algRS256
	if !found {
		return base, alg, nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fmt.Errorf("%w: aud query: %v", ErrInvalidClaim, err)
	}
	if v := values.Get(pinParam); v != "" {
		alg = v
	}
	return base, alg, nil
}
