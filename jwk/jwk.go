// Package jwk converts JSON Web Keys published by a Portier broker into
// public keys a signature verifier can consume.
//
// A JWK is first narrowed into one of the PublicKey variants (RSAKey, ECKey,
// OKPKey) according to its "kty". Each variant can then be rendered as a
// DER SubjectPublicKeyInfo, wrapped as PEM text, and (for OKP keys) exposed
// as the raw key bytes EdDSA implementations expect.
package jwk

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedKey is returned for a kty or crv outside the supported set.
	ErrUnsupportedKey = errors.New("jwk: unsupported key")
	// ErrIncompleteKey is returned when a JWK lacks a field its kty requires.
	ErrIncompleteKey = errors.New("jwk: incomplete key")
	// ErrInvalidBase64 is returned when key material is not valid base64url.
	ErrInvalidBase64 = errors.New("jwk: invalid base64")
)

// maxEcho bounds how much of an untrusted value is repeated in error text.
const maxEcho = 10

// JWK is the JSON representation of a public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	Crv string `json:"crv,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// PublicKey decodes the key material of j into its kty-specific variant.
func (j *JWK) PublicKey() (PublicKey, error) {
	switch j.Kty {
	case "RSA":
		return j.rsaKey()
	case "EC":
		return j.ecKey()
	case "OKP":
		return j.okpKey()
	case "":
		return nil, fmt.Errorf("%w: missing kty", ErrIncompleteKey)
	default:
		return nil, fmt.Errorf("%w: kty %s", ErrUnsupportedKey, Truncate(j.Kty))
	}
}

// ToPEM renders j as a PEM-encoded SubjectPublicKeyInfo.
func (j *JWK) ToPEM() (string, error) {
	key, err := j.PublicKey()
	if err != nil {
		return "", err
	}
	return EncodePEM(key.SubjectPublicKeyInfo()), nil
}

func (j *JWK) rsaKey() (*RSAKey, error) {
	if j.N == "" || j.E == "" {
		return nil, fmt.Errorf("%w: RSA key requires n and e", ErrIncompleteKey)
	}
	n, err := DecodeBase64URL(j.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	e, err := DecodeBase64URL(j.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &RSAKey{N: n, E: e}, nil
}

func (j *JWK) ecKey() (*ECKey, error) {
	if j.Crv == "" || j.X == "" || j.Y == "" {
		return nil, fmt.Errorf("%w: EC key requires crv, x and y", ErrIncompleteKey)
	}
	if _, ok := ecCurveOIDs[j.Crv]; !ok {
		return nil, fmt.Errorf("%w: EC curve %s", ErrUnsupportedKey, Truncate(j.Crv))
	}
	x, err := DecodeBase64URL(j.X)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	y, err := DecodeBase64URL(j.Y)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}
	return &ECKey{Curve: j.Crv, X: x, Y: y}, nil
}

func (j *JWK) okpKey() (*OKPKey, error) {
	if j.Crv == "" || j.X == "" {
		return nil, fmt.Errorf("%w: OKP key requires crv and x", ErrIncompleteKey)
	}
	if _, ok := okpCurveOIDs[j.Crv]; !ok {
		return nil, fmt.Errorf("%w: OKP curve %s", ErrUnsupportedKey, Truncate(j.Crv))
	}
	x, err := DecodeBase64URL(j.X)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	return &OKPKey{Curve: j.Crv, X: x}, nil
}

// DecodeBase64URL decodes base64url key material. Trailing padding is
// accepted but not required; any other malformation is an error.
func DecodeBase64URL(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return b, nil
}

// Truncate bounds an untrusted string before it is echoed into error text.
func Truncate(s string) string {
	if len(s) > maxEcho {
		s = s[:maxEcho]
	}
	return fmt.Sprintf("%q", s)
}
