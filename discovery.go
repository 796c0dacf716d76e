package portier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/portier-go/jwk"
	"github.com/ggoodman/portier-go/store"
)

const discoveryPath = "/.well-known/openid-configuration"

// fetchDiscovery loads the broker's discovery document through the Store.
// Only authorization_endpoint and jwks_uri must be strings; other fields the
// broker may publish are not validated, and a malformed algorithm list is
// treated as absent.
func (c *Client) fetchDiscovery(ctx context.Context) (*oidc.ProviderConfig, error) {
	raw, err := c.store.FetchCached(ctx, store.CacheIDDiscovery, c.broker+discoveryPath)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	var pc oidc.ProviderConfig
	if err := decodeField(doc, "authorization_endpoint", &pc.AuthURL); err != nil {
		return nil, err
	}
	if err := decodeField(doc, "jwks_uri", &pc.JWKSURL); err != nil {
		return nil, err
	}
	if err := decodeField(doc, "id_token_signing_alg_values_supported", &pc.Algorithms); err != nil {
		c.log.DebugContext(ctx, "ignoring malformed algorithm list", slog.String("err", err.Error()))
		pc.Algorithms = nil
	}
	_ = decodeField(doc, "issuer", &pc.IssuerURL)
	return &pc, nil
}

// decodeField decodes doc[name] into dst. An absent or null field leaves dst
// untouched.
func decodeField(doc map[string]json.RawMessage, name string, dst any) error {
	v, ok := doc[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDiscovery, name, err)
	}
	return nil
}

// fetchKeys loads the broker's key set named by jwks_uri. Entries that do not
// decode into a JWK are skipped; they can never be selected by kid.
func (c *Client) fetchKeys(ctx context.Context, pc *oidc.ProviderConfig) ([]jwk.JWK, error) {
	if pc.JWKSURL == "" {
		return nil, fmt.Errorf("%w: missing jwks_uri", ErrDiscovery)
	}
	raw, err := c.store.FetchCached(ctx, store.CacheIDKeys, pc.JWKSURL)
	if err != nil {
		return nil, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	list, ok := doc["keys"]
	if !ok {
		return nil, fmt.Errorf("%w: key set has no keys field", ErrDiscovery)
	}
	list = bytes.TrimSpace(list)
	if len(list) == 0 || list[0] != '[' {
		return nil, fmt.Errorf("%w: keys is not an array", ErrDiscovery)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	keys := make([]jwk.JWK, 0, len(entries))
	for i, entry := range entries {
		if err := store.ValidateObject(entry); err != nil {
			return nil, fmt.Errorf("%w: keys[%d] is not an object", ErrDiscovery, i)
		}
		var k jwk.JWK
		if err := json.Unmarshal(entry, &k); err != nil {
			c.log.DebugContext(ctx, "skipping undecodable key",
				slog.Int("index", i),
				slog.String("err", err.Error()),
			)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// findSigningKey returns the signing key with the given kid.
func findSigningKey(keys []jwk.JWK, kid string) (*jwk.JWK, bool) {
	for i := range keys {
		if keys[i].Use == "sig" && keys[i].Kid == kid {
			return &keys[i], true
		}
	}
	return nil, false
}

// prefersEd25519 reports whether the key set can only produce Ed25519
// EdDSA signatures: it has an Ed25519 signing key and no signing key on
// another OKP curve.
func prefersEd25519(keys []jwk.JWK) bool {
	found := false
	for _, k := range keys {
		if k.Use != "sig" || k.Kty != "OKP" {
			continue
		}
		if k.Crv != "Ed25519" {
			return false
		}
		found = true
	}
	return found
}
