package portier

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/ggoodman/portier-go/internal/logctx"
)

const (
	algRS256 = "RS256"
	algEdDSA = "EdDSA"

	// pinParam carries the requested signing algorithm in the client_id.
	pinParam = "id_token_signed_response_alg"
)

// Authenticate starts a login for email and returns the broker URL the user
// agent should be redirected to. A non-empty state is echoed back in the
// verified token.
//
// When the broker can only sign with Ed25519 EdDSA keys, EdDSA is requested
// by suffixing the client_id; Verify later refuses tokens signed with any
// other algorithm for that request.
func (c *Client) Authenticate(ctx context.Context, email, state string) (string, error) {
	ctx = logctx.WithOperation(ctx, "authenticate", c.clientID)

	pc, err := c.fetchDiscovery(ctx)
	if err != nil {
		return "", err
	}
	if pc.AuthURL == "" {
		return "", fmt.Errorf("%w: missing authorization_endpoint", ErrDiscovery)
	}

	clientID := c.clientID
	if slices.Contains(pc.Algorithms, algEdDSA) {
		keys, err := c.fetchKeys(ctx, pc)
		if err != nil {
			return "", err
		}
		if prefersEd25519(keys) {
			clientID += "?" + pinParam + "=" + algEdDSA
		}
	}

	nonce, err := c.store.CreateNonce(ctx, clientID, email)
	if err != nil {
		return "", err
	}

	params := [][2]string{
		{"login_hint", email},
		{"scope", "openid email"},
		{"nonce", nonce},
		{"response_type", "id_token"},
		{"response_mode", "form_post"},
		{"client_id", clientID},
		{"redirect_uri", c.redirectURI},
	}
	if state != "" {
		params = append(params, [2]string{"state", state})
	}

	var q strings.Builder
	for i, p := range params {
		if i > 0 {
			q.WriteByte('&')
		}
		q.WriteString(url.QueryEscape(p[0]))
		q.WriteByte('=')
		q.WriteString(url.QueryEscape(p[1]))
	}

	c.log.DebugContext(ctx, "authentication request created",
		slog.String("requested_client_id", clientID),
	)
	return pc.AuthURL + "?" + q.String(), nil
}
