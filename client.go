package portier

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/portier-go/internal/logctx"
	"github.com/ggoodman/portier-go/store"
)

const (
	// DefaultBroker is the public Portier broker.
	DefaultBroker = "https://broker.portier.io"
	// DefaultLeeway is the clock skew tolerated on exp, iat and nbf.
	DefaultLeeway = 3 * time.Minute
)

// Client starts authentication requests and verifies the resulting tokens.
// A Client is immutable and safe for concurrent use; all mutable state lives
// in its Store.
type Client struct {
	store       store.Store
	redirectURI string
	clientID    string
	broker      string
	leeway      time.Duration
	now         func() time.Time
	log         *slog.Logger
}

type clientConfig struct {
	broker string
	leeway time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithBroker sets the broker origin. Trailing slashes are ignored.
func WithBroker(origin string) Option {
	return func(c *clientConfig) { c.broker = origin }
}

// WithLeeway sets the clock skew tolerated on time claims.
func WithLeeway(d time.Duration) Option {
	return func(c *clientConfig) { c.leeway = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.log = l }
}

// WithClock overrides the time source used for token time claims.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) { c.now = now }
}

// NewClient returns a Client that keeps nonces and broker documents in s and
// expects the broker to post tokens back to redirectURI.
func NewClient(s store.Store, redirectURI string, opts ...Option) (*Client, error) {
	if s == nil {
		return nil, ErrMissingStore
	}
	cfg := clientConfig{
		broker: DefaultBroker,
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientID, err := origin(redirectURI)
	if err != nil {
		return nil, err
	}
	broker := strings.TrimRight(cfg.broker, "/")
	if broker == "" {
		return nil, ErrInvalidBroker
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &Client{
		store:       s,
		redirectURI: redirectURI,
		clientID:    clientID,
		broker:      broker,
		leeway:      cfg.leeway,
		now:         cfg.now,
		log:         logctx.Wrap(cfg.log),
	}, nil
}

// ClientID is the origin of the redirect URI, used as the OAuth client_id.
func (c *Client) ClientID() string { return c.clientID }

// Broker is the configured broker origin.
func (c *Client) Broker() string { return c.broker }

// origin reduces a URL to scheme://host[:port], dropping default ports.
func origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirectURI, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q has no scheme or host", ErrInvalidRedirectURI, raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidRedirectURI, raw)
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}
