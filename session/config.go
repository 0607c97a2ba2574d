package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Timeout defaults for the identity-provider calls.
const (
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultLogoutTimeout  = 5 * time.Second
)

// RefreshCookieName is the cookie the identity provider uses for the
// long-lived credential. It is documented here only; nothing in this package
// reads or writes it.
const RefreshCookieName = "refreshToken"

// Config describes the identity provider endpoints.
type Config struct {
	BaseURL      string
	LoginPath    string
	RegisterPath string
	RefreshPath  string
	LogoutPath   string

	RefreshTimeout time.Duration
	RequestTimeout time.Duration
	LogoutTimeout  time.Duration

	// DisableRetry sends every call exactly once instead of going through
	// go-httpretry.
	DisableRetry bool
}

// DefaultConfig returns the standard /auth/* layout under baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		LoginPath:      "/auth/login",
		RegisterPath:   "/auth/register",
		RefreshPath:    "/auth/refresh",
		LogoutPath:     "/auth/logout",
		RefreshTimeout: DefaultRefreshTimeout,
		RequestTimeout: DefaultRequestTimeout,
		LogoutTimeout:  DefaultLogoutTimeout,
	}
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("base URL must include a host")
	}
	for name, p := range map[string]string{
		"login":    c.LoginPath,
		"register": c.RegisterPath,
		"refresh":  c.RefreshPath,
		"logout":   c.LogoutPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s path must start with /, got: %q", name, p)
		}
	}
	return nil
}

func (c Config) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c Config) withDefaults() Config {
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = DefaultLogoutTimeout
	}
	return c
}

// Refresher performs one refresh exchange. *Exchange is the production
// implementation.
type Refresher interface {
	Exchange(ctx context.Context) (*oauth2.Token, error)
}

// Option configures a Client or Coordinator.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	hook       LifecycleHook
	registerer prometheus.Registerer
	httpClient *http.Client
	doer       Doer
	refresher  Refresher
}

func newOptions(opts []Option) *options {
	o := &options{
		logger: zerolog.Nop(),
		hook:   noopHook{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger used for refresh episodes and endpoint calls.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLifecycleHook sets the hook notified on a dead session.
func WithLifecycleHook(h LifecycleHook) Option {
	return func(o *options) {
		if h != nil {
			o.hook = h
		}
	}
}

// WithMetrics registers the refresh collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient sets the underlying client. It should carry a cookie jar,
// since the long-lived credential lives there.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDoer replaces the request executor entirely.
func WithDoer(d Doer) Option {
	return func(o *options) { o.doer = d }
}

// WithRefresher replaces the refresh exchange.
func WithRefresher(r Refresher) Option {
	return func(o *options) { o.refresher = r }
}
