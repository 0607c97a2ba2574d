package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
)

// Client is the entry point for outbound calls. It attaches the bearer
// credential, intercepts 401 responses, and replays each rejected call at
// most once after the Coordinator has refreshed the credential.
type Client struct {
	cfg       Config
	doer      Doer
	store     *Store
	transport *Transport
	coord     *Coordinator
	logger    zerolog.Logger
	metrics   *metrics
}

// New wires a Client for the identity provider described by cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	doer := o.doer
	if doer == nil {
		httpClient := o.httpClient
		if httpClient == nil {
			var err error
			httpClient, err = newHTTPClient()
			if err != nil {
				return nil, err
			}
		}
		if cfg.DisableRetry {
			doer = HTTPDoer(httpClient)
		} else {
			rc, err := retry.NewBackgroundClient(retry.WithHTTPClient(httpClient))
			if err != nil {
				return nil, fmt.Errorf("failed to create retry client: %w", err)
			}
			doer = rc
		}
	}

	refresher := o.refresher
	if refresher == nil {
		refresher = NewExchange(doer, cfg.endpoint(cfg.RefreshPath), cfg.RefreshTimeout)
	}

	m := newMetrics(o.registerer)
	store := NewStore()
	return &Client{
		cfg:       cfg,
		doer:      doer,
		store:     store,
		transport: NewTransport(doer, store),
		coord:     newCoordinator(store, refresher, o, m),
		logger:    o.logger,
		metrics:   m,
	}, nil
}

// newHTTPClient builds the default client. The cookie jar is where the
// long-lived credential lives.
func newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Store exposes the credential store for reads.
func (c *Client) Store() *Store {
	return c.store
}

// Coordinator exposes the refresh coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coord
}

// Bootstrap runs the one startup refresh. See Coordinator.Bootstrap.
func (c *Client) Bootstrap(ctx context.Context) BootstrapResult {
	return c.coord.Bootstrap(ctx)
}

// Authenticated reports whether a bearer credential is installed.
func (c *Client) Authenticated() bool {
	return c.store.Get() != nil
}

// Do sends req through the Transport. A 401 is never returned directly for
// the first attempt: the call waits for the refresh episode and is replayed
// once with the new credential. The replay's response, whatever its status,
// is returned as-is.
//
// Errors: ErrUnauthenticated when there is no session to recover,
// ErrSessionDead (via *RefreshError) when the refresh was rejected, ErrTransient
// (via *RefreshError) when it failed for another reason, ctx.Err() when the
// caller gave up while queued, and the Doer's error otherwise.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	prepared, err := prepareReplayable(req)
	if err != nil {
		return nil, err
	}
	log := c.logger.With().Str("request_id", prepared.Header.Get(RequestIDHeader)).Logger()

	resp, used, err := c.transport.Send(ctx, prepared)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)
	log.Debug().Uint64("generation", used.generation()).Msg("request rejected with 401")

	if _, err := c.coord.AwaitRefresh(ctx, used); err != nil {
		return nil, err
	}

	resp, _, err = c.transport.Send(ctx, prepared)
	if err != nil {
		c.metrics.observeReplay(0, err)
		return nil, err
	}
	c.metrics.observeReplay(resp.StatusCode, nil)
	log.Debug().Int("status", resp.StatusCode).Msg("request replayed")
	return resp, nil
}

// loginRequest is the body of the login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of the register endpoint.
type RegisterRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// Login exchanges email and password for a bearer credential. The identity
// provider sets the long-lived cookie on the same response.
func (c *Client) Login(ctx context.Context, email, password string) (*UserSummary, error) {
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	return c.authenticate(ctx, c.cfg.endpoint(c.cfg.LoginPath), loginRequest{
		Email:    email,
		Password: password,
	})
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (*UserSummary, error) {
	if r.Email == "" || r.Password == "" {
		return nil, errors.New("email and password are required")
	}
	return c.authenticate(ctx, c.cfg.endpoint(c.cfg.RegisterPath), r)
}

func (c *Client) authenticate(ctx context.Context, url string, payload any) (*UserSummary, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(resp.StatusCode, body)
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	tok, err := parseToken(env)
	if err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	cred := c.coord.install(tok)
	c.logger.Debug().Uint64("generation", cred.Generation).Msg("signed in")
	return env.user(), nil
}

// Logout ends the session. Local state is cleared first and unconditionally;
// the server call is best-effort and its error is only informational.
func (c *Client) Logout(ctx context.Context) error {
	c.coord.signOut()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.LogoutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.endpoint(c.cfg.LogoutPath), nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}

	resp, err := c.doer.DoWithContext(reqCtx, req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("logout request failed")
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("logout rejected by server")
		return &ProviderError{StatusCode: resp.StatusCode, Message: "logout rejected"}
	}
	return nil
}
