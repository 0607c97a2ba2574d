package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type callResult struct {
	status int
	err    error
}

// concurrentCalls fires n protected calls and collects their results.
func concurrentCalls(t *testing.T, c *Client, p *fakeProvider, n int) <-chan callResult {
	t.Helper()
	reqs := make([]*http.Request, n)
	for i := range reqs {
		reqs[i] = getProtected(t, p)
	}

	results := make(chan callResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for _, req := range reqs {
		go func() {
			defer wg.Done()
			resp, err := c.Do(context.Background(), req)
			if err != nil {
				results <- callResult{err: err}
				return
			}
			drain(resp)
			results <- callResult{status: resp.StatusCode}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func TestClient_ThreeExpiredCallsShareOneRefresh(t *testing.T) {
	p := newFakeProvider(t)
	reg := prometheus.NewRegistry()
	c := newTestClient(t, p, WithMetrics(reg))

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, "access-token-1", c.Store().Get().AccessToken())

	p.expireAll()
	p.closeGateForRefresh()

	results := concurrentCalls(t, c, p, 3)
	waitPending(t, c.Coordinator(), 3)
	require.Equal(t, Refreshing, c.Coordinator().State())
	p.openGate()

	for r := range results {
		require.NoError(t, r.err)
		require.Equal(t, http.StatusOK, r.status)
	}

	require.EqualValues(t, 1, p.refreshCalls.Load())
	require.EqualValues(t, 3, p.unauthorized.Load())
	require.EqualValues(t, 6, p.protectedCalls.Load(), "each call is replayed exactly once")
	require.Equal(t, []string{
		"Bearer access-token-2",
		"Bearer access-token-2",
		"Bearer access-token-2",
	}, p.authHeaders())
	require.Equal(t, Idle, c.Coordinator().State())
	require.Equal(t, uint64(2), c.Store().Get().Generation)

	require.InDelta(t, 1, testutil.ToFloat64(c.metrics.exchanges.WithLabelValues("success")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(c.metrics.replays.WithLabelValues("ok")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(c.metrics.waiters), 0)
}

func TestClient_SingleFlightManyCallers(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.expireAll()
	p.closeGateForRefresh()

	const n = 16
	results := concurrentCalls(t, c, p, n)
	waitPending(t, c.Coordinator(), n)
	p.openGate()

	ok := 0
	for r := range results {
		require.NoError(t, r.err)
		if r.status == http.StatusOK {
			ok++
		}
	}
	require.Equal(t, n, ok)
	require.EqualValues(t, 1, p.refreshCalls.Load())
}

func TestClient_DeadSessionFanOut(t *testing.T) {
	p := newFakeProvider(t)
	hooks := &hookCounter{}
	c := newTestClient(t, p, WithLifecycleHook(hooks.hook()))

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.expireAll()
	p.setMode(refreshDead)
	p.closeGateForRefresh()

	const n = 5
	results := concurrentCalls(t, c, p, n)
	waitPending(t, c.Coordinator(), n)
	p.openGate()

	for r := range results {
		require.ErrorIs(t, r.err, ErrSessionDead)
		require.NotErrorIs(t, r.err, ErrTransient)
		var rerr *RefreshError
		require.ErrorAs(t, r.err, &rerr)
		require.Equal(t, http.StatusUnauthorized, rerr.StatusCode)
	}

	require.EqualValues(t, 1, hooks.n.Load())
	require.Nil(t, c.Store().Get())
	require.EqualValues(t, 1, p.refreshCalls.Load())
	require.InDelta(t, 1, testutil.ToFloat64(c.metrics.invalidations), 0)

	// A later call carries no credential and is treated as unauthenticated.
	_, err = c.Do(context.Background(), getProtected(t, p))
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.NotErrorIs(t, err, ErrSessionDead)
	require.EqualValues(t, 1, p.refreshCalls.Load())
	require.EqualValues(t, 1, hooks.n.Load())
}

func TestClient_TransientFailureKeepsSession(t *testing.T) {
	p := newFakeProvider(t)
	hooks := &hookCounter{}
	c := newTestClient(t, p, WithLifecycleHook(hooks.hook()))

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	before := c.Store().Get()

	p.expireAll()
	p.setMode(refreshUnavailable)
	p.closeGateForRefresh()

	results := concurrentCalls(t, c, p, 3)
	waitPending(t, c.Coordinator(), 3)
	p.openGate()

	for r := range results {
		require.ErrorIs(t, r.err, ErrTransient)
		require.NotErrorIs(t, r.err, ErrSessionDead)
		var rerr *RefreshError
		require.ErrorAs(t, r.err, &rerr)
		require.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
	}
	require.Same(t, before, c.Store().Get())
	require.EqualValues(t, 0, hooks.n.Load())
	require.EqualValues(t, 1, p.refreshCalls.Load())

	// The next independent call triggers a fresh attempt.
	p.setMode(refreshOK)
	resp, err := c.Do(context.Background(), getProtected(t, p))
	require.NoError(t, err)
	drain(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, p.refreshCalls.Load())
}

func TestClient_MalformedRefreshIsTransient(t *testing.T) {
	p := newFakeProvider(t)
	hooks := &hookCounter{}
	c := newTestClient(t, p, WithLifecycleHook(hooks.hook()))

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.expireAll()
	p.setMode(refreshMalformed)

	_, err = c.Do(context.Background(), getProtected(t, p))
	require.ErrorIs(t, err, ErrTransient)
	require.NotNil(t, c.Store().Get())
	require.EqualValues(t, 0, hooks.n.Load())
}

func TestClient_ReplayIsNotRetriedTwice(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.mu.Lock()
	p.rejectAll = true
	p.mu.Unlock()

	resp, err := c.Do(context.Background(), getProtected(t, p))
	require.NoError(t, err)
	drain(resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 1, p.refreshCalls.Load())
	require.EqualValues(t, 2, p.protectedCalls.Load())
	require.InDelta(t, 1, testutil.ToFloat64(c.metrics.replays.WithLabelValues("unauthorized")), 0)
}

func TestClient_NonAuthFailuresPassThrough(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	req, err := http.NewRequest(http.MethodGet, p.srv.URL+"/missing", nil)
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	drain(resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.EqualValues(t, 0, p.refreshCalls.Load())
}

func TestClient_ReplaysRequestBody(t *testing.T) {
	p := newFakeProvider(t)
	var (
		mu     sync.Mutex
		bodies []string
	)
	p.srv.Config.Handler.(*http.ServeMux).HandleFunc("POST /api/notes", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		p.handleProtected(w, r)
	})
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.expireAll()

	req, err := http.NewRequest(http.MethodPost, p.srv.URL+"/api/notes", io.NopCloser(strings.NewReader(`{"title":"hello"}`)))
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	drain(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{`{"title":"hello"}`, `{"title":"hello"}`}, bodies)
}

func TestClient_LoginRejected(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "user@example.com", "short")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	require.Equal(t, "INVALID_CREDENTIALS", perr.Code)
	require.Equal(t, "Invalid credentials", perr.Message)
	require.Nil(t, c.Store().Get())

	_, err = c.Login(context.Background(), "", "")
	require.Error(t, err)
}

func TestClient_RegisterSignsIn(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	user, err := c.Register(context.Background(), RegisterRequest{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		PhoneNumber: "+1234567890",
		Password:    "password123",
	})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.True(t, c.Authenticated())
}

func TestClient_LogoutClearsLocalStateFirst(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	require.Nil(t, c.Store().Get())
	require.EqualValues(t, 1, p.logoutCalls.Load())

	// No credential and a known signed-out session: no refresh is attempted.
	_, err = c.Do(context.Background(), getProtected(t, p))
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.EqualValues(t, 0, p.refreshCalls.Load())
}

func TestClient_LogoutWithServerDown(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.srv.Close()

	err = c.Logout(context.Background())
	require.Error(t, err)
	require.Nil(t, c.Store().Get())
}

func TestClient_LogoutDuringRefreshDiscardsResult(t *testing.T) {
	p := newFakeProvider(t)
	hooks := &hookCounter{}
	c := newTestClient(t, p, WithLifecycleHook(hooks.hook()))

	_, err := c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.expireAll()
	p.closeGateForRefresh()

	results := concurrentCalls(t, c, p, 1)
	waitPending(t, c.Coordinator(), 1)

	c.Coordinator().signOut()
	p.openGate()

	r := <-results
	require.ErrorIs(t, r.err, ErrUnauthenticated)
	require.Nil(t, c.Store().Get())
	require.EqualValues(t, 0, hooks.n.Load())
}

func TestClient_DefaultRetryDoer(t *testing.T) {
	p := newFakeProvider(t)
	c, err := New(DefaultConfig(p.srv.URL))
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	p.expireAll()

	resp, err := c.Do(context.Background(), getProtected(t, p))
	require.NoError(t, err)
	drain(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, p.refreshCalls.Load())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty base URL", DefaultConfig("")},
		{"bad scheme", DefaultConfig("ftp://example.com")},
		{"missing host", DefaultConfig("http://")},
		{"relative path", func() Config {
			c := DefaultConfig("http://localhost:8080")
			c.RefreshPath = "auth/refresh"
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestClient_DoerErrorPassesThrough(t *testing.T) {
	boom := errors.New("connection reset")
	c, err := New(DefaultConfig("http://localhost:8080"), WithDoer(doerFunc(
		func(context.Context, *http.Request) (*http.Response, error) { return nil, boom },
	)))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://localhost:8080/api/me", nil)
	require.NoError(t, err)
	_, err = c.Do(context.Background(), req)
	require.ErrorIs(t, err, boom)
}

type doerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f doerFunc) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}
