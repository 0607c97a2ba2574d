package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type refreshMode int32

const (
	refreshOK refreshMode = iota
	refreshDead
	refreshUnavailable
	refreshMalformed
)

// fakeProvider is an identity provider plus one protected endpoint.
type fakeProvider struct {
	srv *httptest.Server

	mu          sync.Mutex
	valid       map[string]bool
	issued      int
	rejectAll   bool
	refreshGate chan struct{}
	seenAuth    []string

	mode           atomic.Int32
	refreshCalls   atomic.Int32
	protectedCalls atomic.Int32
	unauthorized   atomic.Int32
	logoutCalls    atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{valid: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", p.handleLogin)
	mux.HandleFunc("POST /auth/register", p.handleLogin)
	mux.HandleFunc("POST /auth/refresh", p.handleRefresh)
	mux.HandleFunc("POST /auth/logout", p.handleLogout)
	mux.HandleFunc("/api/me", p.handleProtected)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		p.openGate()
		p.srv.Close()
	})
	return p
}

func (p *fakeProvider) issueLocked() string {
	p.issued++
	tok := fmt.Sprintf("access-token-%d", p.issued)
	p.valid[tok] = true
	return tok
}

func (p *fakeProvider) setRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (p *fakeProvider) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Email and password are required",
			"code":  "INVALID_INPUT",
		})
		return
	}
	if len(body.Password) < 8 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Invalid credentials",
			"code":  "INVALID_CREDENTIALS",
		})
		return
	}

	p.mu.Lock()
	tok := p.issueLocked()
	p.mu.Unlock()

	p.setRefreshCookie(w, "refresh-"+tok)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": tok,
		"user": map[string]any{
			"id":        "user_1",
			"email":     body.Email,
			"firstName": "User",
			"lastName":  "Name",
		},
	})
}

func (p *fakeProvider) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p.refreshCalls.Add(1)

	p.mu.Lock()
	gate := p.refreshGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if c, err := r.Cookie(RefreshCookieName); err != nil || c.Value == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "No refresh token provided",
			"code":  "NO_REFRESH_TOKEN",
		})
		return
	}

	switch refreshMode(p.mode.Load()) {
	case refreshDead:
		http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Path: "/", MaxAge: -1})
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Invalid refresh token",
			"code":  "INVALID_REFRESH_TOKEN",
		})
	case refreshUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Internal server error",
			"code":  "SERVER_ERROR",
		})
	case refreshMalformed:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":`))
	default:
		p.mu.Lock()
		tok := p.issueLocked()
		p.mu.Unlock()
		p.setRefreshCookie(w, "refresh-"+tok)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   map[string]string{"accessToken": tok},
		})
	}
}

func (p *fakeProvider) handleLogout(w http.ResponseWriter, _ *http.Request) {
	p.logoutCalls.Add(1)
	http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (p *fakeProvider) handleProtected(w http.ResponseWriter, r *http.Request) {
	p.protectedCalls.Add(1)
	auth := r.Header.Get("Authorization")
	tok := strings.TrimPrefix(auth, "Bearer ")

	p.mu.Lock()
	ok := auth != tok && p.valid[tok] && !p.rejectAll
	if ok {
		p.seenAuth = append(p.seenAuth, auth)
	}
	p.mu.Unlock()

	if !ok {
		p.unauthorized.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Access token expired",
			"code":  "TOKEN_EXPIRED",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"request_id": r.Header.Get(RequestIDHeader)})
}

// expireAll invalidates every issued bearer credential.
func (p *fakeProvider) expireAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = make(map[string]bool)
}

// closeGateForRefresh makes refresh calls block until openGate.
func (p *fakeProvider) closeGateForRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshGate = make(chan struct{})
}

func (p *fakeProvider) openGate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshGate != nil {
		close(p.refreshGate)
		p.refreshGate = nil
	}
}

func (p *fakeProvider) authHeaders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seenAuth...)
}

func (p *fakeProvider) setMode(m refreshMode) {
	p.mode.Store(int32(m))
}

func newTestClient(t *testing.T, p *fakeProvider, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig(p.srv.URL)
	cfg.DisableRetry = true
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func getProtected(t *testing.T, p *fakeProvider) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, p.srv.URL+"/api/me", nil)
	require.NoError(t, err)
	return req
}

type hookCounter struct {
	n atomic.Int32
}

func (h *hookCounter) hook() LifecycleHook {
	return HookFunc(func(_ context.Context) { h.n.Add(1) })
}

func waitPending(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Pending() == n }, 5*time.Second, 5*time.Millisecond,
		"expected %d queued requests", n)
}
