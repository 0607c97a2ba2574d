package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/session-cli/identity"
	"github.com/go-authgate/session-cli/record"
	"github.com/go-authgate/session-cli/session"
	"github.com/go-authgate/session-cli/tui"
)

// callTimeout bounds one protected call, including any wait for a refresh.
const callTimeout = 30 * time.Second

// Record statuses besides the bootstrap outcomes.
const (
	statusInvalidated = "invalidated"
	statusLoggedOut   = "logged_out"
)

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func newLogger(debug bool) zerolog.Logger {
	if !debug {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().
		Timestamp().
		Logger()
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	warnInsecure(cfg.ServerURL)
	logger := newLogger(cfg.Debug)

	// Debug logs share stderr with the TUI, so fall back to plain output.
	if isTTY() && !cfg.Debug {
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(cfg, d, logger)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(cfg, d, logger); err != nil {
			os.Exit(1)
		}
	}
}

func run(cfg *appConfig, d tui.Displayer, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records := record.NewFile(cfg.StateFile)
	if last, err := records.Load(cfg.ServerURL); err == nil {
		d.PreviousSession(last.Status, last.UpdatedAt)
	} else {
		if !errors.Is(err, record.ErrNoRecord) {
			logger.Warn().Err(err).Str("path", records.Path()).Msg("ignoring unreadable session record")
		}
		d.NoPreviousSession()
	}
	remember := func(status string) {
		if err := records.Save(&record.Record{Server: cfg.ServerURL, Status: status}); err != nil {
			d.RecordSaveFailed(err)
		}
	}

	reg := prometheus.NewRegistry()
	client, err := session.New(
		cfg.sessionConfig(),
		session.WithLogger(logger),
		session.WithMetrics(reg),
		session.WithLifecycleHook(session.HookFunc(func(context.Context) {
			remember(statusInvalidated)
			d.SignInRequired()
		})),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}

	d.Bootstrapping()
	res := client.Bootstrap(ctx)
	switch res.Status {
	case session.Authenticated:
		d.SessionRestored()
		remember(res.Status.String())
	case session.SignedOut:
		d.SignedOut()
		remember(res.Status.String())
	default:
		// Nothing was learned; keep whatever the last run recorded.
		d.BootstrapDeferred(res.Err)
	}

	var user *session.UserSummary
	if !client.Authenticated() && cfg.Email != "" {
		d.SigningIn(cfg.Email)
		user, err = client.Login(ctx, cfg.Email, cfg.Password)
		if err != nil {
			d.SignInFailed(err)
		} else {
			remember(session.Authenticated.String())
		}
	}

	summary := tui.Summary{Calls: cfg.Calls}
	if cred := client.Store().Get(); cred != nil {
		summary.User = displayName(cred, user)
		if user != nil && summary.User != "" {
			d.SignedIn(summary.User)
		}
	}

	summary.Succeeded = makeCalls(ctx, client, cfg, d)

	if cfg.Logout {
		logoutErr := client.Logout(ctx)
		remember(statusLoggedOut)
		d.LoggedOut(logoutErr)
	}

	summary.Refreshes = exchangeCount(reg)
	d.Done(summary)
	return nil
}

// displayName labels the signed-in user for the screen only. Claims are read
// without verification, so the result is never stored or trusted.
func displayName(cred *session.Credential, user *session.UserSummary) string {
	if hint, err := identity.DecodeHint(cred.AccessToken()); err == nil {
		return hint.DisplayName()
	}
	if user == nil {
		return ""
	}
	return (&identity.Hint{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}).DisplayName()
}

// makeCalls fires cfg.Calls concurrent requests at the protected endpoint and
// returns how many came back 2xx.
func makeCalls(ctx context.Context, client *session.Client, cfg *appConfig, d tui.Displayer) int {
	d.CallsStarted(cfg.Calls)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range cfg.Calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.NewString()
			status, err := callProtected(ctx, client, cfg.apiURL(), id)
			if err != nil {
				d.CallFailed(id, err)
				return
			}
			if status >= 200 && status < 300 {
				succeeded.Add(1)
			}
			d.CallOK(id, status)
		}()
	}
	wg.Wait()
	return int(succeeded.Load())
}

func callProtected(ctx context.Context, client *session.Client, url, requestID string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(session.RequestIDHeader, requestID)

	resp, err := client.Do(reqCtx, req)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			return 0, fmt.Errorf("sign-in required: %w", err)
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// exchangeCount sums the refresh exchange counter across outcomes.
func exchangeCount(g prometheus.Gatherer) int {
	families, err := g.Gather()
	if err != nil {
		return 0
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != "session_refresh_exchanges_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return int(total)
}
