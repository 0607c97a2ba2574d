package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/go-authgate/session-cli/session"
)

var (
	flagServerURL      *string
	flagAPIPath        *string
	flagStateFile      *string
	flagEmail          *string
	flagCalls          *string
	flagRefreshTimeout *string
	flagNoRetry        *bool
	flagDebug          *bool
	flagLogout         *bool
)

// appConfig is the resolved CLI configuration.
type appConfig struct {
	ServerURL      string
	APIPath        string
	StateFile      string
	Email          string
	Password       string
	Calls          int
	RefreshTimeout time.Duration
	NoRetry        bool
	Debug          bool
	Logout         bool
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"Identity provider / API base URL (default: http://localhost:3000 or SERVER_URL env)",
	)
	flagAPIPath = flag.String("api-path", "", "Protected endpoint to call (default: /api/me or API_PATH env)")
	flagStateFile = flag.String(
		"state-file",
		"",
		"Session record file (default: .session-state.json or STATE_FILE env)",
	)
	flagEmail = flag.String("email", "", "Sign in with this email if no session is restored (or EMAIL env)")
	flagCalls = flag.String("calls", "", "Concurrent protected calls to make (default: 3 or CALLS env)")
	flagRefreshTimeout = flag.String(
		"refresh-timeout",
		"",
		"Timeout for one refresh exchange (default: 10s or REFRESH_TIMEOUT env)",
	)
	flagNoRetry = flag.Bool("no-retry", false, "Send each request once, without retries (or NO_RETRY env)")
	flagDebug = flag.Bool("debug", false, "Log refresh episodes to stderr (or DEBUG env)")
	flagLogout = flag.Bool("logout", false, "Sign out after the calls (or LOGOUT env)")
}

// initConfig parses flags and resolves configuration.
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() (*appConfig, error) {
	flag.Parse()
	return loadConfig()
}

// loadConfig resolves every key with priority: flag > env > default.
func loadConfig() (*appConfig, error) {
	cfg := &appConfig{
		ServerURL: getConfig(*flagServerURL, "SERVER_URL", "http://localhost:3000"),
		APIPath:   getConfig(*flagAPIPath, "API_PATH", "/api/me"),
		StateFile: getConfig(*flagStateFile, "STATE_FILE", ".session-state.json"),
		Email:     getConfig(*flagEmail, "EMAIL", ""),
		// Password is env-only so it never shows up in a process listing.
		Password: getEnv("PASSWORD", ""),
	}

	if err := validateServerURL(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}
	if !strings.HasPrefix(cfg.APIPath, "/") {
		return nil, fmt.Errorf("API_PATH must start with /, got: %q", cfg.APIPath)
	}

	rawCalls := getConfig(*flagCalls, "CALLS", "3")
	calls, err := strconv.Atoi(rawCalls)
	if err != nil || calls < 1 {
		return nil, fmt.Errorf("CALLS must be a positive integer, got: %q", rawCalls)
	}
	cfg.Calls = calls

	timeout, err := time.ParseDuration(
		getConfig(*flagRefreshTimeout, "REFRESH_TIMEOUT", session.DefaultRefreshTimeout.String()),
	)
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("REFRESH_TIMEOUT must be a positive duration: %w", errOrInvalid(err))
	}
	cfg.RefreshTimeout = timeout

	if cfg.NoRetry, err = getBool(*flagNoRetry, "NO_RETRY"); err != nil {
		return nil, err
	}
	if cfg.Debug, err = getBool(*flagDebug, "DEBUG"); err != nil {
		return nil, err
	}
	if cfg.Logout, err = getBool(*flagLogout, "LOGOUT"); err != nil {
		return nil, err
	}

	if cfg.Email != "" && cfg.Password == "" {
		return nil, errors.New("EMAIL is set but PASSWORD is not; set PASSWORD in the environment or .env file")
	}

	return cfg, nil
}

// sessionConfig maps the CLI configuration onto the session client.
func (c *appConfig) sessionConfig() session.Config {
	sc := session.DefaultConfig(c.ServerURL)
	sc.RefreshTimeout = c.RefreshTimeout
	sc.DisableRetry = c.NoRetry
	return sc
}

// apiURL returns the protected endpoint URL.
func (c *appConfig) apiURL() string {
	return strings.TrimRight(c.ServerURL, "/") + c.APIPath
}

// warnInsecure prints the plaintext warning for http:// servers.
func warnInsecure(serverURL string) {
	if strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Credentials will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBool treats a set flag as true, otherwise parses envKey.
func getBool(flagValue bool, envKey string) (bool, error) {
	if flagValue {
		return true, nil
	}
	raw := getEnv(envKey, "false")
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got: %q", envKey, raw)
	}
	return v, nil
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("value must be greater than zero")
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}
