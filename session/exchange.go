package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Exchange trades the long-lived cookie credential for a new bearer
// credential at the refresh endpoint.
type Exchange struct {
	doer    Doer
	url     string
	timeout time.Duration
}

// NewExchange returns an Exchange posting to url. A non-positive timeout
// falls back to DefaultRefreshTimeout.
func NewExchange(doer Doer, url string, timeout time.Duration) *Exchange {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Exchange{doer: doer, url: url, timeout: timeout}
}

// Exchange performs one refresh call. Failures are always *RefreshError:
// 401 and 403 are SessionDead, everything else (including timeouts and
// malformed bodies) is Transient.
func (e *Exchange) Exchange(ctx context.Context) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.url, nil)
	if err != nil {
		return nil, transient(0, fmt.Errorf("failed to create refresh request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.doer.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, transient(0, fmt.Errorf("refresh request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, transient(resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause := &oauth2.RetrieveError{Response: resp, Body: body}
		if perr := providerError(resp.StatusCode, body); perr.Code != "" {
			cause.ErrorCode = perr.Code
			cause.ErrorDescription = perr.Message
		}
		if classifyStatus(resp.StatusCode) == SessionDead {
			return nil, sessionDead(resp.StatusCode, cause)
		}
		return nil, transient(resp.StatusCode, cause)
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, transient(resp.StatusCode, err)
	}
	tok, err := parseToken(env)
	if err != nil {
		return nil, transient(resp.StatusCode, fmt.Errorf("invalid refresh response: %w", err))
	}
	return tok, nil
}
