package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const maxResponseBody = 1 << 20

// UserSummary is the profile returned next to a bearer credential. The core
// never interprets it.
type UserSummary struct {
	ID                     string `json:"id"`
	Email                  string `json:"email"`
	FirstName              string `json:"firstName"`
	LastName               string `json:"lastName"`
	PhoneNumber            string `json:"phoneNumber"`
	HasCompletedOnboarding bool   `json:"hasCompletedOnboarding"`
}

type envelopeData struct {
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int          `json:"expiresIn"`
	User        *UserSummary `json:"user"`
	Message     string       `json:"message"`
}

// tokenEnvelope accepts the response shapes the identity provider is known to
// produce: flat {"success":true,"accessToken":...}, JSend
// {"status":"success","data":{"accessToken":...}}, and OAuth-style
// {"access_token":...,"expires_in":...}.
type tokenEnvelope struct {
	Success     *bool         `json:"success"`
	Status      string        `json:"status"`
	AccessToken string        `json:"accessToken"`
	OAuthToken  string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expiresIn"`
	OAuthExpiry int           `json:"expires_in"`
	User        *UserSummary  `json:"user"`
	Data        *envelopeData `json:"data"`
	Error       string        `json:"error"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
}

func (e *tokenEnvelope) accessToken() string {
	switch {
	case e.AccessToken != "":
		return e.AccessToken
	case e.OAuthToken != "":
		return e.OAuthToken
	case e.Data != nil:
		return e.Data.AccessToken
	}
	return ""
}

func (e *tokenEnvelope) expiresIn() int {
	switch {
	case e.ExpiresIn > 0:
		return e.ExpiresIn
	case e.OAuthExpiry > 0:
		return e.OAuthExpiry
	case e.Data != nil:
		return e.Data.ExpiresIn
	}
	return 0
}

func (e *tokenEnvelope) user() *UserSummary {
	if e.User != nil {
		return e.User
	}
	if e.Data != nil {
		return e.Data.User
	}
	return nil
}

func decodeEnvelope(body []byte) (*tokenEnvelope, error) {
	var env tokenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &env, nil
}

// parseToken extracts and validates the bearer credential from a 2xx body.
func parseToken(env *tokenEnvelope) (*oauth2.Token, error) {
	if env.Success != nil && !*env.Success {
		return nil, errors.New("response reports success=false")
	}
	if env.Status != "" && env.Status != "success" {
		return nil, fmt.Errorf("unexpected response status %q", env.Status)
	}

	accessToken := env.accessToken()
	if err := validateTokenResponse(accessToken, env.TokenType); err != nil {
		return nil, err
	}

	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if n := env.expiresIn(); n > 0 {
		tok.Expiry = time.Now().Add(time.Duration(n) * time.Second)
	}
	return tok, nil
}

// validateTokenResponse rejects bodies that cannot carry a usable credential.
func validateTokenResponse(accessToken, tokenType string) error {
	if accessToken == "" {
		return errors.New("access token is empty")
	}

	if len(accessToken) < 10 {
		return fmt.Errorf("access token is too short (length: %d)", len(accessToken))
	}

	if strings.ContainsAny(accessToken, " \t\r\n") {
		return errors.New("access token contains whitespace")
	}

	if tokenType != "" && !strings.EqualFold(tokenType, "Bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}

	return nil
}

// providerError builds a ProviderError from a non-2xx identity provider body.
func providerError(status int, body []byte) *ProviderError {
	perr := &ProviderError{StatusCode: status}
	env, err := decodeEnvelope(body)
	if err != nil {
		perr.Message = strings.TrimSpace(string(body))
		if len(perr.Message) > 200 {
			perr.Message = perr.Message[:200]
		}
		return perr
	}
	perr.Code = env.Code
	switch {
	case env.Error != "":
		perr.Message = env.Error
	case env.Message != "":
		perr.Message = env.Message
	case env.Data != nil && env.Data.Message != "":
		perr.Message = env.Data.Message
	}
	return perr
}
