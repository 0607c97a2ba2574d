// Package identity reads a display-only picture of who is signed in. Hints
// come from unverified token claims: they are never persisted and never used
// for authorization.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Hint is a non-authoritative description of the signed-in user.
type Hint struct {
	UserID                 string
	Email                  string
	FirstName              string
	LastName               string
	PhoneNumber            string
	HasCompletedOnboarding bool
	ExpiresAt              time.Time
}

// DisplayName returns the best human-readable label available.
func (h *Hint) DisplayName() string {
	switch {
	case h == nil:
		return ""
	case h.FirstName != "" && h.LastName != "":
		return h.FirstName + " " + h.LastName
	case h.FirstName != "":
		return h.FirstName
	case h.Email != "":
		return h.Email
	default:
		return h.UserID
	}
}

// DecodeHint reads the claims of a JWT bearer credential without checking
// its signature. Opaque (non-JWT) credentials return an error; callers should
// treat that as "no hint", not as a failure of the session.
func DecodeHint(raw string) (*Hint, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("credential is not a readable JWT: %w", err)
	}

	h := &Hint{
		UserID:      firstString(claims, "userId", "sub", "id"),
		Email:       firstString(claims, "email"),
		FirstName:   firstString(claims, "firstName", "given_name"),
		LastName:    firstString(claims, "lastName", "family_name"),
		PhoneNumber: firstString(claims, "phoneNumber", "phone_number"),
	}
	if v, ok := claims["hasCompletedOnboarding"].(bool); ok {
		h.HasCompletedOnboarding = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		h.ExpiresAt = exp.Time
	}

	if h.UserID == "" && h.Email == "" {
		return nil, errors.New("credential carries no user claims")
	}
	return h, nil
}

func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
