package session

import (
	"context"
	"errors"
)

// BootstrapStatus is the state the process starts in.
type BootstrapStatus int

const (
	// Deferred means the exchange failed transiently (or the caller gave up
	// waiting). The session is neither confirmed nor ended; the next 401 may
	// trigger another attempt.
	Deferred BootstrapStatus = iota
	// Authenticated means a bearer credential was obtained from the cookie.
	Authenticated
	// SignedOut means the refresh endpoint rejected the cookie.
	SignedOut
)

func (s BootstrapStatus) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case SignedOut:
		return "signed_out"
	default:
		return "deferred"
	}
}

// BootstrapResult reports the outcome of the startup refresh.
type BootstrapResult struct {
	Status BootstrapStatus
	Err    error
}

// Bootstrap performs the single startup refresh attempt. It runs at most once
// per Coordinator; later calls return the first result. If an exchange is
// already in flight the bootstrap joins it instead of starting another.
func (c *Coordinator) Bootstrap(ctx context.Context) BootstrapResult {
	c.bootOnce.Do(func() {
		defer close(c.bootDone)

		c.mu.Lock()
		w := c.enqueueLocked()
		c.mu.Unlock()

		cred, err := c.wait(ctx, w)
		switch {
		case err == nil && cred != nil:
			c.bootResult = BootstrapResult{Status: Authenticated}
		case errors.Is(err, ErrSessionDead), errors.Is(err, ErrUnauthenticated):
			c.bootResult = BootstrapResult{Status: SignedOut, Err: err}
		default:
			c.bootResult = BootstrapResult{Status: Deferred, Err: err}
		}
		c.logger.Debug().Stringer("status", c.bootResult.Status).Msg("bootstrap finished")
	})
	return c.bootResult
}

// Ready is closed once Bootstrap has settled.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.bootDone
}
