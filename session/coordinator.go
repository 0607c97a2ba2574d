package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// State is the refresh state of a Coordinator.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

type outcome struct {
	cred *Credential
	err  error
}

// waiter is one request parked behind the in-flight exchange.
type waiter struct {
	ch chan outcome // buffered, written exactly once
}

// Coordinator deduplicates refresh triggers into a single in-flight
// exchange and fans its outcome out to every queued request in FIFO order.
//
// The Store and every field below mu are only mutated while holding mu.
type Coordinator struct {
	store     *Store
	refresher Refresher
	hook      LifecycleHook
	logger    zerolog.Logger
	metrics   *metrics

	mu        sync.Mutex
	state     State
	queue     []*waiter
	signedOut bool
	// epoch changes on every login/logout so an exchange that started before
	// either cannot overwrite the newer local state.
	epoch uint64

	bootOnce   sync.Once
	bootDone   chan struct{}
	bootResult BootstrapResult
}

// NewCoordinator returns an idle Coordinator owning store's mutations.
func NewCoordinator(store *Store, refresher Refresher, opts ...Option) *Coordinator {
	o := newOptions(opts)
	return newCoordinator(store, refresher, o, newMetrics(o.registerer))
}

func newCoordinator(store *Store, refresher Refresher, o *options, m *metrics) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		hook:      o.hook,
		logger:    o.logger,
		metrics:   m,
		bootDone:  make(chan struct{}),
	}
}

// State reports whether an exchange is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued requests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// AwaitRefresh is called after a request sent with credential used (nil if
// none) was rejected with 401. It returns a credential newer than used,
// starting an exchange only if none is in flight, or the episode's failure.
func (c *Coordinator) AwaitRefresh(ctx context.Context, used *Credential) (*Credential, error) {
	c.mu.Lock()
	cur := c.store.Get()
	if cur != nil && cur.Generation != used.generation() {
		c.mu.Unlock()
		return cur, nil
	}
	if c.state == Idle && cur == nil && c.signedOut {
		c.mu.Unlock()
		return nil, ErrUnauthenticated
	}
	w := c.enqueueLocked()
	c.mu.Unlock()

	return c.wait(ctx, w)
}

// enqueueLocked appends a waiter and starts an exchange when idle.
func (c *Coordinator) enqueueLocked() *waiter {
	w := &waiter{ch: make(chan outcome, 1)}
	c.queue = append(c.queue, w)
	c.metrics.waiters.Set(float64(len(c.queue)))
	if c.state == Idle {
		c.state = Refreshing
		go c.run(uuid.NewString(), c.epoch)
	}
	return w
}

// wait blocks until w is resolved or ctx ends. A cancelled waiter is removed
// from the queue and will not be replayed.
func (c *Coordinator) wait(ctx context.Context, w *waiter) (*Credential, error) {
	select {
	case res := <-w.ch:
		return res.cred, res.err
	case <-ctx.Done():
		c.mu.Lock()
		c.removeLocked(w)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Coordinator) removeLocked(w *waiter) {
	for i, q := range c.queue {
		if q == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.metrics.waiters.Set(float64(len(c.queue)))
			return
		}
	}
}

// run performs one exchange and resolves the episode. The exchange is
// detached from any caller's cancellation; its own timeout bounds it.
func (c *Coordinator) run(id string, epoch uint64) {
	log := c.logger.With().Str("episode", id).Logger()
	log.Debug().Msg("refresh exchange started")

	tok, err := c.refresher.Exchange(context.Background())
	if err != nil {
		var rerr *RefreshError
		if !errors.As(err, &rerr) {
			err = transient(0, err)
		}
	}

	c.mu.Lock()
	stale := epoch != c.epoch
	res, dead := c.resolveLocked(epoch, tok, err)
	waiters := c.queue
	c.queue = nil
	c.state = Idle
	c.metrics.waiters.Set(0)
	c.mu.Unlock()

	switch {
	case stale:
		c.metrics.observeExchange("discarded")
		log.Debug().Err(err).Msg("refresh result discarded after local sign-in change")
	case dead:
		c.metrics.observeExchange(SessionDead.String())
		c.metrics.invalidations.Inc()
		log.Warn().Err(err).Int("waiters", len(waiters)).Msg("session invalidated")
		c.hook.OnSessionInvalidated(context.Background())
	case err != nil:
		c.metrics.observeExchange(Transient.String())
		log.Warn().Err(err).Int("waiters", len(waiters)).Msg("refresh failed, session kept")
	default:
		c.metrics.observeExchange("success")
		log.Debug().Uint64("generation", res.cred.generation()).Int("waiters", len(waiters)).
			Msg("refresh succeeded")
	}

	for _, w := range waiters {
		w.ch <- res
	}
}

// resolveLocked applies an exchange result to the store and reports whether
// the episode ended in a dead session.
func (c *Coordinator) resolveLocked(epoch uint64, tok *oauth2.Token, err error) (outcome, bool) {
	if epoch != c.epoch {
		// Login or logout happened while the exchange was in flight.
		if cur := c.store.Get(); cur != nil {
			return outcome{cred: cur}, false
		}
		return outcome{err: ErrUnauthenticated}, false
	}

	switch {
	case err == nil:
		c.signedOut = false
		return outcome{cred: c.store.set(tok)}, false
	case errors.Is(err, ErrSessionDead):
		c.store.clear()
		c.signedOut = true
		return outcome{err: err}, true
	default:
		return outcome{err: err}, false
	}
}

// install stores a credential obtained from login or registration.
func (c *Coordinator) install(tok *oauth2.Token) *Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.signedOut = false
	return c.store.set(tok)
}

// signOut drops the credential and marks the session as ended locally.
func (c *Coordinator) signOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.signedOut = true
	c.store.clear()
}
