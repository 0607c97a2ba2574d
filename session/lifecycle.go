package session

import "context"

// LifecycleHook is notified when the session is definitively invalidated.
// Implementations clear identity state held outside this package and route
// the user to sign-in. The Coordinator calls it at most once per failed
// refresh episode, outside its critical section, and before any waiter of
// that episode observes ErrSessionDead.
type LifecycleHook interface {
	OnSessionInvalidated(ctx context.Context)
}

// HookFunc adapts a function to LifecycleHook.
type HookFunc func(ctx context.Context)

func (f HookFunc) OnSessionInvalidated(ctx context.Context) {
	f(ctx)
}

type noopHook struct{}

func (noopHook) OnSessionInvalidated(context.Context) {}
