package tui

import "time"

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgPreviousSession signals how the last run against this server ended.
type MsgPreviousSession struct {
	Status string
	At     time.Time
}

// MsgNoPreviousSession signals that nothing is recorded for this server.
type MsgNoPreviousSession struct{}

// MsgBootstrapping signals that the startup refresh is in progress.
type MsgBootstrapping struct{}

// MsgSessionRestored signals that the cookie produced a bearer credential.
type MsgSessionRestored struct{}

// MsgSignedOut signals that bootstrap found no live session.
type MsgSignedOut struct{}

// MsgBootstrapDeferred signals that bootstrap could not decide yet.
type MsgBootstrapDeferred struct{ Err error }

// MsgSigningIn signals that a login call is in progress.
type MsgSigningIn struct{ Email string }

// MsgSignedIn signals that login succeeded.
type MsgSignedIn struct{ Name string }

// MsgSignInFailed signals that login was rejected or failed.
type MsgSignInFailed struct{ Err error }

// MsgSignInRequired signals that the session ended and the user must sign in.
type MsgSignInRequired struct{}

// MsgCallsStarted signals that a batch of protected calls was dispatched.
type MsgCallsStarted struct{ Total int }

// MsgCallOK signals that one protected call completed.
type MsgCallOK struct {
	RequestID string
	Status    int
}

// MsgCallFailed signals that one protected call failed.
type MsgCallFailed struct {
	RequestID string
	Err       error
}

// MsgRecordSaveFailed signals that writing the session record failed.
type MsgRecordSaveFailed struct{ Err error }

// MsgLoggedOut signals that the session was ended locally.
type MsgLoggedOut struct{ Err error }

// MsgDone signals the end of the run.
type MsgDone struct{ Summary Summary }

// MsgFatal signals a fatal error that should terminate the run.
type MsgFatal struct{ Err error }
