package tui

import (
	"fmt"
	"io"
	"net/http"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/common-nighthawk/go-figure"
)

// Summary describes the outcome of a run.
type Summary struct {
	User      string
	Calls     int
	Succeeded int
	Refreshes int
}

// Displayer abstracts all output from the session run.
type Displayer interface {
	Banner()
	PreviousSession(status string, at time.Time)
	NoPreviousSession()
	Bootstrapping()
	SessionRestored()
	SignedOut()
	BootstrapDeferred(err error)
	SigningIn(email string)
	SignedIn(name string)
	SignInFailed(err error)
	SignInRequired()
	CallsStarted(total int)
	CallOK(requestID string, status int)
	CallFailed(requestID string, err error)
	RecordSaveFailed(err error)
	LoggedOut(err error)
	Done(s Summary)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprint(p.w, figure.NewFigure("session", "cybermedium", true).String())
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) PreviousSession(status string, at time.Time) {
	fmt.Fprintf(p.w, "Last session: %s (%s)\n", status, at.Format(time.RFC1123))
}

func (p *PlainDisplayer) NoPreviousSession() {
	fmt.Fprintln(p.w, "No previous session recorded")
}

func (p *PlainDisplayer) Bootstrapping() {
	fmt.Fprintln(p.w, "Restoring session...")
}

func (p *PlainDisplayer) SessionRestored() {
	fmt.Fprintln(p.w, "Session restored from cookie")
}

func (p *PlainDisplayer) SignedOut() {
	fmt.Fprintln(p.w, "No active session")
}

func (p *PlainDisplayer) BootstrapDeferred(err error) {
	fmt.Fprintf(p.w, "Could not reach the identity provider, continuing: %v\n", err)
}

func (p *PlainDisplayer) SigningIn(email string) {
	fmt.Fprintf(p.w, "Signing in as %s...\n", email)
}

func (p *PlainDisplayer) SignedIn(name string) {
	fmt.Fprintf(p.w, "Signed in as %s\n", name)
}

func (p *PlainDisplayer) SignInFailed(err error) {
	fmt.Fprintf(p.w, "Sign-in failed: %v\n", err)
}

func (p *PlainDisplayer) SignInRequired() {
	fmt.Fprintln(p.w, "Session expired, please sign in again")
}

func (p *PlainDisplayer) CallsStarted(total int) {
	fmt.Fprintf(p.w, "\nSending %d concurrent requests...\n", total)
}

func (p *PlainDisplayer) CallOK(requestID string, status int) {
	fmt.Fprintf(p.w, "  [%s] %d %s\n", requestID, status, http.StatusText(status))
}

func (p *PlainDisplayer) CallFailed(requestID string, err error) {
	fmt.Fprintf(p.w, "  [%s] failed: %v\n", requestID, err)
}

func (p *PlainDisplayer) RecordSaveFailed(err error) {
	fmt.Fprintf(p.w, "Warning: Failed to save session record: %v\n", err)
}

func (p *PlainDisplayer) LoggedOut(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "Signed out locally (server: %v)\n", err)
		return
	}
	fmt.Fprintln(p.w, "Signed out")
}

func (p *PlainDisplayer) Done(s Summary) {
	fmt.Fprintln(p.w, "\n========================================")
	if s.User != "" {
		fmt.Fprintf(p.w, "User: %s\n", s.User)
	}
	fmt.Fprintf(p.w, "Requests: %d/%d succeeded\n", s.Succeeded, s.Calls)
	fmt.Fprintf(p.w, "Refresh exchanges: %d\n", s.Refreshes)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                               {}
func (NoopDisplayer) PreviousSession(_ string, _ time.Time) {}
func (NoopDisplayer) NoPreviousSession()                    {}
func (NoopDisplayer) Bootstrapping()                        {}
func (NoopDisplayer) SessionRestored()                      {}
func (NoopDisplayer) SignedOut()                            {}
func (NoopDisplayer) BootstrapDeferred(_ error)             {}
func (NoopDisplayer) SigningIn(_ string)                    {}
func (NoopDisplayer) SignedIn(_ string)                     {}
func (NoopDisplayer) SignInFailed(_ error)                  {}
func (NoopDisplayer) SignInRequired()                       {}
func (NoopDisplayer) CallsStarted(_ int)                    {}
func (NoopDisplayer) CallOK(_ string, _ int)                {}
func (NoopDisplayer) CallFailed(_ string, _ error)          {}
func (NoopDisplayer) RecordSaveFailed(_ error)              {}
func (NoopDisplayer) LoggedOut(_ error)                     {}
func (NoopDisplayer) Done(_ Summary)                        {}
func (NoopDisplayer) Fatal(_ error)                         {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) PreviousSession(status string, at time.Time) {
	t.p.Send(MsgPreviousSession{Status: status, At: at})
}

func (t *ProgramDisplayer) NoPreviousSession() {
	t.p.Send(MsgNoPreviousSession{})
}

func (t *ProgramDisplayer) Bootstrapping() {
	t.p.Send(MsgBootstrapping{})
}

func (t *ProgramDisplayer) SessionRestored() {
	t.p.Send(MsgSessionRestored{})
}

func (t *ProgramDisplayer) SignedOut() {
	t.p.Send(MsgSignedOut{})
}

func (t *ProgramDisplayer) BootstrapDeferred(err error) {
	t.p.Send(MsgBootstrapDeferred{Err: err})
}

func (t *ProgramDisplayer) SigningIn(email string) {
	t.p.Send(MsgSigningIn{Email: email})
}

func (t *ProgramDisplayer) SignedIn(name string) {
	t.p.Send(MsgSignedIn{Name: name})
}

func (t *ProgramDisplayer) SignInFailed(err error) {
	t.p.Send(MsgSignInFailed{Err: err})
}

func (t *ProgramDisplayer) SignInRequired() {
	t.p.Send(MsgSignInRequired{})
}

func (t *ProgramDisplayer) CallsStarted(total int) {
	t.p.Send(MsgCallsStarted{Total: total})
}

func (t *ProgramDisplayer) CallOK(requestID string, status int) {
	t.p.Send(MsgCallOK{RequestID: requestID, Status: status})
}

func (t *ProgramDisplayer) CallFailed(requestID string, err error) {
	t.p.Send(MsgCallFailed{RequestID: requestID, Err: err})
}

func (t *ProgramDisplayer) RecordSaveFailed(err error) {
	t.p.Send(MsgRecordSaveFailed{Err: err})
}

func (t *ProgramDisplayer) LoggedOut(err error) {
	t.p.Send(MsgLoggedOut{Err: err})
}

func (t *ProgramDisplayer) Done(s Summary) {
	t.p.Send(MsgDone{Summary: s})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
