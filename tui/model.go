package tui

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// state represents the current phase of the run.
type state int

const (
	stateInit          state = iota
	stateBootstrapping       // startup refresh in flight
	stateSigningIn           // login call in flight
	stateCalling             // protected calls in flight
	stateSuccess             // all done
	stateError               // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	user string

	// Protected call progress
	total     int
	completed int
	succeeded int

	summary Summary
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleUserBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgPreviousSession:
		m.addStatus(statusInfo, fmt.Sprintf("Last session: %s (%s ago)",
			msg.Status, formatAge(time.Since(msg.At))))
		return m, nil

	case MsgNoPreviousSession:
		m.addStatus(statusInfo, "No previous session recorded")
		return m, nil

	case MsgBootstrapping:
		m.state = stateBootstrapping
		return m, nil

	case MsgSessionRestored:
		m.addStatus(statusOK, "Session restored")
		return m, nil

	case MsgSignedOut:
		m.user = ""
		m.addStatus(statusInfo, "No active session")
		return m, nil

	case MsgBootstrapDeferred:
		m.addStatus(statusWarn, fmt.Sprintf("Session check deferred: %v", msg.Err))
		return m, nil

	case MsgSigningIn:
		m.state = stateSigningIn
		m.addStatus(statusInfo, "Signing in as "+msg.Email)
		return m, nil

	case MsgSignedIn:
		m.user = msg.Name
		m.addStatus(statusOK, "Signed in as "+msg.Name)
		return m, nil

	case MsgSignInFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Sign-in failed: %v", msg.Err))
		return m, nil

	case MsgSignInRequired:
		m.user = ""
		m.addStatus(statusWarn, "Session expired, please sign in again")
		return m, nil

	case MsgCallsStarted:
		m.state = stateCalling
		m.total = msg.Total
		m.completed = 0
		m.succeeded = 0
		return m, nil

	case MsgCallOK:
		m.completed++
		if msg.Status >= 200 && msg.Status < 300 {
			m.succeeded++
			m.addStatus(statusOK, fmt.Sprintf("[%s] %d", shortID(msg.RequestID), msg.Status))
		} else {
			m.addStatus(statusWarn, fmt.Sprintf("[%s] %d %s",
				shortID(msg.RequestID), msg.Status, http.StatusText(msg.Status)))
		}
		return m, nil

	case MsgCallFailed:
		m.completed++
		m.addStatus(statusWarn, fmt.Sprintf("[%s] %v", shortID(msg.RequestID), msg.Err))
		return m, nil

	case MsgRecordSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save session record: %v", msg.Err))
		return m, nil

	case MsgLoggedOut:
		m.user = ""
		if msg.Err != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Signed out locally (server: %v)", msg.Err))
		} else {
			m.addStatus(statusOK, "Signed out")
		}
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while bootstrapping, signing in, and calling.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Session  "))
	b.WriteString("\n\n")

	if m.user != "" {
		b.WriteString(styleUserBox.Render("  " + m.user + "  "))
		b.WriteString("\n\n")
	}

	switch m.state {
	case stateBootstrapping:
		b.WriteString(m.spinner.View())
		b.WriteString(" Restoring session...\n")

	case stateSigningIn:
		b.WriteString(m.spinner.View())
		b.WriteString(" Signing in...\n")

	case stateCalling:
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" Requests %d/%d  ", m.completed, m.total))
		b.WriteString(styleDim.Render(fmt.Sprintf("%d succeeded", m.succeeded)))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown once the run has finished.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.summary.Succeeded == m.summary.Calls {
		b.WriteString(styleOK.Render("  ✓ All requests succeeded"))
	} else {
		b.WriteString(styleWarn.Render("  ⚠ Some requests failed"))
	}
	b.WriteString("\n\n")

	if m.summary.User != "" {
		b.WriteString(styleBold.Render("User:      "))
		b.WriteString(m.summary.User + "\n")
	}

	b.WriteString(styleBold.Render("Requests:  "))
	b.WriteString(fmt.Sprintf("%d/%d succeeded\n", m.summary.Succeeded, m.summary.Calls))

	b.WriteString(styleBold.Render("Refreshes: "))
	b.WriteString(fmt.Sprintf("%d\n", m.summary.Refreshes))

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Session failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// shortID trims a request ID to its first UUID group.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// formatAge formats a duration coarsely as "Xd", "Xh", "Xm" or "Xs".
func formatAge(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d > 0:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	default:
		return "0s"
	}
}
