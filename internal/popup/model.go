// Package popup is the interactive terminal popup: a login section, a user
// section and the add proxy / remove proxy / sign out actions.
package popup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/session"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// StatusLifetime is how long a status message stays visible.
const StatusLifetime = 3 * time.Second

// Sessions is the session orchestrator as seen by the popup.
type Sessions interface {
	RestoreSession(ctx context.Context) (session.Event, error)
	SignIn(ctx context.Context) (session.Event, error)
	Login(ctx context.Context, identityToken string) (session.Event, error)
	Logout(ctx context.Context) (session.Event, error)
}

// Proxy is the proxy controller as seen by the popup.
type Proxy interface {
	ActivateDefault(ctx context.Context) error
	Deactivate(ctx context.Context) error
	CurrentlyActive(ctx context.Context) (bool, types.ProxySettings, error)
	DefaultRule() types.ProxyRule
}

type op int

const (
	opNone op = iota
	opRestore
	opSignIn
	opAddProxy
	opRemoveProxy
	opLogout
)

type statusKind int

const (
	statusSuccess statusKind = iota
	statusError
)

type (
	sessionMsg struct {
		op  op
		ev  session.Event
		err error
	}
	proxyMsg struct {
		op  op
		err error
	}
	proxyStateMsg struct {
		active bool
		err    error
	}
	clearStatusMsg struct{ id int }
)

// Model is the bubbletea model of the popup.
type Model struct {
	ctx      context.Context
	sessions Sessions
	proxy    Proxy

	busy     op
	loggedIn bool
	profile  *types.Profile

	proxyKnown  bool
	proxyActive bool

	tokenInput bool
	input      string

	status     string
	statusKind statusKind
	statusID   int

	width int
}

// New creates the popup model. Opening it restores the stored session.
func New(ctx context.Context, sessions Sessions, proxy Proxy) Model {
	return Model{
		ctx:      ctx,
		sessions: sessions,
		proxy:    proxy,
		busy:     opRestore,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.restore(), m.readProxy())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionMsg:
		return m.onSession(msg)

	case proxyMsg:
		return m.onProxy(msg)

	case proxyStateMsg:
		if msg.err != nil {
			log.Debug().Err(msg.err).Msg("Failed to read proxy state")
			m.proxyKnown = false
			return m, nil
		}
		m.proxyKnown = true
		m.proxyActive = msg.active
		return m, nil

	case clearStatusMsg:
		if msg.id == m.statusID {
			m.status = ""
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if k.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.tokenInput {
		return m.handleTokenKey(k)
	}

	if k.String() == "q" || k.Type == tea.KeyEsc {
		return m, tea.Quit
	}
	if m.busy != opNone {
		return m, nil
	}

	switch k.String() {
	case "l":
		if !m.loggedIn {
			m.busy = opSignIn
			return m, m.signIn()
		}
	case "a":
		if m.loggedIn {
			m.busy = opAddProxy
			return m, m.addProxy()
		}
	case "r":
		if m.loggedIn {
			m.busy = opRemoveProxy
			return m, m.removeProxy()
		}
	case "o":
		if m.loggedIn {
			m.busy = opLogout
			return m, m.logout()
		}
	}
	return m, nil
}

// handleTokenKey edits the pasted identity token.
func (m Model) handleTokenKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyEsc:
		m.tokenInput = false
		m.input = ""
		return m, nil
	case tea.KeyEnter:
		token := strings.TrimSpace(m.input)
		if token == "" {
			return m, nil
		}
		m.tokenInput = false
		m.input = ""
		m.busy = opSignIn
		return m, m.login(token)
	case tea.KeyBackspace:
		if m.input != "" {
			r := []rune(m.input)
			m.input = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeyRunes, tea.KeySpace:
		m.input += string(k.Runes)
		return m, nil
	}
	return m, nil
}

func (m Model) onSession(msg sessionMsg) (tea.Model, tea.Cmd) {
	m.busy = opNone

	switch msg.op {
	case opRestore:
		m.apply(msg.ev)
		if msg.err != nil {
			log.Debug().Err(msg.err).Msg("Stored session not restored")
		}
		return m, nil

	case opSignIn:
		if msg.err != nil {
			if errors.Is(msg.err, types.ErrNoIdentityToken) {
				m.tokenInput = true
				return m, nil
			}
			if errors.Is(msg.err, types.ErrAuthRejected) {
				return m.setStatus("Login failed. Invalid user.", statusError)
			}
			return m.setStatus("Login failed. Please try again.", statusError)
		}
		m.apply(msg.ev)
		return m.setStatus("Successfully signed in!", statusSuccess)

	case opLogout:
		if msg.err != nil {
			return m.setStatus("Logout failed", statusError)
		}
		m.apply(msg.ev)
		next, cmd := m.setStatus("Successfully signed out", statusSuccess)
		return next, tea.Batch(cmd, m.readProxy())
	}
	return m, nil
}

func (m Model) onProxy(msg proxyMsg) (tea.Model, tea.Cmd) {
	m.busy = opNone

	var next tea.Model
	var cmd tea.Cmd
	switch msg.op {
	case opAddProxy:
		if msg.err != nil {
			next, cmd = m.setStatus("Failed to set proxy. Please try again.", statusError)
		} else {
			next, cmd = m.setStatus("Proxy set to "+m.proxy.DefaultRule().Addr(), statusSuccess)
		}
	case opRemoveProxy:
		if msg.err != nil {
			next, cmd = m.setStatus("Failed to remove proxy. Please try again.", statusError)
		} else {
			next, cmd = m.setStatus("Proxy removed successfully", statusSuccess)
		}
	default:
		return m, nil
	}
	return next, tea.Batch(cmd, m.readProxy())
}

// apply moves the view to the section the event leaves the session in.
func (m *Model) apply(ev session.Event) {
	switch ev.Kind {
	case session.EventLoggedIn:
		m.loggedIn = true
		m.profile = ev.Profile
	case session.EventLoggedOut:
		m.loggedIn = false
		m.profile = nil
	}
}

func (m Model) setStatus(text string, kind statusKind) (tea.Model, tea.Cmd) {
	m.statusID++
	m.status = text
	m.statusKind = kind
	id := m.statusID
	return m, tea.Tick(StatusLifetime, func(time.Time) tea.Msg {
		return clearStatusMsg{id: id}
	})
}

func (m Model) restore() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.sessions.RestoreSession(m.ctx)
		return sessionMsg{op: opRestore, ev: ev, err: err}
	}
}

func (m Model) signIn() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.sessions.SignIn(m.ctx)
		return sessionMsg{op: opSignIn, ev: ev, err: err}
	}
}

func (m Model) login(token string) tea.Cmd {
	return func() tea.Msg {
		ev, err := m.sessions.Login(m.ctx, token)
		return sessionMsg{op: opSignIn, ev: ev, err: err}
	}
}

func (m Model) logout() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.sessions.Logout(m.ctx)
		return sessionMsg{op: opLogout, ev: ev, err: err}
	}
}

func (m Model) addProxy() tea.Cmd {
	return func() tea.Msg {
		return proxyMsg{op: opAddProxy, err: m.proxy.ActivateDefault(m.ctx)}
	}
}

func (m Model) removeProxy() tea.Cmd {
	return func() tea.Msg {
		return proxyMsg{op: opRemoveProxy, err: m.proxy.Deactivate(m.ctx)}
	}
}

func (m Model) readProxy() tea.Cmd {
	return func() tea.Msg {
		active, _, err := m.proxy.CurrentlyActive(m.ctx)
		return proxyStateMsg{active: active, err: err}
	}
}

// Run shows the popup until the user quits or ctx is cancelled.
func Run(ctx context.Context, sessions Sessions, proxy Proxy, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(ctx, sessions, proxy), opts...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("popup: %w", err)
	}
	return nil
}
