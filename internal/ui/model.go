// Package ui is the terminal widget: login, usage bars with reset
// countdowns, and the usage history view.
package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/tau/claude-usage/internal/app"
	"github.com/tau/claude-usage/internal/session"
	"github.com/tau/claude-usage/internal/store"
	"github.com/tau/claude-usage/internal/timer"
	"github.com/tau/claude-usage/internal/usage"
)

const refreshDebounce = 10 * time.Second

// Backend is what the widget asks of the application.
type Backend interface {
	Credentials() (store.Credentials, error)
	FetchUsageData(ctx context.Context) (*usage.Snapshot, error)
	DetectSessionKey(ctx context.Context) (string, error)
	Login(ctx context.Context, key string) (store.Credentials, error)
	DeleteCredentials(ctx context.Context) error
	UsageHistory() ([]store.HistoryEntry, error)
	ClearUsageHistory() error
	Events() <-chan app.Event
}

// messages

type credentialsMsg struct {
	creds store.Credentials
	err   error
}

type usageFetchedMsg struct {
	snap *usage.Snapshot
	at   time.Time
	err  error
}

type keyDetectedMsg struct {
	key string
	err error
}

type loginMsg struct {
	creds store.Credentials
	err   error
}

type loggedOutMsg struct{ err error }

type historyMsg struct {
	entries []store.HistoryEntry
	err     error
}

type eventMsg app.Event

type pollTickMsg time.Time

type countdownTickMsg time.Time

type resetRetryMsg struct{}

type screen int

const (
	screenLoading screen = iota
	screenLogin
	screenNoUsage
	screenMain
)

type loginStep int

const (
	stepChoose loginStep = iota
	stepManual
)

const sessionExpiredText = "Session expired. Please log in again."

// model

type Model struct {
	ctx          context.Context
	backend      Backend
	pollInterval time.Duration
	log          zerolog.Logger

	screen    screen
	authed    bool
	snap      *usage.Snapshot
	err       error
	stale     bool
	loading   bool
	lastFetch time.Time
	now       time.Time

	sessionBar progress.Model
	weeklyBar  progress.Model
	rowBar     progress.Model
	spinner    spinner.Model
	keyInput   textinput.Model

	loginStep   loginStep
	loginBusy   bool
	loginStatus string
	loginErr    string
	cancelLogin context.CancelFunc

	expanded    bool
	showHistory bool
	history     []store.HistoryEntry
	historyErr  error

	sched       *timer.Scheduler
	width       int
	height      int
	lastRefresh time.Time // debounce
}

// New returns the widget model. ctx bounds every backend call.
func New(ctx context.Context, b Backend, pollInterval time.Duration, log zerolog.Logger) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(accentColor))

	ti := textinput.New()
	ti.Placeholder = "sk-ant-sid01-..."
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 512
	ti.Width = 30

	barWidth := 30

	return Model{
		ctx:          ctx,
		backend:      b,
		pollInterval: pollInterval,
		log:          log,
		screen:       screenLoading,
		loading:      true,
		sessionBar:   newBar(barWidth, sessionColor),
		weeklyBar:    newBar(barWidth, paletteColor(usage.ColorWeekly)),
		rowBar:       newBar(barWidth, paletteColor(usage.ColorWeekly)),
		spinner:      s,
		keyInput:     ti,
		sched:        timer.NewScheduler(),
		now:          time.Now(),
	}
}

func newBar(width int, color string) progress.Model {
	return progress.New(
		progress.WithSolidFill(color),
		progress.WithWidth(width),
		progress.WithoutPercentage(),
	)
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.credentialsCmd(),
		m.waitEventCmd(),
		pollTickCmd(m.pollInterval),
		countdownTickCmd(),
	)
}

// commands

func (m Model) credentialsCmd() tea.Cmd {
	return func() tea.Msg {
		creds, err := m.backend.Credentials()
		return credentialsMsg{creds: creds, err: err}
	}
}

func (m Model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.backend.FetchUsageData(m.ctx)
		return usageFetchedMsg{snap: snap, at: time.Now(), err: err}
	}
}

func (m Model) detectCmd(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		key, err := m.backend.DetectSessionKey(ctx)
		return keyDetectedMsg{key: key, err: err}
	}
}

func (m Model) loginCmd(key string) tea.Cmd {
	return func() tea.Msg {
		creds, err := m.backend.Login(m.ctx, key)
		return loginMsg{creds: creds, err: err}
	}
}

func (m Model) logoutCmd() tea.Cmd {
	return func() tea.Msg {
		return loggedOutMsg{err: m.backend.DeleteCredentials(m.ctx)}
	}
}

func (m Model) historyCmd() tea.Cmd {
	return func() tea.Msg {
		entries, err := m.backend.UsageHistory()
		return historyMsg{entries: entries, err: err}
	}
}

func (m Model) clearHistoryCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.backend.ClearUsageHistory(); err != nil {
			return historyMsg{err: err}
		}
		return historyMsg{}
	}
}

func (m Model) waitEventCmd() tea.Cmd {
	events := m.backend.Events()
	return func() tea.Msg {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			return eventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func pollTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func countdownTickCmd() tea.Cmd {
	return tea.Tick(timer.TickInterval, func(t time.Time) tea.Msg {
		return countdownTickMsg(t)
	})
}

func resetRetryCmd() tea.Cmd {
	return tea.Tick(timer.RetryDelay, func(time.Time) tea.Msg {
		return resetRetryMsg{}
	})
}

func (m *Model) resizeBars() {
	cw := m.contentWidth()
	// bar = content - label - " " - percent(6) - " " - countdown(8)
	barWidth := cw - m.labelWidth() - 16
	barWidth = max(8, min(barWidth, 30))
	m.sessionBar.Width = barWidth
	m.weeklyBar.Width = barWidth
	m.rowBar.Width = barWidth
	m.keyInput.Width = max(10, cw-4)
}

// startFetch marks a poll in flight.
func (m *Model) startFetch() tea.Cmd {
	m.loading = true
	cmds := []tea.Cmd{m.spinner.Tick, m.fetchCmd()}
	if m.showHistory {
		cmds = append(cmds, m.historyCmd())
	}
	return tea.Batch(cmds...)
}

// toLogin drops the session and shows the login screen with status.
func (m Model) toLogin(status string) Model {
	m.authed = false
	m.snap = nil
	m.err = nil
	m.stale = false
	m.loading = false
	m.screen = screenLogin
	m.loginStep = stepChoose
	m.loginBusy = false
	m.loginErr = ""
	m.loginStatus = status
	m.expanded = false
	m.showHistory = false
	m.history = nil
	m.keyInput.Reset()
	m.keyInput.Blur()
	m.sched.Reset()
	return m
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if m.cancelLogin != nil {
				m.cancelLogin()
			}
			return m, tea.Quit
		}
		if m.screen == screenLogin {
			return m.updateLogin(msg)
		}
		return m.updateMain(msg)

	case credentialsMsg:
		if msg.err != nil {
			m.log.Error().Err(msg.err).Msg("load credentials")
		}
		if !msg.creds.Valid() {
			return m.toLogin(""), nil
		}
		m.authed = true
		cmd := m.startFetch()
		return m, cmd

	case usageFetchedMsg:
		return m.handleUsage(msg)

	case keyDetectedMsg:
		if m.cancelLogin != nil {
			m.cancelLogin()
			m.cancelLogin = nil
		}
		if msg.err != nil {
			m.loginBusy = false
			if errors.Is(msg.err, session.ErrLoginCancelled) {
				m.loginStatus = "Login cancelled."
			} else {
				m.loginStatus = ""
				m.loginErr = msg.err.Error()
			}
			return m, nil
		}
		m.loginStatus = "Validating session..."
		return m, m.loginCmd(msg.key)

	case loginMsg:
		m.loginBusy = false
		if msg.err != nil {
			m.loginStatus = ""
			m.loginErr = loginErrorText(msg.err)
			return m, nil
		}
		m = m.toLogin("")
		m.authed = true
		m.screen = screenLoading
		cmd := m.startFetch()
		return m, cmd

	case loggedOutMsg:
		m = m.toLogin("")
		if msg.err != nil {
			m.loginErr = msg.err.Error()
		}
		return m, nil

	case historyMsg:
		m.history = msg.entries
		m.historyErr = msg.err
		return m, nil

	case eventMsg:
		cmds := []tea.Cmd{m.waitEventCmd()}
		switch app.Event(msg) {
		case app.EventRefresh:
			if m.authed && !m.loading {
				cmds = append(cmds, m.startFetch())
			}
		case app.EventSessionExpired:
			if m.authed {
				m = m.toLogin(sessionExpiredText)
			}
		}
		return m, tea.Batch(cmds...)

	case pollTickMsg:
		cmds := []tea.Cmd{pollTickCmd(m.pollInterval)}
		if m.authed && !m.loading {
			cmds = append(cmds, m.startFetch())
		}
		return m, tea.Batch(cmds...)

	case countdownTickMsg:
		m.now = time.Time(msg)
		cmds := []tea.Cmd{countdownTickCmd()}
		if m.snap != nil && m.checkResets() {
			cmds = append(cmds, resetRetryCmd())
		}
		return m, tea.Batch(cmds...)

	case resetRetryMsg:
		if m.authed && !m.loading {
			m.log.Debug().Msg("window reset, polling")
			cmd := m.startFetch()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeBars()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		var cmds []tea.Cmd

		pm, c := m.sessionBar.Update(msg)
		m.sessionBar = pm.(progress.Model)
		cmds = append(cmds, c)

		pm, c = m.weeklyBar.Update(msg)
		m.weeklyBar = pm.(progress.Model)
		cmds = append(cmds, c)

		return m, tea.Batch(cmds...)
	}

	if m.screen == screenLogin && m.loginStep == stepManual {
		var cmd tea.Cmd
		m.keyInput, cmd = m.keyInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

// checkResets reports whether the session or weekly window has just run out.
// Both windows are always checked so each latch sees every tick.
func (m Model) checkResets() bool {
	sess, _ := m.snap.Period(usage.KeyFiveHour)
	week, _ := m.snap.Period(usage.KeySevenDay)
	s := m.sched.Check(usage.KeyFiveHour, sess.ResetsAt, m.now)
	w := m.sched.Check(usage.KeySevenDay, week.ResetsAt, m.now)
	return s || w
}

func (m Model) handleUsage(msg usageFetchedMsg) (tea.Model, tea.Cmd) {
	m.loading = false
	if msg.err != nil {
		switch {
		case errors.Is(msg.err, usage.ErrSessionExpired):
			return m.toLogin(sessionExpiredText), nil
		case errors.Is(msg.err, usage.ErrMissingCredentials):
			return m.toLogin(""), nil
		}
		m.log.Warn().Err(msg.err).Msg("usage fetch failed")
		m.err = msg.err
		m.stale = m.snap != nil
		if m.screen == screenLoading {
			m.screen = screenMain
		}
		return m, nil
	}

	m.snap = msg.snap
	m.err = nil
	m.stale = false
	m.lastFetch = msg.at
	m.now = msg.at

	if m.snap.HasNoUsage() {
		m.screen = screenNoUsage
		return m, nil
	}
	m.screen = screenMain
	if len(m.snap.Rows()) == 0 {
		m.expanded = false
	}

	sess, _ := m.snap.Period(usage.KeyFiveHour)
	week, _ := m.snap.Period(usage.KeySevenDay)
	m.sessionBar.FullColor = levelColor(sessionColor, sess.Percent())
	m.weeklyBar.FullColor = levelColor(paletteColor(usage.ColorWeekly), week.Percent())
	return m, tea.Batch(
		m.sessionBar.SetPercent(clampPercent(sess.Percent())/100),
		m.weeklyBar.SetPercent(clampPercent(week.Percent())/100),
	)
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.loginBusy {
		if key == "esc" && m.cancelLogin != nil {
			m.cancelLogin()
			m.loginStatus = "Cancelling..."
		}
		return m, nil
	}

	switch m.loginStep {
	case stepChoose:
		switch key {
		case "q":
			return m, tea.Quit
		case "l":
			ctx, cancel := context.WithCancel(m.ctx)
			m.cancelLogin = cancel
			m.loginBusy = true
			m.loginErr = ""
			m.loginStatus = "Log in to claude.ai in the browser window..."
			return m, tea.Batch(m.spinner.Tick, m.detectCmd(ctx))
		case "m":
			m.loginStep = stepManual
			m.loginErr = ""
			m.loginStatus = ""
			cmd := m.keyInput.Focus()
			return m, cmd
		}
		return m, nil

	case stepManual:
		switch key {
		case "esc":
			m.loginStep = stepChoose
			m.loginErr = ""
			m.keyInput.Reset()
			m.keyInput.Blur()
			return m, nil
		case "enter":
			value := strings.TrimSpace(m.keyInput.Value())
			if value == "" {
				m.loginErr = "Please enter a session key."
				return m, nil
			}
			m.loginBusy = true
			m.loginErr = ""
			m.loginStatus = "Validating session..."
			return m, tea.Batch(m.spinner.Tick, m.loginCmd(value))
		}
		var cmd tea.Cmd
		m.keyInput, cmd = m.keyInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		if !m.authed || time.Since(m.lastRefresh) < refreshDebounce {
			return m, nil
		}
		m.lastRefresh = time.Now()
		cmd := m.startFetch()
		return m, cmd
	case "e":
		if m.snap != nil && len(m.snap.Rows()) > 0 {
			m.expanded = !m.expanded
		}
		return m, nil
	case "c":
		m.showHistory = !m.showHistory
		if m.showHistory {
			return m, m.historyCmd()
		}
		return m, nil
	case "X":
		if m.showHistory {
			return m, m.clearHistoryCmd()
		}
		return m, nil
	case "L":
		return m, m.logoutCmd()
	}
	return m, nil
}

// loginErrorText prefers the rejection reason for invalid keys.
func loginErrorText(err error) string {
	var ise *session.InvalidSessionError
	if errors.As(err, &ise) {
		return "Invalid session key: " + ise.Reason
	}
	return err.Error()
}

func clampPercent(p float64) float64 {
	return max(0, min(p, 100))
}
