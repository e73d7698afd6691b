// Package app holds the widget's application state and the request and
// notification surface the UI talks to.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tau/claude-usage/internal/store"
	"github.com/tau/claude-usage/internal/usage"
)

// Event is a notification pushed to the UI.
type Event int

const (
	EventRefresh Event = iota
	EventSessionExpired
)

func (e Event) String() string {
	switch e {
	case EventRefresh:
		return "refresh-usage"
	case EventSessionExpired:
		return "session-expired"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Store persists credentials, window position and history.
type Store interface {
	Credentials() (store.Credentials, error)
	SaveCredentials(c store.Credentials) error
	DeleteCredentials() error
	WindowPosition() (store.Position, bool, error)
	SetWindowPosition(p store.Position) error
	UsageHistory() ([]store.HistoryEntry, error)
	SaveUsageHistoryEntry(e store.HistoryEntry) error
	ClearUsageHistory() error
}

// Validator resolves a session key to an organization id.
type Validator interface {
	Validate(ctx context.Context, sessionKey string) (string, error)
}

// Acquirer runs the interactive login flow.
type Acquirer interface {
	Acquire(ctx context.Context) (string, error)
}

// CookieJar is the fetch browser's cookie store.
type CookieJar interface {
	RemoveSessionCookie(ctx context.Context) error
}

// State is the application state. Latest is replaced wholesale on every
// successful poll.
type State struct {
	Credentials store.Credentials
	Latest      *usage.Snapshot
	LastFetch   time.Time
}

// Deps are the collaborators of an App.
type Deps struct {
	Store     Store
	Fetcher   usage.Fetcher
	Validator Validator
	Acquirer  Acquirer
	Jar       CookieJar
	BaseURL   string
	Log       zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// App is the coordinator. It is safe for concurrent use.
type App struct {
	mu    sync.Mutex
	state State

	store     Store
	poller    *usage.Poller
	validator Validator
	acquirer  Acquirer
	jar       CookieJar

	events chan Event
	now    func() time.Time
	log    zerolog.Logger
}

func New(d Deps) *App {
	a := &App{
		store:     d.Store,
		validator: d.Validator,
		acquirer:  d.Acquirer,
		jar:       d.Jar,
		events:    make(chan Event, 8),
		now:       d.Now,
		log:       d.Log,
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.poller = usage.NewPoller(d.Fetcher, d.Store, a, d.BaseURL, d.Log)
	return a
}

// State returns a copy of the current state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Events delivers notifications. Events are dropped when nobody is
// listening and the buffer is full.
func (a *App) Events() <-chan Event {
	return a.events
}

func (a *App) emit(e Event) {
	select {
	case a.events <- e:
	default:
		a.log.Debug().Stringer("event", e).Msg("event dropped")
	}
}

// RequestRefresh asks the UI to poll now.
func (a *App) RequestRefresh() {
	a.emit(EventRefresh)
}

// SessionExpired resets the session state and notifies the UI. The poller
// has already cleared the stored credentials.
func (a *App) SessionExpired() {
	a.mu.Lock()
	a.state = State{}
	a.mu.Unlock()

	a.log.Warn().Msg("session expired")
	a.emit(EventSessionExpired)
}

func (a *App) Credentials() (store.Credentials, error) {
	c, err := a.store.Credentials()
	if err != nil {
		return store.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	a.mu.Lock()
	a.state.Credentials = c
	a.mu.Unlock()
	return c, nil
}

// SaveCredentials persists c. An empty organization id clears the stored one.
func (a *App) SaveCredentials(c store.Credentials) error {
	if err := a.store.SaveCredentials(c); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	_, err := a.Credentials()
	return err
}

// DeleteCredentials logs out: it clears the stored credentials, the
// browser's session cookie and the in-memory state.
func (a *App) DeleteCredentials(ctx context.Context) error {
	if err := a.store.DeleteCredentials(); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	if a.jar != nil {
		if err := a.jar.RemoveSessionCookie(ctx); err != nil {
			a.log.Error().Err(err).Msg("clear session cookie")
		}
	}

	a.mu.Lock()
	a.state = State{}
	a.mu.Unlock()
	a.log.Info().Msg("logged out")
	return nil
}

// ValidateSessionKey checks key against the provider and returns its
// organization id.
func (a *App) ValidateSessionKey(ctx context.Context, key string) (string, error) {
	return a.validator.Validate(ctx, key)
}

// DetectSessionKey runs the interactive login flow.
func (a *App) DetectSessionKey(ctx context.Context) (string, error) {
	return a.acquirer.Acquire(ctx)
}

// Login validates key and persists the resulting credentials.
func (a *App) Login(ctx context.Context, key string) (store.Credentials, error) {
	org, err := a.ValidateSessionKey(ctx, key)
	if err != nil {
		return store.Credentials{}, err
	}
	c := store.Credentials{SessionKey: key, OrganizationID: org}
	if err := a.SaveCredentials(c); err != nil {
		return store.Credentials{}, err
	}
	a.log.Info().Str("org", org).Msg("logged in")
	return c, nil
}

// FetchUsageData polls once with the stored credentials. On success the
// snapshot replaces the previous one and a history entry is recorded.
func (a *App) FetchUsageData(ctx context.Context) (*usage.Snapshot, error) {
	creds, err := a.Credentials()
	if err != nil {
		return nil, err
	}

	snap, err := a.poller.Poll(ctx, creds)
	if err != nil {
		if errors.Is(err, usage.ErrSessionExpired) && a.jar != nil {
			if cerr := a.jar.RemoveSessionCookie(ctx); cerr != nil {
				a.log.Debug().Err(cerr).Msg("clear session cookie")
			}
		}
		return nil, err
	}

	now := a.now()
	a.mu.Lock()
	a.state.Latest = snap
	a.state.LastFetch = now
	a.mu.Unlock()

	stats := snap.Stats()
	entry := store.HistoryEntry{
		Timestamp: now.UnixMilli(),
		Session:   stats.Session,
		Weekly:    stats.Weekly,
		Sonnet:    stats.Sonnet,
	}
	if err := a.SaveUsageHistoryEntry(entry); err != nil {
		a.log.Error().Err(err).Msg("record usage history")
	}

	a.log.Debug().
		Float64("session", stats.Session).
		Float64("weekly", stats.Weekly).
		Float64("sonnet", stats.Sonnet).
		Msg("usage fetched")
	return snap, nil
}

func (a *App) WindowPosition() (store.Position, bool, error) {
	return a.store.WindowPosition()
}

func (a *App) SetWindowPosition(p store.Position) error {
	return a.store.SetWindowPosition(p)
}

// Platform names the host operating system.
func (a *App) Platform() string {
	return runtime.GOOS
}

func (a *App) UsageHistory() ([]store.HistoryEntry, error) {
	return a.store.UsageHistory()
}

func (a *App) SaveUsageHistoryEntry(e store.HistoryEntry) error {
	return a.store.SaveUsageHistoryEntry(e)
}

func (a *App) ClearUsageHistory() error {
	return a.store.ClearUsageHistory()
}
