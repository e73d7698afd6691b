package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/rs/zerolog"

	"github.com/tau/claude-usage/internal/browser"
)

// ErrLoginCancelled is returned when the login surface closes before a
// session cookie appears. It is a user decision, not a failure.
var ErrLoginCancelled = errors.New("login cancelled")

// State is a login flow's position in Idle → AwaitingCookie → Resolved|Cancelled.
type State int

const (
	StateIdle State = iota
	StateAwaitingCookie
	StateResolved
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCookie:
		return "awaiting-cookie"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CookieChange is one observed change to the surface's cookie jar.
type CookieChange struct {
	Name    string
	Domain  string
	Value   string
	Removed bool
}

// Surface is a visible, interactive browser window.
type Surface interface {
	// ClearCookie removes name for the surface's origin.
	ClearCookie(ctx context.Context, name string) error
	// Open shows the window at url.
	Open(ctx context.Context, url string) error
	// CookieChanges streams cookie jar changes until ctx is done.
	CookieChanges(ctx context.Context) <-chan CookieChange
	// Closed is closed when the user closes the window.
	Closed() <-chan struct{}
	// Cookies returns every cookie the surface holds for its origin.
	Cookies(ctx context.Context) ([]*network.CookieParam, error)
	Close() error
}

// CookieSink receives the cookies earned during login, such as the
// Cloudflare clearance cookies, so later fetches pass the same checks.
type CookieSink interface {
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
}

// SurfaceFactory opens a new surface per login attempt.
type SurfaceFactory func(ctx context.Context) (Surface, error)

// Acquirer drives an interactive login and yields the session cookie.
type Acquirer struct {
	newSurface SurfaceFactory
	sink       CookieSink
	loginURL   string
	domain     string
	log        zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewAcquirer returns an Acquirer that logs in at loginURL and accepts
// session cookies for domain. On success the surface's cookies are copied
// to sink, which may be nil.
func NewAcquirer(newSurface SurfaceFactory, sink CookieSink, loginURL, domain string, log zerolog.Logger) *Acquirer {
	return &Acquirer{
		newSurface: newSurface,
		sink:       sink,
		loginURL:   loginURL,
		domain:     strings.TrimPrefix(domain, "."),
		log:        log,
	}
}

// State returns the state of the most recent flow.
func (a *Acquirer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Acquirer) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.log.Debug().Stringer("state", s).Msg("login flow")
}

type outcome struct {
	sessionKey string
	err        error
}

// flow settles exactly once; settling detaches every listener.
type flow struct {
	mu      sync.Mutex
	settled bool
	result  chan outcome
	detach  context.CancelFunc
}

func (f *flow) settle(o outcome) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.settled = true
	f.result <- o
	f.detach()
	return true
}

// Acquire opens the login surface and waits for the session cookie.
// It returns ErrLoginCancelled if the user closes the surface first.
func (a *Acquirer) Acquire(ctx context.Context) (string, error) {
	a.setState(StateIdle)

	surface, err := a.newSurface(ctx)
	if err != nil {
		return "", fmt.Errorf("open login window: %w", err)
	}
	defer func() {
		if err := surface.Close(); err != nil {
			a.log.Debug().Err(err).Msg("close login window")
		}
	}()

	if err := surface.ClearCookie(ctx, browser.SessionCookie); err != nil {
		a.log.Debug().Err(err).Msg("clear stale session cookie")
	}
	if err := surface.Open(ctx, a.loginURL); err != nil {
		return "", fmt.Errorf("load login page: %w", err)
	}
	a.setState(StateAwaitingCookie)

	listenCtx, detach := context.WithCancel(ctx)
	f := &flow{result: make(chan outcome, 1), detach: detach}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for change := range surface.CookieChanges(listenCtx) {
			if a.accepts(change) {
				f.settle(outcome{sessionKey: change.Value})
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		select {
		case <-surface.Closed():
			f.settle(outcome{err: ErrLoginCancelled})
		case <-listenCtx.Done():
			if ctx.Err() != nil {
				f.settle(outcome{err: fmt.Errorf("%w: %w", ErrLoginCancelled, ctx.Err())})
			}
		}
	}()

	res := <-f.result
	wg.Wait()

	if res.err != nil {
		a.setState(StateCancelled)
		return "", res.err
	}
	a.forwardCookies(ctx, surface)
	a.setState(StateResolved)
	return res.sessionKey, nil
}

// forwardCookies copies the surface's cookies to the sink. Failure is
// logged only; the session key alone may still validate.
func (a *Acquirer) forwardCookies(ctx context.Context, surface Surface) {
	if a.sink == nil {
		return
	}
	cookies, err := surface.Cookies(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("read login cookies")
		return
	}
	if err := a.sink.SetCookies(ctx, cookies); err != nil {
		a.log.Warn().Err(err).Msg("copy login cookies")
		return
	}
	a.log.Debug().Int("count", len(cookies)).Msg("login cookies copied")
}

func (a *Acquirer) accepts(c CookieChange) bool {
	if c.Removed || c.Name != browser.SessionCookie || c.Value == "" {
		return false
	}
	return strings.TrimPrefix(c.Domain, ".") == a.domain
}
