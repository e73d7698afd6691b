package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/tau/claude-usage/internal/browser"
)

const cookiePollInterval = 500 * time.Millisecond

// ChromeSurfaceFactory opens a visible Chrome window per login attempt.
// The window uses its own profile because Chrome locks a profile directory
// to one process; the acquirer copies its cookies to the fetch browser.
func ChromeSurfaceFactory(baseURL string, opts browser.Options, log zerolog.Logger) SurfaceFactory {
	return func(ctx context.Context) (Surface, error) {
		opts := opts
		opts.Headless = false
		if opts.ProfileDir != "" {
			opts.ProfileDir += "-login"
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), browser.AllocatorOptions(opts)...)
		tabCtx, tabCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}

		s := &chromeSurface{
			baseURL:     baseURL,
			ctx:         tabCtx,
			tabCancel:   tabCancel,
			allocCancel: allocCancel,
			closed:      make(chan struct{}),
			log:         log,
		}
		s.watchClose()
		return s, nil
	}
}

type chromeSurface struct {
	baseURL     string
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	log         zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *chromeSurface) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *chromeSurface) watchClose() {
	targetID := chromedp.FromContext(s.ctx).Target.TargetID
	chromedp.ListenBrowser(s.ctx, func(ev any) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == targetID {
			s.markClosed()
		}
	})
	chromedp.ListenTarget(s.ctx, func(ev any) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			s.markClosed()
		}
	})
	go func() {
		select {
		case <-s.ctx.Done():
			s.markClosed()
		case <-s.closed:
		}
	}()
}

func (s *chromeSurface) run(ctx context.Context, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, s.tabCancel)
	defer stop()
	return chromedp.Run(s.ctx, actions...)
}

func (s *chromeSurface) ClearCookie(ctx context.Context, name string) error {
	return s.run(ctx, network.DeleteCookies(name).WithURL(s.baseURL))
}

func (s *chromeSurface) Open(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSurface) Closed() <-chan struct{} {
	return s.closed
}

// CookieChanges diffs the cookie jar for the base URL on a short interval.
// The channel closes when ctx is done or the window goes away.
func (s *chromeSurface) CookieChanges(ctx context.Context) <-chan CookieChange {
	out := make(chan CookieChange)
	go func() {
		defer close(out)
		ticker := time.NewTicker(cookiePollInterval)
		defer ticker.Stop()

		seen := map[string]CookieChange{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case <-ticker.C:
			}

			cookies, err := s.readCookies()
			if err != nil {
				s.log.Debug().Err(err).Msg("read login cookies")
				continue
			}

			for _, change := range diffCookies(seen, cookies) {
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *chromeSurface) readCookies() ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithUrls([]string{s.baseURL}).Do(ctx)
		return err
	}))
	return cookies, err
}

// Cookies returns every cookie the login window holds for the base URL.
func (s *chromeSurface) Cookies(ctx context.Context) ([]*network.CookieParam, error) {
	stop := context.AfterFunc(ctx, s.tabCancel)
	defer stop()
	cookies, err := s.readCookies()
	if err != nil {
		return nil, err
	}
	return browser.CookieParams(cookies), nil
}

// diffCookies updates seen to match current and returns what changed.
func diffCookies(seen map[string]CookieChange, current []*network.Cookie) []CookieChange {
	var changes []CookieChange
	present := make(map[string]bool, len(current))
	for _, c := range current {
		key := c.Name + "@" + c.Domain
		present[key] = true
		next := CookieChange{Name: c.Name, Domain: c.Domain, Value: c.Value}
		if prev, ok := seen[key]; ok && prev.Value == next.Value {
			continue
		}
		seen[key] = next
		changes = append(changes, next)
	}
	for key, prev := range seen {
		if !present[key] {
			delete(seen, key)
			prev.Removed = true
			changes = append(changes, prev)
		}
	}
	return changes
}

func (s *chromeSurface) Close() error {
	s.tabCancel()
	s.allocCancel()
	return nil
}
