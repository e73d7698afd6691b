package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// SessionCookie is the claude.ai authentication cookie name.
const SessionCookie = "sessionKey"

const cookieLifetime = 30 * 24 * time.Hour

// Options configures a Chrome process.
type Options struct {
	ExecPath   string
	ProfileDir string
	UserAgent  string
	Headless   bool
}

// AllocatorOptions builds chromedp exec options for o.
func AllocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(800, 700),
	)
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	if o.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.ProfileDir))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if !o.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Chrome owns a headless browser used for authenticated fetches. Its cookie
// jar persists in the profile directory.
type Chrome struct {
	baseURL       string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	log           zerolog.Logger
}

// NewChrome starts a headless browser for baseURL.
func NewChrome(ctx context.Context, baseURL string, opts Options, log zerolog.Logger) (*Chrome, error) {
	opts.Headless = true
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Warn().Msgf(format, args...)
		}),
	)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	log.Debug().Str("profile", opts.ProfileDir).Msg("chrome started")
	return &Chrome{
		baseURL:       baseURL,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		log:           log,
	}, nil
}

// OpenPage opens a new tab. Closing the page closes the tab.
func (c *Chrome) OpenPage(ctx context.Context) (Page, error) {
	if err := c.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("chrome stopped: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	return &chromePage{ctx: tabCtx, cancel: cancel}, nil
}

// SetSessionCookie installs value as the session cookie for the base URL.
func (c *Chrome) SetSessionCookie(ctx context.Context, value string) error {
	secure := isHTTPS(c.baseURL)
	expires := cdp.TimeSinceEpoch(time.Now().Add(cookieLifetime))
	return c.inTab(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(SessionCookie, value).
			WithURL(c.baseURL).
			WithPath("/").
			WithSecure(secure).
			WithHTTPOnly(true).
			WithExpires(&expires).
			Do(ctx)
	}))
}

// RemoveSessionCookie deletes the session cookie for the base URL.
func (c *Chrome) RemoveSessionCookie(ctx context.Context) error {
	return c.inTab(ctx, network.DeleteCookies(SessionCookie).WithURL(c.baseURL))
}

// SetCookies installs cookies into the fetch browser's jar.
func (c *Chrome) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	return c.inTab(ctx, network.SetCookies(cookies))
}

// CookieParams converts cookies read from one browser into parameters that
// install them in another. Session cookies stay session cookies.
func CookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
			Priority: c.Priority,
		}
		if !c.Session && c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

// Close stops the browser.
func (c *Chrome) Close() error {
	c.browserCancel()
	c.allocCancel()
	return nil
}

func (c *Chrome) inTab(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) BodyText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(
		`document.body ? (document.body.innerText || document.body.textContent || "") : ""`,
		&text,
	))
	return text, err
}

// run races the actions against ctx; expiry tears the tab down.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()

	if err := chromedp.Run(p.ctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https"
}
