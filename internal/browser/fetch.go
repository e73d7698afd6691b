package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single page load.
const DefaultTimeout = 30 * time.Second

const snippetLen = 200

const maxBodyBytes = 1 << 20 // 1 MiB

// Fetch failure kinds. Match them with errors.Is.
var (
	ErrCloudflareBlocked   = errors.New("CloudflareBlocked")
	ErrCloudflareChallenge = errors.New("CloudflareChallenge")
	ErrUnexpectedHTML      = errors.New("UnexpectedHTML")
	ErrInvalidJSON         = errors.New("InvalidJSON")
	ErrLoadFailed          = errors.New("LoadFailed")
	ErrTimeout             = errors.New("Timeout")
)

// Block signatures, checked in order before any JSON parse.
var blockSignatures = []struct {
	pattern string
	kind    error
}{
	{"Just a moment", ErrCloudflareBlocked},
	{"Enable JavaScript and cookies to continue", ErrCloudflareChallenge},
	{"<html", ErrUnexpectedHTML},
}

// FetchError describes a failed fetch.
type FetchError struct {
	Kind    error
	URL     string
	Snippet string
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Snippet != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Snippet)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *FetchError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// IsBlocked reports whether err is an anti-bot classification.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrCloudflareBlocked) ||
		errors.Is(err, ErrCloudflareChallenge) ||
		errors.Is(err, ErrUnexpectedHTML)
}

// Page is a disposable rendering context.
type Page interface {
	// Navigate loads url and returns once the document has finished loading.
	Navigate(ctx context.Context, url string) error
	// BodyText returns the rendered body's plain text.
	BodyText(ctx context.Context) (string, error)
	Close() error
}

// Opener hands out fresh pages that share the browser's cookie jar.
type Opener interface {
	OpenPage(ctx context.Context) (Page, error)
}

// Fetcher loads JSON endpoints through a real browser page so requests
// carry a genuine browser fingerprint.
type Fetcher struct {
	opener  Opener
	timeout time.Duration
	log     zerolog.Logger
}

// NewFetcher returns a Fetcher. A non-positive timeout selects DefaultTimeout.
func NewFetcher(opener Opener, timeout time.Duration, log zerolog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{opener: opener, timeout: timeout, log: log}
}

// Fetch loads url in a new page and returns its body parsed as JSON.
// The page is closed on every return path.
func (f *Fetcher) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	page, err := f.opener.OpenPage(ctx)
	if err != nil {
		return nil, &FetchError{Kind: ErrLoadFailed, URL: url, Err: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			f.log.Debug().Err(err).Str("url", url).Msg("close page")
		}
	}()

	start := time.Now()
	if err := page.Navigate(ctx, url); err != nil {
		return nil, loadError(ctx, url, err)
	}
	body, err := page.BodyText(ctx)
	if err != nil {
		return nil, loadError(ctx, url, err)
	}

	f.log.Debug().Str("url", url).Dur("took", time.Since(start)).Int("bytes", len(body)).Msg("page loaded")
	return classify(url, body)
}

func loadError(ctx context.Context, url string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: ErrTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: ErrLoadFailed, URL: url, Err: err}
}

// classify rejects known block pages, then parses the body as JSON.
func classify(url, body string) (json.RawMessage, error) {
	for _, sig := range blockSignatures {
		if strings.Contains(body, sig.pattern) {
			return nil, &FetchError{Kind: sig.kind, URL: url, Snippet: snippet(body)}
		}
	}

	if len(body) > maxBodyBytes {
		return nil, &FetchError{Kind: ErrInvalidJSON, URL: url, Err: errors.New("response too large")}
	}

	trimmed := strings.TrimSpace(body)
	if !json.Valid([]byte(trimmed)) {
		return nil, &FetchError{Kind: ErrInvalidJSON, URL: url, Snippet: snippet(body)}
	}
	return json.RawMessage(trimmed), nil
}

func snippet(body string) string {
	r := []rune(body)
	if len(r) <= snippetLen {
		return body
	}
	return string(r[:snippetLen])
}
