package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidSession matches every *InvalidSessionError.
var ErrInvalidSession = errors.New("invalid session")

// InvalidSessionError explains why a session key was rejected.
type InvalidSessionError struct {
	Reason string
	Err    error
}

func (e *InvalidSessionError) Error() string {
	return "invalid session: " + e.Reason
}

func (e *InvalidSessionError) Is(target error) bool {
	return target == ErrInvalidSession
}

func (e *InvalidSessionError) Unwrap() error {
	return e.Err
}

// CookieJar installs and removes the session cookie used by fetches.
type CookieJar interface {
	SetSessionCookie(ctx context.Context, value string) error
	RemoveSessionCookie(ctx context.Context) error
}

// Fetcher loads a JSON endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// Validator checks a candidate session key against the organizations
// endpoint.
type Validator struct {
	jar     CookieJar
	fetcher Fetcher
	baseURL string
	log     zerolog.Logger
}

// NewValidator returns a Validator for baseURL.
func NewValidator(jar CookieJar, fetcher Fetcher, baseURL string, log zerolog.Logger) *Validator {
	return &Validator{
		jar:     jar,
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

type organization struct {
	UUID string `json:"uuid"`
	ID   any    `json:"id"`
}

func (o organization) identifier() string {
	if o.UUID != "" {
		return o.UUID
	}
	if o.ID == nil {
		return ""
	}
	return fmt.Sprint(o.ID)
}

// Validate installs sessionKey as the session cookie and returns the first
// organization id it can see. On failure the cookie is removed again.
func (v *Validator) Validate(ctx context.Context, sessionKey string) (string, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return "", &InvalidSessionError{Reason: "empty session key"}
	}

	if err := v.jar.SetSessionCookie(ctx, sessionKey); err != nil {
		return "", &InvalidSessionError{Reason: "could not install session cookie", Err: err}
	}

	raw, err := v.fetcher.Fetch(ctx, v.baseURL+"/api/organizations")
	if err != nil {
		return "", v.reject(ctx, err.Error(), err)
	}

	var orgs []organization
	if err := json.Unmarshal(raw, &orgs); err != nil {
		return "", v.reject(ctx, "unexpected organizations response", err)
	}
	if len(orgs) == 0 {
		return "", v.reject(ctx, "no organizations found", nil)
	}
	orgID := orgs[0].identifier()
	if orgID == "" {
		return "", v.reject(ctx, "organization has no id", nil)
	}

	v.log.Debug().Str("organization", orgID).Msg("session validated")
	return orgID, nil
}

func (v *Validator) reject(ctx context.Context, reason string, cause error) error {
	if err := v.jar.RemoveSessionCookie(ctx); err != nil {
		v.log.Debug().Err(err).Msg("remove rejected session cookie")
	}
	return &InvalidSessionError{Reason: reason, Err: cause}
}
