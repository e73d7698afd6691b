package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau/claude-usage/internal/browser"
)

type fakeJar struct {
	cookie  string
	removed int
}

func (j *fakeJar) SetSessionCookie(ctx context.Context, value string) error {
	j.cookie = value
	return nil
}

func (j *fakeJar) RemoveSessionCookie(ctx context.Context) error {
	j.cookie = ""
	j.removed++
	return nil
}

type stubFetcher struct {
	body string
	err  error
	urls []string
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

func TestValidate_ReturnsFirstOrganization(t *testing.T) {
	jar := &fakeJar{}
	f := &stubFetcher{body: `[{"uuid":"org-a","name":"A"},{"uuid":"org-b"}]`}
	v := NewValidator(jar, f, "https://claude.ai/", zerolog.Nop())

	org, err := v.Validate(context.Background(), "  sk-ant-sid01-key  ")
	require.NoError(t, err)
	assert.Equal(t, "org-a", org)
	assert.Equal(t, "sk-ant-sid01-key", jar.cookie)
	assert.Equal(t, []string{"https://claude.ai/api/organizations"}, f.urls)
	assert.Zero(t, jar.removed)
}

func TestValidate_FallsBackToID(t *testing.T) {
	jar := &fakeJar{}
	f := &stubFetcher{body: `[{"id":12345}]`}
	v := NewValidator(jar, f, "https://claude.ai", zerolog.Nop())

	org, err := v.Validate(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, "12345", org)
}

func TestValidate_Rejections(t *testing.T) {
	blocked := &browser.FetchError{Kind: browser.ErrCloudflareBlocked, Snippet: "Just a moment..."}

	tests := []struct {
		name   string
		body   string
		err    error
		reason string
	}{
		{name: "fetch blocked", err: blocked, reason: "CloudflareBlocked: Just a moment..."},
		{name: "empty list", body: `[]`, reason: "no organizations found"},
		{name: "not a list", body: `{"error":"unauthorized"}`, reason: "unexpected organizations response"},
		{name: "no identifier", body: `[{"name":"nameless"}]`, reason: "organization has no id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := &fakeJar{}
			v := NewValidator(jar, &stubFetcher{body: tt.body, err: tt.err}, "https://claude.ai", zerolog.Nop())

			_, err := v.Validate(context.Background(), "key")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSession)

			var ise *InvalidSessionError
			require.True(t, errors.As(err, &ise))
			assert.Equal(t, tt.reason, ise.Reason)
			assert.Equal(t, 1, jar.removed)
			assert.Empty(t, jar.cookie)
		})
	}
}

func TestValidate_BlockedCauseIsPreserved(t *testing.T) {
	blocked := &browser.FetchError{Kind: browser.ErrCloudflareChallenge}
	v := NewValidator(&fakeJar{}, &stubFetcher{err: blocked}, "https://claude.ai", zerolog.Nop())

	_, err := v.Validate(context.Background(), "key")
	assert.ErrorIs(t, err, browser.ErrCloudflareChallenge)
}

func TestValidate_EmptyKey(t *testing.T) {
	f := &stubFetcher{}
	v := NewValidator(&fakeJar{}, f, "https://claude.ai", zerolog.Nop())

	_, err := v.Validate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Empty(t, f.urls)
}
