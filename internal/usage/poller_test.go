package usage

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau/claude-usage/internal/browser"
	"github.com/tau/claude-usage/internal/store"
)

const base = "https://claude.ai/api/organizations/org-1"

type reply struct {
	body string
	err  error
}

type routeFetcher struct {
	mu     sync.Mutex
	routes map[string]reply
	calls  []string
}

func (f *routeFetcher) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	r, ok := f.routes[url]
	f.mu.Unlock()

	if !ok {
		return nil, &browser.FetchError{Kind: browser.ErrLoadFailed, URL: url}
	}
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.body), nil
}

type fakeCreds struct{ deleted int }

func (c *fakeCreds) DeleteCredentials() error {
	c.deleted++
	return nil
}

type fakeNotifier struct{ expired int }

func (n *fakeNotifier) SessionExpired() { n.expired++ }

var validCreds = store.Credentials{SessionKey: "sk-ant-sid01-key", OrganizationID: "org-1"}

func newTestPoller(f Fetcher) (*Poller, *fakeCreds, *fakeNotifier) {
	c, n := &fakeCreds{}, &fakeNotifier{}
	return NewPoller(f, c, n, "https://claude.ai", zerolog.Nop()), c, n
}

func marshal(t *testing.T, s *Snapshot) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}

func TestPoll_MissingCredentials(t *testing.T) {
	for _, creds := range []store.Credentials{
		{},
		{SessionKey: "sk"},
		{OrganizationID: "org-1"},
	} {
		f := &routeFetcher{}
		p, _, _ := newTestPoller(f)

		snap, err := p.Poll(context.Background(), creds)
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.Nil(t, snap)
		assert.Empty(t, f.calls)
	}
}

func TestPoll_OptionalFailuresKeepUsageVerbatim(t *testing.T) {
	body := `{"five_hour":{"utilization":42,"resets_at":"2024-01-01T05:00:00Z"},"seven_day":null,"unknown_field":[1,2]}`
	timeout := &browser.FetchError{Kind: browser.ErrTimeout}
	f := &routeFetcher{routes: map[string]reply{
		base + "/usage":               {body: body},
		base + "/overage_spend_limit": {err: timeout},
		base + "/prepaid/credits":     {err: timeout},
	}}
	p, creds, notify := newTestPoller(f)

	snap, err := p.Poll(context.Background(), validCreds)
	require.NoError(t, err)
	assert.JSONEq(t, body, marshal(t, snap))
	assert.Len(t, f.calls, 3)
	assert.Zero(t, creds.deleted)
	assert.Zero(t, notify.expired)

	period, ok := snap.Period(KeyFiveHour)
	require.True(t, ok)
	assert.Equal(t, 42.0, period.Percent())
	assert.Equal(t, "2024-01-01T05:00:00Z", period.ResetsAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
}

func TestPoll_MergesOverageAndPrepaid(t *testing.T) {
	f := &routeFetcher{routes: map[string]reply{
		base + "/usage":               {body: `{"five_hour":{"utilization":10},"extra_usage":{"resets_at":"2024-02-01T00:00:00Z"}}`},
		base + "/overage_spend_limit": {body: `{"is_enabled":true,"monthly_credit_limit":2000,"used_credits":500}`},
		base + "/prepaid/credits":     {body: `{"amount":1234}`},
	}}
	p, _, _ := newTestPoller(f)

	snap, err := p.Poll(context.Background(), validCreds)
	require.NoError(t, err)

	extra, ok := snap.Extra()
	require.True(t, ok)
	require.NotNil(t, extra.Utilization)
	assert.Equal(t, 25.0, *extra.Utilization)
	assert.Equal(t, 500.0, *extra.UsedCents)
	assert.Equal(t, 2000.0, *extra.LimitCents)
	assert.Equal(t, 1234.0, *extra.BalanceCents)
	require.NotNil(t, extra.ResetsAt)
	assert.Equal(t, "2024-02-01T00:00:00Z", *extra.ResetsAt)
}

func TestPoll_OverageFallbackFields(t *testing.T) {
	f := &routeFetcher{routes: map[string]reply{
		base + "/usage":               {body: `{}`},
		base + "/overage_spend_limit": {body: `{"is_enabled":true,"spend_limit_amount_cents":400,"balance_cents":100}`},
	}}
	p, _, _ := newTestPoller(f)

	snap, err := p.Poll(context.Background(), validCreds)
	require.NoError(t, err)

	extra, ok := snap.Extra()
	require.True(t, ok)
	assert.Equal(t, 25.0, *extra.Utilization)
	assert.Nil(t, extra.BalanceCents)
}

func TestPoll_OverageWithoutLimitAddsNothing(t *testing.T) {
	usage := `{"five_hour":{"utilization":1}}`
	for _, overage := range []string{
		`{"is_enabled":false,"monthly_credit_limit":2000,"used_credits":500}`,
		`{"is_enabled":true,"monthly_credit_limit":0,"used_credits":500}`,
		`{"is_enabled":true,"used_credits":500}`,
		`not json`,
	} {
		f := &routeFetcher{routes: map[string]reply{
			base + "/usage":               {body: usage},
			base + "/overage_spend_limit": {body: overage},
		}}
		p, _, _ := newTestPoller(f)

		snap, err := p.Poll(context.Background(), validCreds)
		require.NoError(t, err)
		assert.JSONEq(t, usage, marshal(t, snap), overage)
	}
}

func TestPoll_Idempotent(t *testing.T) {
	f := &routeFetcher{routes: map[string]reply{
		base + "/usage":               {body: `{"five_hour":{"utilization":42},"seven_day":{"utilization":10}}`},
		base + "/overage_spend_limit": {body: `{"is_enabled":true,"monthly_credit_limit":100,"used_credits":5}`},
		base + "/prepaid/credits":     {body: `{"amount":7}`},
	}}
	p, _, _ := newTestPoller(f)

	first, err := p.Poll(context.Background(), validCreds)
	require.NoError(t, err)
	second, err := p.Poll(context.Background(), validCreds)
	require.NoError(t, err)

	assert.Equal(t, marshal(t, first), marshal(t, second))
}

func TestPoll_BlockedUsageExpiresSession(t *testing.T) {
	kinds := []error{browser.ErrCloudflareBlocked, browser.ErrCloudflareChallenge, browser.ErrUnexpectedHTML}
	for _, kind := range kinds {
		t.Run(kind.Error(), func(t *testing.T) {
			f := &routeFetcher{routes: map[string]reply{
				base + "/usage": {err: &browser.FetchError{Kind: kind, Snippet: "Just a moment..."}},
			}}
			p, creds, notify := newTestPoller(f)

			snap, err := p.Poll(context.Background(), validCreds)
			assert.Nil(t, snap)
			assert.ErrorIs(t, err, ErrSessionExpired)
			assert.ErrorIs(t, err, kind)
			assert.Equal(t, 1, creds.deleted)
			assert.Equal(t, 1, notify.expired)
		})
	}
}

func TestPoll_OtherUsageFailuresSurface(t *testing.T) {
	kinds := []error{browser.ErrTimeout, browser.ErrLoadFailed, browser.ErrInvalidJSON}
	for _, kind := range kinds {
		t.Run(kind.Error(), func(t *testing.T) {
			cause := &browser.FetchError{Kind: kind}
			f := &routeFetcher{routes: map[string]reply{
				base + "/usage": {err: cause},
			}}
			p, creds, notify := newTestPoller(f)

			_, err := p.Poll(context.Background(), validCreds)
			assert.Same(t, cause, err)
			assert.ErrorIs(t, err, kind)
			assert.NotErrorIs(t, err, ErrSessionExpired)
			assert.Zero(t, creds.deleted)
			assert.Zero(t, notify.expired)
		})
	}
}

func TestPoll_UsageFailureStillSettlesOptionalFetches(t *testing.T) {
	f := &routeFetcher{routes: map[string]reply{
		base + "/usage":               {err: &browser.FetchError{Kind: browser.ErrTimeout}},
		base + "/overage_spend_limit": {body: `{"is_enabled":false}`},
		base + "/prepaid/credits":     {body: `{"amount":100}`},
	}}
	p, _, _ := newTestPoller(f)

	_, err := p.Poll(context.Background(), validCreds)
	require.ErrorIs(t, err, browser.ErrTimeout)
	assert.ElementsMatch(t, []string{
		base + "/usage",
		base + "/overage_spend_limit",
		base + "/prepaid/credits",
	}, f.calls)
}

func TestPoll_EscapesOrganizationID(t *testing.T) {
	f := &routeFetcher{routes: map[string]reply{}}
	p, _, _ := newTestPoller(f)

	_, _ = p.Poll(context.Background(), store.Credentials{SessionKey: "sk", OrganizationID: "a/b c"})
	require.NotEmpty(t, f.calls)
	for _, u := range f.calls {
		assert.True(t, strings.HasPrefix(u, "https://claude.ai/api/organizations/a%2Fb%20c/"), u)
	}
}

func TestPoll_NonObjectUsage(t *testing.T) {
	f := &routeFetcher{routes: map[string]reply{
		base + "/usage": {body: `[1,2,3]`},
	}}
	p, _, _ := newTestPoller(f)

	_, err := p.Poll(context.Background(), validCreds)
	assert.Error(t, err)
}
