package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tau/claude-usage/internal/browser"
	"github.com/tau/claude-usage/internal/store"
)

var (
	// ErrMissingCredentials means no poll was attempted.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrSessionExpired means the provider rejected the stored session.
	ErrSessionExpired = errors.New("session expired")
)

// Fetcher loads a JSON endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// CredentialStore is the part of the store the poller clears on expiry.
type CredentialStore interface {
	DeleteCredentials() error
}

// Notifier is told when the session has expired.
type Notifier interface {
	SessionExpired()
}

// Poller fetches and merges one usage snapshot per call.
type Poller struct {
	fetcher Fetcher
	creds   CredentialStore
	notify  Notifier
	baseURL string
	log     zerolog.Logger
}

// NewPoller returns a Poller for baseURL.
func NewPoller(fetcher Fetcher, creds CredentialStore, notify Notifier, baseURL string, log zerolog.Logger) *Poller {
	return &Poller{
		fetcher: fetcher,
		creds:   creds,
		notify:  notify,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

type result struct {
	raw json.RawMessage
	err error
}

// Poll fetches the usage, overage and prepaid endpoints concurrently and
// waits for all three. Only the usage endpoint can fail the poll.
func (p *Poller) Poll(ctx context.Context, creds store.Credentials) (*Snapshot, error) {
	if !creds.Valid() {
		return nil, ErrMissingCredentials
	}

	org := fmt.Sprintf("%s/api/organizations/%s", p.baseURL, url.PathEscape(creds.OrganizationID))
	var usage json.RawMessage
	var overage, prepaid result

	// No group context: a usage failure must not cancel the optional fetches.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		usage, err = p.fetcher.Fetch(ctx, org+"/usage")
		return err
	})
	g.Go(func() error {
		overage.raw, overage.err = p.fetcher.Fetch(ctx, org+"/overage_spend_limit")
		return nil
	})
	g.Go(func() error {
		prepaid.raw, prepaid.err = p.fetcher.Fetch(ctx, org+"/prepaid/credits")
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, p.mandatoryFailed(err)
	}

	snap, err := ParseSnapshot(usage)
	if err != nil {
		return nil, err
	}

	overlay := map[string]any{}
	if overage.err != nil {
		p.log.Debug().Err(overage.err).Msg("overage endpoint unavailable")
	} else if err := mergeOverage(overlay, overage.raw); err != nil {
		p.log.Debug().Err(err).Msg("overage response ignored")
	}
	if prepaid.err != nil {
		p.log.Debug().Err(prepaid.err).Msg("prepaid endpoint unavailable")
	} else if err := mergePrepaid(overlay, prepaid.raw); err != nil {
		p.log.Debug().Err(err).Msg("prepaid response ignored")
	}

	if len(overlay) == 0 {
		return snap, nil
	}
	return snap.withExtra(overlay)
}

// mandatoryFailed treats anti-bot classifications as an expired session.
func (p *Poller) mandatoryFailed(err error) error {
	if !browser.IsBlocked(err) {
		return err
	}

	p.log.Warn().Err(err).Msg("usage endpoint blocked, treating session as expired")
	if derr := p.creds.DeleteCredentials(); derr != nil {
		p.log.Error().Err(derr).Msg("clear credentials")
	}
	if p.notify != nil {
		p.notify.SessionExpired()
	}
	return fmt.Errorf("%w: %w", ErrSessionExpired, err)
}

type overageWire struct {
	MonthlyCreditLimit    *float64 `json:"monthly_credit_limit"`
	SpendLimitAmountCents *float64 `json:"spend_limit_amount_cents"`
	UsedCredits           *float64 `json:"used_credits"`
	BalanceCents          *float64 `json:"balance_cents"`
	IsEnabled             bool     `json:"is_enabled"`
}

func mergeOverage(overlay map[string]any, raw json.RawMessage) error {
	var o overageWire
	if err := json.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("parse overage: %w", err)
	}
	limit := firstOf(o.MonthlyCreditLimit, o.SpendLimitAmountCents)
	if !o.IsEnabled || limit == nil || *limit <= 0 {
		return nil
	}
	used := 0.0
	if u := firstOf(o.UsedCredits, o.BalanceCents); u != nil {
		used = *u
	}
	overlay["utilization"] = used / *limit * 100
	overlay["used_cents"] = used
	overlay["limit_cents"] = *limit
	return nil
}

func mergePrepaid(overlay map[string]any, raw json.RawMessage) error {
	var p struct {
		Amount *float64 `json:"amount"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse prepaid: %w", err)
	}
	if p.Amount != nil {
		overlay["balance_cents"] = *p.Amount
	}
	return nil
}

func firstOf(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
