package usage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Keys of the usage response.
const (
	KeyFiveHour          = "five_hour"
	KeySevenDay          = "seven_day"
	KeySevenDaySonnet    = "seven_day_sonnet"
	KeySevenDayOpus      = "seven_day_opus"
	KeySevenDayCowork    = "seven_day_cowork"
	KeySevenDayOAuthApps = "seven_day_oauth_apps"
	KeyExtraUsage        = "extra_usage"
)

// Period is one quota window.
type Period struct {
	Utilization *float64
	ResetsAt    *time.Time
}

// Percent returns the utilization, or 0 when absent.
func (p Period) Percent() float64 {
	if p.Utilization == nil {
		return 0
	}
	return *p.Utilization
}

// ExtraUsage is the spend/prepaid overlay. All fields are optional.
type ExtraUsage struct {
	Utilization  *float64 `json:"utilization,omitempty"`
	ResetsAt     *string  `json:"resets_at,omitempty"`
	UsedCents    *float64 `json:"used_cents,omitempty"`
	LimitCents   *float64 `json:"limit_cents,omitempty"`
	BalanceCents *float64 `json:"balance_cents,omitempty"`
}

// Stats are the three headline percentages.
type Stats struct {
	Session float64
	Weekly  float64
	Sonnet  float64
}

// String renders the stats on one line, e.g. "5h:42% 7d:10% sonnet:3%".
func (s Stats) String() string {
	return fmt.Sprintf("5h:%.0f%% 7d:%.0f%% sonnet:%.0f%%", s.Session, s.Weekly, s.Sonnet)
}

// Snapshot is one poll's usage data. It keeps the upstream object as-is so
// that marshalling it back yields the original body plus any overlay.
// A Snapshot is never mutated after construction.
type Snapshot struct {
	fields map[string]json.RawMessage
}

// ParseSnapshot wraps a usage response. raw must be a JSON object.
func ParseSnapshot(raw json.RawMessage) (*Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("parse usage response: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("parse usage response: not an object")
	}
	return &Snapshot{fields: fields}, nil
}

// MarshalJSON returns the snapshot as a JSON object.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields)
}

// Keys lists the top-level keys, sorted.
func (s *Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.fields))
}

// Period returns the window stored under key.
func (s *Snapshot) Period(key string) (Period, bool) {
	raw, ok := s.fields[key]
	if !ok {
		return Period{}, false
	}
	var wire struct {
		Utilization *float64 `json:"utilization"`
		ResetsAt    *string  `json:"resets_at"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil || string(raw) == "null" {
		return Period{}, false
	}

	p := Period{Utilization: wire.Utilization}
	if wire.ResetsAt != nil && *wire.ResetsAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, *wire.ResetsAt); err == nil {
			p.ResetsAt = &t
		}
	}
	return p, true
}

// Extra returns the extra usage overlay, if present.
func (s *Snapshot) Extra() (ExtraUsage, bool) {
	raw, ok := s.fields[KeyExtraUsage]
	if !ok || string(raw) == "null" {
		return ExtraUsage{}, false
	}
	var e ExtraUsage
	if err := json.Unmarshal(raw, &e); err != nil {
		return ExtraUsage{}, false
	}
	return e, true
}

// Stats returns session, weekly and sonnet utilization.
func (s *Snapshot) Stats() Stats {
	session, _ := s.Period(KeyFiveHour)
	weekly, _ := s.Period(KeySevenDay)
	sonnet, _ := s.Period(KeySevenDaySonnet)
	return Stats{
		Session: session.Percent(),
		Weekly:  weekly.Percent(),
		Sonnet:  sonnet.Percent(),
	}
}

// HasNoUsage reports whether neither main window has started.
func (s *Snapshot) HasNoUsage() bool {
	session, _ := s.Period(KeyFiveHour)
	weekly, _ := s.Period(KeySevenDay)
	return session.Percent() == 0 && session.ResetsAt == nil &&
		weekly.Percent() == 0 && weekly.ResetsAt == nil
}

// withExtra returns a copy with overlay merged into extra_usage. Fields
// already present in extra_usage and not named by overlay are kept.
func (s *Snapshot) withExtra(overlay map[string]any) (*Snapshot, error) {
	fields := maps.Clone(s.fields)

	extra := map[string]json.RawMessage{}
	if raw, ok := fields[KeyExtraUsage]; ok {
		// a non-object extra_usage is replaced
		_ = json.Unmarshal(raw, &extra)
		if extra == nil {
			extra = map[string]json.RawMessage{}
		}
	}
	for k, v := range overlay {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", k, err)
		}
		extra[k] = b
	}

	merged, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra usage: %w", err)
	}
	fields[KeyExtraUsage] = merged
	return &Snapshot{fields: fields}, nil
}
