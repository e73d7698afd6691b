package ui

import (
	"slices"
	"time"

	"github.com/tau/claude-usage/internal/store"
)

// dayPeak is the highest utilization seen on one calendar day.
type dayPeak struct {
	Day     time.Time
	Session float64
	Weekly  float64
	Sonnet  float64
}

// dailyPeaks folds history entries into per-day peaks, newest day first.
func dailyPeaks(entries []store.HistoryEntry, loc *time.Location) []dayPeak {
	byDay := make(map[string]*dayPeak)
	for _, e := range entries {
		t := e.Time().In(loc)
		key := t.Format(time.DateOnly)
		p, ok := byDay[key]
		if !ok {
			p = &dayPeak{Day: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)}
			byDay[key] = p
		}
		p.Session = max(p.Session, e.Session)
		p.Weekly = max(p.Weekly, e.Weekly)
		p.Sonnet = max(p.Sonnet, e.Sonnet)
	}

	out := make([]dayPeak, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b dayPeak) int {
		return b.Day.Compare(a.Day)
	})
	return out
}
