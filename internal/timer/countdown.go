// Package timer derives countdown display state for quota windows and
// decides when an elapsed window should trigger a re-poll.
package timer

import (
	"fmt"
	"time"
)

const (
	SessionWindow = 5 * time.Hour
	WeeklyWindow  = 7 * 24 * time.Hour

	// RetryDelay gives the provider time to roll the window over before
	// the re-poll.
	RetryDelay   = 3 * time.Second
	TickInterval = time.Second
)

// Phase of a countdown.
type Phase int

const (
	NotStarted Phase = iota
	Counting
	Resetting
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not started"
	case Counting:
		return "counting"
	case Resetting:
		return "resetting"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Level is the severity band for a fraction or percentage.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelDanger
)

// LevelForPercent bands a 0-100 value: warning from 75, danger from 90.
func LevelForPercent(pct float64) Level {
	switch {
	case pct >= 90:
		return LevelDanger
	case pct >= 75:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// Placeholder texts.
const (
	TextNotStarted = "--:--"
	TextResetting  = "Resetting..."
)

// Countdown is the display state of one window at one instant.
type Countdown struct {
	Phase     Phase
	Text      string
	Remaining time.Duration
	// Elapsed is the fraction of the window used up, in [0,1].
	Elapsed float64
	Level   Level
}

// Compute derives the countdown for a window of length total that resets
// at resetsAt. A nil resetsAt means the window has not started.
func Compute(resetsAt *time.Time, total time.Duration, now time.Time) Countdown {
	if resetsAt == nil {
		return Countdown{Phase: NotStarted, Text: TextNotStarted}
	}

	remaining := resetsAt.Sub(now)
	if remaining <= 0 {
		return Countdown{Phase: Resetting, Text: TextResetting, Elapsed: 1}
	}

	c := Countdown{
		Phase:     Counting,
		Text:      FormatRemaining(remaining),
		Remaining: remaining,
	}
	if total > 0 {
		c.Elapsed = clamp(float64(total-remaining)/float64(total), 0, 1)
	}
	c.Level = LevelForPercent(c.Elapsed * 100)
	return c
}

// FormatRemaining renders d as "Nd Nh", "Nh Nm" or "Nm", truncating.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)

	switch {
	case hours >= 24:
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
