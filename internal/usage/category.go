package usage

import (
	"time"

	"github.com/tau/claude-usage/internal/timer"
)

// Color tags a row's palette.
type Color string

const (
	ColorWeekly Color = "weekly"
	ColorOpus   Color = "opus"
	ColorExtra  Color = "extra"
)

// Category is one of the known secondary usage rows.
type Category int

const (
	CategorySonnet Category = iota
	CategoryOpus
	CategoryCowork
	CategoryOAuthApps
	CategoryExtra
)

var categories = [...]struct {
	key    string
	label  string
	color  Color
	window time.Duration
}{
	CategorySonnet:    {KeySevenDaySonnet, "Sonnet (7d)", ColorWeekly, timer.WeeklyWindow},
	CategoryOpus:      {KeySevenDayOpus, "Opus (7d)", ColorOpus, timer.WeeklyWindow},
	CategoryCowork:    {KeySevenDayCowork, "Cowork (7d)", ColorWeekly, timer.WeeklyWindow},
	CategoryOAuthApps: {KeySevenDayOAuthApps, "OAuth Apps (7d)", ColorWeekly, timer.WeeklyWindow},
	CategoryExtra:     {KeyExtraUsage, "Extra Usage", ColorExtra, 0},
}

func (c Category) Key() string   { return categories[c].key }
func (c Category) Label() string { return categories[c].label }
func (c Category) Color() Color  { return categories[c].color }

// Window is the nominal window length, or 0 when the row has no timer.
func (c Category) Window() time.Duration { return categories[c].window }

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{CategorySonnet, CategoryOpus, CategoryCowork, CategoryOAuthApps, CategoryExtra}
}

// LookupCategory maps a response key to its category. Unknown keys are
// not categories.
func LookupCategory(key string) (Category, bool) {
	for _, c := range Categories() {
		if c.Key() == key {
			return c, true
		}
	}
	return 0, false
}
