package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/tau/claude-usage/internal/timer"
	"github.com/tau/claude-usage/internal/usage"
)

// styles

const (
	accentColor  = "99"
	sessionColor = "#76EEC6"
	warningColor = "#FFB347"
	dangerColor  = "#FF6347"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(accentColor))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	labelColor = lipgloss.Color("252")

	percentStyle = lipgloss.NewStyle().
			Width(6).
			Align(lipgloss.Right).
			Foreground(lipgloss.Color("252"))

	countdownStyle = lipgloss.NewStyle().
			Width(9).
			Align(lipgloss.Right)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	valStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

var palette = map[usage.Color]string{
	usage.ColorWeekly: "#7AA2F7",
	usage.ColorOpus:   "#BB9AF7",
	usage.ColorExtra:  "#E0AF68",
}

func paletteColor(c usage.Color) string {
	if col, ok := palette[c]; ok {
		return col
	}
	return sessionColor
}

// levelColor swaps base for the warning or danger color at 75% and 90%.
func levelColor(base string, pct float64) string {
	switch timer.LevelForPercent(pct) {
	case timer.LevelDanger:
		return dangerColor
	case timer.LevelWarning:
		return warningColor
	}
	return base
}

func countdownColor(l timer.Level) lipgloss.Color {
	switch l {
	case timer.LevelDanger:
		return lipgloss.Color(dangerColor)
	case timer.LevelWarning:
		return lipgloss.Color(warningColor)
	}
	return lipgloss.Color("243")
}

var narrowLabels = map[usage.Category]string{
	usage.CategorySonnet:    "Son",
	usage.CategoryOpus:      "Opus",
	usage.CategoryCowork:    "Cowk",
	usage.CategoryOAuthApps: "OAuth",
	usage.CategoryExtra:     "Extra",
}

// layout

// narrow returns true when the terminal is too tight for the full layout
func (m Model) narrow() bool {
	return m.contentWidth() < 44
}

// contentWidth returns usable width inside the border
func (m Model) contentWidth() int {
	if m.width <= 0 {
		return 56
	}
	pad := 6 // 2 border + 4 padding
	if m.narrow2() {
		pad = 4 // 2 border + 2 padding
	}
	return m.width - pad
}

// narrow2 is the raw width check (no contentWidth recursion)
func (m Model) narrow2() bool {
	return m.width < 35
}

func (m Model) labelWidth() int {
	if m.narrow() {
		return 6
	}
	return 16
}

func (m Model) borderStyle() lipgloss.Style {
	s := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(accentColor))
	if m.narrow2() {
		return s.Padding(0, 1)
	}
	return s.Padding(0, 2)
}

func (m Model) View() string {
	var b strings.Builder

	// title row
	cw := m.contentWidth()
	title := titleStyle.Render("claude-usage")
	if m.loading || m.loginBusy {
		title += "  " + m.spinner.View()
	} else if m.stale {
		title += "  " + staleStyle.Render("stale")
	}

	right := ""
	if !m.lastFetch.IsZero() && m.screen != screenLogin {
		right = m.lastFetch.Format("15:04")
	}
	if right != "" {
		titleRow := title + footerStyle.Render(strings.Repeat(" ", max(1, cw-lipgloss.Width(title)-lipgloss.Width(right)))+right)
		b.WriteString(titleRow + "\n")
	} else {
		b.WriteString(title + "\n")
	}

	switch {
	case m.screen == screenLogin:
		b.WriteString(m.renderLogin())
	case m.showHistory:
		b.WriteString(m.renderHistoryContent())
	case m.screen == screenLoading:
		b.WriteString(dimStyle.Render("  loading...") + "\n")
	case m.snap == nil && m.err != nil:
		// error only (no data yet)
		b.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
		b.WriteString(footerStyle.Render("  [r] retry  [L] logout") + "\n")
	case m.screen == screenNoUsage:
		b.WriteString(m.renderNoUsage())
	default:
		b.WriteString(m.renderUsage())
	}

	return m.borderStyle().Render(b.String())
}

func (m Model) renderLogin() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Log in to Claude") + "\n")

	switch {
	case m.loginBusy:
		b.WriteString(dimStyle.Render("  "+m.loginStatus) + "\n")
		if m.cancelLogin != nil {
			b.WriteString(footerStyle.Render("  [esc] cancel") + "\n")
		}
	case m.loginStep == stepManual:
		b.WriteString(dimStyle.Render("  Paste the sessionKey cookie from claude.ai") + "\n")
		b.WriteString("  " + m.keyInput.View() + "\n")
		if m.loginErr != "" {
			b.WriteString(errorStyle.Render("  "+m.loginErr) + "\n")
		}
		b.WriteString(footerStyle.Render("  [enter] connect  [esc] back") + "\n")
	default:
		if m.loginStatus != "" {
			b.WriteString(staleStyle.Render("  "+m.loginStatus) + "\n")
		}
		if m.loginErr != "" {
			b.WriteString(errorStyle.Render("  "+m.loginErr) + "\n")
		}
		b.WriteString(valStyle.Render("  [l] log in with browser") + "\n")
		b.WriteString(valStyle.Render("  [m] enter session key") + "\n")
		b.WriteString(footerStyle.Render("  [q] quit") + "\n")
	}
	return b.String()
}

func (m Model) renderNoUsage() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("No usage yet") + "\n")
	b.WriteString(dimStyle.Render("  Timers start when you send a message.") + "\n")
	b.WriteString(m.renderStaleError())
	b.WriteString(footerStyle.Render("  [r] refresh  [c] history  [L] logout") + "\n")
	return b.String()
}

func (m Model) renderUsage() string {
	var b strings.Builder

	narrow := m.narrow()
	lw := m.labelWidth()

	sess, _ := m.snap.Period(usage.KeyFiveHour)
	week, _ := m.snap.Period(usage.KeySevenDay)

	label := "Session (5h)"
	if narrow {
		label = "5h"
	}
	b.WriteString(m.renderBar(label, m.sessionBar.View(), fmtPercent(sess.Percent()), m.countdown(sess, timer.SessionWindow), lw))

	label = "Weekly (7d)"
	if narrow {
		label = "7d"
	}
	b.WriteString(m.renderBar(label, m.weeklyBar.View(), fmtPercent(week.Percent()), m.countdown(week, timer.WeeklyWindow), lw))

	rows := m.snap.Rows()
	if m.expanded {
		b.WriteString("\n")
		for _, r := range rows {
			b.WriteString(m.renderRow(r, lw))
		}
	}

	b.WriteString(m.renderStaleError())

	// footer hint
	hint := "  [r] refresh  [c] history  [L] logout"
	if len(rows) > 0 {
		if m.expanded {
			hint = "  [e] less" + hint
		} else {
			hint = "  [e] more" + hint
		}
	}
	b.WriteString(footerStyle.Render(hint) + "\n")

	return b.String()
}

func (m Model) renderStaleError() string {
	if m.stale && m.err != nil {
		return staleStyle.Render("  "+m.err.Error()) + "\n"
	}
	return ""
}

func (m Model) countdown(p usage.Period, total time.Duration) string {
	c := timer.Compute(p.ResetsAt, total, m.now)
	style := countdownStyle.Foreground(countdownColor(c.Level))
	if c.Phase == timer.NotStarted {
		style = style.Faint(true)
	}
	return style.Render(c.Text)
}

func (m Model) renderBar(label, bar, pct, tail string, labelWidth int) string {
	labelStr := lipgloss.NewStyle().Width(labelWidth).Foreground(labelColor).Render(label)
	return labelStr + bar + " " + percentStyle.Render(pct) + tail + "\n"
}

func (m Model) renderRow(r usage.Row, labelWidth int) string {
	label := r.Category.Label()
	if m.narrow() {
		label = narrowLabels[r.Category]
	}

	pct := r.Period.Percent()
	bar := m.rowBar
	bar.FullColor = levelColor(paletteColor(r.Category.Color()), pct)

	pctStr := fmtPercent(pct)
	tail := ""
	if r.Category == usage.CategoryExtra {
		if spend, ok := r.Spend(); ok {
			pctStr = spend
		}
		if bal, ok := r.Balance(); ok {
			tail = countdownStyle.Foreground(lipgloss.Color(palette[usage.ColorExtra])).Render(bal)
		}
	} else if r.Category.Window() > 0 && r.Period.ResetsAt != nil {
		tail = m.countdown(r.Period, r.Category.Window())
	}

	return m.renderBar(label, barView(bar, pct), pctStr, tail, labelWidth)
}

func barView(bar progress.Model, pct float64) string {
	return bar.ViewAs(clampPercent(pct) / 100)
}

func fmtPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

func (m Model) renderHistoryContent() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Last 30 days") + "\n")

	if m.historyErr != nil {
		b.WriteString(errorStyle.Render("  "+m.historyErr.Error()) + "\n")
	}

	days := dailyPeaks(m.history, time.Local)
	if len(days) == 0 {
		b.WriteString(dimStyle.Render("  no history yet") + "\n")
	}

	todayStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(accentColor))
	narrow := m.narrow()
	today := m.now.In(time.Local).Format(time.DateOnly)

	for _, d := range days {
		var line string
		if narrow {
			line = fmt.Sprintf("  %s %3.0f %3.0f %3.0f", d.Day.Format("01/02"), d.Session, d.Weekly, d.Sonnet)
		} else {
			line = fmt.Sprintf("  %s %s  5h %3.0f%%  7d %3.0f%%  son %3.0f%%",
				d.Day.Format("Jan 02"), d.Day.Weekday().String()[:3], d.Session, d.Weekly, d.Sonnet)
		}
		if d.Day.Format(time.DateOnly) == today {
			b.WriteString(todayStyle.Render(line) + dimStyle.Render(" ←") + "\n")
		} else {
			b.WriteString(valStyle.Render(line) + "\n")
		}
	}

	b.WriteString(footerStyle.Render("  [c] back  [X] clear") + "\n")

	return b.String()
}
