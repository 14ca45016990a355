package feed

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title }

// Description returns a short summary line for the list.
func (i Item) Description() string {
	parts := []string{
		string(i.Notification.Category),
		string(i.Notification.Status),
		relativeTime(i.Notification.Timestamp, time.Now()),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for notification rows.
type ItemDelegate struct {
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	now := time.Now()
	if d.now != nil {
		now = d.now()
	}
	fmt.Fprint(w, renderLine(it.Notification, index == m.Index(), now))
}

func renderLine(n model.Notification, isSelected bool, now time.Time) string {
	prefix := theme.StatusGlyph(n.Status)
	typeBadge := theme.TypeStyle(n.Type).Render(theme.TypeLabel(n.Type))
	priBadge := theme.PriorityStyle(n.Priority).Render(theme.PriorityLabel(n.Priority))

	category := lipgloss.NewStyle().
		Foreground(theme.ColorMagenta).
		Render(string(n.Category))

	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(n.Timestamp, now))

	expired := ""
	if n.Expired(now) {
		expired = theme.DimmedStyle.Render(" expired")
	}

	line := fmt.Sprintf(
		"%s %s %s %s  %s%s  %s",
		theme.StatusStyle(n.Status).Render(prefix), typeBadge, priBadge,
		n.Title, category, expired, timeStr,
	)

	if !n.IsUnread() {
		line = theme.DimmedStyle.Render(line)
	}

	if isSelected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
