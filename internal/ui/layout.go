package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/assetdash/internal/theme"
)

// Title is shown on the left of the header.
const Title = "Asset Dashboard"

// Layout splits the terminal into a header, the notification feed, a
// one-line preview of the selected notification, and a status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	PreviewHeight   int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		PreviewHeight:   1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height between the header and the status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// FeedHeight is the content height left for the feed once the preview
// line is reserved.
func (l Layout) FeedHeight() int {
	h := l.ContentHeight() - l.PreviewHeight
	if h < 1 {
		return 1
	}
	return h
}

// RenderHeader renders the title with an unread badge on the left and the
// push and poll state on the right.
func (l Layout) RenderHeader(unread int, channels string) string {
	left := theme.HeaderStyle.Render(Title)
	if unread > 0 {
		left = lipgloss.JoinHorizontal(lipgloss.Top,
			left,
			theme.UnreadBadgeStyle.Render(fmt.Sprintf("%d unread", unread)),
		)
	}

	right := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(channels)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		left,
		fill(theme.HeaderStyle, l.Width-lipgloss.Width(left)-lipgloss.Width(right)),
		right,
	)
}

// RenderStatusBar renders keyboard hints, or alert in place of them when
// the last action failed.
func (l Layout) RenderStatusBar(hints, alert string) string {
	style := theme.StatusBarStyle
	text := hints
	if alert != "" {
		style = theme.AlertBarStyle
		text = "⚠ " + alert
	}
	rendered := style.Render(text)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		rendered,
		fill(style, l.Width-lipgloss.Width(rendered)),
	)
}

// RenderWithFrame stacks the header, content and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

// fill pads a bar to the terminal width in the bar's background.
func fill(style lipgloss.Style, width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(width).
		Background(style.GetBackground()).
		Render("")
}
