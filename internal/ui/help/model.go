package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/assetdash/internal/keys"
	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/theme"
)

// Model is the help overlay: key bindings followed by a legend for the
// markers used in the feed.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	m.help.Width = m.width - 4
	m.help.ShowAll = true

	content := lipgloss.JoinVertical(lipgloss.Left,
		title.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		title.Render("Legend"),
		statusLegend(),
		priorityLegend(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}

var legendStatuses = []struct {
	status model.Status
	label  string
}{
	{model.StatusUnread, "unread"},
	{model.StatusRead, "read"},
	{model.StatusArchived, "archived or dismissed"},
}

func statusLegend() string {
	parts := make([]string, 0, len(legendStatuses))
	for _, s := range legendStatuses {
		glyph := theme.StatusStyle(s.status).Render(theme.StatusGlyph(s.status))
		parts = append(parts, fmt.Sprintf("%s %s", glyph, s.label))
	}
	return strings.Join(parts, "   ")
}

func priorityLegend() string {
	priorities := []model.Priority{
		model.PriorityCritical,
		model.PriorityHigh,
		model.PriorityMedium,
		model.PriorityLow,
	}
	parts := make([]string, 0, len(priorities))
	for _, p := range priorities {
		badge := theme.PriorityStyle(p).Render(theme.PriorityLabel(p))
		parts = append(parts, fmt.Sprintf("%s %s", badge, p))
	}
	return strings.Join(parts, "   ")
}
