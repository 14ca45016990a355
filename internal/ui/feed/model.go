// Package feed renders the cached notification stream as a navigable list.
package feed

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/theme"
)

// Model is the notification list view component.
type Model struct {
	list       list.Model
	all        []model.Notification
	unreadOnly bool
	width      int
	height     int
}

// New creates an empty feed.
func New(width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		width:  width,
		height: height,
	}
}

// SetNotifications replaces the displayed records. recs must already be
// ordered newest first. The cursor stays on the same record when it is
// still visible.
func (m *Model) SetNotifications(recs []model.Notification) tea.Cmd {
	m.all = recs
	return m.refilter()
}

// ToggleUnreadOnly switches between all records and unread records.
func (m *Model) ToggleUnreadOnly() tea.Cmd {
	m.unreadOnly = !m.unreadOnly
	return m.refilter()
}

// UnreadOnly reports whether read records are hidden.
func (m Model) UnreadOnly() bool {
	return m.unreadOnly
}

func (m *Model) refilter() tea.Cmd {
	selected, hadSelection := m.Selected()

	f := model.Filters{UnreadOnly: m.unreadOnly}
	visible := f.Apply(m.all)
	items := make([]list.Item, len(visible))
	cursor := -1
	for i, n := range visible {
		items[i] = Item{Notification: n}
		if hadSelection && n.ID == selected.ID {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	if cursor >= 0 {
		m.list.Select(cursor)
	} else if idx := m.list.Index(); idx >= len(items) && len(items) > 0 {
		m.list.Select(len(items) - 1)
	}
	return cmd
}

// Selected returns the record under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Len returns the number of visible records.
func (m Model) Len() int {
	return len(m.list.Items())
}

// Update delegates navigation keys to the list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list or an empty state.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.unreadOnly && len(m.all) > 0 {
		return style.Render("All caught up.\nPress u to show read notifications.")
	}
	return style.Render("No notifications yet.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
