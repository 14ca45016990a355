// Package app hosts the notification engine in a Bubble Tea panel.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/assetdash/internal/api"
	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
	engine "github.com/nhle/assetdash/internal/sync"
	"github.com/nhle/assetdash/internal/theme"
	"github.com/nhle/assetdash/internal/ui"
	"github.com/nhle/assetdash/internal/ui/feed"
	helpview "github.com/nhle/assetdash/internal/ui/help"
)

// Engine is the part of the synchronization engine the panel drives.
type Engine interface {
	Initialize(ctx context.Context) error
	Refresh(ctx context.Context) error
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	Archive(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
	CachedNotifications() []model.Notification
	UnreadCount() int
	PushState() engine.PushState
	PollStatus() engine.PollStatus
	AddEventListener(kind events.Kind, h events.Handler) (events.SubscriptionID, error)
	RemoveEventListener(kind events.Kind, id events.SubscriptionID) bool
}

// engineStartedMsg reports the outcome of Initialize.
type engineStartedMsg struct {
	err error
}

// actionDoneMsg reports a finished mutation or refresh.
type actionDoneMsg struct {
	action string
	err    error
}

const defaultActionTimeout = 30 * time.Second

// Model is the root Bubble Tea model.
type Model struct {
	eng      Engine
	bridge   *Bridge
	layout   ui.Layout
	keys     *KeyMap
	feed     feed.Model
	helpView helpview.Model
	showHelp bool
	ready    bool
	started  bool
	unread   int
	errMsg   string
	timeout  time.Duration
}

// New creates the panel over eng and subscribes to its events.
func New(eng Engine) (Model, error) {
	bridge, err := NewBridge(eng)
	if err != nil {
		return Model{}, err
	}
	keys := DefaultKeyMap()
	return Model{
		eng:      eng,
		bridge:   bridge,
		keys:     keys,
		feed:     feed.New(80, 23),
		helpView: helpview.New(keys, 80, 24),
		timeout:  defaultActionTimeout,
	}, nil
}

// Init starts the engine and the event listener.
func (m Model) Init() tea.Cmd {
	eng := m.eng
	return tea.Batch(
		func() tea.Msg {
			return engineStartedMsg{err: eng.Initialize(context.Background())}
		},
		m.bridge.Wait(),
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		// One line below the list shows the selected message.
		m.feed.SetSize(m.layout.ContentWidth(), m.layout.FeedHeight())
		m.helpView.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		return m, nil

	case engineStartedMsg:
		m.started = true
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("engine failed to start: %v", msg.err)
		}
		return m, m.reload()

	case eventMsg:
		return m, tea.Batch(m.reload(), m.bridge.Wait())

	case actionDoneMsg:
		if msg.err != nil {
			m.errMsg = describeFailure(msg.action, msg.err)
		} else {
			m.errMsg = ""
		}
		return m, m.reload()

	case tea.KeyMsg:
		if m.showHelp {
			switch {
			case key.Matches(msg, m.keys.Quit):
				return m.quit()
			case key.Matches(msg, m.keys.Help), key.Matches(msg, m.keys.Back):
				m.showHelp = false
			}
			return m, nil
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.feed, cmd = m.feed.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.Back):
		m.errMsg = ""
		return m, nil

	case key.Matches(msg, m.keys.UnreadOnly):
		return m, m.feed.ToggleUnreadOnly()

	case key.Matches(msg, m.keys.Refresh):
		return m, m.run("refresh", m.eng.Refresh)

	case key.Matches(msg, m.keys.MarkAllRead):
		return m, m.run("mark all read", m.eng.MarkAllAsRead)

	case key.Matches(msg, m.keys.MarkRead):
		return m, m.runOnSelected("mark read", m.eng.MarkAsRead)

	case key.Matches(msg, m.keys.Archive):
		return m, m.runOnSelected("archive", m.eng.Archive)

	case key.Matches(msg, m.keys.Delete):
		return m, m.runOnSelected("delete", m.eng.DeleteNotification)
	}

	var cmd tea.Cmd
	m.feed, cmd = m.feed.Update(msg)
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.bridge.Close()
	return m, tea.Quit
}

// run executes fn off the update loop. The engine applies optimistic
// changes immediately, so the view updates through events before the
// server answers.
func (m Model) run(action string, fn func(context.Context) error) tea.Cmd {
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) runOnSelected(action string, fn func(context.Context, string) error) tea.Cmd {
	n, ok := m.feed.Selected()
	if !ok {
		return nil
	}
	return m.run(action, func(ctx context.Context) error {
		return fn(ctx, n.ID)
	})
}

func (m *Model) reload() tea.Cmd {
	m.unread = m.eng.UnreadCount()
	return m.feed.SetNotifications(m.eng.CachedNotifications())
}

// describeFailure renders the status bar message for a failed action.
func describeFailure(action string, err error) string {
	switch {
	case api.IsAuthError(err):
		return fmt.Sprintf("%s failed: not authorized, run `assetdash login`", action)
	case errors.Is(err, engine.ErrClosed):
		return fmt.Sprintf("%s failed: engine stopped", action)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out, press the key again to retry", action)
	}
	return fmt.Sprintf("%s failed: %v (press the key again to retry)", action, err)
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.unread, m.syncStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.errMsg)

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

func (m Model) renderContent() string {
	if m.showHelp {
		return m.helpView.View()
	}
	preview := ""
	if n, ok := m.feed.Selected(); ok {
		preview = n.Message
		if n.ActionURL != "" {
			preview += "  → " + n.ActionURL
		}
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.feed.View(),
		theme.HelpStyle.MaxWidth(m.layout.ContentWidth()).Render(preview),
	)
}

// syncStatus returns a short string describing both channels.
func (m Model) syncStatus() string {
	if !m.started {
		return "connecting..."
	}

	push := "push " + m.eng.PushState().String()
	status := m.eng.PollStatus()
	switch status.State {
	case engine.SyncSuspended:
		return "offline"
	case engine.SyncRunning:
		return push + " | syncing"
	case engine.SyncError:
		return push + " | ⚠ poll failed"
	}
	if status.LastSync.IsZero() {
		return push
	}
	return fmt.Sprintf("%s | synced %s", push, status.LastSync.Local().Format("15:04:05"))
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.showHelp {
		return "? close help | esc back"
	}
	hints := "q quit | ? help | r read | R all read | a archive | d delete | u unread | f refresh"
	if m.feed.UnreadOnly() {
		return "unread only | " + hints
	}
	return hints
}
