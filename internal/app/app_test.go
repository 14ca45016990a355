package app

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
	engine "github.com/nhle/assetdash/internal/sync"
)

// fakeEngine records calls and lets tests emit events.
type fakeEngine struct {
	mu       gosync.Mutex
	recs     []model.Notification
	handlers map[events.Kind]map[events.SubscriptionID]events.Handler
	nextID   events.SubscriptionID
	calls    []string

	markRead func(ctx context.Context, id string) error
	refresh  func(ctx context.Context) error
}

func newFakeEngine(recs ...model.Notification) *fakeEngine {
	return &fakeEngine{
		recs:     recs,
		handlers: make(map[events.Kind]map[events.SubscriptionID]events.Handler),
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Initialize(context.Context) error {
	f.record("init")
	return nil
}

func (f *fakeEngine) Refresh(ctx context.Context) error {
	f.record("refresh")
	if f.refresh != nil {
		return f.refresh(ctx)
	}
	return nil
}

func (f *fakeEngine) MarkAsRead(ctx context.Context, id string) error {
	f.record("read " + id)
	if f.markRead != nil {
		return f.markRead(ctx, id)
	}
	return nil
}

func (f *fakeEngine) MarkAllAsRead(context.Context) error {
	f.record("read-all")
	return nil
}

func (f *fakeEngine) Archive(_ context.Context, id string) error {
	f.record("archive " + id)
	return nil
}

func (f *fakeEngine) DeleteNotification(_ context.Context, id string) error {
	f.record("delete " + id)
	return nil
}

func (f *fakeEngine) CachedNotifications() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.recs...)
}

func (f *fakeEngine) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recs {
		if r.IsUnread() {
			n++
		}
	}
	return n
}

func (f *fakeEngine) PushState() engine.PushState   { return engine.PushConnected }
func (f *fakeEngine) PollStatus() engine.PollStatus { return engine.PollStatus{} }

func (f *fakeEngine) AddEventListener(kind events.Kind, h events.Handler) (events.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[kind] == nil {
		f.handlers[kind] = make(map[events.SubscriptionID]events.Handler)
	}
	f.handlers[kind][f.nextID] = h
	return f.nextID, nil
}

func (f *fakeEngine) RemoveEventListener(kind events.Kind, id events.SubscriptionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[kind][id]; !ok {
		return false
	}
	delete(f.handlers[kind], id)
	return true
}

func (f *fakeEngine) emit(ev events.Event) {
	f.mu.Lock()
	hs := make([]events.Handler, 0, len(f.handlers[ev.Kind]))
	for _, h := range f.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeEngine) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.handlers {
		n += len(m)
	}
	return n
}

func rec(id string, status model.Status, minutesAgo int) model.Notification {
	return model.Notification{
		ID:        id,
		Title:     "generator " + id + " fault",
		Message:   "check fuel line on " + id,
		Type:      model.TypeError,
		Priority:  model.PriorityCritical,
		Category:  model.CategoryMaintenance,
		Timestamp: time.Now().Add(-time.Duration(minutesAgo) * time.Minute),
		Status:    status,
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func started(t *testing.T, eng *fakeEngine) Model {
	t.Helper()
	m, err := New(eng)
	require.NoError(t, err)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	next, _ = next.Update(engineStartedMsg{})
	return next.(Model)
}

func TestNewSubscribesToEveryKind(t *testing.T) {
	eng := newFakeEngine()
	m, err := New(eng)
	require.NoError(t, err)
	assert.Equal(t, len(events.Kinds), eng.subscriptions())

	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Zero(t, eng.subscriptions())
}

func TestStartLoadsCache(t *testing.T) {
	eng := newFakeEngine(rec("b", model.StatusUnread, 1), rec("a", model.StatusRead, 2))
	m := started(t, eng)

	assert.Equal(t, 1, m.unread)
	assert.Equal(t, 2, m.feed.Len())
	view := m.View()
	assert.Contains(t, view, "Asset Dashboard")
	assert.Contains(t, view, "1 unread")
	assert.Contains(t, view, "push connected")
	assert.Contains(t, view, "check fuel line on b")
}

func TestEventsReachTheView(t *testing.T) {
	eng := newFakeEngine()
	m := started(t, eng)
	require.Zero(t, m.feed.Len())

	eng.mu.Lock()
	eng.recs = []model.Notification{rec("x", model.StatusUnread, 0)}
	eng.mu.Unlock()
	eng.emit(events.Event{Kind: events.KindNew, Record: rec("x", model.StatusUnread, 0), Source: events.SourcePush})

	msg := m.bridge.Wait()()
	ev, ok := msg.(eventMsg)
	require.True(t, ok)
	assert.Equal(t, "x", ev.event.Record.ID)

	next, cmd := m.Update(msg)
	assert.NotNil(t, cmd)
	m = next.(Model)
	assert.Equal(t, 1, m.feed.Len())
	assert.Equal(t, 1, m.unread)
}

func TestBridgeDropsWhenFull(t *testing.T) {
	eng := newFakeEngine()
	b, err := NewBridge(eng)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < eventBuffer+5; i++ {
		eng.emit(events.Event{Kind: events.KindUpdated})
	}
	assert.Equal(t, uint64(5), b.Dropped())
}

func TestKeysRunMutationsOnSelection(t *testing.T) {
	eng := newFakeEngine(rec("b", model.StatusUnread, 1), rec("a", model.StatusUnread, 2))
	m := started(t, eng)

	tests := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyEnter}, "read b"},
		{runes("r"), "read b"},
		{runes("a"), "archive b"},
		{runes("d"), "delete b"},
		{runes("R"), "read-all"},
		{runes("f"), "refresh"},
	}
	for _, tt := range tests {
		_, cmd := m.Update(tt.key)
		require.NotNil(t, cmd, tt.want)
		msg := cmd()
		done, ok := msg.(actionDoneMsg)
		require.True(t, ok, tt.want)
		assert.NoError(t, done.err)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, []string{"read b", "read b", "archive b", "delete b", "read-all", "refresh"}, eng.calls)
}

func TestCursorMovesWithJ(t *testing.T) {
	eng := newFakeEngine(rec("b", model.StatusUnread, 1), rec("a", model.StatusUnread, 2))
	m := started(t, eng)

	next, _ := m.Update(runes("j"))
	m = next.(Model)
	sel, ok := m.feed.Selected()
	require.True(t, ok)
	assert.Equal(t, "a", sel.ID)
}

func TestFailureShowsInStatusBar(t *testing.T) {
	eng := newFakeEngine(rec("a", model.StatusUnread, 1))
	eng.markRead = func(context.Context, string) error { return errors.New("connection refused") }
	m := started(t, eng)

	_, cmd := m.Update(runes("r"))
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(Model)
	view := m.View()
	assert.Contains(t, view, "⚠ mark read failed: connection refused")
	assert.Contains(t, view, "retry")
	assert.NotContains(t, view, "q quit")

	// A later success clears it.
	eng.refresh = nil
	_, cmd = m.Update(runes("f"))
	next, _ = m.Update(cmd())
	m = next.(Model)
	assert.Empty(t, m.errMsg)
	assert.NotContains(t, m.View(), "failed")
	assert.Contains(t, m.View(), "q quit")
}

func TestUnreadOnlyAndHelp(t *testing.T) {
	eng := newFakeEngine(rec("b", model.StatusRead, 1), rec("a", model.StatusUnread, 2))
	m := started(t, eng)

	next, _ := m.Update(runes("u"))
	m = next.(Model)
	assert.Equal(t, 1, m.feed.Len())
	assert.Contains(t, m.keyHints(), "unread only")

	next, _ = m.Update(runes("?"))
	m = next.(Model)
	assert.True(t, m.showHelp)
	view := m.View()
	assert.Contains(t, view, "Keyboard Shortcuts")
	assert.Contains(t, view, "Legend")
	assert.Contains(t, view, "P1 critical")

	// Mutation keys are ignored while help is open.
	_, cmd := m.Update(runes("d"))
	assert.Nil(t, cmd)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	assert.False(t, m.showHelp)
}
