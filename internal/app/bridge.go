package app

import (
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/assetdash/internal/events"
)

// eventBuffer bounds how many engine events may wait for the UI.
const eventBuffer = 64

// eventMsg carries an engine event into the Bubble Tea update loop.
type eventMsg struct {
	event events.Event
}

// Bridge forwards engine events onto a bounded channel that a tea.Cmd
// drains. Engine handlers run on the engine loop, so the forwarder never
// blocks: when the buffer is full the event is dropped. The UI rebuilds
// its view from the cache on every message it does receive, and a full
// buffer means such a message is still queued, so no change is lost.
type Bridge struct {
	eng     Engine
	ch      chan events.Event
	subs    map[events.Kind]events.SubscriptionID
	dropped atomic.Uint64
}

// NewBridge subscribes to every event kind on eng.
func NewBridge(eng Engine) (*Bridge, error) {
	b := &Bridge{
		eng:  eng,
		ch:   make(chan events.Event, eventBuffer),
		subs: make(map[events.Kind]events.SubscriptionID, len(events.Kinds)),
	}
	for _, kind := range events.Kinds {
		id, err := eng.AddEventListener(kind, b.forward)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("subscribing to %s events: %w", kind, err)
		}
		b.subs[kind] = id
	}
	return b, nil
}

func (b *Bridge) forward(ev events.Event) {
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the UI lagged.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Wait returns a tea.Cmd that blocks until the next event arrives. It
// should be re-issued after every eventMsg to keep listening.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return eventMsg{event: <-b.ch}
	}
}

// Close removes every subscription.
func (b *Bridge) Close() {
	for kind, id := range b.subs {
		b.eng.RemoveEventListener(kind, id)
		delete(b.subs, kind)
	}
}
