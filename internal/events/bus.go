// Package events implements the typed publish/subscribe dispatcher that
// fans engine changes out to UI observers.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/assetdash/internal/model"
)

// Kind identifies a change event.
type Kind string

const (
	KindNew      Kind = "new"
	KindUpdated  Kind = "updated"
	KindDeleted  Kind = "deleted"
	KindRead     Kind = "read"
	KindBulkRead Kind = "bulk_read"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{KindNew, KindUpdated, KindDeleted, KindRead, KindBulkRead}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNew, KindUpdated, KindDeleted, KindRead, KindBulkRead:
		return true
	}
	return false
}

// Source tells observers where a change came from.
type Source string

const (
	SourcePush     Source = "push"
	SourcePull     Source = "pull"
	SourceLocal    Source = "local"
	SourceRollback Source = "rollback"
)

// Event is the payload delivered to handlers. Record is set for
// single-record kinds; IDs lists the affected records of a bulk_read.
type Event struct {
	Kind        Kind
	Record      model.Notification
	IDs         []string
	UnreadCount int
	Source      Source
	At          time.Time
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must return quickly.
type Handler func(Event)

// SubscriptionID identifies a registered handler.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus dispatches events to handlers registered per kind.
type Bus struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[Kind][]subscription
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Kind][]subscription),
		logger: logger,
	}
}

// Subscribe registers h for events of the given kind. Handlers for a kind
// are called in subscription order.
func (b *Bus) Subscribe(kind Kind, h Handler) (SubscriptionID, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("subscribe: unknown event kind %q", kind)
	}
	if h == nil {
		return 0, fmt.Errorf("subscribe %s: nil handler", kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})
	return id, nil
}

// Unsubscribe removes a handler. It reports whether the subscription existed.
func (b *Bus) Unsubscribe(kind Kind, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[kind]
	for i, s := range list {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		b.subs[kind] = next
		return true
	}
	return false
}

// Emit delivers ev to every handler subscribed to ev.Kind. A panicking
// handler is logged and skipped; later handlers still run.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	list := b.subs[ev.Kind]
	b.mu.RUnlock()

	// list is never mutated in place, so it is safe to iterate unlocked.
	for _, s := range list {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", ev.Kind,
				"subscription", s.id,
				"notification_id", ev.Record.ID,
				"panic", r,
			)
		}
	}()
	s.handler(ev)
}

// Count returns the number of handlers subscribed to kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Kind][]subscription)
}
