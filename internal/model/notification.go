package model

import (
	"reflect"
	"time"
)

// NotificationType classifies the tone of a notification.
type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
	TypeSuccess NotificationType = "success"
)

// Valid reports whether t is a recognized notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeInfo, TypeWarning, TypeError, TypeSuccess:
		return true
	}
	return false
}

// Priority ranks how urgently a notification needs attention.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	return p.Level() > 0
}

// Level maps a priority to 1 (low) through 4 (critical), or 0 when unknown.
func (p Priority) Level() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// Category groups notifications by the subsystem that raised them.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryTask        Category = "task"
	CategorySecurity    Category = "security"
	CategoryMaintenance Category = "maintenance"
	CategoryUser        Category = "user"
	CategoryIntegration Category = "integration"
)

// Valid reports whether c is a recognized category.
func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategoryTask, CategorySecurity,
		CategoryMaintenance, CategoryUser, CategoryIntegration:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusUnread    Status = "unread"
	StatusRead      Status = "read"
	StatusArchived  Status = "archived"
	StatusDismissed Status = "dismissed"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders statuses by finality: unread=0, read=1, archived and
// dismissed=2. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusUnread:
		return 0
	case StatusRead:
		return 1
	case StatusArchived, StatusDismissed:
		return 2
	}
	return -1
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s.Rank() == 2
}

// CanTransition reports whether moving from s to next respects the
// forward-only lifecycle. Staying in the same status is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return s.Valid()
	}
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return next.Rank() > s.Rank()
}

// MoreFinal returns whichever of a and b ranks higher. On a tie the
// current status a wins, so terminal states never flip between each other.
func MoreFinal(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Notification is a single record of the notification stream.
type Notification struct {
	// ID is stable for the lifetime of the notification and unique
	// across the system.
	ID string `json:"id"`

	Type     NotificationType `json:"type"`
	Priority Priority         `json:"priority"`
	Category Category         `json:"category"`

	Title       string `json:"title"`
	Message     string `json:"message"`
	ActionURL   string `json:"actionUrl,omitempty"`
	ActionLabel string `json:"actionLabel,omitempty"`

	// Timestamp is the creation instant and never changes.
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	Status Status     `json:"status"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	RelatedEntityID   string         `json:"relatedEntityId,omitempty"`
	RelatedEntityType string         `json:"relatedEntityType,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with
// the cache.
func (n Notification) Clone() Notification {
	out := n
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		out.ExpiresAt = &t
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		out.ReadAt = &t
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// IsUnread reports whether the notification counts toward the unread total.
func (n Notification) IsUnread() bool {
	return n.Status == StatusUnread
}

// Expired reports whether the notification has an expiry at or before now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// SameContent reports whether two records carry identical data. Times are
// compared by instant, so records decoded from different payloads still
// match.
func (n Notification) SameContent(o Notification) bool {
	if n.ID != o.ID ||
		n.Type != o.Type ||
		n.Priority != o.Priority ||
		n.Category != o.Category ||
		n.Title != o.Title ||
		n.Message != o.Message ||
		n.ActionURL != o.ActionURL ||
		n.ActionLabel != o.ActionLabel ||
		n.Status != o.Status ||
		n.RelatedEntityID != o.RelatedEntityID ||
		n.RelatedEntityType != o.RelatedEntityType {
		return false
	}
	if !n.Timestamp.Equal(o.Timestamp) ||
		!sameTime(n.ExpiresAt, o.ExpiresAt) ||
		!sameTime(n.ReadAt, o.ReadAt) {
		return false
	}
	if len(n.Metadata) == 0 && len(o.Metadata) == 0 {
		return true
	}
	return reflect.DeepEqual(n.Metadata, o.Metadata)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
