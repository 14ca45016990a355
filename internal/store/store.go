package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/assetdash/internal/model"
)

// ErrNotFound is returned when a notification id does not exist.
var ErrNotFound = errors.New("notification not found")

// ListFilter controls which notifications a listing returns.
type ListFilter struct {
	// Since restricts the listing to records changed at or after it.
	Since       *time.Time
	Limit       int
	IncludeRead bool
}

// Store defines the persistence interface behind the development
// notification backend.
type Store interface {
	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	GetNotification(ctx context.Context, id string) (model.Notification, error)
	ListNotifications(ctx context.Context, f ListFilter) ([]model.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) (model.Notification, error)
	MarkAllRead(ctx context.Context) ([]model.Notification, error)
	Archive(ctx context.Context, id string) (model.Notification, error)
	DeleteNotification(ctx context.Context, id string) error

	// === Settings ===

	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error

	Close() error
}
