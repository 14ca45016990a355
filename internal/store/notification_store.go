package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/assetdash/internal/model"
)

// notificationRow mirrors the notifications table.
type notificationRow struct {
	ID                string       `db:"id"`
	Type              string       `db:"type"`
	Priority          string       `db:"priority"`
	Category          string       `db:"category"`
	Title             string       `db:"title"`
	Message           string       `db:"message"`
	ActionURL         string       `db:"action_url"`
	ActionLabel       string       `db:"action_label"`
	Status            string       `db:"status"`
	RelatedEntityID   string       `db:"related_entity_id"`
	RelatedEntityType string       `db:"related_entity_type"`
	Metadata          string       `db:"metadata"`
	CreatedAt         time.Time    `db:"created_at"`
	ExpiresAt         sql.NullTime `db:"expires_at"`
	ReadAt            sql.NullTime `db:"read_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:                r.ID,
		Type:              model.NotificationType(r.Type),
		Priority:          model.Priority(r.Priority),
		Category:          model.Category(r.Category),
		Title:             r.Title,
		Message:           r.Message,
		ActionURL:         r.ActionURL,
		ActionLabel:       r.ActionLabel,
		Status:            model.Status(r.Status),
		RelatedEntityID:   r.RelatedEntityID,
		RelatedEntityType: r.RelatedEntityType,
		Timestamp:         r.CreatedAt.UTC(),
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time.UTC()
		n.ExpiresAt = &t
	}
	if r.ReadAt.Valid {
		t := r.ReadAt.Time.UTC()
		n.ReadAt = &t
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &n.Metadata); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling metadata for %s: %w", r.ID, err)
		}
	}
	return n, nil
}

// CreateNotification validates n, fills in defaults, and inserts it.
// It returns the record as stored.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if strings.TrimSpace(n.Title) == "" {
		return model.Notification{}, fmt.Errorf("notification title must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	if n.Type == "" {
		n.Type = model.TypeInfo
	}
	if n.Priority == "" {
		n.Priority = model.PriorityMedium
	}
	if n.Category == "" {
		n.Category = model.CategorySystem
	}
	if n.Status == "" {
		n.Status = model.StatusUnread
	}
	if !n.Type.Valid() || !n.Priority.Valid() || !n.Category.Valid() || !n.Status.Valid() {
		return model.Notification{}, fmt.Errorf("notification %s has an invalid type, priority, category or status", n.ID)
	}

	var metadata string
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return model.Notification{}, fmt.Errorf("marshaling metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, type, priority, category,
			title, message, action_url, action_label,
			status, related_entity_id, related_entity_type, metadata,
			created_at, expires_at, read_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Type), string(n.Priority), string(n.Category),
		n.Title, n.Message, n.ActionURL, n.ActionLabel,
		string(n.Status), n.RelatedEntityID, n.RelatedEntityType, metadata,
		n.Timestamp.UTC(), utcPtr(n.ExpiresAt), utcPtr(n.ReadAt), now,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("creating notification: %w", err)
	}
	return s.GetNotification(ctx, n.ID)
}

// GetNotification retrieves a single notification by its ID.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (model.Notification, error) {
	return getNotification(ctx, s.db, id)
}

func getNotification(ctx context.Context, q sqlx.QueryerContext, id string) (model.Notification, error) {
	var row notificationRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, fmt.Errorf("getting notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Notification{}, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return row.toModel()
}

// ListNotifications returns notifications newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, f ListFilter) ([]model.Notification, error) {
	var conditions []string
	var args []interface{}

	if !f.IncludeRead {
		conditions = append(conditions, "status = ?")
		args = append(args, string(model.StatusUnread))
	}
	if f.Since != nil {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, f.Since.UTC())
	}

	query := "SELECT * FROM notifications"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	return toModels(rows)
}

// UnreadCount returns the number of unread notifications.
func (s *SQLiteStore) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notifications WHERE status = ?", string(model.StatusUnread))
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead moves an unread notification to read. Records that are
// already read or further along are returned unchanged.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string) (model.Notification, error) {
	now := s.now().UTC()
	return s.transition(ctx, id, model.StatusRead, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE notifications SET status = ?, read_at = ?, updated_at = ? WHERE id = ?",
			string(model.StatusRead), now, now, id,
		)
		return err
	})
}

// Archive moves a notification to archived unless it is already terminal.
func (s *SQLiteStore) Archive(ctx context.Context, id string) (model.Notification, error) {
	now := s.now().UTC()
	return s.transition(ctx, id, model.StatusArchived, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE notifications SET status = ?, updated_at = ? WHERE id = ?",
			string(model.StatusArchived), now, id,
		)
		return err
	})
}

// transition applies update when the current status may move forward to
// next, and returns the resulting record.
func (s *SQLiteStore) transition(
	ctx context.Context,
	id string,
	next model.Status,
	update func(tx *sqlx.Tx) error,
) (model.Notification, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Notification{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := getNotification(ctx, tx, id)
	if err != nil {
		return model.Notification{}, err
	}
	if cur.Status == next || !cur.Status.CanTransition(next) {
		return cur, tx.Commit()
	}
	if err := update(tx); err != nil {
		return model.Notification{}, fmt.Errorf("updating notification %s to %s: %w", id, next, err)
	}
	updated, err := getNotification(ctx, tx, id)
	if err != nil {
		return model.Notification{}, err
	}
	return updated, tx.Commit()
}

// MarkAllRead marks every unread notification read and returns the
// records it changed.
func (s *SQLiteStore) MarkAllRead(ctx context.Context) ([]model.Notification, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	err = tx.SelectContext(ctx, &ids,
		"SELECT id FROM notifications WHERE status = ?", string(model.StatusUnread))
	if err != nil {
		return nil, fmt.Errorf("querying unread ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE notifications SET status = ?, read_at = ?, updated_at = ? WHERE status = ?",
		string(model.StatusRead), now, now, string(model.StatusUnread),
	)
	if err != nil {
		return nil, fmt.Errorf("marking all notifications read: %w", err)
	}

	query, args, err := sqlx.In(
		"SELECT * FROM notifications WHERE id IN (?) ORDER BY created_at DESC, id ASC", ids)
	if err != nil {
		return nil, fmt.Errorf("building changed-record query: %w", err)
	}
	var rows []notificationRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("reloading changed notifications: %w", err)
	}
	out, err := toModels(rows)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

// DeleteNotification removes a notification by ID.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete of %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func toModels(rows []notificationRow) ([]model.Notification, error) {
	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// utcPtr converts an optional time for storage.
func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
