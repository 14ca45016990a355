package model

import "time"

// Filters narrows a notification listing. Zero values mean "no filter".
type Filters struct {
	Statuses   []Status
	Types      []NotificationType
	Priorities []Priority
	Categories []Category
	UnreadOnly bool
	Since      *time.Time
	Limit      int
}

// Match reports whether n passes every configured filter.
func (f Filters) Match(n Notification) bool {
	if f.UnreadOnly && !n.IsUnread() {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, n.Status) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, n.Type) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, n.Priority) {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, n.Category) {
		return false
	}
	if f.Since != nil && n.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// Apply filters an already ordered slice and enforces Limit.
func (f Filters) Apply(in []Notification) []Notification {
	out := make([]Notification, 0, len(in))
	for _, n := range in {
		if !f.Match(n) {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ListResponse is the payload of GET /notifications.
type ListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

// PeriodCounts buckets notifications by creation time.
type PeriodCounts struct {
	Today int `json:"today"`
	Week  int `json:"week"`
	Month int `json:"month"`
}

// Stats holds the aggregate counts returned by GET /notifications/stats.
type Stats struct {
	Total      int                      `json:"total"`
	Unread     int                      `json:"unread"`
	ByType     map[NotificationType]int `json:"byType"`
	ByPriority map[Priority]int         `json:"byPriority"`
	ByCategory map[Category]int         `json:"byCategory"`
	ByPeriod   PeriodCounts             `json:"byPeriod"`
}

// ComputeStats aggregates recs relative to now. Today starts at local
// midnight; week and month are trailing 7 and 30 day windows.
func ComputeStats(recs []Notification, now time.Time) Stats {
	s := Stats{
		Total:      len(recs),
		ByType:     make(map[NotificationType]int),
		ByPriority: make(map[Priority]int),
		ByCategory: make(map[Category]int),
	}
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for _, r := range recs {
		if r.IsUnread() {
			s.Unread++
		}
		s.ByType[r.Type]++
		s.ByPriority[r.Priority]++
		s.ByCategory[r.Category]++
		if !r.Timestamp.Before(startOfDay) {
			s.ByPeriod.Today++
		}
		age := now.Sub(r.Timestamp)
		if age <= 7*24*time.Hour {
			s.ByPeriod.Week++
		}
		if age <= 30*24*time.Hour {
			s.ByPeriod.Month++
		}
	}
	return s
}

// QuietHours suppresses non-critical delivery between Start and End
// (both "HH:MM", local to the user).
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

// Settings are the user's notification preferences. The engine passes
// them through to the API without reconciling them.
type Settings struct {
	EmailEnabled    bool       `json:"emailEnabled"`
	PushEnabled     bool       `json:"pushEnabled"`
	InAppEnabled    bool       `json:"inAppEnabled"`
	MinimumPriority Priority   `json:"minimumPriority,omitempty"`
	MutedCategories []Category `json:"mutedCategories,omitempty"`
	QuietHours      QuietHours `json:"quietHours"`
}

// DefaultSettings returns the preferences of a user who never changed them.
func DefaultSettings() Settings {
	return Settings{
		EmailEnabled:    true,
		PushEnabled:     true,
		InAppEnabled:    true,
		MinimumPriority: PriorityLow,
	}
}
