package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/assetdash/internal/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(id string, offset int, status model.Status) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.TypeInfo,
		Priority:  model.PriorityMedium,
		Category:  model.CategorySystem,
		Title:     "title " + id,
		Timestamp: base.Add(time.Duration(offset) * time.Minute),
		Status:    status,
	}
}

func countUnread(c *Cache) int {
	n := 0
	for _, r := range c.All() {
		if r.IsUnread() {
			n++
		}
	}
	return n
}

func TestUpsertOverwritesInPlace(t *testing.T) {
	c := New(10)

	c.Upsert(rec("a", 0, model.StatusUnread))
	c.Upsert(rec("a", 0, model.StatusUnread))
	c.Upsert(rec("a", 0, model.StatusUnread))

	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 1, c.UnreadCount())
}

func TestUnreadCounterFollowsStatusDelta(t *testing.T) {
	c := New(10)
	c.Upsert(rec("a", 0, model.StatusUnread))
	c.Upsert(rec("b", 1, model.StatusRead))
	require.Equal(t, 1, c.UnreadCount())

	c.Upsert(rec("a", 0, model.StatusRead))
	assert.Equal(t, 0, c.UnreadCount())

	c.Upsert(rec("b", 1, model.StatusUnread))
	assert.Equal(t, 1, c.UnreadCount())

	_, ok := c.Remove("b")
	assert.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount())

	_, ok = c.Remove("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, c.UnreadCount())
}

func TestAllOrdersNewestFirst(t *testing.T) {
	c := New(10)
	c.Upsert(rec("old", 0, model.StatusRead))
	c.Upsert(rec("new", 10, model.StatusRead))
	c.Upsert(rec("mid", 5, model.StatusRead))

	var ids []string
	for _, r := range c.All() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestTrimToEightyPercentInOneBatch(t *testing.T) {
	c := New(100)

	for i := 0; i < 100; i++ {
		evicted := c.Upsert(rec(fmt.Sprintf("n%03d", i), i, model.StatusUnread))
		assert.Empty(t, evicted)
	}
	require.Equal(t, 100, c.Size())

	evicted := c.Upsert(rec("n100", 100, model.StatusUnread))
	assert.Len(t, evicted, 21)
	assert.Equal(t, 80, c.Size())

	// The oldest timestamps go first.
	_, ok := c.Get("n000")
	assert.False(t, ok)
	_, ok = c.Get("n020")
	assert.False(t, ok)
	_, ok = c.Get("n021")
	assert.True(t, ok)
	assert.Equal(t, countUnread(c), c.UnreadCount())
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	c := New(100)
	for i := 0; i < 150; i++ {
		c.Upsert(rec(fmt.Sprintf("n%03d", i), i, model.StatusUnread))
		assert.LessOrEqual(t, c.Size(), 100)
	}
	// Trims at the 101st, 122nd and 143rd insert, then 7 more.
	assert.Equal(t, 87, c.Size())
	assert.Equal(t, countUnread(c), c.UnreadCount())
}

func TestTrimTieBreaksOnLeastRecentlySeen(t *testing.T) {
	c := New(5)
	for i := 0; i < 5; i++ {
		c.Upsert(rec(fmt.Sprintf("t%d", i), 0, model.StatusRead))
	}
	// Refresh t0 so it becomes the most recently seen.
	c.Upsert(rec("t0", 0, model.StatusRead))

	evicted := c.Upsert(rec("t5", 0, model.StatusRead))
	require.Len(t, evicted, 2)
	assert.Equal(t, "t1", evicted[0].ID)
	assert.Equal(t, "t2", evicted[1].ID)
	assert.True(t, c.Has("t0"))
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(10)
	r := rec("a", 0, model.StatusUnread)
	r.Metadata = map[string]any{"asset": "pump-7"}
	c.Upsert(r)

	got, ok := c.Get("a")
	require.True(t, ok)
	got.Metadata["asset"] = "changed"
	got.Status = model.StatusRead

	again, _ := c.Get("a")
	assert.Equal(t, "pump-7", again.Metadata["asset"])
	assert.Equal(t, model.StatusUnread, again.Status)
	assert.Equal(t, 1, c.UnreadCount())
}

func TestSeenBeforeUsesClock(t *testing.T) {
	now := base
	c := New(10, WithClock(func() time.Time { return now }))

	c.Upsert(rec("a", 0, model.StatusRead))
	now = now.Add(time.Second)
	c.Upsert(rec("b", 0, model.StatusRead))

	assert.True(t, c.SeenBefore("a", base.Add(time.Second)))
	assert.False(t, c.SeenBefore("b", base.Add(time.Second)))
	assert.False(t, c.SeenBefore("missing", base.Add(time.Hour)))
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Upsert(rec("a", 0, model.StatusUnread))
	c.Upsert(rec("b", 1, model.StatusUnread))

	c.Clear()

	assert.Zero(t, c.Size())
	assert.Zero(t, c.UnreadCount())
	assert.Empty(t, c.IDs())
}
