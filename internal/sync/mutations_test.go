package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/assetdash/internal/api"
	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
)

func seededAPI() *fakeAPI {
	fa := &fakeAPI{}
	fa.setList(
		note("a", 1, model.StatusUnread),
		note("b", 2, model.StatusUnread),
		note("c", 3, model.StatusRead),
	)
	return fa
}

func statusOf(t *testing.T, e *Engine, id string) model.Status {
	t.Helper()
	for _, r := range e.CachedNotifications() {
		if r.ID == id {
			return r.Status
		}
	}
	t.Fatalf("notification %s not cached", id)
	return ""
}

func TestMarkAsReadOptimistic(t *testing.T) {
	fa := seededAPI()
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.NoError(t, e.MarkAsRead(context.Background(), "a"))

	assert.Equal(t, model.StatusRead, statusOf(t, e, "a"))
	assert.Equal(t, 1, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindRead, evs[0].Kind)
	assert.Equal(t, events.SourceLocal, evs[0].Source)
	assert.Equal(t, 1, evs[0].UnreadCount)
	assert.Equal(t, []string{"read a"}, fa.callLog())
}

func TestMarkAsReadRollsBackOnFailure(t *testing.T) {
	fa := seededAPI()
	fa.markRead = func(string) error { return errBoom }
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	err := e.MarkAsRead(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "mark a as read")

	assert.Equal(t, model.StatusUnread, statusOf(t, e, "a"))
	assert.Equal(t, 2, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindRead, evs[0].Kind)
	assert.Equal(t, events.KindUpdated, evs[1].Kind)
	assert.Equal(t, events.SourceRollback, evs[1].Source)
	assertCounterConsistent(t, e)
}

func TestFailureWithoutRollbackKeepsOptimisticState(t *testing.T) {
	cfg := testConfig()
	cfg.RollbackOnFailure = false
	fa := seededAPI()
	fa.markRead = func(string) error { return errBoom }
	e := startEngine(t, cfg, fa)
	r := record(t, e)

	require.Error(t, e.MarkAsRead(context.Background(), "a"))

	assert.Equal(t, model.StatusRead, statusOf(t, e, "a"))
	assert.Equal(t, []events.Kind{events.KindRead}, r.kinds())
}

func TestMarkAllAsReadEmitsSingleBulkEvent(t *testing.T) {
	fa := seededAPI()
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.NoError(t, e.MarkAllAsRead(context.Background()))

	assert.Zero(t, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindBulkRead, evs[0].Kind)
	assert.ElementsMatch(t, []string{"a", "b"}, evs[0].IDs)
	assert.Zero(t, evs[0].UnreadCount)
	assert.Equal(t, []string{"read-all"}, fa.callLog())
}

func TestMarkAllAsReadOverManyRecords(t *testing.T) {
	var recs []model.Notification
	for i := 0; i < 50; i++ {
		recs = append(recs, note(fmt.Sprintf("n%02d", i), i, model.StatusUnread))
	}
	fa := &fakeAPI{}
	fa.setList(recs...)
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.NoError(t, e.MarkAllAsRead(context.Background()))

	assert.Equal(t, []events.Kind{events.KindBulkRead}, r.kinds())
	assert.Len(t, r.all()[0].IDs, 50)
}

func TestMarkAllAsReadRollsBack(t *testing.T) {
	fa := seededAPI()
	fa.markAllRead = func() error { return errBoom }
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.ErrorIs(t, e.MarkAllAsRead(context.Background()), errBoom)

	assert.Equal(t, 2, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindBulkRead, events.KindUpdated, events.KindUpdated}, r.kinds())
	assertCounterConsistent(t, e)
}

func TestArchive(t *testing.T) {
	fa := seededAPI()
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.NoError(t, e.Archive(context.Background(), "b"))

	assert.Equal(t, model.StatusArchived, statusOf(t, e, "b"))
	assert.Equal(t, 1, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindUpdated}, r.kinds())
	assert.Equal(t, []string{"archive b"}, fa.callLog())

	// Archiving again changes nothing locally.
	r.reset()
	require.NoError(t, e.Archive(context.Background(), "b"))
	assert.Empty(t, r.kinds())
}

func TestDeleteKeepsTombstoneAgainstStalePolls(t *testing.T) {
	fa := seededAPI()
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.NoError(t, e.DeleteNotification(context.Background(), "a"))
	assert.Equal(t, []events.Kind{events.KindDeleted}, r.kinds())
	assert.Equal(t, 1, e.UnreadCount())

	// The server still lists the record; the tombstone keeps it out.
	require.NoError(t, e.Refresh(context.Background()))
	for _, rec := range e.CachedNotifications() {
		assert.NotEqual(t, "a", rec.ID)
	}
	assert.Equal(t, []events.Kind{events.KindDeleted}, r.kinds())
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	fa := seededAPI()
	fa.del = func(string) error {
		return fmt.Errorf("DELETE /notifications/a: %w", &api.HTTPError{StatusCode: 404})
	}
	e := startEngine(t, testConfig(), fa)

	require.NoError(t, e.DeleteNotification(context.Background(), "a"))
	assert.Len(t, e.CachedNotifications(), 2)
}

func TestDeleteRollsBackOnFailure(t *testing.T) {
	fa := seededAPI()
	fa.del = func(string) error { return errBoom }
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.ErrorIs(t, e.DeleteNotification(context.Background(), "a"), errBoom)

	assert.Equal(t, model.StatusUnread, statusOf(t, e, "a"))
	assert.Equal(t, 2, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindDeleted, evs[0].Kind)
	assert.Equal(t, events.KindNew, evs[1].Kind)
	assert.Equal(t, events.SourceRollback, evs[1].Source)

	// The tombstone is gone, so the record can be updated again.
	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, model.StatusUnread, statusOf(t, e, "a"))
}

func TestConfirmedChangeIsNotRolledBack(t *testing.T) {
	fa := seededAPI()
	release := make(chan struct{})
	fa.markRead = func(string) error {
		<-release
		return errBoom
	}
	e := startEngine(t, testConfig(), fa)

	errCh := make(chan error, 1)
	go func() { errCh <- e.MarkAsRead(context.Background(), "a") }()

	require.Eventually(t, func() bool {
		for _, rec := range e.CachedNotifications() {
			if rec.ID == "a" {
				return rec.Status == model.StatusRead
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// The server reports the record read before the request fails.
	fa.setList(
		note("a", 1, model.StatusRead),
		note("b", 2, model.StatusUnread),
		note("c", 3, model.StatusRead),
	)
	require.NoError(t, e.Refresh(context.Background()))
	close(release)

	require.ErrorIs(t, <-errCh, errBoom)
	assert.Equal(t, model.StatusRead, statusOf(t, e, "a"))
	assertCounterConsistent(t, e)
}

func TestMutationOfUnknownIDStillCallsAPI(t *testing.T) {
	fa := seededAPI()
	e := startEngine(t, testConfig(), fa)
	r := record(t, e)

	require.NoError(t, e.MarkAsRead(context.Background(), "zz"))

	assert.Empty(t, r.kinds())
	assert.Equal(t, []string{"read zz"}, fa.callLog())
}
