package sync

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/push"
)

// The reconciler runs on the engine loop; these tests call it directly on
// an engine whose loop was never started, so no other goroutine touches
// its state.
func newReconcilerEngine(t *testing.T) (*Engine, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock()
	e := newTestEngine(t, testConfig(), &fakeAPI{}, WithClock(clock.Now))
	return e, clock, record(t, e)
}

func TestDuplicateNewIsDeduplicated(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	c := note("c", 1, model.StatusUnread)

	e.applyInbound(push.FrameNew, c, events.SourcePush)
	e.applyInbound(push.FrameNew, c, events.SourcePush)
	e.applySnapshot([]model.Notification{c}, false, e.now(), 100)

	assert.Len(t, e.CachedNotifications(), 1)
	assert.Equal(t, 1, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindNew}, r.kinds())
}

func TestUpdatedToReadDropsUnreadCount(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePull)
	e.applyInbound(push.FrameNew, note("b", 2, model.StatusRead), events.SourcePull)
	require.Equal(t, 1, e.UnreadCount())
	r.reset()

	e.applyInbound(push.FrameUpdated, note("a", 1, model.StatusRead), events.SourcePush)

	assert.Zero(t, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindUpdated, evs[0].Kind)
	assert.Equal(t, "a", evs[0].Record.ID)
	assert.Zero(t, evs[0].UnreadCount)
	assert.Equal(t, events.SourcePush, evs[0].Source)
}

func TestStatusNeverRegresses(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusRead), events.SourcePush)
	r.reset()

	// Same content apart from a stale status: nothing changes.
	e.applyInbound(push.FrameUpdated, note("a", 1, model.StatusUnread), events.SourcePull)
	got, _ := e.cache.Get("a")
	assert.Equal(t, model.StatusRead, got.Status)
	assert.Empty(t, r.kinds())
	assert.Zero(t, e.UnreadCount())

	// Other fields are still last-write-wins.
	stale := note("a", 1, model.StatusUnread)
	stale.Title = "renamed"
	e.applyInbound(push.FrameUpdated, stale, events.SourcePull)
	got, _ = e.cache.Get("a")
	assert.Equal(t, model.StatusRead, got.Status)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, []events.Kind{events.KindUpdated}, r.kinds())
}

func TestTerminalStatusesStayPut(t *testing.T) {
	e, _, _ := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusArchived), events.SourcePush)

	e.applyInbound(push.FrameUpdated, note("a", 1, model.StatusDismissed), events.SourcePush)
	e.applyInbound(push.FrameRead, note("a", 1, model.StatusRead), events.SourcePush)

	got, _ := e.cache.Get("a")
	assert.Equal(t, model.StatusArchived, got.Status)
}

func TestArchivedFrameIsAnUpdate(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePush)
	r.reset()

	// Frames may carry the pre-archive status; the frame type wins.
	e.applyInbound(push.FrameArchived, note("a", 1, model.StatusUnread), events.SourcePush)

	got, _ := e.cache.Get("a")
	assert.Equal(t, model.StatusArchived, got.Status)
	assert.Zero(t, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindUpdated}, r.kinds())
}

func TestReadSignal(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePush)
	r.reset()

	e.applyInbound(push.FrameRead, note("a", 1, model.StatusUnread), events.SourcePush)
	got, _ := e.cache.Get("a")
	assert.Equal(t, model.StatusRead, got.Status)
	assert.NotNil(t, got.ReadAt)
	assert.Zero(t, e.UnreadCount())

	// Already read: no second event.
	e.applyInbound(push.FrameRead, note("a", 1, model.StatusRead), events.SourcePush)
	assert.Equal(t, []events.Kind{events.KindRead}, r.kinds())
}

func TestFirstSightOfReadOrUpdatedEmitsNew(t *testing.T) {
	e, _, r := newReconcilerEngine(t)

	e.applyInbound(push.FrameRead, note("x", 1, model.StatusUnread), events.SourcePush)
	e.applyInbound(push.FrameUpdated, note("y", 2, model.StatusUnread), events.SourcePush)

	x, _ := e.cache.Get("x")
	assert.Equal(t, model.StatusRead, x.Status)
	assert.Equal(t, 1, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindNew, events.KindNew}, r.kinds())
}

func TestDeletedFrame(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePush)
	r.reset()

	e.applyInbound(push.FrameDeleted, model.Notification{ID: "a"}, events.SourcePush)
	e.applyInbound(push.FrameDeleted, model.Notification{ID: "unknown"}, events.SourcePush)

	assert.Empty(t, e.CachedNotifications())
	assert.Zero(t, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindDeleted, evs[0].Kind)
	assert.Equal(t, "a", evs[0].Record.ID)
}

func TestTombstoneBlocksResurrection(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.tombstones["a"] = tombstone{seq: 1}

	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePush)
	e.applyInbound(push.FrameUpdated, note("a", 1, model.StatusUnread), events.SourcePull)

	assert.False(t, e.cache.Has("a"))
	assert.Empty(t, r.kinds())
}

func TestPushThenFullRefreshShowingRead(t *testing.T) {
	e, clock, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("c", 1, model.StatusUnread), events.SourcePush)
	require.Equal(t, 1, e.UnreadCount())

	clock.Advance(time.Second)
	e.applySnapshot([]model.Notification{note("c", 1, model.StatusRead)}, true, clock.Now(), 100)

	all := e.CachedNotifications()
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusRead, all[0].Status)
	assert.Zero(t, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindNew, events.KindUpdated}, r.kinds())
}

func TestFullSnapshotPrunesMissingRecords(t *testing.T) {
	e, clock, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePull)
	e.applyInbound(push.FrameNew, note("b", 2, model.StatusUnread), events.SourcePull)
	r.reset()

	clock.Advance(time.Second)
	e.applySnapshot([]model.Notification{note("a", 1, model.StatusUnread)}, true, clock.Now(), 100)

	assert.True(t, e.cache.Has("a"))
	assert.False(t, e.cache.Has("b"))
	assert.Equal(t, 1, e.UnreadCount())
	evs := r.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindDeleted, evs[0].Kind)
	assert.Equal(t, events.SourcePull, evs[0].Source)
}

func TestIncrementalSnapshotNeverPrunes(t *testing.T) {
	e, clock, _ := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePull)
	e.applyInbound(push.FrameNew, note("b", 2, model.StatusUnread), events.SourcePull)

	clock.Advance(time.Second)
	e.applySnapshot([]model.Notification{note("a", 1, model.StatusRead)}, false, clock.Now(), 100)

	assert.True(t, e.cache.Has("b"))
	assert.Equal(t, 1, e.UnreadCount())
}

func TestPruneRespectsFetchWindow(t *testing.T) {
	e, clock, _ := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("old", 1, model.StatusRead), events.SourcePull)
	e.applyInbound(push.FrameNew, note("gone", 11, model.StatusRead), events.SourcePull)

	clock.Advance(time.Second)
	startedAt := clock.Now()

	// Arrived by push while the fetch was in flight.
	clock.Advance(time.Second)
	e.applyInbound(push.FrameNew, note("fresh", 12, model.StatusUnread), events.SourcePush)

	// A truncated listing (len == limit) covering minutes 9-10.
	page := []model.Notification{note("x", 10, model.StatusRead), note("y", 9, model.StatusRead)}
	e.applySnapshot(page, true, startedAt, 2)

	assert.True(t, e.cache.Has("old"), "older than the listing window")
	assert.False(t, e.cache.Has("gone"), "inside the window but not listed")
	assert.True(t, e.cache.Has("fresh"), "seen after the fetch started")
	assert.True(t, e.cache.Has("x"))
	assert.True(t, e.cache.Has("y"))
}

func TestEmptyFullSnapshotPrunesEverything(t *testing.T) {
	e, clock, _ := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusUnread), events.SourcePull)

	clock.Advance(time.Second)
	e.applySnapshot(nil, true, clock.Now(), 100)

	assert.Empty(t, e.CachedNotifications())
	assert.Zero(t, e.UnreadCount())
}

func TestExpiredRecordsAreSwept(t *testing.T) {
	e, clock, r := newReconcilerEngine(t)
	past := clock.Now().Add(-time.Minute)
	expiring := note("e", 1, model.StatusUnread)
	expiring.ExpiresAt = &past

	e.applySnapshot([]model.Notification{expiring, note("k", 2, model.StatusUnread)}, false, clock.Now(), 100)

	assert.False(t, e.cache.Has("e"))
	assert.True(t, e.cache.Has("k"))
	assert.Equal(t, 1, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindNew, events.KindNew, events.KindDeleted}, r.kinds())
}

func TestEvictionEmitsNoEvent(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.CacheSize = 10
	e := newTestEngine(t, cfg, &fakeAPI{}, WithClock(clock.Now))
	r := record(t, e)

	for i := 0; i < 11; i++ {
		e.applyInbound(push.FrameNew, note(fmt.Sprintf("n%02d", i), i, model.StatusUnread), events.SourcePush)
	}

	assert.Equal(t, 8, e.cache.Size())
	assert.Len(t, r.kinds(), 11)
	for _, k := range r.kinds() {
		assert.Equal(t, events.KindNew, k)
	}
	assertCounterConsistent(t, e)
}

func TestRecordTrimmedOnArrivalIsNotAnnounced(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.CacheSize = 5
	e := newTestEngine(t, cfg, &fakeAPI{}, WithClock(clock.Now))
	for i := 1; i <= 5; i++ {
		e.applyInbound(push.FrameNew, note(fmt.Sprintf("n%d", i), 10+i, model.StatusUnread), events.SourcePush)
	}
	r := record(t, e)

	e.applyInbound(push.FrameNew, note("old", 0, model.StatusUnread), events.SourcePull)

	assert.False(t, e.cache.Has("old"))
	assert.Equal(t, 4, e.cache.Size())
	assert.Empty(t, r.kinds())

	e.applyInbound(push.FrameNew, note("n6", 20, model.StatusUnread), events.SourcePush)
	e.applyInbound(push.FrameRead, note("older", 1, model.StatusRead), events.SourcePull)

	assert.False(t, e.cache.Has("older"))
	assert.Equal(t, 4, e.cache.Size())
	assert.Equal(t, []events.Kind{events.KindNew}, r.kinds())
	assertCounterConsistent(t, e)
}

func TestMissingStatusDefaultsToUnread(t *testing.T) {
	e, _, r := newReconcilerEngine(t)

	e.applyInbound(push.FrameNew, note("a", 1, ""), events.SourcePush)

	got, ok := e.cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.StatusUnread, got.Status)
	assert.Equal(t, 1, e.UnreadCount())
	assert.Equal(t, []events.Kind{events.KindNew}, r.kinds())

	// A later record without status keeps what is cached.
	e.cache.Upsert(note("a", 1, model.StatusRead))
	e.applyInbound(push.FrameUpdated, note("a", 1, ""), events.SourcePull)
	got, _ = e.cache.Get("a")
	assert.Equal(t, model.StatusRead, got.Status)
}

func TestUnknownStatusIsDropped(t *testing.T) {
	e, _, r := newReconcilerEngine(t)
	e.applyInbound(push.FrameNew, note("a", 1, model.StatusRead), events.SourcePush)
	r.reset()

	e.applyInbound(push.FrameNew, note("b", 2, "snoozed"), events.SourcePush)
	e.applySnapshot([]model.Notification{note("a", 1, "pending")}, false, e.now(), 100)

	assert.False(t, e.cache.Has("b"))
	got, ok := e.cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.StatusRead, got.Status)
	assert.Empty(t, r.kinds())

	// Deletes carry no status and still apply.
	e.applyInbound(push.FrameDeleted, model.Notification{ID: "a"}, events.SourcePush)
	assert.False(t, e.cache.Has("a"))
}

func TestRandomInboundSequencesKeepInvariants(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 20
	clock := newFakeClock()
	e := newTestEngine(t, cfg, &fakeAPI{}, WithClock(clock.Now))

	rng := rand.New(rand.NewPCG(7, 11))
	kinds := []push.FrameType{push.FrameNew, push.FrameUpdated, push.FrameDeleted, push.FrameRead, push.FrameArchived}
	statuses := []model.Status{model.StatusUnread, model.StatusRead, model.StatusArchived, model.StatusDismissed}
	ranks := map[string]int{}

	for i := 0; i < 2000; i++ {
		clock.Advance(time.Millisecond)
		id := fmt.Sprintf("r%02d", rng.IntN(30))
		kind := kinds[rng.IntN(len(kinds))]
		rec := note(id, rng.IntN(60), statuses[rng.IntN(len(statuses))])
		e.applyInbound(kind, rec, events.SourcePush)

		// Records that left the cache may legitimately come back unread.
		for known := range ranks {
			if !e.cache.Has(known) {
				delete(ranks, known)
			}
		}
		if got, ok := e.cache.Get(id); ok {
			if prev, seen := ranks[id]; seen {
				require.GreaterOrEqual(t, got.Status.Rank(), prev, "status of %s regressed", id)
			}
			ranks[id] = got.Status.Rank()
		}

		require.LessOrEqual(t, e.cache.Size(), cfg.CacheSize)
	}

	ids := map[string]int{}
	for _, r := range e.CachedNotifications() {
		ids[r.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "duplicate entry for %s", id)
	}
	assertCounterConsistent(t, e)
}
