package sync

import (
	"time"

	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/push"
)

// applyInbound merges one record received from either channel into the
// cache and emits the resulting change. Status never regresses; every
// other field is last-write-wins by arrival.
func (e *Engine) applyInbound(kind push.FrameType, in model.Notification, src events.Source) {
	if in.ID == "" {
		return
	}
	if _, dead := e.tombstones[in.ID]; dead && kind != push.FrameDeleted {
		e.logger.Debug("ignoring change for locally deleted notification",
			"id", in.ID, "kind", kind, "source", src)
		return
	}
	if kind != push.FrameDeleted {
		switch {
		case in.Status == "":
			in.Status = model.StatusUnread
		case !in.Status.Valid():
			e.logger.Warn("dropping notification with unknown status",
				"id", in.ID, "status", in.Status, "kind", kind, "source", src)
			return
		}
	}

	switch kind {
	case push.FrameDeleted:
		e.confirmDelete(in.ID)
		if old, ok := e.cache.Remove(in.ID); ok {
			e.emit(events.KindDeleted, old, src)
		}
		return

	case push.FrameRead:
		e.applyRead(in, src)
		return

	case push.FrameArchived:
		in.Status = model.MoreFinal(in.Status, model.StatusArchived)
	}

	cur, ok := e.cache.Get(in.ID)
	if !ok {
		if e.upsert(in) {
			e.emit(events.KindNew, in, src)
		}
		return
	}

	e.confirm(in.ID, in.Status)
	merged := e.merge(cur, in, src)
	if merged.SameContent(cur) {
		e.logger.Debug("duplicate change dropped", "id", in.ID, "kind", kind, "source", src)
		return
	}
	if e.upsert(merged) {
		e.emit(events.KindUpdated, merged, src)
	}
}

// applyRead handles the discrete "became read" signal.
func (e *Engine) applyRead(in model.Notification, src events.Source) {
	cur, ok := e.cache.Get(in.ID)
	if !ok {
		in.Status = model.MoreFinal(in.Status, model.StatusRead)
		if in.ReadAt == nil {
			now := e.now()
			in.ReadAt = &now
		}
		if e.upsert(in) {
			e.emit(events.KindNew, in, src)
		}
		return
	}
	e.confirm(in.ID, model.StatusRead)
	if cur.Status.Rank() >= model.StatusRead.Rank() {
		return
	}
	cur.Status = model.StatusRead
	cur.ReadAt = in.ReadAt
	if cur.ReadAt == nil {
		now := e.now()
		cur.ReadAt = &now
	}
	if e.upsert(cur) {
		e.emit(events.KindRead, cur, src)
	}
}

// merge takes the incoming record but keeps the more final status and the
// original creation timestamp.
func (e *Engine) merge(cur, in model.Notification, src events.Source) model.Notification {
	out := in.Clone()
	out.Timestamp = cur.Timestamp
	out.Status = model.MoreFinal(cur.Status, in.Status)
	if out.Status != in.Status {
		e.logger.Debug("status regression ignored",
			"id", in.ID,
			"current", cur.Status,
			"incoming", in.Status,
			"source", src,
		)
		if out.ReadAt == nil {
			out.ReadAt = cur.ReadAt
		}
	}
	return out
}

// applySnapshot reconciles one pull response. Full snapshots also prune
// cached records that the server no longer lists.
func (e *Engine) applySnapshot(recs []model.Notification, full bool, startedAt time.Time, limit int) {
	listed := make(map[string]struct{}, len(recs))
	var oldest time.Time
	for _, r := range recs {
		listed[r.ID] = struct{}{}
		if oldest.IsZero() || r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
		}
		e.applyInbound(push.FrameUpdated, r, events.SourcePull)
	}

	if full {
		e.prune(listed, startedAt, limit, len(recs), oldest)
	}
	e.sweepExpired()
}

// prune removes records a full listing omitted. A record is only pruned
// when it was last seen before the fetch started and falls inside the
// window the listing covered.
func (e *Engine) prune(listed map[string]struct{}, startedAt time.Time, limit, n int, oldest time.Time) {
	complete := limit <= 0 || n < limit

	for _, id := range e.cache.IDs() {
		if _, ok := listed[id]; ok {
			continue
		}
		if !e.cache.SeenBefore(id, startedAt) {
			continue
		}
		rec, ok := e.cache.Get(id)
		if !ok {
			continue
		}
		if !complete && rec.Timestamp.Before(oldest) {
			continue
		}
		if _, pending := e.pending[id]; pending {
			continue
		}
		e.cache.Remove(id)
		e.logger.Debug("pruned notification missing from full refresh", "id", id)
		e.emit(events.KindDeleted, rec, events.SourcePull)
	}
}

// sweepExpired drops records whose expiry has passed.
func (e *Engine) sweepExpired() {
	now := e.now()
	for _, rec := range e.cache.All() {
		if !rec.Expired(now) {
			continue
		}
		e.cache.Remove(rec.ID)
		delete(e.pending, rec.ID)
		e.emit(events.KindDeleted, rec, events.SourcePull)
	}
}
