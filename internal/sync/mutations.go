package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/assetdash/internal/api"
	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
)

type mutationKind string

const (
	mutRead    mutationKind = "mark_read"
	mutArchive mutationKind = "archive"
	mutDelete  mutationKind = "delete"
)

// pendingOp is an optimistic change not yet confirmed by the server.
type pendingOp struct {
	seq  uint64
	kind mutationKind
	// prev is the record as it was before the optimistic change.
	prev    model.Notification
	existed bool
	target  model.Status
}

// tombstone blocks inbound changes for a locally deleted record until the
// delete has been confirmed and in-flight polls have drained.
type tombstone struct {
	seq uint64
}

// MarkAsRead marks one notification read locally, emits read, and then
// informs the server.
func (e *Engine) MarkAsRead(ctx context.Context, id string) error {
	err := e.mutate(ctx, mutRead, func(seq uint64) []string {
		cur, ok := e.cache.Get(id)
		if !ok || !cur.IsUnread() {
			return nil
		}
		prev := cur.Clone()
		now := e.now()
		cur.Status = model.StatusRead
		cur.ReadAt = &now
		e.upsert(cur)
		e.pending[id] = &pendingOp{seq: seq, kind: mutRead, prev: prev, existed: true, target: model.StatusRead}
		e.emit(events.KindRead, cur, events.SourceLocal)
		return []string{id}
	}, func(ctx context.Context) error {
		return e.api.MarkRead(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("mark %s as read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead flips every cached unread notification to read and emits
// a single bulk_read event listing them.
func (e *Engine) MarkAllAsRead(ctx context.Context) error {
	err := e.mutate(ctx, mutRead, func(seq uint64) []string {
		var ids []string
		now := e.now()
		for _, rec := range e.cache.All() {
			if !rec.IsUnread() {
				continue
			}
			prev := rec.Clone()
			rec.Status = model.StatusRead
			rec.ReadAt = &now
			e.upsert(rec)
			e.pending[rec.ID] = &pendingOp{seq: seq, kind: mutRead, prev: prev, existed: true, target: model.StatusRead}
			ids = append(ids, rec.ID)
		}
		if len(ids) > 0 {
			e.bus.Emit(events.Event{
				Kind:        events.KindBulkRead,
				IDs:         ids,
				UnreadCount: e.cache.UnreadCount(),
				Source:      events.SourceLocal,
				At:          now,
			})
		}
		return ids
	}, e.api.MarkAllRead)
	if err != nil {
		return fmt.Errorf("mark all as read: %w", err)
	}
	return nil
}

// Archive moves a notification to archived locally, emits updated, and
// then informs the server.
func (e *Engine) Archive(ctx context.Context, id string) error {
	err := e.mutate(ctx, mutArchive, func(seq uint64) []string {
		cur, ok := e.cache.Get(id)
		if !ok || cur.Status.Terminal() {
			return nil
		}
		prev := cur.Clone()
		cur.Status = model.StatusArchived
		e.upsert(cur)
		e.pending[id] = &pendingOp{seq: seq, kind: mutArchive, prev: prev, existed: true, target: model.StatusArchived}
		e.emit(events.KindUpdated, cur, events.SourceLocal)
		return []string{id}
	}, func(ctx context.Context) error {
		return e.api.Archive(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}
	return nil
}

// DeleteNotification removes a notification locally, emits deleted, and
// then informs the server. A 404 from the server counts as success.
func (e *Engine) DeleteNotification(ctx context.Context, id string) error {
	err := e.mutate(ctx, mutDelete, func(seq uint64) []string {
		prev, existed := e.cache.Remove(id)
		e.pending[id] = &pendingOp{seq: seq, kind: mutDelete, prev: prev, existed: existed}
		e.tombstones[id] = tombstone{seq: seq}
		if existed {
			e.emit(events.KindDeleted, prev, events.SourceLocal)
		}
		return []string{id}
	}, func(ctx context.Context) error {
		err := e.api.Delete(ctx, id)
		if errors.Is(err, api.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// mutate applies an optimistic change on the loop, performs the request on
// the caller's goroutine, and settles the pending entries it created.
func (e *Engine) mutate(
	ctx context.Context,
	kind mutationKind,
	apply func(seq uint64) []string,
	request func(context.Context) error,
) error {
	var (
		opErr error
		seq   uint64
		ids   []string
	)
	err := e.call(ctx, func() {
		if opErr = e.ensureReady(); opErr != nil {
			return
		}
		e.mutationSeq++
		seq = e.mutationSeq
		ids = apply(seq)
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	reqErr := request(ctx)

	// Settle even if ctx was cancelled so the cache never keeps a stale
	// pending entry.
	_ = e.call(context.WithoutCancel(ctx), func() {
		e.settle(kind, ids, seq, reqErr)
	})
	return reqErr
}

// settle finalizes the pending entries of one mutation. On failure the
// pre-mutation state is restored for entries that are still pending.
func (e *Engine) settle(kind mutationKind, ids []string, seq uint64, reqErr error) {
	for _, id := range ids {
		if kind == mutDelete {
			e.settleDelete(id, seq, reqErr)
			continue
		}

		p, ok := e.pending[id]
		if !ok || p.seq != seq {
			continue
		}
		delete(e.pending, id)
		if reqErr == nil || !e.cfg.RollbackOnFailure {
			continue
		}

		cur, ok := e.cache.Get(id)
		if !ok {
			continue
		}
		cur.Status = p.prev.Status
		cur.ReadAt = p.prev.ReadAt
		e.upsert(cur)
		e.logger.Info("optimistic change rolled back", "id", id, "op", kind, "error", reqErr)
		e.emit(events.KindUpdated, cur, events.SourceRollback)
	}
}

func (e *Engine) settleDelete(id string, seq uint64, reqErr error) {
	p, stillPending := e.pending[id]
	stillPending = stillPending && p.seq == seq
	if stillPending {
		delete(e.pending, id)
	}

	if reqErr == nil {
		if t, ok := e.tombstones[id]; ok && t.seq == seq {
			ttl := 2 * e.cfg.PollInterval
			e.after(ttl, func() {
				if t, ok := e.tombstones[id]; ok && t.seq == seq {
					delete(e.tombstones, id)
				}
			})
		}
		return
	}

	if t, ok := e.tombstones[id]; ok && t.seq == seq {
		delete(e.tombstones, id)
	}
	if !stillPending || !p.existed || !e.cfg.RollbackOnFailure {
		return
	}
	if e.cache.Has(id) {
		return
	}
	e.upsert(p.prev)
	e.logger.Info("optimistic delete rolled back", "id", id, "error", reqErr)
	e.emit(events.KindNew, p.prev, events.SourceRollback)
}

// confirm clears a pending optimistic change once the server reports a
// status at least as final as the one applied locally.
func (e *Engine) confirm(id string, authoritative model.Status) {
	p, ok := e.pending[id]
	if !ok || p.kind == mutDelete {
		return
	}
	if authoritative.Rank() >= p.target.Rank() {
		delete(e.pending, id)
	}
}

// confirmDelete clears a pending delete that the server has echoed.
func (e *Engine) confirmDelete(id string) {
	if p, ok := e.pending[id]; ok && p.kind == mutDelete {
		delete(e.pending, id)
	}
}
