package sync

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/nhle/assetdash/internal/api"
	"github.com/nhle/assetdash/internal/model"
)

// SyncState represents the current state of the pull channel.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
	SyncSuspended
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	case SyncSuspended:
		return "suspended"
	}
	return "unknown"
}

// PollStatus holds the pull channel state for display.
type PollStatus struct {
	State SyncState
	// LastSync is the start of the last successful cycle.
	LastSync time.Time
	// LastFull is the start of the last successful full refresh.
	LastFull time.Time
	Cycles   int
	Interval time.Duration
	Error    error
}

// sinceSkew widens incremental windows so changes committed while the
// previous cycle was in flight are not missed.
const sinceSkew = 5 * time.Second

var defaultSample = rand.Float64

// poller is the timer-driven pull channel. Every method runs on the
// engine loop.
type poller struct {
	e *Engine

	timer   *time.Timer
	armedAt time.Time
	// gen invalidates timers that fired after being replaced or stopped.
	gen uint64

	running   bool
	suspended bool
	inFlight  int
	sinceFull int

	lastSuccess time.Time
	lastFull    time.Time
}

// start runs the first full cycle immediately and arms the timer.
func (p *poller) start(first func(error)) {
	p.running = true
	p.fetch(true, first)
	p.schedule()
}

func (p *poller) stop() {
	p.running = false
	p.cancelTimer()
	p.e.setPollStatus(func(s *PollStatus) { s.State = SyncIdle })
}

func (p *poller) suspend() {
	if !p.running {
		return
	}
	p.suspended = true
	p.cancelTimer()
	p.e.setPollStatus(func(s *PollStatus) { s.State = SyncSuspended })
}

// resume re-arms the timer; the next cycle fires one interval later.
func (p *poller) resume() {
	if !p.running || !p.suspended {
		return
	}
	p.suspended = false
	p.e.setPollStatus(func(s *PollStatus) { s.State = SyncIdle })
	p.schedule()
}

func (p *poller) cancelTimer() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// interval is the base interval, doubled while push is healthy, jittered.
func (p *poller) interval() time.Duration {
	base := p.e.cfg.PollInterval
	if p.e.sup.healthy() {
		base *= 2
	}
	return jitteredInterval(base, p.e.cfg.PollJitter, p.e.sample())
}

func (p *poller) schedule() {
	p.arm(time.Now(), p.interval())
}

// rearm recomputes the pending deadline after the push state changed. Time
// already waited counts toward the new interval; a deadline that has
// already passed fires right away.
func (p *poller) rearm() {
	if !p.running || p.suspended || p.timer == nil {
		return
	}
	p.arm(p.armedAt, p.interval())
}

func (p *poller) arm(from time.Time, d time.Duration) {
	p.cancelTimer()
	gen := p.gen
	p.armedAt = from
	p.timer = p.e.after(time.Until(from.Add(d)), func() {
		if gen == p.gen {
			p.tick()
		}
	})
	p.e.setPollStatus(func(s *PollStatus) { s.Interval = d })
}

func (p *poller) tick() {
	if !p.running || p.suspended {
		return
	}
	p.schedule()
	if p.inFlight > 0 {
		p.e.logger.Debug("poll skipped, previous cycle still running")
		return
	}
	full := p.lastSuccess.IsZero() || p.sinceFull+1 >= p.e.cfg.FullRefreshEvery
	p.fetch(full, nil)
}

// fresh reports whether the last full refresh is within the cache TTL.
func (p *poller) fresh() bool {
	ttl := p.e.cfg.CacheTTL
	if ttl <= 0 || p.lastFull.IsZero() {
		return false
	}
	return p.e.now().Sub(p.lastFull) < ttl
}

// fetch issues one list request off-loop. A full fetch omits since and is
// reconciled as an authoritative inventory.
func (p *poller) fetch(full bool, done func(error)) {
	e := p.e
	startedAt := e.now()
	opts := api.ListOptions{Limit: e.cfg.FetchLimit, IncludeRead: true}
	if !full {
		since := p.lastSuccess.Add(-sinceSkew)
		opts.Since = &since
	}

	p.inFlight++
	e.setPollStatus(func(s *PollStatus) { s.State = SyncRunning })

	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
		resp, err := e.api.List(ctx, opts)
		cancel()

		ok := e.submit(func() {
			p.finish(full, startedAt, opts.Limit, resp.Notifications, err)
			if done != nil {
				done(err)
			}
		})
		if !ok && done != nil {
			done(ErrClosed)
		}
	}()
}

func (p *poller) finish(full bool, startedAt time.Time, limit int, recs []model.Notification, err error) {
	e := p.e
	p.inFlight--

	if err != nil {
		e.logger.Warn("poll failed", "full", full, "error", err)
		e.setPollStatus(func(s *PollStatus) {
			s.State = SyncError
			s.Error = err
		})
		return
	}
	if !e.initialized {
		return
	}

	e.applySnapshot(recs, full, startedAt, limit)

	if startedAt.After(p.lastSuccess) {
		p.lastSuccess = startedAt
	}
	if full {
		p.sinceFull = 0
		p.lastFull = startedAt
	} else {
		p.sinceFull++
	}

	state := SyncIdle
	if p.suspended {
		state = SyncSuspended
	}
	e.setPollStatus(func(s *PollStatus) {
		s.State = state
		s.Error = nil
		s.LastSync = p.lastSuccess
		s.LastFull = p.lastFull
		s.Cycles++
	})
	e.logger.Debug("poll reconciled",
		"full", full,
		"records", len(recs),
		"cached", e.cache.Size(),
		"unread", e.cache.UnreadCount(),
	)
}

// jitteredInterval spreads base by +/- ratio using sample in [0,1].
func jitteredInterval(base time.Duration, ratio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if ratio <= 0 {
		return base
	}
	if ratio > 1 {
		ratio = 1
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*ratio
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
