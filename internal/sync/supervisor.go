package sync

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/push"
)

// PushState is the lifecycle state of the push channel.
type PushState int32

const (
	PushDisconnected PushState = iota
	PushConnecting
	PushConnected
)

func (s PushState) String() string {
	switch s {
	case PushDisconnected:
		return "disconnected"
	case PushConnecting:
		return "connecting"
	case PushConnected:
		return "connected"
	}
	return "unknown"
}

// dialTimeout bounds a single connection attempt.
const dialTimeout = 15 * time.Second

// supervisor owns the push channel: it dials, reads frames, and schedules
// reconnects with exponential backoff. Every method runs on the engine
// loop.
type supervisor struct {
	e *Engine

	state PushState
	conn  push.Conn
	// gen identifies the current dial or connection; results carrying an
	// older gen are stale.
	gen uint64

	attempts   int
	gaveUp     bool
	retryTimer *time.Timer
	retryGen   uint64

	// limiter caps how often dials may start regardless of backoff.
	limiter *rate.Limiter
}

func newSupervisor(e *Engine) supervisor {
	every := e.cfg.RetryDelay
	if every <= 0 {
		every = time.Second
	}
	return supervisor{
		e:       e,
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

// healthy reports whether push is currently delivering.
func (s *supervisor) healthy() bool {
	return s.state == PushConnected
}

func (s *supervisor) setState(st PushState) {
	if s.state == st {
		return
	}
	was := s.healthy()
	s.state = st
	s.e.pushState.Store(int32(st))
	s.e.logger.Info("push state changed", "state", st.String())
	if was != s.healthy() {
		s.e.poll.rearm()
	}
}

func (s *supervisor) resetAttempts() {
	s.attempts = 0
	s.gaveUp = false
}

// connect starts a dial when push is enabled, the client is online, and no
// connection exists. notify, if non-nil, is closed once the attempt
// resolves. It reports whether a dial was started.
func (s *supervisor) connect(notify chan struct{}) bool {
	e := s.e
	if !e.cfg.PushEnabled || !e.online || !e.initialized || s.state != PushDisconnected {
		return false
	}
	s.cancelRetry()
	s.gen++
	gen := s.gen
	s.setState(PushConnecting)

	endpoint := e.cfg.PushEndpoint
	go func() {
		conn, err := s.dial(endpoint)
		ok := e.submit(func() {
			s.onDialed(gen, conn, err)
			if notify != nil {
				close(notify)
			}
		})
		if !ok {
			if conn != nil {
				_ = conn.Close(push.CloseClientInitiated, "engine stopped")
			}
			if notify != nil {
				close(notify)
			}
		}
	}()
	return true
}

// dial runs off-loop.
func (s *supervisor) dial(endpoint string) (push.Conn, error) {
	e := s.e
	if err := s.limiter.Wait(e.ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(e.ctx, dialTimeout)
	defer cancel()
	return e.dialer.Dial(ctx, endpoint)
}

func (s *supervisor) onDialed(gen uint64, conn push.Conn, err error) {
	e := s.e
	if gen != s.gen {
		if conn != nil {
			_ = conn.Close(push.CloseClientInitiated, "superseded")
		}
		return
	}
	if err != nil {
		s.setState(PushDisconnected)
		e.logger.Warn("push connect failed", "attempt", s.attempts+1, "error", err)
		s.scheduleReconnect()
		return
	}

	s.conn = conn
	s.attempts = 0
	s.gaveUp = false
	s.setState(PushConnected)
	go s.readLoop(gen, conn)
}

// readLoop decodes frames off-loop and hands them to the reconciler in
// arrival order.
func (s *supervisor) readLoop(gen uint64, conn push.Conn) {
	e := s.e
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code := push.CloseCode(err)
			e.submit(func() { s.onClosed(gen, code, err) })
			return
		}
		frame, err := push.Decode(data)
		if err != nil {
			e.logger.Warn("dropping push frame", "error", err, "bytes", len(data))
			continue
		}
		if !e.submit(func() {
			if gen != s.gen || !e.initialized {
				return
			}
			e.applyInbound(frame.Type, frame.Notification, events.SourcePush)
		}) {
			return
		}
	}
}

func (s *supervisor) onClosed(gen uint64, code int, err error) {
	if gen != s.gen {
		return
	}
	s.conn = nil
	s.setState(PushDisconnected)
	if push.IsClientInitiated(code) {
		s.e.logger.Info("push closed normally", "code", code)
		return
	}
	s.e.logger.Warn("push connection lost", "code", code, "error", err)
	s.scheduleReconnect()
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func (s *supervisor) backoff(attempt int) time.Duration {
	delay := s.e.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.e.cfg.MaxRetryDelay {
			return s.e.cfg.MaxRetryDelay
		}
	}
	if delay > s.e.cfg.MaxRetryDelay {
		return s.e.cfg.MaxRetryDelay
	}
	return delay
}

func (s *supervisor) scheduleReconnect() {
	e := s.e
	if !e.online || !e.initialized || !e.cfg.PushEnabled || s.gaveUp {
		return
	}
	s.attempts++
	if e.cfg.MaxRetries > 0 && s.attempts > e.cfg.MaxRetries {
		s.gaveUp = true
		e.logger.Warn("push reconnect attempts exhausted, polling only",
			"max_retries", e.cfg.MaxRetries)
		return
	}

	delay := s.backoff(s.attempts)
	s.cancelRetry()
	retryGen := s.retryGen
	s.retryTimer = e.after(delay, func() {
		if retryGen != s.retryGen {
			return
		}
		s.retryTimer = nil
		s.connect(nil)
	})
	e.logger.Info("push reconnect scheduled", "attempt", s.attempts, "delay", delay)
}

func (s *supervisor) cancelRetry() {
	s.retryGen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// disconnect cancels any pending reconnect and closes the connection with
// code. A dial in flight is invalidated and closed when it lands.
func (s *supervisor) disconnect(code int, reason string) {
	s.cancelRetry()
	s.gen++
	conn := s.conn
	s.conn = nil
	s.setState(PushDisconnected)
	if conn != nil {
		if err := conn.Close(code, reason); err != nil {
			s.e.logger.Debug("closing push connection", "error", err)
		}
	}
}
