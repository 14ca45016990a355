// Package sync keeps a bounded local view of the notification stream
// consistent with the server. It merges a push channel and a timed pull
// channel, applies optimistic mutations, and fans changes out on an
// event bus.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/assetdash/internal/api"
	"github.com/nhle/assetdash/internal/cache"
	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/push"
)

var (
	// ErrNotInitialized is returned by operations called before Initialize.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrClosed is returned by operations called after Cleanup.
	ErrClosed = errors.New("engine closed")
)

// API is the subset of the Notification API the engine depends on.
type API interface {
	List(ctx context.Context, opts api.ListOptions) (model.ListResponse, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (model.Stats, error)
	Settings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) (model.Settings, error)
}

// Config holds the engine knobs.
type Config struct {
	PollInterval     time.Duration
	PollJitter       float64
	FullRefreshEvery int
	FetchLimit       int
	RequestTimeout   time.Duration

	PushEnabled   bool
	PushEndpoint  string
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	CacheSize int
	CacheTTL  time.Duration

	RollbackOnFailure bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      30 * time.Second,
		FullRefreshEvery:  10,
		FetchLimit:        200,
		RequestTimeout:    15 * time.Second,
		PushEnabled:       true,
		RetryDelay:        time.Second,
		MaxRetryDelay:     30 * time.Second,
		CacheSize:         cache.DefaultMaxSize,
		CacheTTL:          time.Minute,
		RollbackOnFailure: true,
	}
}

// ConfigFromApp converts the application configuration.
func ConfigFromApp(cfg *model.AppConfig) Config {
	return Config{
		PollInterval:      time.Duration(cfg.Engine.PollIntervalSec) * time.Second,
		PollJitter:        cfg.Engine.PollJitter,
		FullRefreshEvery:  cfg.Engine.FullRefreshEvery,
		FetchLimit:        cfg.API.FetchLimit,
		RequestTimeout:    time.Duration(cfg.API.RequestTimeoutSec) * time.Second,
		PushEnabled:       cfg.Push.Enabled,
		PushEndpoint:      cfg.Push.Endpoint,
		MaxRetries:        cfg.Engine.MaxRetries,
		RetryDelay:        time.Duration(cfg.Engine.RetryDelayMs) * time.Millisecond,
		MaxRetryDelay:     time.Duration(cfg.Engine.MaxRetryDelayMs) * time.Millisecond,
		CacheSize:         cfg.Engine.CacheSize,
		CacheTTL:          time.Duration(cfg.Engine.CacheTTLSec) * time.Second,
		RollbackOnFailure: cfg.Engine.RollbackOnFailure,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollJitter < 0 {
		c.PollJitter = 0
	} else if c.PollJitter > 1 {
		c.PollJitter = 1
	}
	if c.FullRefreshEvery <= 0 {
		c.FullRefreshEvery = d.FullRefreshEvery
	}
	if c.FetchLimit < 0 {
		c.FetchLimit = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.PushEndpoint == "" {
		c.PushEnabled = false
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDialer sets the push transport. Without one the engine runs
// polling-only.
func WithDialer(d push.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithJitterSource overrides the random sample in [0,1) used to jitter
// poll intervals.
func WithJitterSource(sample func() float64) Option {
	return func(e *Engine) {
		if sample != nil {
			e.sample = sample
		}
	}
}

// Engine is the notification synchronization engine. All state changes
// happen on a single loop goroutine; network I/O runs off-loop and submits
// its results back.
//
// Event handlers are invoked on the loop. They may read the cache through
// UnreadCount and CachedNotifications but must not call blocking methods
// such as MarkAsRead, Refresh or Cleanup; hand such work to a goroutine.
type Engine struct {
	cfg    Config
	api    API
	dialer push.Dialer
	logger *slog.Logger
	now    func() time.Time
	sample func() float64

	cache *cache.Cache
	bus   *events.Bus

	ops      chan func()
	quit     chan struct{}
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	lifeMu      gosync.Mutex
	started     bool
	closed      bool
	cleanupOnce gosync.Once

	pushState atomic.Int32
	statusMu  gosync.Mutex
	status    PollStatus

	// Loop-owned state.
	initialized bool
	online      bool
	mutationSeq uint64
	pending     map[string]*pendingOp
	tombstones  map[string]tombstone
	poll        poller
	sup         supervisor
}

// New creates an engine. It does nothing until Initialize is called.
func New(cfg Config, client API, opts ...Option) *Engine {
	cfg = cfg.normalize()
	e := &Engine{
		cfg:        cfg,
		api:        client,
		logger:     slog.Default(),
		now:        time.Now,
		sample:     defaultSample,
		ops:        make(chan func(), 256),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		pending:    make(map[string]*pendingOp),
		tombstones: make(map[string]tombstone),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "notification-sync")
	e.cache = cache.New(cfg.CacheSize, cache.WithClock(e.now))
	e.bus = events.NewBus(e.logger)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.poll = poller{e: e}
	e.sup = newSupervisor(e)
	if e.dialer == nil {
		e.cfg.PushEnabled = false
	}
	return e
}

// Initialize starts the loop, performs the first full fetch, and opens the
// push channel. Transport failures are logged and retried in the
// background; Initialize only fails if ctx ends or the engine is closed.
func (e *Engine) Initialize(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.lifeMu.Unlock()
		return nil
	}
	e.started = true
	e.lifeMu.Unlock()

	go e.run()

	fetched := make(chan struct{})
	dialed := make(chan struct{})
	err := e.call(ctx, func() {
		e.initialized = true
		e.online = true
		e.poll.start(func(error) { close(fetched) })
		if !e.sup.connect(dialed) {
			close(dialed)
		}
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.waitFor(gctx, fetched) })
	g.Go(func() error { return e.waitFor(gctx, dialed) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initializing notification engine: %w", err)
	}

	e.logger.Info("notification engine initialized",
		"cached", e.cache.Size(),
		"unread", e.cache.UnreadCount(),
		"push", e.PushState().String(),
	)
	return nil
}

// Cleanup stops polling, closes the push channel with the client code,
// drops every subscription, clears the cache, and stops the loop. It is
// safe to call more than once.
func (e *Engine) Cleanup() {
	e.cleanupOnce.Do(func() {
		e.lifeMu.Lock()
		started := e.started
		e.closed = true
		e.lifeMu.Unlock()

		teardown := func() {
			e.poll.stop()
			e.sup.disconnect(push.CloseClientInitiated, "client cleanup")
			e.bus.Clear()
			e.cache.Clear()
			e.pending = make(map[string]*pendingOp)
			e.tombstones = make(map[string]tombstone)
			e.initialized = false
		}

		if !started {
			teardown()
			e.cancel()
			close(e.quit)
			return
		}

		done := make(chan struct{})
		e.ops <- func() {
			teardown()
			close(done)
		}
		<-done
		e.cancel()
		close(e.quit)
		<-e.loopDone
		e.logger.Info("notification engine stopped")
	})
}

// run is the engine loop.
func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case fn := <-e.ops:
			fn()
		case <-e.quit:
			return
		}
	}
}

// submit queues fn on the loop without waiting. It reports false once the
// engine has stopped.
func (e *Engine) submit(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.ops <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (e *Engine) call(ctx context.Context, fn func()) error {
	e.lifeMu.Lock()
	started, closed := e.started, e.closed
	e.lifeMu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotInitialized
	}

	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case e.ops <- wrapped:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) waitFor(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// after runs fn on the loop once d has elapsed.
func (e *Engine) after(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { e.submit(fn) })
}

// emit publishes a change with the current unread count attached.
func (e *Engine) emit(kind events.Kind, rec model.Notification, src events.Source) {
	e.bus.Emit(events.Event{
		Kind:        kind,
		Record:      rec,
		UnreadCount: e.cache.UnreadCount(),
		Source:      src,
		At:          e.now(),
	})
}

// upsert writes rec to the cache and logs capacity evictions. It reports
// false when the trim evicted rec itself.
func (e *Engine) upsert(rec model.Notification) bool {
	evicted := e.cache.Upsert(rec)
	if len(evicted) == 0 {
		return true
	}
	kept := true
	for _, ev := range evicted {
		delete(e.pending, ev.ID)
		if ev.ID == rec.ID {
			kept = false
		}
	}
	e.logger.Debug("cache trimmed",
		"evicted", len(evicted),
		"size", e.cache.Size(),
		"max", e.cache.MaxSize(),
		"kept", kept,
	)
	return kept
}

// ensureReady returns the lifecycle error for loop-side operations.
func (e *Engine) ensureReady() error {
	if !e.initialized {
		e.lifeMu.Lock()
		closed := e.closed
		e.lifeMu.Unlock()
		if closed {
			return ErrClosed
		}
		return ErrNotInitialized
	}
	return nil
}

// GetNotifications returns cached notifications matching f, newest first.
// When the last full refresh is older than the cache TTL a full fetch runs
// first; if it fails the stale cache is served.
func (e *Engine) GetNotifications(ctx context.Context, f model.Filters) ([]model.Notification, error) {
	var (
		opErr error
		wait  chan struct{}
	)
	err := e.call(ctx, func() {
		if opErr = e.ensureReady(); opErr != nil {
			return
		}
		if e.poll.fresh() {
			return
		}
		wait = make(chan struct{})
		e.poll.fetch(true, func(error) { close(wait) })
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	if wait != nil {
		if err := e.waitFor(ctx, wait); err != nil {
			return nil, err
		}
	}
	return f.Apply(e.cache.All()), nil
}

// Refresh forces a full fetch and waits for it to be reconciled.
func (e *Engine) Refresh(ctx context.Context) error {
	var (
		opErr    error
		fetchErr error
	)
	wait := make(chan struct{})
	err := e.call(ctx, func() {
		if opErr = e.ensureReady(); opErr != nil {
			return
		}
		e.poll.fetch(true, func(err error) {
			fetchErr = err
			close(wait)
		})
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}
	if err := e.waitFor(ctx, wait); err != nil {
		return err
	}
	if fetchErr != nil {
		return fmt.Errorf("refreshing notifications: %w", fetchErr)
	}
	return nil
}

// GetStats returns server-side aggregates.
func (e *Engine) GetStats(ctx context.Context) (model.Stats, error) {
	if err := e.checkOpen(); err != nil {
		return model.Stats{}, err
	}
	stats, err := e.api.Stats(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return stats, nil
}

// LocalStats computes aggregates over the cached records only. It never
// touches the network.
func (e *Engine) LocalStats() model.Stats {
	return model.ComputeStats(e.cache.All(), e.now())
}

// GetSettings returns the user's notification preferences.
func (e *Engine) GetSettings(ctx context.Context) (model.Settings, error) {
	if err := e.checkOpen(); err != nil {
		return model.Settings{}, err
	}
	s, err := e.api.Settings(ctx)
	if err != nil {
		return model.Settings{}, fmt.Errorf("fetching settings: %w", err)
	}
	return s, nil
}

// UpdateSettings stores new preferences.
func (e *Engine) UpdateSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	if err := e.checkOpen(); err != nil {
		return model.Settings{}, err
	}
	saved, err := e.api.UpdateSettings(ctx, s)
	if err != nil {
		return model.Settings{}, fmt.Errorf("updating settings: %w", err)
	}
	return saved, nil
}

func (e *Engine) checkOpen() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.started {
		return ErrNotInitialized
	}
	return nil
}

// UnreadCount returns the number of unread cached notifications.
func (e *Engine) UnreadCount() int {
	return e.cache.UnreadCount()
}

// CachedNotifications returns every cached notification, newest first.
func (e *Engine) CachedNotifications() []model.Notification {
	return e.cache.All()
}

// AddEventListener subscribes h to events of the given kind.
func (e *Engine) AddEventListener(kind events.Kind, h events.Handler) (events.SubscriptionID, error) {
	return e.bus.Subscribe(kind, h)
}

// RemoveEventListener drops a subscription.
func (e *Engine) RemoveEventListener(kind events.Kind, id events.SubscriptionID) bool {
	return e.bus.Unsubscribe(kind, id)
}

// SetOnline reports a connectivity transition. Going offline suspends
// both channels; coming back online reconnects push immediately and
// resumes polling on the next tick.
func (e *Engine) SetOnline(online bool) {
	e.submit(func() {
		if !e.initialized || e.online == online {
			return
		}
		e.online = online
		if online {
			e.logger.Info("network online")
			e.sup.resetAttempts()
			e.poll.resume()
			e.sup.connect(nil)
			return
		}
		e.logger.Info("network offline")
		e.sup.disconnect(push.CloseClientInitiated, "offline")
		e.poll.suspend()
	})
}

// PushState returns the current state of the push channel.
func (e *Engine) PushState() PushState {
	return PushState(e.pushState.Load())
}

// PollStatus returns a snapshot of the pull channel's status.
func (e *Engine) PollStatus() PollStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

func (e *Engine) setPollStatus(fn func(*PollStatus)) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	fn(&e.status)
}
