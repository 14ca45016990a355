// Package devserver is a local stand-in for the dashboard's Notification
// API and push endpoint. It stores notifications in SQLite and echoes
// every change to connected websocket subscribers.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/push"
	"github.com/nhle/assetdash/internal/store"
)

const (
	maxBodySize  = 1 << 20
	maxListLimit = 1000
)

// Server serves the notification HTTP contract and the push socket.
type Server struct {
	store  store.Store
	hub    *Hub
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSecret enables bearer validation against secret.
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = []byte(secret) }
}

// New creates a server over st.
func New(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "devserver")
	s.hub = NewHub(s.logger)
	return s
}

// Hub returns the push fan-out.
func (s *Server) Hub() *Hub { return s.hub }

// Store returns the backing store.
func (s *Server) Store() store.Store { return s.store }

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(s.secret))

		r.Get("/ws", s.hub.Serve)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Get("/stats", s.handleStats)
			r.Get("/settings", s.handleGetSettings)
			r.Post("/settings", s.handleUpdateSettings)
			r.Patch("/read-all", s.handleMarkAllRead)
			r.Patch("/{id}/read", s.handleMarkRead)
			r.Patch("/{id}/archive", s.handleArchive)
			r.Delete("/{id}", s.handleDelete)
		})
	})
	return r
}

// Run serves on addr until ctx is cancelled, then disconnects subscribers
// and drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("devserver listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Publish stores n and announces it to push subscribers.
func (s *Server) Publish(ctx context.Context, n model.Notification) (model.Notification, error) {
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return model.Notification{}, err
	}
	s.broadcast(push.FrameNew, created)
	return created, nil
}

func (s *Server) broadcast(t push.FrameType, n model.Notification) {
	s.hub.Broadcast(push.Frame{Type: t, Notification: n, Timestamp: s.now().UTC()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Limit:       parseIntParam(r, "limit", 0, maxListLimit),
		IncludeRead: true,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid since: %v", err)
			return
		}
		f.Since = &since
	}
	if raw := q.Get("includeRead"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid includeRead: %v", err)
			return
		}
		f.IncludeRead = v
	}

	recs, err := s.store.ListNotifications(r.Context(), f)
	if err != nil {
		s.internalError(w, "listing notifications", err)
		return
	}
	unread, err := s.store.UnreadCount(r.Context())
	if err != nil {
		s.internalError(w, "counting unread", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Notifications: recs, UnreadCount: unread})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var n model.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return
	}
	if n.ID != "" {
		if _, err := s.store.GetNotification(r.Context(), n.ID); err == nil {
			writeError(w, http.StatusConflict, "conflict", "notification %s already exists", n.ID)
			return
		}
	}
	created, err := s.Publish(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	before, err := s.store.GetNotification(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}
	n, err := s.store.MarkRead(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}
	if n.Status != before.Status {
		s.broadcast(push.FrameRead, n)
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	before, err := s.store.GetNotification(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}
	n, err := s.store.Archive(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}
	if n.Status != before.Status {
		s.broadcast(push.FrameArchived, n)
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	changed, err := s.store.MarkAllRead(r.Context())
	if err != nil {
		s.internalError(w, "marking all read", err)
		return
	}
	for _, n := range changed {
		s.broadcast(push.FrameUpdated, n)
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(changed)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteNotification(r.Context(), id); err != nil {
		s.lookupError(w, id, err)
		return
	}
	s.broadcast(push.FrameDeleted, model.Notification{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListNotifications(r.Context(), store.ListFilter{IncludeRead: true})
	if err != nil {
		s.internalError(w, "loading notifications for stats", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ComputeStats(recs, s.now()))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.internalError(w, "reading settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return
	}
	if settings.MinimumPriority != "" && !settings.MinimumPriority.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown priority %q", settings.MinimumPriority)
		return
	}
	for _, c := range settings.MutedCategories {
		if !c.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown category %q", c)
			return
		}
	}
	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		s.internalError(w, "saving settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) lookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "notification %s not found", id)
		return
	}
	s.internalError(w, "updating notification "+id, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "%s failed", op)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the {code, message} envelope the client expects.
func writeError(w http.ResponseWriter, status int, code, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": fmt.Sprintf(format, args...),
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
