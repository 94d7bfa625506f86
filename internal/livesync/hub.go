package livesync

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ytakahashi/line-todo-sync/internal/errors"
	"github.com/ytakahashi/line-todo-sync/internal/identity"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// Hub keeps one signed-in Session per owner.
type Hub struct {
	store    store.DocumentStore
	logger   *slog.Logger
	onChange func(ownerID string, v View)
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*hubEntry
	closed   bool
}

type hubEntry struct {
	session  *Session
	done     chan struct{}
	lastUsed time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithOnChange registers fn to receive every view of every session.
// fn runs on one goroutine per session and must not block for long.
func WithOnChange(fn func(ownerID string, v View)) Option {
	return func(h *Hub) {
		h.onChange = fn
	}
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// NewHub creates a hub over st.
func NewHub(st store.DocumentStore, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{
		store:    st,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*hubEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Session returns the session for ownerID, starting and signing it in on
// first use. A cached session whose list subscription failed is resynced
// before it is returned.
func (h *Hub) Session(ownerID string) (*Session, error) {
	if ownerID == "" {
		return nil, errors.Unauthorized("owner id is required")
	}

	sess, err := h.session(ownerID)
	if err != nil {
		return nil, err
	}
	if sess.failed() {
		if err := sess.Resync(); err != nil {
			h.logger.Warn("resync failed",
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()))
		} else {
			h.logger.Info("session resynced", slog.String("owner_id", ownerID))
		}
	}
	return sess, nil
}

func (h *Hub) session(ownerID string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.NotReady("hub is closed")
	}
	if e, ok := h.sessions[ownerID]; ok {
		e.lastUsed = h.now()
		return e.session, nil
	}

	ident := identity.New()
	sess := NewSession(h.store, ident, h.logger.With(slog.String("owner_id", ownerID)))
	sess.Start()
	e := &hubEntry{session: sess, done: make(chan struct{}), lastUsed: h.now()}

	if h.onChange != nil {
		views, _ := sess.Watch()
		go func() {
			defer close(e.done)
			for v := range views {
				h.onChange(ownerID, v)
			}
		}()
	} else {
		close(e.done)
	}

	ident.SignIn(ownerID)
	h.sessions[ownerID] = e
	h.logger.Info("session started", slog.String("owner_id", ownerID))
	return sess, nil
}

// Len returns the number of running sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Release closes the session of ownerID.
func (h *Hub) Release(ownerID string) {
	h.mu.Lock()
	e, ok := h.sessions[ownerID]
	delete(h.sessions, ownerID)
	h.mu.Unlock()

	if ok {
		h.stop(ownerID, e)
	}
}

// EvictIdle releases every session not used for maxIdle or longer, except
// those for which keep reports true. keep may be nil. It returns the number
// of sessions released.
func (h *Hub) EvictIdle(maxIdle time.Duration, keep func(ownerID string) bool) int {
	now := h.now()
	evicted := make(map[string]*hubEntry)

	h.mu.Lock()
	for ownerID, e := range h.sessions {
		if now.Sub(e.lastUsed) < maxIdle {
			continue
		}
		if keep != nil && keep(ownerID) {
			continue
		}
		evicted[ownerID] = e
		delete(h.sessions, ownerID)
	}
	h.mu.Unlock()

	for ownerID, e := range evicted {
		h.stop(ownerID, e)
	}
	if len(evicted) > 0 {
		h.logger.Info("evicted idle sessions", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Close closes every session. Session returns NotReady afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	entries := h.sessions
	h.sessions = make(map[string]*hubEntry)
	h.mu.Unlock()

	for ownerID, e := range entries {
		h.stop(ownerID, e)
	}
}

func (h *Hub) stop(ownerID string, e *hubEntry) {
	e.session.Close()
	<-e.done
	h.logger.Info("session stopped", slog.String("owner_id", ownerID))
}
