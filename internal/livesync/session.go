package livesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ytakahashi/line-todo-sync/internal/identity"
	"github.com/ytakahashi/line-todo-sync/internal/models"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// ErrSessionClosed is returned by Await once the session is closed.
var ErrSessionClosed = errors.New("session closed")

// pendingDelete tracks a cascading delete of one list. Once confirmed it is
// a tombstone: the list stays hidden for the rest of the identity, so a late
// snapshot that still carries it cannot bring it back.
type pendingDelete struct {
	confirmed bool
}

// Session is the sync core for one identity: a list subscription, the
// selection, an item subscription for the selected list, and the mutations.
type Session struct {
	store  store.DocumentStore
	ident  *identity.Context
	logger *slog.Logger

	mu        sync.Mutex
	identity  identity.State
	lists     *ListManager
	items     *ItemManager
	selection Selection
	deleting  map[string]*pendingDelete
	syncErr   string
	version   uint64
	watchers  map[uint64]chan View
	nextWatch uint64
	unwatch   func()
	started   bool
	closed    bool
}

// NewSession creates a session bound to ident. Call Start to begin syncing.
func NewSession(st store.DocumentStore, ident *identity.Context, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		store:    st,
		ident:    ident,
		logger:   logger,
		lists:    newListManager(st, logger),
		items:    newItemManager(st, logger),
		deleting: make(map[string]*pendingDelete),
		watchers: make(map[uint64]chan View),
	}
}

// Start begins following the identity context. It is a no-op after the first call.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	unwatch := s.ident.Watch(s.onIdentity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unwatch()
		return
	}
	s.unwatch = unwatch
}

// Close tears down every subscription and closes all watch channels.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.items.close()
	s.lists.close()
	for key, ch := range s.watchers {
		close(ch)
		delete(s.watchers, key)
	}
}

// View returns a copy of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// ListState returns the state of the list subscription.
func (s *Session) ListState() ListState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists.State()
}

// Watch returns a channel that receives the current view and then the
// latest view after every change. Slow readers skip intermediate views.
// The channel is closed by cancel or by Close.
func (s *Session) Watch() (<-chan View, func()) {
	ch := make(chan View, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.nextWatch++
	key := s.nextWatch
	s.watchers[key] = ch
	ch <- s.viewLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[key]; ok {
			close(c)
			delete(s.watchers, key)
		}
	}
}

// Await blocks until a view satisfies pred and returns it.
func (s *Session) Await(ctx context.Context, pred func(View) bool) (View, error) {
	ch, cancel := s.Watch()
	defer cancel()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return View{}, ErrSessionClosed
			}
			if pred(v) {
				return v, nil
			}
		case <-ctx.Done():
			return View{}, ctx.Err()
		}
	}
}

// Resync clears a recorded sync error and reopens the list subscription
// if it failed.
func (s *Session) Resync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.identity.Ready {
		return nil
	}
	s.syncErr = ""
	var err error
	if s.lists.State() != ListSubscribed {
		if err = s.lists.open(s.identity.OwnerID, s.onListSnapshot); err != nil {
			s.syncErr = err.Error()
		}
	}
	s.publishLocked()
	return err
}

// failed reports whether the list subscription of a signed-in identity
// stopped on an error and needs a Resync.
func (s *Session) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.identity.Ready && s.syncErr != "" && s.lists.State() != ListSubscribed
}

func (s *Session) viewLocked() View {
	v := View{
		OwnerID:        s.identity.OwnerID,
		Ready:          s.identity.Ready,
		Lists:          s.lists.visible(s.deleting),
		SelectedListID: s.selection.ListID(),
		Items:          []models.Item{},
		Version:        s.version,
		SyncError:      s.syncErr,
	}
	if v.SelectedListID != "" {
		v.Items = s.items.items()
	}
	return v
}

func (s *Session) publishLocked() {
	s.version++
	v := s.viewLocked()
	for _, ch := range s.watchers {
		offer(ch, v)
	}
}

// onIdentity moves the list subscription to the new owner, or to idle.
func (s *Session) onIdentity(next identity.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || next == s.identity {
		return
	}

	s.clearSelectionLocked()
	s.lists.close()
	s.deleting = make(map[string]*pendingDelete)
	s.syncErr = ""
	s.identity = next

	if next.Ready {
		if err := s.lists.open(next.OwnerID, s.onListSnapshot); err != nil {
			s.syncErr = err.Error()
			s.logger.Error("failed to open list subscription",
				slog.String("owner_id", next.OwnerID),
				slog.String("error", err.Error()))
		}
	}
	s.publishLocked()
}

func (s *Session) onListSnapshot(gen uint64, snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.lists.current(gen) {
		s.logger.Debug("dropping stale list snapshot", slog.Uint64("generation", gen))
		return
	}

	if snap.Err != nil {
		s.logger.Error("list subscription failed",
			slog.String("owner_id", s.identity.OwnerID),
			slog.String("error", snap.Err.Error()))
		s.syncErr = snap.Err.Error()
		s.lists.close()
		s.clearSelectionLocked()
		s.publishLocked()
		return
	}

	s.lists.apply(snap.Documents)
	s.syncErr = ""

	if sel := s.selection.ListID(); sel != "" && !s.visibleLocked(sel) {
		s.logger.Info("selected list disappeared, clearing selection", slog.String("list_id", sel))
		s.clearSelectionLocked()
	}

	s.publishLocked()
}

func (s *Session) onItemSnapshot(gen uint64, snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.items.current(gen) {
		s.logger.Debug("dropping stale item snapshot", slog.Uint64("generation", gen))
		return
	}

	if snap.Err != nil {
		s.logger.Error("item subscription failed",
			slog.String("list_id", s.items.Scope()),
			slog.String("error", snap.Err.Error()))
		s.syncErr = snap.Err.Error()
		s.clearSelectionLocked()
		s.publishLocked()
		return
	}

	s.items.apply(snap.Documents)
	s.publishLocked()
}

// selectLocked opens listID, closing the previous item scope first.
func (s *Session) selectLocked(listID string) error {
	if s.selection.Selected(listID) {
		return nil
	}
	s.selection.clear()
	if err := s.items.open(listID, s.onItemSnapshot); err != nil {
		s.publishLocked()
		return err
	}
	s.selection.set(listID)
	s.publishLocked()
	return nil
}

// clearSelectionLocked drops the selection and its item subscription.
// The caller publishes.
func (s *Session) clearSelectionLocked() {
	s.selection.clear()
	s.items.close()
}

// visibleLocked reports whether listID is in the visible list collection.
func (s *Session) visibleLocked(listID string) bool {
	if _, ok := s.deleting[listID]; ok {
		return false
	}
	return s.lists.contains(listID)
}
