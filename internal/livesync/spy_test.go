package livesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/line-todo-sync/internal/identity"
	"github.com/ytakahashi/line-todo-sync/internal/store"
	"github.com/ytakahashi/line-todo-sync/internal/store/badgerstore"
)

// spyStore wraps an in-memory badger store. It counts calls, tracks open
// subscriptions per collection, keeps every subscription callback, can
// fail selected operations and can hold back deliveries per collection.
type spyStore struct {
	store.DocumentStore

	mu        sync.Mutex
	calls     map[string]int
	active    map[string]int
	callbacks map[string][]func(store.Snapshot)
	batches   [][]store.Op
	muted     map[string]bool

	failQuery error
	failBatch error
	onQuery   func(q store.Query)
}

func newSpyStore(t *testing.T) *spyStore {
	t.Helper()
	bs, err := badgerstore.Open(badgerstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return &spyStore{
		DocumentStore: bs,
		calls:         make(map[string]int),
		active:        make(map[string]int),
		callbacks:     make(map[string][]func(store.Snapshot)),
		muted:         make(map[string]bool),
	}
}

// mute drops every store delivery for collection until the test ends.
// Callbacks fetched with callback still reach the session.
func (s *spyStore) mute(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[collection] = true
}

func (s *spyStore) isMuted(collection string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted[collection]
}

func (s *spyStore) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
}

func (s *spyStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *spyStore) activeSubs(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[collection]
}

// callback returns the i-th callback registered for collection.
func (s *spyStore) callback(collection string, i int) func(store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks[collection][i]
}

func (s *spyStore) lastBatch() []store.Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}

func (s *spyStore) Get(ctx context.Context, path string) (store.Document, error) {
	s.record("Get")
	return s.DocumentStore.Get(ctx, path)
}

func (s *spyStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.record("Create")
	return s.DocumentStore.Create(ctx, collection, fields)
}

func (s *spyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	s.record("Update")
	return s.DocumentStore.Update(ctx, path, fields)
}

func (s *spyStore) Delete(ctx context.Context, path string) error {
	s.record("Delete")
	return s.DocumentStore.Delete(ctx, path)
}

func (s *spyStore) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	s.record("Query")
	s.mu.Lock()
	failErr, hook := s.failQuery, s.onQuery
	s.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	docs, err := s.DocumentStore.Query(ctx, q)
	if hook != nil {
		hook(q)
	}
	return docs, err
}

func (s *spyStore) Batch(ctx context.Context, ops []store.Op) error {
	s.record("Batch")
	s.mu.Lock()
	s.batches = append(s.batches, ops)
	failErr := s.failBatch
	s.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	return s.DocumentStore.Batch(ctx, ops)
}

func (s *spyStore) Subscribe(q store.Query, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	s.record("Subscribe")
	unsub, err := s.DocumentStore.Subscribe(q, func(snap store.Snapshot) {
		if s.isMuted(q.Collection) {
			return
		}
		fn(snap)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active[q.Collection]++
	s.callbacks[q.Collection] = append(s.callbacks[q.Collection], fn)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.active[q.Collection]--
			s.mu.Unlock()
			unsub()
		})
	}, nil
}

// setupSession returns a started session that is not signed in yet.
func setupSession(t *testing.T) (*Session, *identity.Context, *spyStore) {
	t.Helper()
	st := newSpyStore(t)
	ident := identity.New()
	sess := NewSession(st, ident, nil)
	sess.Start()
	t.Cleanup(sess.Close)
	return sess, ident, st
}

// signedIn returns a session signed in as ownerID.
func signedIn(t *testing.T, ownerID string) (*Session, *identity.Context, *spyStore) {
	t.Helper()
	sess, ident, st := setupSession(t)
	ident.SignIn(ownerID)
	require.True(t, sess.View().Ready)
	return sess, ident, st
}

func await(t *testing.T, sess *Session, pred func(View) bool) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := sess.Await(ctx, pred)
	require.NoError(t, err, "view never converged: %+v", sess.View())
	return v
}

func listIDs(v View) []string {
	out := make([]string, 0, len(v.Lists))
	for _, l := range v.Lists {
		out = append(out, l.ID)
	}
	return out
}

func itemNames(v View) []string {
	out := make([]string, 0, len(v.Items))
	for _, it := range v.Items {
		out = append(out, it.Name)
	}
	return out
}
