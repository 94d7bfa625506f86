package livesync

import (
	"log/slog"

	"github.com/ytakahashi/line-todo-sync/internal/models"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// ListState is the state of the list subscription.
type ListState int

const (
	// ListIdle means no identity, or a failed subscription.
	ListIdle ListState = iota
	// ListSubscribed means the owner's live query is open.
	ListSubscribed
)

func (s ListState) String() string {
	if s == ListSubscribed {
		return "subscribed"
	}
	return "idle"
}

// ListManager owns the live query "all lists owned by X".
//
// Each open bumps the generation and the deliver callback is bound to it,
// so snapshots from a torn-down query are recognised and dropped.
type ListManager struct {
	store  store.DocumentStore
	logger *slog.Logger

	state     ListState
	owner     string
	gen       uint64
	unsub     store.Unsubscribe
	delivered []models.List
}

func newListManager(st store.DocumentStore, logger *slog.Logger) *ListManager {
	return &ListManager{store: st, logger: logger}
}

// State returns the subscription state.
func (m *ListManager) State() ListState {
	return m.state
}

// open replaces any current query with one scoped to owner.
func (m *ListManager) open(owner string, deliver func(gen uint64, snap store.Snapshot)) error {
	m.close()

	gen := m.gen
	q := store.Query{Collection: store.ListsCollection, Field: models.ListFieldOwner, Value: owner}
	unsub, err := m.store.Subscribe(q, func(snap store.Snapshot) { deliver(gen, snap) })
	if err != nil {
		return err
	}

	m.state = ListSubscribed
	m.owner = owner
	m.unsub = unsub
	m.logger.Info("list subscription opened", slog.String("owner_id", owner), slog.Uint64("generation", gen))
	return nil
}

// close tears the query down. Any callback still in flight is stale afterwards.
func (m *ListManager) close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
		m.logger.Info("list subscription closed", slog.String("owner_id", m.owner), slog.Uint64("generation", m.gen))
	}
	m.gen++
	m.state = ListIdle
	m.owner = ""
	m.delivered = nil
}

// current reports whether gen belongs to the open query.
func (m *ListManager) current(gen uint64) bool {
	return m.state == ListSubscribed && gen == m.gen
}

// apply replaces the delivered lists with docs, in store order.
func (m *ListManager) apply(docs []store.Document) {
	lists := make([]models.List, 0, len(docs))
	for _, doc := range docs {
		lists = append(lists, models.ListFromDocument(doc))
	}
	m.delivered = lists
}

// contains reports whether listID was in the last delivered snapshot.
func (m *ListManager) contains(listID string) bool {
	for _, l := range m.delivered {
		if l.ID == listID {
			return true
		}
	}
	return false
}

// visible returns the delivered lists minus the hidden ids.
func (m *ListManager) visible(hidden map[string]*pendingDelete) []models.List {
	out := make([]models.List, 0, len(m.delivered))
	for _, l := range m.delivered {
		if _, ok := hidden[l.ID]; ok {
			continue
		}
		out = append(out, l)
	}
	return out
}
