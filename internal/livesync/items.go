package livesync

import (
	"log/slog"

	"github.com/ytakahashi/line-todo-sync/internal/models"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// ItemManager owns the live query over the items of one list.
// At most one such query is open at any time.
type ItemManager struct {
	store  store.DocumentStore
	logger *slog.Logger

	scope     string
	gen       uint64
	unsub     store.Unsubscribe
	delivered []models.Item
}

func newItemManager(st store.DocumentStore, logger *slog.Logger) *ItemManager {
	return &ItemManager{store: st, logger: logger}
}

// Scope returns the list id the open query is bound to, or "".
func (m *ItemManager) Scope() string {
	return m.scope
}

// open closes the current scope before subscribing to listID.
func (m *ItemManager) open(listID string, deliver func(gen uint64, snap store.Snapshot)) error {
	m.close()

	gen := m.gen
	unsub, err := m.store.Subscribe(store.Query{Collection: store.ItemsCollection(listID)}, func(snap store.Snapshot) {
		deliver(gen, snap)
	})
	if err != nil {
		return err
	}

	m.scope = listID
	m.unsub = unsub
	m.logger.Debug("item subscription opened", slog.String("list_id", listID), slog.Uint64("generation", gen))
	return nil
}

// close tears the query down and empties the item collection.
func (m *ItemManager) close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
		m.logger.Debug("item subscription closed", slog.String("list_id", m.scope), slog.Uint64("generation", m.gen))
	}
	m.gen++
	m.scope = ""
	m.delivered = nil
}

func (m *ItemManager) current(gen uint64) bool {
	return m.scope != "" && gen == m.gen
}

// apply replaces the items with docs, in store order.
func (m *ItemManager) apply(docs []store.Document) {
	items := make([]models.Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, models.ItemFromDocument(m.scope, doc))
	}
	m.delivered = items
}

func (m *ItemManager) find(itemID string) (models.Item, bool) {
	for _, it := range m.delivered {
		if it.ID == itemID {
			return it, true
		}
	}
	return models.Item{}, false
}

func (m *ItemManager) items() []models.Item {
	return append([]models.Item{}, m.delivered...)
}
