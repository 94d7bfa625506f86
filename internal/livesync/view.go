package livesync

import (
	"github.com/ytakahashi/line-todo-sync/internal/models"
)

// View is an immutable copy of a session's state.
type View struct {
	OwnerID        string        `json:"ownerId,omitempty"`
	Ready          bool          `json:"ready"`
	Lists          []models.List `json:"lists"`
	SelectedListID string        `json:"selectedListId,omitempty"`
	Items          []models.Item `json:"items"`
	Version        uint64        `json:"version"`
	SyncError      string        `json:"syncError,omitempty"`
}

// List returns the visible list with the given id.
func (v View) List(listID string) (models.List, bool) {
	for _, l := range v.Lists {
		if l.ID == listID {
			return l, true
		}
	}
	return models.List{}, false
}

// HasList reports whether listID is visible.
func (v View) HasList(listID string) bool {
	_, ok := v.List(listID)
	return ok
}

// Item returns the item of the selected list with the given id.
func (v View) Item(itemID string) (models.Item, bool) {
	for _, it := range v.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return models.Item{}, false
}

// SelectedList returns the selected list, if it is visible.
func (v View) SelectedList() (models.List, bool) {
	if v.SelectedListID == "" {
		return models.List{}, false
	}
	return v.List(v.SelectedListID)
}

// offer replaces whatever is buffered in ch with v. ch must have capacity 1
// and only one goroutine may send on it at a time.
func offer(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
