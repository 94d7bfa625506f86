package models

import (
	"time"

	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// Document field names of an item.
const (
	ItemFieldName   = "name"
	ItemFieldStatus = "status"
)

// Status is the progress state of an item.
type Status string

// Known item statuses. Other values read from the store are kept as-is.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Toggled returns pending for a completed item and completed for anything else.
func (s Status) Toggled() Status {
	if s == StatusCompleted {
		return StatusPending
	}
	return StatusCompleted
}

// Done reports whether the item is completed.
func (s Status) Done() bool {
	return s == StatusCompleted
}

// Item represents a single checkable entry of a list
type Item struct {
	ID        string    `firestore:"-" json:"id"`
	ListID    string    `firestore:"-" json:"listId"`
	Name      string    `firestore:"name" json:"name"`
	Status    Status    `firestore:"status" json:"status"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// ItemFromDocument maps a stored item document under listID.
// A missing status reads as pending.
func ItemFromDocument(listID string, doc store.Document) Item {
	status := Status(doc.String(ItemFieldStatus))
	if status == "" {
		status = StatusPending
	}
	return Item{
		ID:        doc.ID,
		ListID:    listID,
		Name:      doc.String(ItemFieldName),
		Status:    status,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// NewItemFields returns the fields of a new, pending item document.
func NewItemFields(name string) map[string]any {
	return map[string]any{
		ItemFieldName:   name,
		ItemFieldStatus: string(StatusPending),
	}
}
