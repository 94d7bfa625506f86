package models

import (
	"time"

	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// Document field names of a list.
const (
	ListFieldName       = "name"
	ListFieldOwner      = "createdBy"
	ListFieldSharedWith = "sharedWith"
)

// List represents a named, owner-scoped collection of items
type List struct {
	ID         string    `firestore:"-" json:"id"`
	Name       string    `firestore:"name" json:"name"`
	OwnerID    string    `firestore:"createdBy" json:"ownerId"`
	SharedWith []string  `firestore:"sharedWith" json:"-"`
	CreatedAt  time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// ListFromDocument maps a stored list document.
func ListFromDocument(doc store.Document) List {
	return List{
		ID:         doc.ID,
		Name:       doc.String(ListFieldName),
		OwnerID:    doc.String(ListFieldOwner),
		SharedWith: doc.Strings(ListFieldSharedWith),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

// NewListFields returns the fields of a new list document.
// sharedWith is reserved for multi-owner sharing and always starts empty.
func NewListFields(name, ownerID string) map[string]any {
	return map[string]any{
		ListFieldName:       name,
		ListFieldOwner:      ownerID,
		ListFieldSharedWith: []string{},
	}
}
