package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

func TestStatus_Toggled(t *testing.T) {
	assert.Equal(t, StatusCompleted, StatusPending.Toggled())
	assert.Equal(t, StatusPending, StatusCompleted.Toggled())
	assert.Equal(t, StatusCompleted, StatusInProgress.Toggled())
	assert.Equal(t, StatusPending, StatusPending.Toggled().Toggled())
}

func TestListFromDocument(t *testing.T) {
	now := time.Now()
	doc := store.Document{
		ID:   "L1",
		Path: store.ListPath("L1"),
		Fields: map[string]any{
			"name":       "Groceries",
			"createdBy":  "U1",
			"sharedWith": []any{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	list := ListFromDocument(doc)

	assert.Equal(t, "L1", list.ID)
	assert.Equal(t, "Groceries", list.Name)
	assert.Equal(t, "U1", list.OwnerID)
	assert.Empty(t, list.SharedWith)
	assert.Equal(t, now, list.CreatedAt)
}

func TestItemFromDocument(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   Status
	}{
		{name: "pending", fields: map[string]any{"name": "Milk", "status": "pending"}, want: StatusPending},
		{name: "in progress is preserved", fields: map[string]any{"name": "Milk", "status": "in-progress"}, want: StatusInProgress},
		{name: "missing status", fields: map[string]any{"name": "Milk"}, want: StatusPending},
		{name: "unknown status is preserved", fields: map[string]any{"name": "Milk", "status": "blocked"}, want: Status("blocked")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := ItemFromDocument("L1", store.Document{ID: "I1", Fields: tt.fields})
			assert.Equal(t, "I1", item.ID)
			assert.Equal(t, "L1", item.ListID)
			assert.Equal(t, "Milk", item.Name)
			assert.Equal(t, tt.want, item.Status)
		})
	}
}

func TestNewFields(t *testing.T) {
	assert.Equal(t, map[string]any{"name": "Groceries", "createdBy": "U1", "sharedWith": []string{}}, NewListFields("Groceries", "U1"))
	assert.Equal(t, map[string]any{"name": "Milk", "status": "pending"}, NewItemFields("Milk"))
}
