package services

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

func TestSplitTimestamps(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	fields, gotCreated, gotUpdated := splitTimestamps(map[string]any{
		"name":               "Groceries",
		store.FieldCreatedAt: created,
		store.FieldUpdatedAt: updated,
	})

	assert.Equal(t, map[string]any{"name": "Groceries"}, fields)
	assert.Equal(t, created, gotCreated)
	assert.Equal(t, updated, gotUpdated)
}

func TestUpdates_StampsUpdatedAt(t *testing.T) {
	ups := updates(map[string]any{"status": "completed", store.FieldCreatedAt: "ignored"})

	require.Len(t, ups, 2)
	assert.Equal(t, "status", ups[0].Path)
	assert.Equal(t, store.FieldUpdatedAt, ups[1].Path)
}

func TestCreateData_StampsBothTimestamps(t *testing.T) {
	data := createData(map[string]any{"name": "Milk"})

	assert.Contains(t, data, store.FieldCreatedAt)
	assert.Contains(t, data, store.FieldUpdatedAt)
	assert.Equal(t, "Milk", data["name"])
}

func TestBatch_RejectsMoreWritesThanATransactionHolds(t *testing.T) {
	ops := make([]store.Op, maxBatchWrites)
	for i := range ops {
		ops[i] = store.DeleteOp(store.ItemPath("list", fmt.Sprintf("item-%d", i)))
	}
	assert.NoError(t, checkBatchSize(ops))

	ops = append(ops, store.DeleteOp(store.ListPath("list")))
	assert.Error(t, checkBatchSize(ops))

	// Rejected before any request is made.
	fs := &FirestoreService{}
	err := fs.Batch(context.Background(), ops)
	assert.ErrorContains(t, err, "exceeds the firestore limit")
}

// newEmulatorService connects to the Firestore emulator, skipping when it is not running.
func newEmulatorService(t *testing.T) *FirestoreService {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	fs, err := NewFirestoreService(context.Background(), "demo-line-todo-sync")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestFirestoreService_CascadeBatch(t *testing.T) {
	fs := newEmulatorService(t)
	ctx := context.Background()
	owner := "owner-" + fs.NewID()

	listID, err := fs.Create(ctx, store.ListsCollection, map[string]any{"name": "Groceries", "createdBy": owner})
	require.NoError(t, err)
	itemID, err := fs.Create(ctx, store.ItemsCollection(listID), map[string]any{"name": "Milk", "status": "pending"})
	require.NoError(t, err)

	lists, err := fs.Query(ctx, store.Query{Collection: store.ListsCollection, Field: "createdBy", Value: owner})
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.False(t, lists[0].CreatedAt.IsZero())

	require.NoError(t, fs.Update(ctx, store.ItemPath(listID, itemID), map[string]any{"status": "completed"}))

	err = fs.Batch(ctx, []store.Op{
		store.DeleteOp(store.ItemPath(listID, itemID)),
		store.DeleteOp(store.ListPath(listID)),
	})
	require.NoError(t, err)

	_, err = fs.Get(ctx, store.ListPath(listID))
	assert.ErrorIs(t, err, store.ErrNotFound)
	items, err := fs.Query(ctx, store.Query{Collection: store.ItemsCollection(listID)})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFirestoreService_Subscribe(t *testing.T) {
	fs := newEmulatorService(t)
	ctx := context.Background()
	owner := "owner-" + fs.NewID()

	snaps := make(chan store.Snapshot, 16)
	unsub, err := fs.Subscribe(store.Query{Collection: store.ListsCollection, Field: "createdBy", Value: owner}, func(s store.Snapshot) {
		snaps <- s
	})
	require.NoError(t, err)
	defer unsub()

	first := <-snaps
	require.NoError(t, first.Err)
	assert.Empty(t, first.Documents)

	_, err = fs.Create(ctx, store.ListsCollection, map[string]any{"name": "Groceries", "createdBy": owner})
	require.NoError(t, err)

	select {
	case s := <-snaps:
		require.NoError(t, s.Err)
		assert.Len(t, s.Documents, 1)
	case <-time.After(10 * time.Second):
		t.Fatal("no snapshot after create")
	}
}
