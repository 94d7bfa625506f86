package livesync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/line-todo-sync/internal/errors"
	"github.com/ytakahashi/line-todo-sync/internal/models"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

func TestCreateList_RejectsBlankNames(t *testing.T) {
	sess, _, st := signedIn(t, "U1")

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := sess.CreateList(context.Background(), name)
		assert.ErrorIs(t, err, errors.ErrValidation, "name %q", name)
	}
	assert.Equal(t, 0, st.count("Create"))
}

func TestCreateList_NotReady(t *testing.T) {
	sess, _, st := setupSession(t)

	_, err := sess.CreateList(context.Background(), "Groceries")
	assert.ErrorIs(t, err, errors.ErrNotReady)
	assert.Equal(t, 0, st.count("Create"))
}

func TestCreateList_PersistsOwnerAndEmptySharing(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "  Groceries ")
	require.NoError(t, err)

	doc, err := st.DocumentStore.Get(ctx, store.ListPath(listID))
	require.NoError(t, err)
	list := models.ListFromDocument(doc)
	assert.Equal(t, "Groceries", list.Name)
	assert.Equal(t, "U1", list.OwnerID)
	assert.Empty(t, list.SharedWith)
	assert.False(t, list.CreatedAt.IsZero())
}

func TestCreateList_StoreFailure(t *testing.T) {
	sess, ident, _ := setupSession(t)
	failing := &failingCreateStore{DocumentStore: sess.store}
	sess.store = failing
	ident.SignIn("U1")

	_, err := sess.CreateList(context.Background(), "Groceries")
	assert.ErrorIs(t, err, errors.ErrStore)
	assert.Empty(t, sess.View().Lists)
}

type failingCreateStore struct {
	store.DocumentStore
}

func (failingCreateStore) Create(context.Context, string, map[string]any) (string, error) {
	return "", assert.AnError
}

func TestGroceriesScenario(t *testing.T) {
	sess, _, _ := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	require.NoError(t, sess.Select(ctx, listID))

	itemID, err := sess.CreateItem(ctx, listID, "Milk")
	require.NoError(t, err)

	v := await(t, sess, func(v View) bool { return len(v.Items) == 1 })
	milk, ok := v.Item(itemID)
	require.True(t, ok)
	assert.Equal(t, "Milk", milk.Name)
	assert.Equal(t, models.StatusPending, milk.Status)
	assert.Equal(t, listID, milk.ListID)

	status, err := sess.ToggleItem(ctx, listID, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
	await(t, sess, func(v View) bool {
		it, ok := v.Item(itemID)
		return ok && it.Status == models.StatusCompleted
	})

	status, err = sess.ToggleItem(ctx, listID, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status)
	await(t, sess, func(v View) bool {
		it, ok := v.Item(itemID)
		return ok && it.Status == models.StatusPending
	})
}

func TestToggleItem_InProgressCompletes(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Chores")
	require.NoError(t, err)
	itemID, err := sess.CreateItem(ctx, listID, "Laundry")
	require.NoError(t, err)
	require.NoError(t, st.DocumentStore.Update(ctx, store.ItemPath(listID, itemID),
		map[string]any{models.ItemFieldStatus: string(models.StatusInProgress)}))

	// Not selected, so the status is read from the store.
	status, err := sess.ToggleItem(ctx, listID, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)

	_, err = sess.ToggleItem(ctx, listID, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCreateItem_Validation(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	_, err := sess.CreateItem(ctx, "", "Milk")
	assert.ErrorIs(t, err, errors.ErrValidation)
	_, err = sess.CreateItem(ctx, "L1", "  ")
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Equal(t, 0, st.count("Create"))
	assert.Equal(t, 0, st.count("Get"))

	_, err = sess.CreateItem(ctx, "nope", "Milk")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, 0, st.count("Create"))
}

func TestRenameAndDeleteItem(t *testing.T) {
	sess, _, _ := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	require.NoError(t, sess.Select(ctx, listID))
	itemID, err := sess.CreateItem(ctx, listID, "Milk")
	require.NoError(t, err)

	require.NoError(t, sess.RenameItem(ctx, listID, itemID, "Oat milk"))
	await(t, sess, func(v View) bool {
		it, ok := v.Item(itemID)
		return ok && it.Name == "Oat milk"
	})

	require.NoError(t, sess.DeleteItem(ctx, listID, itemID))
	await(t, sess, func(v View) bool { return len(v.Items) == 0 })
	require.NoError(t, sess.DeleteItem(ctx, listID, itemID))

	err = sess.RenameItem(ctx, listID, itemID, "gone")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRenameList(t *testing.T) {
	sess, _, _ := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)

	require.NoError(t, sess.RenameList(ctx, listID, "Weekend"))
	v := await(t, sess, func(v View) bool {
		l, ok := v.List(listID)
		return ok && l.Name == "Weekend"
	})
	assert.Len(t, v.Lists, 1)

	assert.ErrorIs(t, sess.RenameList(ctx, listID, " "), errors.ErrValidation)
}

func TestOtherOwnersListIsNotFound(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	theirs, err := st.DocumentStore.Create(ctx, store.ListsCollection, models.NewListFields("Theirs", "U2"))
	require.NoError(t, err)

	_, err = sess.CreateItem(ctx, theirs, "Milk")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.ErrorIs(t, sess.Select(ctx, theirs), errors.ErrNotFound)
	assert.ErrorIs(t, sess.DeleteList(ctx, theirs), errors.ErrNotFound)
	assert.ErrorIs(t, sess.RenameList(ctx, theirs, "Mine now"), errors.ErrNotFound)

	_, err = st.DocumentStore.Get(ctx, store.ListPath(theirs))
	assert.NoError(t, err)
}

func TestSelect_BeforeSnapshotArrives(t *testing.T) {
	sess, _, _ := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Fresh")
	require.NoError(t, err)

	require.NoError(t, sess.Select(ctx, listID))
	v := sess.View()
	assert.Equal(t, listID, v.SelectedListID)
	assert.True(t, v.HasList(listID))
}

func TestDeleteList_Cascade(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	keep, err := sess.CreateList(ctx, "Keep")
	require.NoError(t, err)
	for _, name := range []string{"Milk", "Eggs", "Bread"} {
		_, err := sess.CreateItem(ctx, listID, name)
		require.NoError(t, err)
	}
	_, err = sess.CreateItem(ctx, keep, "Other")
	require.NoError(t, err)
	require.NoError(t, sess.Select(ctx, listID))
	await(t, sess, func(v View) bool { return len(v.Items) == 3 })

	require.NoError(t, sess.DeleteList(ctx, listID))

	// Selection and visibility change without waiting for a snapshot.
	v := sess.View()
	assert.Empty(t, v.SelectedListID)
	assert.Empty(t, v.Items)
	assert.False(t, v.HasList(listID))
	assert.Equal(t, 0, st.activeSubs(store.ItemsCollection(listID)))

	ops := st.lastBatch()
	require.Len(t, ops, 4)
	for _, op := range ops {
		assert.Equal(t, store.OpDelete, op.Kind)
	}
	assert.Equal(t, store.ListPath(listID), ops[3].Path)

	_, err = st.DocumentStore.Get(ctx, store.ListPath(listID))
	assert.ErrorIs(t, err, store.ErrNotFound)
	items, err := st.DocumentStore.Query(ctx, store.Query{Collection: store.ItemsCollection(listID)})
	require.NoError(t, err)
	assert.Empty(t, items)

	others, err := st.DocumentStore.Query(ctx, store.Query{Collection: store.ItemsCollection(keep)})
	require.NoError(t, err)
	assert.Len(t, others, 1)

	v = await(t, sess, func(v View) bool { return len(v.Lists) == 1 })
	assert.Equal(t, []string{keep}, listIDs(v))
}

func TestDeleteList_LateSnapshotDoesNotRestoreList(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	require.NoError(t, sess.Select(ctx, listID))
	before, err := st.DocumentStore.Get(ctx, store.ListPath(listID))
	require.NoError(t, err)
	deliver := st.callback(store.ListsCollection, 0)

	require.NoError(t, sess.DeleteList(ctx, listID))
	await(t, sess, func(v View) bool { return len(v.Lists) == 0 })

	// A snapshot taken before the delete shows up after it was confirmed.
	deliver(store.Snapshot{Documents: []store.Document{before}})

	v := sess.View()
	assert.False(t, v.HasList(listID))
	assert.Empty(t, v.SelectedListID)
	assert.Empty(t, v.Items)
	assert.Equal(t, 0, st.activeSubs(store.ItemsCollection(listID)))
}

func TestDeleteList_UnsyncedListStaysHidden(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()
	st.mute(store.ListsCollection)

	// Written by another client; this session never receives it.
	listID, err := st.DocumentStore.Create(ctx, store.ListsCollection, models.NewListFields("Remote", "U1"))
	require.NoError(t, err)
	doc, err := st.DocumentStore.Get(ctx, store.ListPath(listID))
	require.NoError(t, err)
	require.False(t, sess.View().HasList(listID))

	require.NoError(t, sess.DeleteList(ctx, listID))

	st.callback(store.ListsCollection, 0)(store.Snapshot{Documents: []store.Document{doc}})

	assert.False(t, sess.View().HasList(listID))
	err = sess.Select(ctx, listID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Empty(t, sess.View().SelectedListID)

	err = sess.DeleteList(ctx, listID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestDeleteList_BatchFailureLeavesEverything(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	_, err = sess.CreateItem(ctx, listID, "Milk")
	require.NoError(t, err)
	require.NoError(t, sess.Select(ctx, listID))

	st.mu.Lock()
	st.failBatch = assert.AnError
	st.mu.Unlock()

	err = sess.DeleteList(ctx, listID)
	assert.ErrorIs(t, err, errors.ErrAtomicBatch)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = st.DocumentStore.Get(ctx, store.ListPath(listID))
	assert.NoError(t, err)
	items, err := st.DocumentStore.Query(ctx, store.Query{Collection: store.ItemsCollection(listID)})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	v := sess.View()
	assert.True(t, v.HasList(listID))
	assert.Empty(t, v.SelectedListID, "eager selection clear is kept")
}

func TestDeleteList_QueryFailure(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	await(t, sess, func(v View) bool { return v.HasList(listID) })

	st.mu.Lock()
	st.failQuery = assert.AnError
	st.mu.Unlock()

	err = sess.DeleteList(ctx, listID)
	assert.ErrorIs(t, err, errors.ErrStore)
	assert.Equal(t, 0, st.count("Batch"))
	assert.True(t, sess.View().HasList(listID))
}

func TestDeleteList_SweepsItemsWrittenDuringDelete(t *testing.T) {
	sess, _, st := signedIn(t, "U1")
	ctx := context.Background()

	listID, err := sess.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	_, err = sess.CreateItem(ctx, listID, "Milk")
	require.NoError(t, err)

	var once sync.Once
	st.mu.Lock()
	st.onQuery = func(q store.Query) {
		if q.Collection != store.ItemsCollection(listID) {
			return
		}
		once.Do(func() {
			// This session refuses the write while the delete is in flight.
			_, err := sess.CreateItem(ctx, listID, "Local")
			assert.ErrorIs(t, err, errors.ErrNotFound)

			// Another client is not stopped by this session.
			_, err = st.DocumentStore.Create(ctx, store.ItemsCollection(listID), models.NewItemFields("Remote"))
			assert.NoError(t, err)
		})
	}
	st.mu.Unlock()

	require.NoError(t, sess.DeleteList(ctx, listID))

	items, err := st.DocumentStore.Query(ctx, store.Query{Collection: store.ItemsCollection(listID)})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 2, st.count("Batch"))
}

func TestDeleteList_Validation(t *testing.T) {
	sess, _, st := signedIn(t, "U1")

	assert.ErrorIs(t, sess.DeleteList(context.Background(), ""), errors.ErrValidation)
	assert.ErrorIs(t, sess.DeleteList(context.Background(), "missing"), errors.ErrNotFound)
	assert.Equal(t, 0, st.count("Batch"))
}
