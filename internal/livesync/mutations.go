package livesync

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ytakahashi/line-todo-sync/internal/errors"
	"github.com/ytakahashi/line-todo-sync/internal/models"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

// CreateList creates a list owned by the current owner and returns its id.
// The list shows up in the view with the next list snapshot, not before.
func (s *Session) CreateList(ctx context.Context, name string) (string, error) {
	name, err := requireName(name, "list")
	if err != nil {
		return "", err
	}
	owner, err := s.requireOwner()
	if err != nil {
		return "", err
	}

	listID, err := s.store.Create(ctx, store.ListsCollection, models.NewListFields(name, owner))
	if err != nil {
		return "", errors.Store(err, "failed to create list")
	}

	s.logger.Info("list created", slog.String("owner_id", owner), slog.String("list_id", listID))
	return listID, nil
}

// RenameList changes the name of an owned list.
func (s *Session) RenameList(ctx context.Context, listID, name string) error {
	name, err := requireName(name, "list")
	if err != nil {
		return err
	}
	if err := requireID(listID, "list"); err != nil {
		return err
	}
	if _, err := s.ownedList(ctx, listID); err != nil {
		return err
	}

	err = s.store.Update(ctx, store.ListPath(listID), map[string]any{models.ListFieldName: name})
	return storeError(err, "failed to rename list", "list %s not found", listID)
}

// DeleteList removes a list and every item under it in one atomic batch.
//
// The list is hidden and deselected before the child scan and stays hidden
// until a snapshot without it arrives. CreateItem refuses a list in this
// state. Items created by other clients between the scan and the commit are
// removed by a sweep after the commit.
func (s *Session) DeleteList(ctx context.Context, listID string) error {
	if err := requireID(listID, "list"); err != nil {
		return err
	}
	owner, err := s.requireOwner()
	if err != nil {
		return err
	}
	if _, err := s.ownedList(ctx, listID); err != nil {
		return err
	}

	mark, err := s.beginDelete(listID)
	if err != nil {
		return err
	}

	children, err := s.store.Query(ctx, store.Query{Collection: store.ItemsCollection(listID)})
	if err != nil {
		s.abortDelete(listID, mark)
		return errors.Store(err, "failed to read list items")
	}

	ops := make([]store.Op, 0, len(children)+1)
	for _, doc := range children {
		ops = append(ops, store.DeleteOp(store.ItemPath(listID, doc.ID)))
	}
	ops = append(ops, store.DeleteOp(store.ListPath(listID)))

	if err := s.store.Batch(ctx, ops); err != nil {
		s.abortDelete(listID, mark)
		s.logger.Error("cascading delete failed",
			slog.String("owner_id", owner),
			slog.String("list_id", listID),
			slog.Int("items", len(children)),
			slog.String("error", err.Error()))
		return errors.AtomicBatch(err, "failed to delete list")
	}

	s.confirmDelete(listID, mark)
	s.logger.Info("list deleted",
		slog.String("owner_id", owner),
		slog.String("list_id", listID),
		slog.Int("items", len(children)))

	s.sweepOrphans(ctx, listID)
	return nil
}

func (s *Session) beginDelete(listID string) (*pendingDelete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pd, ok := s.deleting[listID]; ok {
		if pd.confirmed {
			return nil, errors.NotFoundf("list %s not found", listID)
		}
		return nil, errors.NotFoundf("list %s is being deleted", listID)
	}

	mark := &pendingDelete{}
	s.deleting[listID] = mark
	if s.selection.Selected(listID) {
		s.clearSelectionLocked()
	}
	s.publishLocked()
	return mark, nil
}

// abortDelete makes the list visible again. The selection stays cleared.
func (s *Session) abortDelete(listID string, mark *pendingDelete) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting[listID] != mark {
		return
	}
	delete(s.deleting, listID)
	s.publishLocked()
}

func (s *Session) confirmDelete(listID string, mark *pendingDelete) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting[listID] != mark {
		return
	}
	mark.confirmed = true
}

// sweepOrphans deletes items written under listID after the cascade read
// its children. Failures are logged; the list itself is already gone.
func (s *Session) sweepOrphans(ctx context.Context, listID string) {
	orphans, err := s.store.Query(ctx, store.Query{Collection: store.ItemsCollection(listID)})
	if err != nil {
		s.logger.Error("orphan sweep query failed", slog.String("list_id", listID), slog.String("error", err.Error()))
		return
	}
	if len(orphans) == 0 {
		return
	}

	ops := make([]store.Op, 0, len(orphans))
	for _, doc := range orphans {
		ops = append(ops, store.DeleteOp(store.ItemPath(listID, doc.ID)))
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		s.logger.Error("orphan sweep failed",
			slog.String("list_id", listID),
			slog.Int("orphans", len(orphans)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Warn("removed orphaned items", slog.String("list_id", listID), slog.Int("orphans", len(orphans)))
}

// CreateItem adds a pending item to an owned list and returns its id.
func (s *Session) CreateItem(ctx context.Context, listID, name string) (string, error) {
	name, err := requireName(name, "item")
	if err != nil {
		return "", err
	}
	if err := requireID(listID, "list"); err != nil {
		return "", err
	}
	if _, err := s.ownedList(ctx, listID); err != nil {
		return "", err
	}

	itemID, err := s.store.Create(ctx, store.ItemsCollection(listID), models.NewItemFields(name))
	if err != nil {
		return "", errors.Store(err, "failed to create item")
	}

	s.logger.Debug("item created", slog.String("list_id", listID), slog.String("item_id", itemID))
	return itemID, nil
}

// RenameItem changes the name of an item.
func (s *Session) RenameItem(ctx context.Context, listID, itemID, name string) error {
	name, err := requireName(name, "item")
	if err != nil {
		return err
	}
	if err := requireID(listID, "list"); err != nil {
		return err
	}
	if err := requireID(itemID, "item"); err != nil {
		return err
	}
	if _, err := s.ownedList(ctx, listID); err != nil {
		return err
	}

	err = s.store.Update(ctx, store.ItemPath(listID, itemID), map[string]any{models.ItemFieldName: name})
	return storeError(err, "failed to rename item", "item %s not found", itemID)
}

// ToggleItem flips an item between pending and completed and returns the
// status written. The flip is computed from the locally known status; a
// concurrent toggle elsewhere is last-write-wins.
func (s *Session) ToggleItem(ctx context.Context, listID, itemID string) (models.Status, error) {
	if err := requireID(listID, "list"); err != nil {
		return "", err
	}
	if err := requireID(itemID, "item"); err != nil {
		return "", err
	}
	if _, err := s.ownedList(ctx, listID); err != nil {
		return "", err
	}

	current, err := s.knownStatus(ctx, listID, itemID)
	if err != nil {
		return "", err
	}

	next := current.Toggled()
	err = s.store.Update(ctx, store.ItemPath(listID, itemID), map[string]any{models.ItemFieldStatus: string(next)})
	if err := storeError(err, "failed to toggle item", "item %s not found", itemID); err != nil {
		return "", err
	}
	return next, nil
}

// knownStatus returns the status from the open item snapshot, or reads it
// when the item's list is not the selected one.
func (s *Session) knownStatus(ctx context.Context, listID, itemID string) (models.Status, error) {
	s.mu.Lock()
	if s.items.Scope() == listID {
		if it, ok := s.items.find(itemID); ok {
			s.mu.Unlock()
			return it.Status, nil
		}
	}
	s.mu.Unlock()

	doc, err := s.store.Get(ctx, store.ItemPath(listID, itemID))
	if err != nil {
		return "", storeError(err, "failed to read item", "item %s not found", itemID)
	}
	return models.ItemFromDocument(listID, doc).Status, nil
}

// DeleteItem removes one item. Deleting an item that is already gone succeeds.
func (s *Session) DeleteItem(ctx context.Context, listID, itemID string) error {
	if err := requireID(listID, "list"); err != nil {
		return err
	}
	if err := requireID(itemID, "item"); err != nil {
		return err
	}
	if _, err := s.ownedList(ctx, listID); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, store.ItemPath(listID, itemID)); err != nil {
		return errors.Store(err, "failed to delete item")
	}
	return nil
}

// Select makes listID the selected list and scopes the item subscription to it.
//
// A list not yet in the local snapshot is read from the store first. Select
// then waits for the list snapshot to include it, so a selection never points
// at a list the view does not show.
func (s *Session) Select(ctx context.Context, listID string) error {
	if err := requireID(listID, "list"); err != nil {
		return err
	}
	if _, err := s.requireOwner(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.visibleLocked(listID) {
		err := s.selectLocked(listID)
		s.mu.Unlock()
		return selectError(err)
	}
	s.mu.Unlock()

	if _, err := s.ownedList(ctx, listID); err != nil {
		return err
	}
	if _, err := s.Await(ctx, func(v View) bool { return v.HasList(listID) }); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return errors.NotReady("session closed")
		}
		return errors.Store(err, "list did not sync")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.visibleLocked(listID) {
		return errors.NotFoundf("list %s not found", listID)
	}
	return selectError(s.selectLocked(listID))
}

// ClearSelection deselects the current list, if any.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection.ListID() == "" {
		return
	}
	s.clearSelectionLocked()
	s.publishLocked()
}

func (s *Session) requireOwner() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.NotReady("session closed")
	}
	if !s.identity.Ready {
		return "", errors.NotReady("sign in first")
	}
	return s.identity.OwnerID, nil
}

// ownedList checks that listID exists and belongs to the current owner.
// The local snapshot answers first; otherwise the list is read.
func (s *Session) ownedList(ctx context.Context, listID string) (models.List, error) {
	owner, err := s.requireOwner()
	if err != nil {
		return models.List{}, err
	}

	s.mu.Lock()
	if _, ok := s.deleting[listID]; ok {
		s.mu.Unlock()
		return models.List{}, errors.NotFoundf("list %s not found", listID)
	}
	for _, l := range s.lists.delivered {
		if l.ID == listID {
			s.mu.Unlock()
			return l, nil
		}
	}
	s.mu.Unlock()

	doc, err := s.store.Get(ctx, store.ListPath(listID))
	if err != nil {
		return models.List{}, storeError(err, "failed to read list", "list %s not found", listID)
	}
	list := models.ListFromDocument(doc)
	if list.OwnerID != owner {
		return models.List{}, errors.NotFoundf("list %s not found", listID)
	}
	return list, nil
}

func requireName(name, kind string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.ValidationWithDetails(kind+" name is required", map[string]string{"name": "is required"})
	}
	return name, nil
}

func requireID(id, kind string) error {
	if strings.TrimSpace(id) == "" {
		return errors.Validation(kind + " id is required")
	}
	return nil
}

// storeError maps store.ErrNotFound to NOT_FOUND and anything else to STORE.
func storeError(err error, msg, notFound, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return errors.NotFoundf(notFound, id)
	default:
		return errors.Store(err, msg)
	}
}

func selectError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Store(err, "failed to open list")
}
