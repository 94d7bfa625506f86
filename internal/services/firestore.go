package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/ytakahashi/line-todo-sync/internal/id"
	"github.com/ytakahashi/line-todo-sync/internal/store"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreService implements store.DocumentStore on Cloud Firestore.
//
// Queries order by createdAt, so an equality filter on another field needs a
// composite index (e.g. lists: createdBy ASC, createdAt ASC).
type FirestoreService struct {
	client *firestore.Client
}

var _ store.DocumentStore = (*FirestoreService)(nil)

func NewFirestoreService(ctx context.Context, projectID string) (*FirestoreService, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreService{
		client: client,
	}, nil
}

func (fs *FirestoreService) Close() error {
	return fs.client.Close()
}

// NewID returns a ULID so document ids sort by creation time.
func (fs *FirestoreService) NewID() string {
	return id.New()
}

func (fs *FirestoreService) doc(path string) (*firestore.DocumentRef, error) {
	ref := fs.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("invalid document path %q", path)
	}
	return ref, nil
}

func (fs *FirestoreService) collection(path string) (*firestore.CollectionRef, error) {
	ref := fs.client.Collection(path)
	if ref == nil {
		return nil, fmt.Errorf("invalid collection path %q", path)
	}
	return ref, nil
}

func (fs *FirestoreService) Get(ctx context.Context, path string) (store.Document, error) {
	collection, _, ok := store.SplitPath(path)
	if !ok {
		return store.Document{}, fmt.Errorf("invalid document path %q", path)
	}
	ref, err := fs.doc(path)
	if err != nil {
		return store.Document{}, err
	}

	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("failed to get %s: %w", path, err)
	}

	return toDocument(collection, snap), nil
}

func (fs *FirestoreService) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	coll, err := fs.collection(collection)
	if err != nil {
		return "", err
	}

	docID := fs.NewID()
	if _, err := coll.Doc(docID).Create(ctx, createData(fields)); err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", collection, err)
	}

	return docID, nil
}

func (fs *FirestoreService) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, err := fs.doc(path)
	if err != nil {
		return err
	}

	_, err = ref.Update(ctx, updates(fields))
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}

	return nil
}

func (fs *FirestoreService) Delete(ctx context.Context, path string) error {
	ref, err := fs.doc(path)
	if err != nil {
		return err
	}

	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return nil
}

func (fs *FirestoreService) query(q store.Query) (firestore.Query, error) {
	coll, err := fs.collection(q.Collection)
	if err != nil {
		return firestore.Query{}, err
	}

	query := coll.Query
	if q.Field != "" {
		query = query.Where(q.Field, "==", q.Value)
	}
	return query.OrderBy(store.FieldCreatedAt, firestore.Asc), nil
}

func (fs *FirestoreService) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	query, err := fs.query(q)
	if err != nil {
		return nil, err
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	docs := []store.Document{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", q.Collection, err)
		}

		docs = append(docs, toDocument(q.Collection, snap))
	}

	return docs, nil
}

// Subscribe runs a Firestore snapshot listener on its own goroutine.
func (fs *FirestoreService) Subscribe(q store.Query, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	query, err := fs.query(q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		closed atomic.Bool
		once   sync.Once
	)

	go func() {
		iter := query.Snapshots(ctx)
		defer iter.Stop()

		for {
			snap, err := iter.Next()
			if closed.Load() {
				return
			}
			if err != nil {
				if ctx.Err() != nil || err == iterator.Done || status.Code(err) == codes.Canceled {
					return
				}
				fn(store.Snapshot{Err: fmt.Errorf("snapshot listener on %s: %w", q.Collection, err)})
				return
			}

			snaps, err := snap.Documents.GetAll()
			if err != nil {
				fn(store.Snapshot{Err: fmt.Errorf("failed to read snapshot of %s: %w", q.Collection, err)})
				return
			}

			docs := make([]store.Document, 0, len(snaps))
			for _, s := range snaps {
				docs = append(docs, toDocument(q.Collection, s))
			}
			fn(store.Snapshot{Documents: docs})
		}
	}()

	return func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
		})
	}, nil
}

// Batch applies ops inside one Firestore transaction.
func (fs *FirestoreService) Batch(ctx context.Context, ops []store.Op) error {
	if err := checkBatchSize(ops); err != nil {
		return err
	}

	refs := make([]*firestore.DocumentRef, len(ops))
	for i, op := range ops {
		ref, err := fs.doc(op.Path)
		if err != nil {
			return err
		}
		refs[i] = ref
	}

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for i, op := range ops {
			var err error
			switch op.Kind {
			case store.OpCreate:
				err = tx.Create(refs[i], createData(op.Fields))
			case store.OpUpdate:
				err = tx.Update(refs[i], updates(op.Fields))
			case store.OpDelete:
				err = tx.Delete(refs[i])
			default:
				err = fmt.Errorf("unknown op kind %d", op.Kind)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", op.Kind, op.Path, err)
			}
		}
		return nil
	})
	if status.Code(err) == codes.NotFound {
		return errors.Join(store.ErrNotFound, err)
	}
	if err != nil {
		return fmt.Errorf("failed to commit batch of %d ops: %w", len(ops), err)
	}

	return nil
}

// maxBatchWrites is the most writes Firestore accepts in one transaction.
const maxBatchWrites = 500

// checkBatchSize rejects batches Firestore would refuse to commit. They are
// not split, since the parts would not be applied atomically.
func checkBatchSize(ops []store.Op) error {
	if len(ops) > maxBatchWrites {
		return fmt.Errorf("batch of %d ops exceeds the firestore limit of %d writes", len(ops), maxBatchWrites)
	}
	return nil
}

// createData returns the document data for a create, stamped by the server.
func createData(fields map[string]any) map[string]any {
	data := store.UserFields(fields)
	data[store.FieldCreatedAt] = firestore.ServerTimestamp
	data[store.FieldUpdatedAt] = firestore.ServerTimestamp
	return data
}

// updates returns a merge update of fields, stamped by the server.
func updates(fields map[string]any) []firestore.Update {
	user := store.UserFields(fields)
	ups := make([]firestore.Update, 0, len(user)+1)
	for k, v := range user {
		ups = append(ups, firestore.Update{Path: k, Value: v})
	}
	return append(ups, firestore.Update{Path: store.FieldUpdatedAt, Value: firestore.ServerTimestamp})
}

func toDocument(collection string, snap *firestore.DocumentSnapshot) store.Document {
	fields, createdAt, updatedAt := splitTimestamps(snap.Data())
	return store.Document{
		ID:        snap.Ref.ID,
		Path:      collection + "/" + snap.Ref.ID,
		Fields:    fields,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// splitTimestamps separates the server timestamps from the user fields.
func splitTimestamps(data map[string]any) (fields map[string]any, createdAt, updatedAt time.Time) {
	createdAt, _ = data[store.FieldCreatedAt].(time.Time)
	updatedAt, _ = data[store.FieldUpdatedAt].(time.Time)
	return store.UserFields(data), createdAt, updatedAt
}
