// Package badgerstore implements store.DocumentStore on an embedded Badger database.
//
// Documents are stored as JSON under "doc:<collection>\x00<id>". Ids are
// ULIDs, so a prefix scan of a collection returns its documents in
// insertion order. Live queries are re-evaluated after every committed
// write touching their collection. Bursts of writes are coalesced into a
// single delivery since every delivery is a full result set.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ytakahashi/line-todo-sync/internal/id"
	"github.com/ytakahashi/line-todo-sync/internal/store"
)

const docPrefix = "doc:"

var errInvalidPath = errors.New("invalid document path")

// Options configures Open.
type Options struct {
	// Path is the database directory. Empty runs fully in memory.
	Path   string
	Logger *slog.Logger
	// Now overrides the clock used for server timestamps.
	Now func() time.Time
}

// Store is a badger-backed document store.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
}

type record struct {
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

var _ store.DocumentStore = (*Store)(nil)

// Open opens (or creates) a badger document store.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.Path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path)
		bopts.SyncWrites = true
		bopts.CompactL0OnClose = true
	}
	bopts.Logger = nil // Disable Badger's internal logging

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:     db,
		logger: opts.Logger,
		now:    opts.Now,
		subs:   make(map[uint64]*subscription),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.logger.Info("badger document store opened",
		slog.String("path", opts.Path),
		slog.Bool("in_memory", opts.Path == ""))
	return s, nil
}

// Close tears down every subscription and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.unsubscribe(sub)
	}
	return s.db.Close()
}

// NewID returns a fresh ULID.
func (s *Store) NewID() string {
	return id.New()
}

func collectionPrefix(collection string) []byte {
	return []byte(docPrefix + collection + "\x00")
}

func docKey(collection, docID string) []byte {
	return append(collectionPrefix(collection), docID...)
}

func validCollection(collection string) bool {
	if collection == "" || strings.HasPrefix(collection, "/") || strings.HasSuffix(collection, "/") {
		return false
	}
	return strings.Count(collection, "/")%2 == 0
}

func keyForPath(path string) (collection string, key []byte, err error) {
	collection, docID, ok := store.SplitPath(path)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", errInvalidPath, path)
	}
	return collection, docKey(collection, docID), nil
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	collection, key, err := keyForPath(path)
	if err != nil {
		return store.Document{}, err
	}

	var rec record
	err = s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, key, &rec)
	})
	if err != nil {
		return store.Document{}, err
	}

	_, docID, _ := store.SplitPath(path)
	return toDocument(collection, docID, rec), nil
}

// Create adds a document with a new ULID to collection.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validCollection(collection) {
		return "", fmt.Errorf("invalid collection path %q", collection)
	}

	docID := s.NewID()
	err := s.db.Update(func(txn *badger.Txn) error {
		return s.createInTxn(txn, collection, docID, fields)
	})
	if err != nil {
		return "", err
	}

	s.notify(collection)
	return docID, nil
}

// Update merges fields into an existing document and advances updatedAt.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, key, err := keyForPath(path)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return s.updateInTxn(txn, key, fields)
	})
	if err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, key, err := keyForPath(path)
	if err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

// Query returns the documents of q.Collection matching q's filter, in insertion order.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validCollection(q.Collection) {
		return nil, fmt.Errorf("invalid collection path %q", q.Collection)
	}

	prefix := collectionPrefix(q.Collection)
	docs := []store.Document{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			if !q.Matches(rec.Fields) {
				continue
			}
			docID := string(item.Key()[len(prefix):])
			docs = append(docs, toDocument(q.Collection, docID, rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Batch applies ops in a single badger transaction.
func (s *Store) Batch(ctx context.Context, ops []store.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	touched := make(map[string]struct{})
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			collection, key, err := keyForPath(op.Path)
			if err != nil {
				return err
			}
			touched[collection] = struct{}{}

			switch op.Kind {
			case store.OpCreate:
				_, docID, _ := store.SplitPath(op.Path)
				if err := s.createInTxn(txn, collection, docID, op.Fields); err != nil {
					return fmt.Errorf("create %s: %w", op.Path, err)
				}
			case store.OpUpdate:
				if err := s.updateInTxn(txn, key, op.Fields); err != nil {
					return fmt.Errorf("update %s: %w", op.Path, err)
				}
			case store.OpDelete:
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("delete %s: %w", op.Path, err)
				}
			default:
				return fmt.Errorf("unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for collection := range touched {
		s.notify(collection)
	}
	return nil
}

func (s *Store) createInTxn(txn *badger.Txn, collection, docID string, fields map[string]any) error {
	key := docKey(collection, docID)
	if _, err := txn.Get(key); err == nil {
		return fmt.Errorf("document %s/%s already exists", collection, docID)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	now := s.now()
	return putRecord(txn, key, record{
		Fields:    store.UserFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *Store) updateInTxn(txn *badger.Txn, key []byte, fields map[string]any) error {
	var rec record
	if err := getRecord(txn, key, &rec); err != nil {
		return err
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]any, len(fields))
	}
	for k, v := range store.UserFields(fields) {
		rec.Fields[k] = v
	}
	rec.UpdatedAt = s.now()
	return putRecord(txn, key, rec)
}

func getRecord(txn *badger.Txn, key []byte, rec *record) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}

func putRecord(txn *badger.Txn, key []byte, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return txn.Set(key, data)
}

func toDocument(collection, docID string, rec record) store.Document {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return store.Document{
		ID:        docID,
		Path:      collection + "/" + docID,
		Fields:    fields,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// subscription is one live query. A single goroutine per subscription
// evaluates and delivers snapshots, so deliveries are serial.
type subscription struct {
	id     uint64
	query  store.Query
	fn     func(store.Snapshot)
	dirty  chan struct{}
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

// Subscribe starts a live query. The first snapshot is delivered asynchronously.
func (s *Store) Subscribe(q store.Query, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	if !validCollection(q.Collection) {
		return nil, fmt.Errorf("invalid collection path %q", q.Collection)
	}

	s.mu.Lock()
	s.nextSub++
	sub := &subscription{
		id:    s.nextSub,
		query: q,
		fn:    fn,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	sub.dirty <- struct{}{}
	go s.run(sub)

	s.logger.Debug("subscription opened",
		slog.Uint64("subscription", sub.id),
		slog.String("collection", q.Collection),
		slog.String("field", q.Field))

	return func() { s.unsubscribe(sub) }, nil
}

func (s *Store) run(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.dirty:
		}

		docs, err := s.Query(context.Background(), sub.query)
		if sub.closed.Load() {
			return
		}
		if err != nil {
			s.logger.Error("subscription query failed",
				slog.Uint64("subscription", sub.id),
				slog.String("collection", sub.query.Collection),
				slog.String("error", err.Error()))
			sub.fn(store.Snapshot{Err: err})
			s.unsubscribe(sub)
			return
		}
		sub.fn(store.Snapshot{Documents: docs})
	}
}

func (s *Store) unsubscribe(sub *subscription) {
	sub.once.Do(func() {
		sub.closed.Store(true)
		close(sub.done)

		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()

		s.logger.Debug("subscription closed", slog.Uint64("subscription", sub.id))
	})
}

// notify marks every live query over collection as dirty.
func (s *Store) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		select {
		case sub.dirty <- struct{}{}:
		default:
			// Already pending; the next evaluation sees this write too.
		}
	}
}
