// Package store defines the document store contract the sync core is built on.
//
// A store holds documents addressed by slash-separated paths in a two-level
// hierarchy: the "lists" collection and, under each list, an "items"
// collection. Implementations assign createdAt/updatedAt themselves and
// ignore any client-supplied values for those keys.
package store

import (
	"context"
	"errors"
	"time"
)

// Timestamp field names owned by the store.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// ErrNotFound is returned by Get and Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a stored document.
type Document struct {
	ID        string
	Path      string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// String returns a string field, or "" when it is absent or not a string.
func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Strings returns a string slice field. Non-string elements are skipped.
func (d Document) Strings(field string) []string {
	switch v := d.Fields[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Query selects the documents of one collection, optionally filtered by
// equality on a single field. Results are in insertion order.
type Query struct {
	Collection string
	Field      string
	Value      any
}

// Matches reports whether fields satisfy the query's equality filter.
func (q Query) Matches(fields map[string]any) bool {
	if q.Field == "" {
		return true
	}
	return equalValues(fields[q.Field], q.Value)
}

// Snapshot is the full result set of a live query at one point in time.
// When Err is set the subscription has failed and no further snapshots follow.
type Snapshot struct {
	Documents []Document
	Err       error
}

// Unsubscribe tears a subscription down. It is safe to call more than once.
type Unsubscribe func()

// OpKind is the kind of a batched write.
type OpKind int

// Batched write kinds.
const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one write inside an atomic batch.
type Op struct {
	Kind   OpKind
	Path   string
	Fields map[string]any
}

// CreateOp creates the document at path. The path must name a new document id.
func CreateOp(path string, fields map[string]any) Op {
	return Op{Kind: OpCreate, Path: path, Fields: fields}
}

// UpdateOp merges fields into the existing document at path.
func UpdateOp(path string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Path: path, Fields: fields}
}

// DeleteOp deletes the document at path.
func DeleteOp(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// DocumentStore is the remote document store.
type DocumentStore interface {
	// Get reads one document. It returns ErrNotFound when the document is missing.
	Get(ctx context.Context, path string) (Document, error)
	// Create adds a document to collection and returns its new id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Update merges fields into an existing document. It returns ErrNotFound when the document is missing.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
	// Query returns the current result set of q.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the full result set of q once at start and again
	// after every change. fn is called serially on a store goroutine, never
	// on the caller's.
	Subscribe(q Query, fn func(Snapshot)) (Unsubscribe, error)
	// Batch applies all ops atomically: either every op is applied or none is.
	Batch(ctx context.Context, ops []Op) error
	// NewID returns a fresh document id for use in CreateOp paths.
	NewID() string
}

// UserFields copies fields, dropping the store-owned timestamp keys.
func UserFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == FieldCreatedAt || k == FieldUpdatedAt {
			continue
		}
		out[k] = v
	}
	return out
}
