// Package memory provides an in-process docstore backend used for local runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
)

type setAdder interface {
	AddToSet(member string) bool
}

type incrementer interface {
	Increment(member string, delta int64) bool
}

type pusher interface {
	Push(member string, count int64) bool
}

type promoter[T any] interface {
	Promote(doc T)
}

type restricter[T any] interface {
	Restrict(members map[string]struct{}) T
}

type cloner[T any] interface {
	Clone() T
}

// Collection is a mutex-guarded map of documents that honours the docstore
// write semantics. Update writes require *T to implement the matching method
// (AddToSet, Increment, Push, Promote); otherwise they are rejected as
// unsupported.
type Collection[T docstore.Document] struct {
	name  string
	stub  func(key string) T
	mu    sync.RWMutex
	docs  map[string]T
	order []string
}

// New creates an empty collection. stub builds the document an upsert write
// creates for a missing key; it may be nil when the collection only receives
// inserts and replaces.
func New[T docstore.Document](name string, stub func(key string) T) *Collection[T] {
	return &Collection[T]{
		name: name,
		stub: stub,
		docs: make(map[string]T),
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// InsertMany implements docstore.Collection.
func (c *Collection[T]) InsertMany(ctx context.Context, docs []T) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s insert_many: %w", c.name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var rejected []docstore.Rejection
	for i, doc := range docs {
		key := doc.DocKey()
		if _, ok := c.docs[key]; ok {
			rejected = append(rejected, duplicate(i, key))
			continue
		}
		c.put(key, doc)
	}
	if len(rejected) > 0 {
		return &docstore.WriteError{Op: c.name + " insert_many", Rejected: rejected}
	}
	return nil
}

// BulkWrite implements docstore.Collection.
func (c *Collection[T]) BulkWrite(ctx context.Context, writes []docstore.Write[T]) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s bulk_write: %w", c.name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var rejected []docstore.Rejection
	for i, w := range writes {
		if r, ok := c.apply(i, w); !ok {
			rejected = append(rejected, r)
		}
	}
	if len(rejected) > 0 {
		return &docstore.WriteError{Op: c.name + " bulk_write", Rejected: rejected}
	}
	return nil
}

func (c *Collection[T]) apply(i int, w docstore.Write[T]) (docstore.Rejection, bool) {
	switch w.Kind {
	case docstore.WriteInsert:
		if _, ok := c.docs[w.Key]; ok {
			return duplicate(i, w.Key), false
		}
		c.put(w.Key, w.Doc)
	case docstore.WriteReplace:
		c.put(w.Key, w.Doc)
	case docstore.WriteAddToSet:
		doc, ok := c.docOrStub(w.Key)
		if !ok {
			return unsupported(i, w), false
		}
		adder, ok := any(&doc).(setAdder)
		if !ok {
			return unsupported(i, w), false
		}
		adder.AddToSet(w.Member)
		c.set(w.Key, doc)
	case docstore.WriteIncrement:
		doc, ok := c.docs[w.Key]
		if !ok {
			return docstore.Rejection{}, true
		}
		inc, ok := any(&doc).(incrementer)
		if !ok {
			return unsupported(i, w), false
		}
		inc.Increment(w.Member, w.Delta)
		c.set(w.Key, doc)
	case docstore.WritePush:
		doc, ok := c.docOrStub(w.Key)
		if !ok {
			return unsupported(i, w), false
		}
		p, ok := any(&doc).(pusher)
		if !ok {
			return unsupported(i, w), false
		}
		if !p.Push(w.Member, w.Delta) {
			return duplicate(i, w.Key), false
		}
		c.set(w.Key, doc)
	case docstore.WritePromote:
		doc, ok := c.docs[w.Key]
		if !ok {
			c.put(w.Key, w.Doc)
			break
		}
		p, ok := any(&doc).(promoter[T])
		if !ok {
			return unsupported(i, w), false
		}
		p.Promote(clone(w.Doc))
		c.set(w.Key, doc)
	default:
		return unsupported(i, w), false
	}
	return docstore.Rejection{}, true
}

// Find implements docstore.Collection. Results follow first-insert order.
func (c *Collection[T]) Find(ctx context.Context, filter docstore.Filter) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s find: %w", c.name, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var members map[string]struct{}
	if len(filter.Members) > 0 {
		members = make(map[string]struct{}, len(filter.Members))
		for _, m := range filter.Members {
			members[m] = struct{}{}
		}
	}

	keys := c.order
	if len(filter.Keys) > 0 {
		keys = filter.Keys
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]T, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		doc, ok := c.docs[key]
		if !ok {
			continue
		}
		doc = clone(doc)
		if members != nil {
			if r, ok := any(doc).(restricter[T]); ok {
				doc = r.Restrict(members)
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// Count implements docstore.Collection.
func (c *Collection[T]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s count: %w", c.name, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(filter.Keys) == 0 {
		return int64(len(c.docs)), nil
	}
	seen := make(map[string]struct{}, len(filter.Keys))
	for _, key := range filter.Keys {
		if _, ok := c.docs[key]; ok {
			seen[key] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// Get returns a copy of the document stored under key.
func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[key]
	if !ok {
		return doc, false
	}
	return clone(doc), true
}

func (c *Collection[T]) docOrStub(key string) (T, bool) {
	if doc, ok := c.docs[key]; ok {
		return doc, true
	}
	if c.stub == nil {
		var zero T
		return zero, false
	}
	return c.stub(key), true
}

// put stores a caller-owned document, copying it first.
func (c *Collection[T]) put(key string, doc T) {
	c.set(key, clone(doc))
}

func (c *Collection[T]) set(key string, doc T) {
	if _, ok := c.docs[key]; !ok {
		c.order = append(c.order, key)
	}
	c.docs[key] = doc
}

func clone[T any](doc T) T {
	if cl, ok := any(doc).(cloner[T]); ok {
		return cl.Clone()
	}
	return doc
}

func duplicate(i int, key string) docstore.Rejection {
	return docstore.Rejection{
		Index:   i,
		Key:     key,
		Code:    docstore.CodeDuplicateKey,
		Message: fmt.Sprintf("duplicate key %q", key),
	}
}

func unsupported[T docstore.Document](i int, w docstore.Write[T]) docstore.Rejection {
	return docstore.Rejection{
		Index:   i,
		Key:     w.Key,
		Code:    docstore.CodeUnknown,
		Message: fmt.Sprintf("%s: %v", w.Kind, docstore.ErrUnsupported),
	}
}
