// Package docstore defines the document collection contract the writers flush
// into. Backends live in subpackages: memory for tests and local runs, mongo
// for the document store the index was designed around, and postgres for
// deployments that already run a relational database.
//
// Writes are always unordered. A backend applies every write it can and
// reports the rest as a *WriteError listing each rejected write by index, so
// callers can treat duplicate-key rejections as ordinary control flow.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Document is anything stored under a unique string key.
type Document interface {
	DocKey() string
}

// Collection is one named set of documents keyed by DocKey.
type Collection[T Document] interface {
	// InsertMany inserts every document whose key is not already present.
	// Documents whose key exists are rejected with CodeDuplicateKey.
	InsertMany(ctx context.Context, docs []T) error
	// BulkWrite applies writes unordered.
	BulkWrite(ctx context.Context, writes []Write[T]) error
	// Find returns the documents matching filter.
	Find(ctx context.Context, filter Filter) ([]T, error)
	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter Filter) (int64, error)
}

// Filter selects documents. An empty Keys matches every document.
type Filter struct {
	// Keys restricts results to these document keys.
	Keys []string
	// Members restricts embedded postings to these URLs. Documents are still
	// returned when none of their postings match.
	Members []string
	// Fields is a projection hint. Backends that cannot project ignore it.
	Fields []string
}

// ByKeys is shorthand for a key filter.
func ByKeys(keys ...string) Filter {
	return Filter{Keys: keys}
}

// WriteKind names a single write operation.
type WriteKind uint8

// Write kinds.
const (
	// WriteInsert inserts Doc; rejected as a duplicate when Key exists.
	WriteInsert WriteKind = iota + 1
	// WriteReplace replaces the document stored under Key with Doc.
	WriteReplace
	// WriteAddToSet adds Member to the backlink set of Key, creating a stub
	// document when Key is missing.
	WriteAddToSet
	// WriteIncrement adds Delta to the posting for Member inside Key. A
	// missing posting is a no-op.
	WriteIncrement
	// WritePush appends a posting {Member, Delta} to Key, creating the
	// document when missing. Rejected as a duplicate when Key already holds a
	// posting for Member.
	WritePush
	// WritePromote overwrites every field of Key with Doc except the
	// backlink set, which becomes the union of the stored and Doc sets.
	// Creates Key when missing.
	WritePromote
)

func (k WriteKind) String() string {
	switch k {
	case WriteInsert:
		return "insert"
	case WriteReplace:
		return "replace"
	case WriteAddToSet:
		return "add_to_set"
	case WriteIncrement:
		return "increment"
	case WritePush:
		return "push"
	case WritePromote:
		return "promote"
	default:
		return fmt.Sprintf("write(%d)", uint8(k))
	}
}

// Write is one element of a bulk write.
type Write[T Document] struct {
	Kind   WriteKind
	Key    string
	Doc    T
	Member string
	Delta  int64
}

// InsertDoc builds an insert write.
func InsertDoc[T Document](doc T) Write[T] {
	return Write[T]{Kind: WriteInsert, Key: doc.DocKey(), Doc: doc}
}

// ReplaceDoc builds a replace write.
func ReplaceDoc[T Document](doc T) Write[T] {
	return Write[T]{Kind: WriteReplace, Key: doc.DocKey(), Doc: doc}
}

// Promote builds a promote write.
func Promote[T Document](doc T) Write[T] {
	return Write[T]{Kind: WritePromote, Key: doc.DocKey(), Doc: doc}
}

// AddToSet builds a set-add upsert.
func AddToSet[T Document](key, member string) Write[T] {
	return Write[T]{Kind: WriteAddToSet, Key: key, Member: member}
}

// Increment builds a posting increment.
func Increment[T Document](key, member string, delta int64) Write[T] {
	return Write[T]{Kind: WriteIncrement, Key: key, Member: member, Delta: delta}
}

// Push builds a posting append.
func Push[T Document](key, member string, count int64) Write[T] {
	return Write[T]{Kind: WritePush, Key: key, Member: member, Delta: count}
}

// Rejection codes.
const (
	CodeUnknown      = 0
	CodeDuplicateKey = 11000
)

// ErrUnsupported is returned when a backend cannot apply a write kind to a
// document type.
var ErrUnsupported = errors.New("operation not supported")

// Rejection describes one write the backend refused.
type Rejection struct {
	// Index is the position of the write in the submitted slice.
	Index   int
	Key     string
	Code    int
	Message string
}

// Duplicate reports whether the rejection is a duplicate-key conflict.
func (r Rejection) Duplicate() bool {
	return r.Code == CodeDuplicateKey
}

// WriteError reports a partially applied InsertMany or BulkWrite.
type WriteError struct {
	Op       string
	Rejected []Rejection
}

func (e *WriteError) Error() string {
	dups := 0
	for _, r := range e.Rejected {
		if r.Duplicate() {
			dups++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d writes rejected (%d duplicate)", e.Op, len(e.Rejected), dups)
	if len(e.Rejected) > dups {
		for _, r := range e.Rejected {
			if !r.Duplicate() {
				fmt.Fprintf(&b, ": %s", r.Message)
				break
			}
		}
	}
	return b.String()
}

// Duplicates returns the duplicate-key rejections.
func (e *WriteError) Duplicates() []Rejection {
	var out []Rejection
	for _, r := range e.Rejected {
		if r.Duplicate() {
			out = append(out, r)
		}
	}
	return out
}

// OnlyDuplicates reports whether every rejection is a duplicate-key conflict.
func (e *WriteError) OnlyDuplicates() bool {
	for _, r := range e.Rejected {
		if !r.Duplicate() {
			return false
		}
	}
	return len(e.Rejected) > 0
}

// AsWriteError unwraps err into a *WriteError.
func AsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
