// Package bioindex implements paginated, resumable record retrieval against
// pre-built indexes stored in bulk object storage.
//
// The package centers on three pieces: the RecordReader, a byte-budgeted
// cursor over a lazy record stream; the Executor, which turns an index query
// into a reader (including bounded concurrent multi-query fan-out); and the
// ContinuationStore, which lets a stateless protocol resume a partially
// drained reader across round trips via single-use, expiring tokens.
//
// Index building, transport, and authorization are external. The package
// consumes a pre-built key catalog through RecordSource, bulk records through
// ObjectStore, and a per-caller RestrictionSet computed elsewhere.
package bioindex

import (
	"context"
	"errors"
	"io"
	"strings"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// Record is a single retrieved record, a mapping from field name to value.
type Record map[string]any

// Schema describes how an index is keyed.
type Schema struct {
	// KeyColumns are the ordered value columns a query's terms bind to.
	KeyColumns []string `json:"keys"`

	// HasLocus reports whether the index is additionally locus-indexed.
	HasLocus bool `json:"locus"`
}

// String renders the schema in its catalog form, a comma-separated column
// list with a trailing "*" when the index is locus-indexed.
func (s Schema) String() string {
	out := strings.Join(s.KeyColumns, ",")
	if s.HasLocus {
		out += "*"
	}
	return out
}

// Index is an immutable-per-version descriptor for a queryable projection of
// bulk data. Instances are loaded from a metadata catalog and never mutated.
type Index struct {
	// Name uniquely identifies the index.
	Name string `json:"index"`

	// Built reports whether the index has been built and is queryable.
	Built bool `json:"built"`

	// Schema describes the index's key columns.
	Schema Schema `json:"schema"`

	// Prefix is the object-storage prefix holding the index's bulk records.
	Prefix string `json:"prefix"`
}

// RestrictionSet is the set of keywords the current caller may not see.
// A record whose field values contain a restricted keyword is withheld from
// the stream and counted instead.
type RestrictionSet map[string]struct{}

// NewRestrictionSet builds a RestrictionSet from keywords.
func NewRestrictionSet(keywords ...string) RestrictionSet {
	rs := make(RestrictionSet, len(keywords))
	for _, k := range keywords {
		rs[k] = struct{}{}
	}
	return rs
}

// Restricted reports whether a record must be withheld, which is the case
// when any of its string field values is a restricted keyword.
func (rs RestrictionSet) Restricted(rec Record) bool {
	if len(rs) == 0 {
		return false
	}
	for _, v := range rec {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, restricted := rs[s]; restricted {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Iterators
// -----------------------------------------------------------------------------

// ErrIteratorDone signals the normal end of an iterator's stream.
var ErrIteratorDone = errors.New("bioindex: iterator done")

// KeyIterator yields distinct key values for a match query.
type KeyIterator interface {
	// Next returns the next key, or ErrIteratorDone when exhausted.
	Next(ctx context.Context) (string, error)
}

// RecordIterator yields records along with their serialized size in bytes.
type RecordIterator interface {
	// Next returns the next record and its serialized size, or
	// ErrIteratorDone when exhausted.
	Next(ctx context.Context) (Record, int64, error)
}

// -----------------------------------------------------------------------------
// Collaborator contracts
// -----------------------------------------------------------------------------

// RecordSource produces candidate keys and records for index queries.
//
// Implementations must distinguish a malformed query (wrap ErrInvalidQuery)
// from a backend failure (wrap ErrBackendUnavailable).
type RecordSource interface {
	// Match returns the distinct key values satisfying the query.
	Match(ctx context.Context, idx Index, q Query) (KeyIterator, error)

	// Count estimates how many records the query would return without
	// materializing the full record stream.
	Count(ctx context.Context, idx Index, q Query) (int64, error)

	// Fetch returns a lazy record stream for the query along with the total
	// number of bytes the stream will read from storage.
	Fetch(ctx context.Context, idx Index, q Query) (RecordIterator, int64, error)

	// FetchAll returns a lazy record stream over every record under the
	// index's storage prefix, along with the total byte estimate.
	FetchAll(ctx context.Context, idx Index) (RecordIterator, int64, error)
}

// ObjectStore reads bulk record objects. Implementations may target S3 or an
// in-memory store for tests.
type ObjectStore interface {
	// Get retrieves a whole object.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// ReadRange reads length bytes starting at offset.
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// Size returns the object's content length without reading it.
	Size(ctx context.Context, path string) (int64, error)

	// List returns object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CatalogSource supplies the full set of indexes from a metadata store.
type CatalogSource interface {
	ListIndexes(ctx context.Context) ([]Index, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrIndexNotFound indicates an unknown index name.
	ErrIndexNotFound = errors.New("bioindex: index not found")

	// ErrInvalidQuery indicates a missing or malformed query.
	ErrInvalidQuery = errors.New("bioindex: invalid query")

	// ErrInvalidFormat indicates an unsupported output-shape selector.
	ErrInvalidFormat = errors.New("bioindex: invalid output format")

	// ErrContinuationNotFound indicates a continuation token that was
	// already redeemed, evicted, or never existed.
	ErrContinuationNotFound = errors.New("bioindex: invalid or expired continuation")

	// ErrBackendUnavailable indicates a record source failure. Readers that
	// surface it are non-resumable.
	ErrBackendUnavailable = errors.New("bioindex: backend unavailable")

	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errors.New("bioindex: not found")

	// ErrInvalidPath indicates an empty object path or one that would
	// escape the storage root.
	ErrInvalidPath = errors.New("bioindex: invalid path")
)
