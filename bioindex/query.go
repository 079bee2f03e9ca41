package bioindex

import (
	"fmt"
	"strings"
)

// Query is an ordered sequence of string terms supplied by a caller. The
// terms are opaque to this package beyond their count; the RecordSource
// interprets them against an index's key columns.
//
// A Query is constructed once at the boundary and passed by value.
type Query struct {
	terms []string
}

// NewQuery builds a Query from terms.
func NewQuery(terms ...string) Query {
	out := make([]string, len(terms))
	copy(out, terms)
	return Query{terms: out}
}

// ParseQuery splits a raw, comma-separated query string into a Query.
// An empty string yields a query with zero terms.
func ParseQuery(raw string) Query {
	if raw == "" {
		return Query{}
	}
	return Query{terms: strings.Split(raw, ",")}
}

// Terms returns a copy of the query's terms in order.
func (q Query) Terms() []string {
	out := make([]string, len(q.terms))
	copy(out, q.terms)
	return out
}

// Len returns the number of terms.
func (q Query) Len() int { return len(q.terms) }

// Empty reports whether the query has no terms.
func (q Query) Empty() bool { return len(q.terms) == 0 }

// Require returns ErrInvalidQuery when the query is empty. Operations that
// mandate a query call it before any I/O is attempted.
func (q Query) Require() error {
	if q.Empty() {
		return fmt.Errorf("%w: missing query terms", ErrInvalidQuery)
	}
	return nil
}

func (q Query) String() string {
	return strings.Join(q.terms, ",")
}
