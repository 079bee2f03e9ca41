package bioindex

import (
	"context"
	"errors"
	"sync"
)

// noLimit marks a reader without a record-count limit.
const noLimit = -1

// -----------------------------------------------------------------------------
// RecordReader
// -----------------------------------------------------------------------------

// RecordReader is a stateful, byte-budget-aware cursor over a record stream.
//
// Each pull either returns the next unrestricted record or silently skips and
// counts a restricted one. Bytes read are counted for both, so BytesRead
// reaches BytesTotal when the underlying stream is fully consumed.
//
// A reader is exclusively owned by a single caller or by the continuation
// bound to it; it is not safe for concurrent use.
type RecordReader struct {
	source     RecordIterator
	restricted RestrictionSet

	bytesRead  int64
	bytesTotal int64

	limit   int
	yielded int

	restrictedCount int64
	atEnd           bool
	failed          bool
}

// NewRecordReader wraps a record stream with byte accounting and restriction
// filtering. The total is computed once by the source and never recomputed;
// it may be exact or an upper estimate.
func NewRecordReader(source RecordIterator, bytesTotal int64, restricted RestrictionSet) *RecordReader {
	return &RecordReader{
		source:     source,
		restricted: restricted,
		bytesTotal: bytesTotal,
		limit:      noLimit,
	}
}

// SetLimit caps the number of records the reader will ever yield, across all
// pages. A non-positive n removes the limit.
func (r *RecordReader) SetLimit(n int) {
	if n <= 0 {
		r.limit = noLimit
		return
	}
	r.limit = n
	if r.yielded >= r.limit {
		r.atEnd = true
	}
}

// Limit returns the record-count limit, or 0 when unlimited.
func (r *RecordReader) Limit() int {
	if r.limit == noLimit {
		return 0
	}
	return r.limit
}

// BytesRead returns the cumulative bytes consumed from the stream. It is
// monotonically non-decreasing across the reader's lifetime, including
// across suspensions.
func (r *RecordReader) BytesRead() int64 { return r.bytesRead }

// BytesTotal returns the total bytes available to the stream.
func (r *RecordReader) BytesTotal() int64 { return r.bytesTotal }

// RestrictedCount returns the cumulative number of records withheld.
func (r *RecordReader) RestrictedCount() int64 { return r.restrictedCount }

// AtEnd reports whether no further records are obtainable. Once true it
// never becomes false.
func (r *RecordReader) AtEnd() bool { return r.atEnd }

// Failed reports whether the underlying source failed mid-stream. A failed
// reader must not be resumed.
func (r *RecordReader) Failed() bool { return r.failed }

// Close releases the resources behind the reader's stream. Merged
// multi-query streams stop their fan-out workers; single-source streams hold
// nothing and Close is a no-op for them. Safe to call more than once; a
// closed reader must not be drained further.
func (r *RecordReader) Close() {
	if c, ok := r.source.(interface{ Close() }); ok {
		c.Close()
	}
}

// Next returns the next unrestricted record. Restricted records are skipped
// and counted. Returns ErrIteratorDone once the source is exhausted or the
// record limit is reached.
func (r *RecordReader) Next(ctx context.Context) (Record, error) {
	if r.atEnd {
		return nil, ErrIteratorDone
	}

	for {
		rec, size, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrIteratorDone) {
				r.atEnd = true
				return nil, ErrIteratorDone
			}
			r.failed = true
			return nil, err
		}

		r.bytesRead += size

		if r.restricted.Restricted(rec) {
			r.restrictedCount++
			continue
		}

		r.yielded++
		if r.limit != noLimit && r.yielded >= r.limit {
			r.atEnd = true
		}
		return rec, nil
	}
}

// -----------------------------------------------------------------------------
// Merged streams
// -----------------------------------------------------------------------------

// sizedRecord pairs a record with its serialized size for channel transport
// between fan-out workers and the merged stream.
type sizedRecord struct {
	rec  Record
	size int64
}

// mergeIterator exposes records arriving from concurrent sub-fetches as a
// single stream. Arrival order is sub-fetch completion order; no cross-query
// ordering is guaranteed. The error pointer is written before ch closes, so
// reading it after the channel drains is safe.
type mergeIterator struct {
	ch   <-chan sizedRecord
	stop chan struct{}
	once sync.Once
	err  *error
}

func (m *mergeIterator) Next(ctx context.Context) (Record, int64, error) {
	select {
	case sr, ok := <-m.ch:
		if !ok {
			if *m.err != nil {
				return nil, 0, *m.err
			}
			return nil, 0, ErrIteratorDone
		}
		return sr.rec, sr.size, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Close unblocks and drains out the fan-out workers feeding the stream.
func (m *mergeIterator) Close() {
	m.once.Do(func() { close(m.stop) })
}

// limitKeyIterator caps the number of keys an iterator yields.
type limitKeyIterator struct {
	source KeyIterator
	left   int
}

// LimitKeys wraps a key iterator with a hard cap on the number of keys
// returned. A non-positive limit returns the iterator unchanged.
func LimitKeys(it KeyIterator, limit int) KeyIterator {
	if limit <= 0 {
		return it
	}
	return &limitKeyIterator{source: it, left: limit}
}

func (l *limitKeyIterator) Next(ctx context.Context) (string, error) {
	if l.left <= 0 {
		return "", ErrIteratorDone
	}
	key, err := l.source.Next(ctx)
	if err != nil {
		return "", err
	}
	l.left--
	return key, nil
}
