package bioindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// defaultFanout bounds the worker pool used by FetchMulti.
const defaultFanout = 20

// -----------------------------------------------------------------------------
// Executor
// -----------------------------------------------------------------------------

// Executor orchestrates index queries against a record source: match, count,
// single fetch, whole-index fetch, and bounded concurrent multi-fetch.
//
// All validation (unknown index, missing required query) happens before any
// I/O is attempted.
type Executor struct {
	catalog *Catalog
	source  RecordSource
	fanout  int
	log     *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithFanout sets the maximum number of concurrent sub-fetches for
// FetchMulti. The default is 20.
func WithFanout(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.fanout = n
		}
	}
}

// WithExecutorLogger sets the executor's logger. The default is a no-op.
func WithExecutorLogger(log *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExecutor creates an Executor over a catalog and record source.
func NewExecutor(catalog *Catalog, source RecordSource, opts ...ExecutorOption) *Executor {
	e := &Executor{
		catalog: catalog,
		source:  source,
		fanout:  defaultFanout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match returns the distinct key values satisfying the query, optionally
// capped at limit keys. Match queries have no byte-budget semantics.
func (e *Executor) Match(ctx context.Context, index string, q Query, limit int) (KeyIterator, error) {
	idx, err := e.catalog.Lookup(index)
	if err != nil {
		return nil, err
	}
	if len(idx.Schema.KeyColumns) == 0 {
		return nil, fmt.Errorf("%w: index %q is not keyed by value", ErrInvalidQuery, index)
	}

	keys, err := e.source.Match(ctx, idx, q)
	if err != nil {
		return nil, err
	}
	return LimitKeys(keys, limit), nil
}

// Count estimates how many records the query would return.
func (e *Executor) Count(ctx context.Context, index string, q Query) (int64, error) {
	idx, err := e.catalog.Lookup(index)
	if err != nil {
		return 0, err
	}
	return e.source.Count(ctx, idx, q)
}

// Fetch returns a RecordReader over exactly the records matching the query,
// honoring the restriction set. The query must be non-empty.
func (e *Executor) Fetch(ctx context.Context, index string, q Query, restricted RestrictionSet) (*RecordReader, error) {
	idx, err := e.catalog.Lookup(index)
	if err != nil {
		return nil, err
	}
	if err := q.Require(); err != nil {
		return nil, err
	}

	records, total, err := e.source.Fetch(ctx, idx, q)
	if err != nil {
		return nil, err
	}

	e.log.Debug("fetch",
		zap.String("index", index),
		zap.String("q", q.String()),
		zap.Int64("bytes_total", total))

	return NewRecordReader(records, total, restricted), nil
}

// FetchAll returns a RecordReader over every record under the index's
// storage prefix.
func (e *Executor) FetchAll(ctx context.Context, index string, restricted RestrictionSet) (*RecordReader, error) {
	idx, err := e.catalog.Lookup(index)
	if err != nil {
		return nil, err
	}

	records, total, err := e.source.FetchAll(ctx, idx)
	if err != nil {
		return nil, err
	}
	return NewRecordReader(records, total, restricted), nil
}

// FetchMulti runs each query as an independent fetch on a bounded worker
// pool and exposes the union as a single RecordReader. Stream order is the
// order in which sub-fetches deliver records, not a deterministic merge;
// every record from every sub-query appears exactly once. The reader's byte
// total is the sum of sub-totals.
//
// Every query must be non-empty; validation completes before any I/O. A
// non-positive fanout uses the executor's configured bound.
//
// The workers outlive ctx, since the merged stream may be suspended and
// resumed by later requests; they hold until the reader is drained, fails,
// or is closed. A caller that abandons the reader must Close it.
func (e *Executor) FetchMulti(ctx context.Context, index string, queries []Query, restricted RestrictionSet, fanout int) (*RecordReader, error) {
	idx, err := e.catalog.Lookup(index)
	if err != nil {
		return nil, err
	}
	for _, q := range queries {
		if err := q.Require(); err != nil {
			return nil, err
		}
	}
	if fanout <= 0 {
		fanout = e.fanout
	}

	// Resolve every sub-fetch up front so the merged total is known before
	// any record is consumed.
	iterators := make([]RecordIterator, 0, len(queries))
	var total int64
	for _, q := range queries {
		records, sub, err := e.source.Fetch(ctx, idx, q)
		if err != nil {
			return nil, err
		}
		iterators = append(iterators, records)
		total += sub
	}

	ch := make(chan sizedRecord, fanout)
	stop := make(chan struct{})
	var mergeErr error

	p := pool.New().
		WithContext(context.WithoutCancel(ctx)).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(fanout)

	for _, it := range iterators {
		p.Go(func(ctx context.Context) error {
			for {
				rec, size, err := it.Next(ctx)
				if err != nil {
					if errors.Is(err, ErrIteratorDone) {
						return nil
					}
					return err
				}
				select {
				case ch <- sizedRecord{rec: rec, size: size}:
				case <-stop:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}

	go func() {
		mergeErr = p.Wait()
		close(ch)
	}()

	merged := &mergeIterator{ch: ch, stop: stop, err: &mergeErr}
	return NewRecordReader(merged, total, restricted), nil
}
