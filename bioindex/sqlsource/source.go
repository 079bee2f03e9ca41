// Package sqlsource implements the bioindex record source and catalog
// against a pre-built key database.
//
// An index builder (external to this module) writes one key table per index,
// named after the index, holding the index's key columns alongside the
// object path and byte range of each contiguous record run:
//
//	<key columns...> | path | start_byte | end_byte
//
// plus a catalog table "indexes" with (name, built, prefix, schema). Records
// themselves live in object storage as JSON lines; this package resolves a
// query to byte ranges via SQL and streams the ranges lazily from the
// object store.
//
// Works with MySQL (production) and SQLite (tests and local use); the
// statement builder uses question-mark placeholders compatible with both.
package sqlsource

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/seqsift/bioindex/bioindex"
	"github.com/seqsift/bioindex/internal/codec"
)

// countSampleBytes caps the bytes read when extrapolating a record count.
const countSampleBytes = 1 << 20

// identifier guards table and column names interpolated into SQL. Index
// names and schemas come from the trusted catalog, not from callers, but a
// malformed catalog row should fail loudly rather than produce odd SQL.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Source implements bioindex.RecordSource over a key database and an object
// store holding the bulk records.
type Source struct {
	db    *sql.DB
	store bioindex.ObjectStore
	log   *zap.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the source's logger. The default is a no-op.
func WithLogger(log *zap.Logger) SourceOption {
	return func(s *Source) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a record source over db and store.
func New(db *sql.DB, store bioindex.ObjectStore, opts ...SourceOption) *Source {
	s := &Source{
		db:    db,
		store: store,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Match returns the distinct values of the key column following the query's
// terms. With zero terms it lists the first key column's values.
func (s *Source) Match(ctx context.Context, idx bioindex.Index, q bioindex.Query) (bioindex.KeyIterator, error) {
	terms := q.Terms()
	if len(terms) >= len(idx.Schema.KeyColumns) {
		return nil, fmt.Errorf("%w: no key column left to match after %d terms", bioindex.ErrInvalidQuery, len(terms))
	}

	table, err := keyTable(idx)
	if err != nil {
		return nil, err
	}
	col := idx.Schema.KeyColumns[len(terms)]
	if !identifier.MatchString(col) {
		return nil, fmt.Errorf("%w: bad key column %q", bioindex.ErrInvalidQuery, col)
	}

	query := sq.Select(col).Distinct().From(table).OrderBy(col)
	for i, term := range terms {
		query = query.Where(sq.Eq{idx.Schema.KeyColumns[i]: term})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bioindex.ErrInvalidQuery, err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}
	return &keyIterator{rows: rows}, nil
}

// Count estimates how many records the query would return without
// materializing the stream. It reads a single sample range and extrapolates
// the records-per-byte ratio over the total byte count; the count is exact
// when the whole result fits within the sample.
func (s *Source) Count(ctx context.Context, idx bioindex.Index, q bioindex.Query) (int64, error) {
	ranges, total, err := s.ranges(ctx, idx, q)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	sampleLen := ranges[0].length()
	if sampleLen > countSampleBytes {
		sampleLen = countSampleBytes
	}
	data, err := s.store.ReadRange(ctx, ranges[0].path, ranges[0].start, sampleLen)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}

	n := int64(countLines(data))
	if len(ranges) == 1 && int64(len(data)) >= total {
		return n, nil
	}
	if len(data) == 0 {
		return 0, nil
	}
	return int64(math.Round(float64(n) * float64(total) / float64(len(data)))), nil
}

// Fetch resolves the query to coalesced byte ranges and returns a lazy
// record stream over them, along with the total bytes the stream will read.
func (s *Source) Fetch(ctx context.Context, idx bioindex.Index, q bioindex.Query) (bioindex.RecordIterator, int64, error) {
	ranges, total, err := s.ranges(ctx, idx, q)
	if err != nil {
		return nil, 0, err
	}

	s.log.Debug("resolved query",
		zap.String("index", idx.Name),
		zap.String("q", q.String()),
		zap.Int("ranges", len(ranges)),
		zap.Int64("bytes", total))

	return &rangeIterator{store: s.store, ranges: ranges}, total, nil
}

// FetchAll streams every record under the index's storage prefix. The byte
// total is the sum of object sizes, an upper estimate when objects are
// compressed.
func (s *Source) FetchAll(ctx context.Context, idx bioindex.Index) (bioindex.RecordIterator, int64, error) {
	paths, err := s.store.List(ctx, idx.Prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}

	var total int64
	for _, p := range paths {
		size, err := s.store.Size(ctx, p)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
		}
		total += size
	}

	return &objectIterator{store: s.store, paths: paths}, total, nil
}

// -----------------------------------------------------------------------------
// Range resolution
// -----------------------------------------------------------------------------

// recordRange addresses a contiguous run of records within an object.
type recordRange struct {
	path  string
	start int64
	end   int64
}

func (r recordRange) length() int64 { return r.end - r.start }

// ranges resolves a query to its coalesced byte ranges, ordered by path and
// offset, and the total byte count.
func (s *Source) ranges(ctx context.Context, idx bioindex.Index, q bioindex.Query) ([]recordRange, int64, error) {
	terms := q.Terms()
	if len(terms) > len(idx.Schema.KeyColumns) {
		return nil, 0, fmt.Errorf("%w: %d terms for %d key columns", bioindex.ErrInvalidQuery, len(terms), len(idx.Schema.KeyColumns))
	}

	table, err := keyTable(idx)
	if err != nil {
		return nil, 0, err
	}

	query := sq.Select("path", "start_byte", "end_byte").
		From(table).
		OrderBy("path", "start_byte")
	for i, term := range terms {
		col := idx.Schema.KeyColumns[i]
		if !identifier.MatchString(col) {
			return nil, 0, fmt.Errorf("%w: bad key column %q", bioindex.ErrInvalidQuery, col)
		}
		query = query.Where(sq.Eq{col: term})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrInvalidQuery, err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []recordRange
	for rows.Next() {
		var r recordRange
		if err := rows.Scan(&r.path, &r.start, &r.end); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}

	out = coalesce(out)

	var total int64
	for _, r := range out {
		total += r.length()
	}
	return out, total, nil
}

// coalesce merges adjacent and overlapping ranges within the same object so
// each range maps to a single storage read. Input must be ordered by path
// and offset.
func coalesce(ranges []recordRange) []recordRange {
	if len(ranges) == 0 {
		return ranges
	}

	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.path == last.path && r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// keyTable returns the validated key-table name for an index.
func keyTable(idx bioindex.Index) (string, error) {
	if !identifier.MatchString(idx.Name) {
		return "", fmt.Errorf("%w: bad index name %q", bioindex.ErrInvalidQuery, idx.Name)
	}
	return idx.Name, nil
}

// countLines counts non-empty newline-terminated lines.
func countLines(data []byte) int {
	n := 0
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) > 0 {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Iterators
// -----------------------------------------------------------------------------

// keyIterator streams distinct key values from a database cursor.
type keyIterator struct {
	rows *sql.Rows
	done bool
}

func (k *keyIterator) Next(_ context.Context) (string, error) {
	if k.done {
		return "", bioindex.ErrIteratorDone
	}
	if !k.rows.Next() {
		k.done = true
		err := k.rows.Err()
		_ = k.rows.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
		}
		return "", bioindex.ErrIteratorDone
	}

	var v any
	if err := k.rows.Scan(&v); err != nil {
		k.done = true
		_ = k.rows.Close()
		return "", fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}
	switch key := v.(type) {
	case string:
		return key, nil
	case []byte:
		return string(key), nil
	default:
		return fmt.Sprint(key), nil
	}
}

// rangeIterator lazily reads record ranges from the object store, decoding
// each range's JSON lines in order.
type rangeIterator struct {
	store  bioindex.ObjectStore
	ranges []recordRange
	i      int
	dec    *codec.LineDecoder
}

func (r *rangeIterator) Next(ctx context.Context) (bioindex.Record, int64, error) {
	for {
		if r.dec == nil {
			if r.i >= len(r.ranges) {
				return nil, 0, bioindex.ErrIteratorDone
			}
			rng := r.ranges[r.i]
			r.i++

			data, err := r.store.ReadRange(ctx, rng.path, rng.start, rng.length())
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
			}
			r.dec = codec.NewLineDecoder(bytes.NewReader(data))
		}

		rec, size, err := r.dec.Next(ctx)
		if err != nil {
			r.dec = nil
			if errors.Is(err, bioindex.ErrIteratorDone) {
				continue
			}
			return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
		}
		return rec, size, nil
	}
}

// objectIterator streams whole objects in path order, decompressing by
// extension.
type objectIterator struct {
	store bioindex.ObjectStore
	paths []string
	i     int
	dec   *codec.LineDecoder
	raw   io.ReadCloser
	body  io.ReadCloser
}

func (o *objectIterator) Next(ctx context.Context) (bioindex.Record, int64, error) {
	for {
		if o.dec == nil {
			if o.i >= len(o.paths) {
				return nil, 0, bioindex.ErrIteratorDone
			}
			path := o.paths[o.i]
			o.i++

			rc, err := o.store.Get(ctx, path)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
			}
			body, err := codec.Decompress(path, rc)
			if err != nil {
				_ = rc.Close()
				return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
			}
			o.raw = rc
			o.body = body
			o.dec = codec.NewLineDecoder(body)
		}

		rec, size, err := o.dec.Next(ctx)
		if err != nil {
			_ = o.body.Close()
			_ = o.raw.Close()
			o.dec = nil
			o.body = nil
			o.raw = nil
			if errors.Is(err, bioindex.ErrIteratorDone) {
				continue
			}
			return nil, 0, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
		}
		return rec, size, nil
	}
}

var _ bioindex.RecordSource = (*Source)(nil)
