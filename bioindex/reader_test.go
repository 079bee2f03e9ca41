package bioindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Test fakes shared across the package tests
// -----------------------------------------------------------------------------

// fakeRecords is an in-memory RecordIterator with an optional injected
// failure.
type fakeRecords struct {
	recs   []Record
	sizes  []int64
	i      int
	failAt int // index at which Next fails; -1 for never
}

func newFakeRecords(recs []Record, size int64) *fakeRecords {
	sizes := make([]int64, len(recs))
	for i := range sizes {
		sizes[i] = size
	}
	return &fakeRecords{recs: recs, sizes: sizes, failAt: -1}
}

func (f *fakeRecords) Next(_ context.Context) (Record, int64, error) {
	if f.failAt >= 0 && f.i == f.failAt {
		return nil, 0, fmt.Errorf("%w: injected failure", ErrBackendUnavailable)
	}
	if f.i >= len(f.recs) {
		return nil, 0, ErrIteratorDone
	}
	rec, size := f.recs[f.i], f.sizes[f.i]
	f.i++
	return rec, size, nil
}

// genRecords builds n records with a unique "id" and a "trait" field.
func genRecords(n int, trait string) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{"id": fmt.Sprintf("%s-%d", trait, i), "trait": trait}
	}
	return recs
}

type fakeKeys struct {
	keys []string
	i    int
}

func (f *fakeKeys) Next(_ context.Context) (string, error) {
	if f.i >= len(f.keys) {
		return "", ErrIteratorDone
	}
	key := f.keys[f.i]
	f.i++
	return key, nil
}

// drainAll consumes a reader to exhaustion.
func drainAll(t *testing.T, r *RecordReader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next(context.Background())
		if err == ErrIteratorDone {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

// -----------------------------------------------------------------------------
// RecordReader
// -----------------------------------------------------------------------------

func TestRecordReader_DrainsSource(t *testing.T) {
	recs := genRecords(10, "t2d")
	r := NewRecordReader(newFakeRecords(recs, 100), 1000, nil)

	got := drainAll(t, r)

	assert.Equal(t, recs, got)
	assert.True(t, r.AtEnd())
	assert.EqualValues(t, 1000, r.BytesRead())
	assert.EqualValues(t, 1000, r.BytesTotal())
	assert.EqualValues(t, 0, r.RestrictedCount())
}

func TestRecordReader_LimitIsExact(t *testing.T) {
	r := NewRecordReader(newFakeRecords(genRecords(10, "t2d"), 100), 1000, nil)
	r.SetLimit(3)

	got := drainAll(t, r)

	assert.Len(t, got, 3)
	assert.True(t, r.AtEnd())

	// AtEnd latched on the third yield, not after a fourth pull.
	r2 := NewRecordReader(newFakeRecords(genRecords(10, "t2d"), 100), 1000, nil)
	r2.SetLimit(3)
	for i := 0; i < 3; i++ {
		_, err := r2.Next(context.Background())
		require.NoError(t, err)
	}
	assert.True(t, r2.AtEnd())
}

func TestRecordReader_LimitWithRestrictedSource(t *testing.T) {
	recs := append(genRecords(2, "secret"), genRecords(10, "t2d")...)
	r := NewRecordReader(newFakeRecords(recs, 100), 1200, NewRestrictionSet("secret"))
	r.SetLimit(5)

	got := drainAll(t, r)

	assert.Len(t, got, 5)
	assert.EqualValues(t, 2, r.RestrictedCount())
	for _, rec := range got {
		assert.Equal(t, "t2d", rec["trait"])
	}
}

func TestRecordReader_RestrictedCountedNeverYielded(t *testing.T) {
	recs := append(genRecords(15, "t2d"), genRecords(5, "secret")...)
	r := NewRecordReader(newFakeRecords(recs, 50), 1000, NewRestrictionSet("secret"))

	got := drainAll(t, r)

	assert.Len(t, got, 15)
	assert.EqualValues(t, 5, r.RestrictedCount())
	// Restricted records still count toward bytes read.
	assert.EqualValues(t, 1000, r.BytesRead())
}

func TestRecordReader_BytesReadMonotone(t *testing.T) {
	r := NewRecordReader(newFakeRecords(genRecords(8, "t2d"), 10), 80, nil)

	prev := int64(0)
	for {
		_, err := r.Next(context.Background())
		if err == ErrIteratorDone {
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.BytesRead(), prev)
		prev = r.BytesRead()
	}
}

func TestRecordReader_SourceFailure(t *testing.T) {
	src := newFakeRecords(genRecords(10, "t2d"), 100)
	src.failAt = 4
	r := NewRecordReader(src, 1000, nil)

	for i := 0; i < 4; i++ {
		_, err := r.Next(context.Background())
		require.NoError(t, err)
	}
	_, err := r.Next(context.Background())
	require.ErrorIs(t, err, ErrBackendUnavailable)

	assert.True(t, r.Failed())
	assert.False(t, r.AtEnd())
}

func TestRecordReader_AtEndLatches(t *testing.T) {
	r := NewRecordReader(newFakeRecords(genRecords(1, "t2d"), 10), 10, nil)
	drainAll(t, r)

	for i := 0; i < 3; i++ {
		_, err := r.Next(context.Background())
		assert.ErrorIs(t, err, ErrIteratorDone)
		assert.True(t, r.AtEnd())
	}
}

func TestLimitKeys(t *testing.T) {
	it := LimitKeys(&fakeKeys{keys: []string{"a", "b", "c", "d"}}, 2)

	var got []string
	for {
		key, err := it.Next(context.Background())
		if err == ErrIteratorDone {
			break
		}
		require.NoError(t, err)
		got = append(got, key)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRestrictionSet(t *testing.T) {
	rs := NewRestrictionSet("secret")

	assert.True(t, rs.Restricted(Record{"trait": "secret", "id": 1}))
	assert.False(t, rs.Restricted(Record{"trait": "t2d", "id": 1}))
	assert.False(t, RestrictionSet(nil).Restricted(Record{"trait": "secret"}))
}
