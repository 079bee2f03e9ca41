// Package codec provides record deserialization for index objects.
//
// Index records are stored as JSON Lines: one record per line, newline
// terminated. Byte-range addressing in the key catalog depends on this
// framing, so the decoder reports each record's serialized size including
// its terminating newline.
package codec

import (
	"bufio"
	"context"
	"errors"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/seqsift/bioindex/bioindex"
)

// json is a drop-in replacement for encoding/json with better performance.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLineBytes bounds a single serialized record.
const maxLineBytes = 16 * 1024 * 1024

// LineDecoder streams JSON-line records from a reader, reporting each
// record's serialized byte size.
type LineDecoder struct {
	scanner *bufio.Scanner
	err     error
	done    bool
}

// NewLineDecoder creates a decoder over raw JSON-lines bytes.
func NewLineDecoder(r io.Reader) *LineDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &LineDecoder{scanner: scanner}
}

// Next returns the next record and its size in bytes, or
// bioindex.ErrIteratorDone at end of stream. Blank lines are skipped but
// still counted into the following record's size so that cumulative sizes
// match bytes consumed from storage.
func (d *LineDecoder) Next(_ context.Context) (bioindex.Record, int64, error) {
	if d.err != nil {
		return nil, 0, d.err
	}
	if d.done {
		return nil, 0, bioindex.ErrIteratorDone
	}

	var skipped int64
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			skipped++
			continue
		}

		var rec bioindex.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			d.err = err
			return nil, 0, err
		}
		return rec, skipped + int64(len(line)) + 1, nil
	}

	if err := d.scanner.Err(); err != nil {
		d.err = err
		return nil, 0, err
	}
	d.done = true
	return nil, 0, bioindex.ErrIteratorDone
}

// Decode reads every record from r at once. Convenience for tests and small
// objects.
func Decode(r io.Reader) ([]bioindex.Record, error) {
	dec := NewLineDecoder(r)
	var records []bioindex.Record
	for {
		rec, _, err := dec.Next(context.Background())
		if err != nil {
			if errors.Is(err, bioindex.ErrIteratorDone) {
				return records, nil
			}
			return nil, err
		}
		records = append(records, rec)
	}
}

// Encode writes records as JSON Lines to w.
func Encode(w io.Writer, records []bioindex.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// Ensure LineDecoder satisfies the record stream contract.
var _ bioindex.RecordIterator = (*LineDecoder)(nil)
