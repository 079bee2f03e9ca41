package codec

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/seqsift/bioindex/bioindex"
)

func TestLineDecoder_SizesSumToInput(t *testing.T) {
	input := `{"gene":"PCSK9","p":0.5}` + "\n" +
		`{"gene":"TP53","p":0.01}` + "\n" +
		`{"gene":"SLC30A8"}` + "\n"

	dec := NewLineDecoder(strings.NewReader(input))
	ctx := context.Background()

	var total int64
	var count int
	for {
		rec, size, err := dec.Next(ctx)
		if errors.Is(err, bioindex.ErrIteratorDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if rec["gene"] == "" {
			t.Error("record missing gene field")
		}
		total += size
		count++
	}

	if count != 3 {
		t.Errorf("expected 3 records, got %d", count)
	}
	if total != int64(len(input)) {
		t.Errorf("sizes sum to %d, input is %d bytes", total, len(input))
	}
}

func TestLineDecoder_BlankLinesCounted(t *testing.T) {
	input := "\n\n" + `{"gene":"PCSK9"}` + "\n"

	dec := NewLineDecoder(strings.NewReader(input))
	rec, size, err := dec.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec["gene"] != "PCSK9" {
		t.Errorf("unexpected record: %v", rec)
	}
	if size != int64(len(input)) {
		t.Errorf("expected blank lines folded into size %d, got %d", len(input), size)
	}
}

func TestLineDecoder_Empty(t *testing.T) {
	dec := NewLineDecoder(strings.NewReader(""))
	_, _, err := dec.Next(context.Background())
	if !errors.Is(err, bioindex.ErrIteratorDone) {
		t.Errorf("expected ErrIteratorDone, got: %v", err)
	}

	// Done state is sticky.
	_, _, err = dec.Next(context.Background())
	if !errors.Is(err, bioindex.ErrIteratorDone) {
		t.Errorf("expected ErrIteratorDone again, got: %v", err)
	}
}

func TestLineDecoder_MalformedLineFailsPermanently(t *testing.T) {
	input := `{"gene":"PCSK9"}` + "\n" + "{not json\n" + `{"gene":"TP53"}` + "\n"

	dec := NewLineDecoder(strings.NewReader(input))
	ctx := context.Background()

	if _, _, err := dec.Next(ctx); err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	_, _, err := dec.Next(ctx)
	if err == nil || errors.Is(err, bioindex.ErrIteratorDone) {
		t.Fatalf("expected decode error, got: %v", err)
	}

	// The error latches; later calls don't resume past corruption.
	if _, _, err2 := dec.Next(ctx); !errors.Is(err2, err) {
		t.Errorf("expected latched error %v, got: %v", err, err2)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := []bioindex.Record{
		{"gene": "PCSK9", "p": 0.5},
		{"gene": "TP53", "beta": -0.2},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0]["gene"] != "PCSK9" || got[1]["gene"] != "TP53" {
		t.Errorf("round trip mismatch: %v", got)
	}
}
