package codec

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// -----------------------------------------------------------------------------
// Decompression
// -----------------------------------------------------------------------------

// Decompress wraps r with the decompressor implied by the object path's
// extension. Paths ending in ".gz" use gzip, ".zst" use zstd; anything else
// is returned unwrapped. Whole-object reads use this; range reads require
// uncompressed objects since byte offsets address the raw record framing.
func Decompress(path string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
