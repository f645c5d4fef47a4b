package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// compressMinSize is the payload size floor below which compression is
// never attempted (§4.1: "applies only when payload >= 100 bytes").
const compressMinSize = 100

// Compressor is the pluggable compression strategy used by Codec. The
// is_compressed flag on the wire is authoritative on decode regardless of
// which Compressor produced it (spec §9 Open Questions: the reference
// peer's exact compression boundary is not fully documented upstream, so
// the encoder side is made swappable).
type Compressor interface {
	Compress(src []byte) (dst []byte, ok bool)
	Decompress(src []byte) ([]byte, error)
}

// LZ4Compressor compresses with LZ4 and skips compression whenever the
// result would not be smaller than the input.
type LZ4Compressor struct{}

func (LZ4Compressor) Compress(src []byte) ([]byte, bool) {
	if len(src) < compressMinSize {
		return nil, false
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(src) {
		return nil, false
	}
	return buf.Bytes(), true
}

func (LZ4Compressor) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 decompress: %w", err)
	}
	return out, nil
}
