// Value compression for record payloads. Spec §3/§4.B require Snappy as
// the only supported codec besides "none". jpl-au-folio/compress.go
// reaches for klauspost/compress (as zstd, for its _h history snapshots);
// this keeps the same dependency but the subpackage changes to
// klauspost/compress/s2, which is wire-compatible with Snappy and is
// klauspost's maintained replacement for the abandoned
// golang.org/x/snappy — so the corpus's "prefer klauspost/compress over
// a narrower single-purpose codec library" choice carries over exactly,
// only the subpackage differs because the spec's codec differs.
package recfile

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// compressValue encodes data with the given compression type. An unknown
// compression type is reported as an error rather than a panic.
func compressValue(data []byte, compression uint8) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return s2.EncodeSnappy(nil, data), nil
	default:
		return nil, fmt.Errorf("recfile: %w: %d", errUnknownCompression, compression)
	}
}

// decompressValue decodes data compressed with the given compression type
// into dst, reusing dst's backing array when it has enough capacity.
func decompressValue(dst, data []byte, compression uint8) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return s2.Decode(dst, data)
	default:
		return nil, fmt.Errorf("recfile: %w: %d", errUnknownCompression, compression)
	}
}

var errUnknownCompression = fmt.Errorf("unknown compression type")
