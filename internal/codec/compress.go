package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/flocksql/flock/internal/domain"
)

// compress applies the named algorithm to raw, mirroring the four
// compressors spec §4.1 names ("snappy", "lz4", "zstd" (default), "none").
func compress(enc domain.Encoding, raw []byte) ([]byte, error) {
	switch enc {
	case domain.EncodingNone:
		return raw, nil
	case domain.EncodingSnappy:
		return snappy.Encode(nil, raw), nil
	case domain.EncodingLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: close: %w", err)
		}
		return buf.Bytes(), nil
	case domain.EncodingZSTD, "":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("unknown compression encoding %q", enc)
	}
}

// decompress reverses compress and validates that the declared encoding
// matches the algorithm actually used (spec §4.1 decode contract).
func decompress(enc domain.Encoding, compressed []byte) ([]byte, error) {
	switch enc {
	case domain.EncodingNone:
		return compressed, nil
	case domain.EncodingSnappy:
		out, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("declared encoding %q does not match payload: %w", enc, err)
		}
		return out, nil
	case domain.EncodingLZ4:
		r := lz4.NewReader(bytes.NewReader(compressed))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("declared encoding %q does not match payload: %w", enc, err)
		}
		return out, nil
	case domain.EncodingZSTD, "":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("declared encoding %q does not match payload: %w", enc, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression encoding %q", enc)
	}
}
