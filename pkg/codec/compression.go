package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionType is the body compression recorded in a stream header
type CompressionType uint8

const (
	NoCompression CompressionType = iota
	ZstdCompression
)

// DefaultCompression is used when nothing else is configured
var DefaultCompression = ZstdCompression

// MaxBodySize bounds the decompressed size of a stream body
const MaxBodySize = 1 << 30

// String returns the configuration name of the compression type
func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty name means none.
func ParseCompression(name string) (CompressionType, error) {
	switch name {
	case "none", "":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	default:
		return NoCompression, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// Shared zstd coders; EncodeAll and DecodeAll are safe for concurrent use.
var (
	bodyEncoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderCRC(true))
	bodyDecoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(MaxBodySize),
		zstd.WithDecoderConcurrency(0))
)

// compressBody appends the compressed body to dst
func compressBody(dst, body []byte, ct CompressionType) ([]byte, error) {
	switch ct {
	case NoCompression:
		return append(dst, body...), nil
	case ZstdCompression:
		return bodyEncoder.EncodeAll(body, dst), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
}

// decompressBody returns the plain body. A body that fails to inflate is
// reported as corrupt.
func decompressBody(body []byte, ct CompressionType) ([]byte, error) {
	switch ct {
	case NoCompression:
		return body, nil
	case ZstdCompression:
		out, err := bodyDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
}
