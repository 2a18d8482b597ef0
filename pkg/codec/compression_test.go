package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyCompression(t *testing.T) {
	body := bytes.Repeat([]byte("vkCreateImage "), 200)
	prefix := []byte("hdr")

	for _, ct := range []CompressionType{NoCompression, ZstdCompression} {
		t.Run(ct.String(), func(t *testing.T) {
			out, err := compressBody(append([]byte(nil), prefix...), body, ct)
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(out, prefix))
			if ct == ZstdCompression {
				assert.Less(t, len(out), len(body))
			}

			plain, err := decompressBody(out[len(prefix):], ct)
			require.NoError(t, err)
			assert.Equal(t, body, plain)
		})
	}

	_, err := compressBody(nil, body, CompressionType(42))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCorruptZstdBody(t *testing.T) {
	_, err := decompressBody([]byte("definitely not zstd"), ZstdCompression)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCompression(t *testing.T) {
	ct, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, ZstdCompression, ct)

	ct, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, NoCompression, ct)

	_, err = ParseCompression("lz4")
	assert.ErrorIs(t, err, ErrUnsupported)
}
