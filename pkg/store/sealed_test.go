package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEncryptionKey = bytes.Repeat([]byte{0x42}, 32)
	testIntegrityKey  = []byte("integrity-key")
)

func TestSealedStoreRoundTrip(t *testing.T) {
	cases := map[string][]func(*SealOptions){
		"plain":     nil,
		"encrypted": {WithEncryption(testEncryptionKey)},
		"hmac":      {WithIntegrityCheck(testIntegrityKey)},
		"both":      {WithEncryption(testEncryptionKey), WithIntegrityCheck(testIntegrityKey)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			mem := newMemStore()
			s, err := NewSealedStore(mem, opts...)
			require.NoError(t, err)
			exerciseStore(t, s)

			ctx := context.Background()
			payload := []byte("vkCreateDevice payload")
			require.NoError(t, s.Put(ctx, "snap", payload))
			got, err := s.Get(ctx, "snap")
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			raw := mem.blobs["snap"]
			if name == "encrypted" || name == "both" {
				assert.False(t, bytes.Contains(raw, payload), "payload stored in clear")
			}
		})
	}
}

func TestSealedStoreDetectsTampering(t *testing.T) {
	for name, opts := range map[string][]func(*SealOptions){
		"hmac":      {WithIntegrityCheck(testIntegrityKey)},
		"encrypted": {WithEncryption(testEncryptionKey)},
	} {
		t.Run(name, func(t *testing.T) {
			mem := newMemStore()
			s, err := NewSealedStore(mem, opts...)
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "snap", []byte("state")))
			raw := mem.blobs["snap"]
			raw[len(raw)-1] ^= 0xFF

			_, err = s.Get(ctx, "snap")
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestSealedStoreRejectsUnsealedBlobs(t *testing.T) {
	mem := newMemStore()
	s, err := NewSealedStore(mem, WithIntegrityCheck(testIntegrityKey))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mem.Put(ctx, "raw", []byte("VKSN...")))
	_, err = s.Get(ctx, "raw")
	assert.ErrorIs(t, err, ErrIntegrity)

	plain, err := NewSealedStore(mem)
	require.NoError(t, err)
	require.NoError(t, plain.Put(ctx, "nomac", []byte("state")))
	_, err = s.Get(ctx, "nomac")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSealedStoreValidatesKeys(t *testing.T) {
	_, err := NewSealedStore(newMemStore(), WithEncryption([]byte("short")))
	assert.Error(t, err)
	_, err = NewSealedStore(newMemStore(), WithIntegrityCheck(nil))
	assert.Error(t, err)
}
