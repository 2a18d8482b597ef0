package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// SealOptions configures encryption and integrity checks of stored blobs
type SealOptions struct {
	EnableEncryption bool
	EncryptionKey    []byte // 16, 24, or 32 bytes for AES-128, AES-192, or AES-256

	EnableIntegrityCheck bool
	IntegrityKey         []byte // Key for HMAC
}

// WithEncryption enables encryption with the given key
func WithEncryption(key []byte) func(*SealOptions) {
	return func(opts *SealOptions) {
		opts.EnableEncryption = true
		opts.EncryptionKey = key
	}
}

// WithIntegrityCheck enables integrity checks with the given key
func WithIntegrityCheck(key []byte) func(*SealOptions) {
	return func(opts *SealOptions) {
		opts.EnableIntegrityCheck = true
		opts.IntegrityKey = key
	}
}

const (
	sealMagic     = 'S'
	sealEncrypted = 1 << 0
	sealMAC       = 1 << 1
	nonceSize     = 12
)

// SealedStore encrypts and authenticates blobs before handing them to
// another store
type SealedStore struct {
	Store
	opts SealOptions
}

// NewSealedStore wraps s with the given security options
func NewSealedStore(s Store, options ...func(*SealOptions)) (*SealedStore, error) {
	var opts SealOptions
	for _, o := range options {
		o(&opts)
	}
	if opts.EnableEncryption {
		if n := len(opts.EncryptionKey); n != 16 && n != 24 && n != 32 {
			return nil, errors.New("encryption key must be 16, 24, or 32 bytes long")
		}
	}
	if opts.EnableIntegrityCheck && len(opts.IntegrityKey) == 0 {
		return nil, errors.New("integrity key is required")
	}
	return &SealedStore{Store: s, opts: opts}, nil
}

// Put seals data and stores it
func (s *SealedStore) Put(ctx context.Context, id string, data []byte) error {
	sealed, err := s.Seal(data)
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, id, sealed)
}

// Get fetches and opens the blob stored under id
func (s *SealedStore) Get(ctx context.Context, id string) ([]byte, error) {
	sealed, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return data, nil
}

// Seal encrypts and authenticates data according to the options
func (s *SealedStore) Seal(data []byte) ([]byte, error) {
	var flags byte
	body := data
	if s.opts.EnableEncryption {
		enc, err := encryptData(body, s.opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
		body = enc
		flags |= sealEncrypted
	}
	out := []byte{sealMagic, 0}
	if s.opts.EnableIntegrityCheck {
		flags |= sealMAC
		out = append(out, calculateHMAC(body, s.opts.IntegrityKey)...)
	}
	out[1] = flags
	return append(out, body...), nil
}

// Open verifies and decrypts a sealed blob
func (s *SealedStore) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 2 || sealed[0] != sealMagic {
		return nil, fmt.Errorf("%w: not a sealed blob", ErrIntegrity)
	}
	flags, body := sealed[1], sealed[2:]

	if s.opts.EnableIntegrityCheck && flags&sealMAC == 0 {
		return nil, fmt.Errorf("%w: blob carries no HMAC", ErrIntegrity)
	}
	if flags&sealMAC != 0 {
		if len(body) < sha256.Size {
			return nil, fmt.Errorf("%w: truncated HMAC", ErrIntegrity)
		}
		mac := body[:sha256.Size]
		body = body[sha256.Size:]
		if s.opts.EnableIntegrityCheck && !verifyHMAC(body, s.opts.IntegrityKey, mac) {
			return nil, fmt.Errorf("%w: HMAC mismatch", ErrIntegrity)
		}
	}

	if flags&sealEncrypted == 0 {
		return append([]byte(nil), body...), nil
	}
	if !s.opts.EnableEncryption {
		return nil, errors.New("blob is encrypted and no key is configured")
	}
	data, err := decryptData(body, s.opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return data, nil
}

// encryptData encrypts data using AES-GCM and prepends the nonce
func encryptData(data []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize, nonceSize+len(data)+aesGCM.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// decryptData decrypts data using AES-GCM
func decryptData(data []byte, key []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, errors.New("encrypted data too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aesGCM.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

func calculateHMAC(data []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func verifyHMAC(data []byte, key []byte, expected []byte) bool {
	return hmac.Equal(calculateHMAC(data, key), expected)
}
