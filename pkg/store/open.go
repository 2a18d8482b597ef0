package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// Backend names accepted by Config.Backend
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
)

// Config selects and configures a store
type Config struct {
	Backend     string   `yaml:"backend" env:"BACKEND"`
	Dir         string   `yaml:"dir" env:"DIR"`
	S3          S3Config `yaml:"s3" envPrefix:"S3_"`
	PostgresDSN string   `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	// CacheSize is the number of blobs kept in memory, zero disables caching
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// EncryptionKey and IntegrityKey are hex encoded; empty disables sealing
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
	IntegrityKey  string `yaml:"integrity_key" env:"INTEGRITY_KEY"`
}

// DefaultConfig returns a file store in ./snapshots
func DefaultConfig() Config {
	return Config{Backend: BackendFile, Dir: "snapshots"}
}

// Validate reports configuration errors without opening anything
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Dir) == "" {
			return fmt.Errorf("store: dir is required for the file backend")
		}
	case BackendS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("store: s3 endpoint and bucket are required")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("store: postgres_dsn is required")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("store: cache_size must not be negative")
	}
	if _, _, err := c.keys(); err != nil {
		return err
	}
	return nil
}

func (c Config) keys() (enc, mac []byte, err error) {
	if c.EncryptionKey != "" {
		if enc, err = hex.DecodeString(c.EncryptionKey); err != nil {
			return nil, nil, fmt.Errorf("store: encryption_key: %w", err)
		}
		if n := len(enc); n != 16 && n != 24 && n != 32 {
			return nil, nil, fmt.Errorf("store: encryption_key must decode to 16, 24, or 32 bytes")
		}
	}
	if c.IntegrityKey != "" {
		if mac, err = hex.DecodeString(c.IntegrityKey); err != nil {
			return nil, nil, fmt.Errorf("store: integrity_key: %w", err)
		}
	}
	return enc, mac, nil
}

// Open builds the configured store: the backend, sealed when keys are set,
// cached when a cache size is set
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var s Store
	var err error
	switch cfg.Backend {
	case BackendFile:
		s, err = NewFileStore(cfg.Dir)
	case BackendS3:
		s, err = NewS3Store(cfg.S3)
	case BackendPostgres:
		s, err = OpenPostgres(ctx, cfg.PostgresDSN)
	}
	if err != nil {
		return nil, err
	}

	enc, mac, _ := cfg.keys()
	var seal []func(*SealOptions)
	if enc != nil {
		seal = append(seal, WithEncryption(enc))
	}
	if mac != nil {
		seal = append(seal, WithIntegrityCheck(mac))
	}
	if len(seal) > 0 {
		if s, err = NewSealedStore(s, seal...); err != nil {
			return nil, err
		}
	}
	if cfg.CacheSize > 0 {
		if s, err = NewCachedStore(s, cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return s, nil
}
