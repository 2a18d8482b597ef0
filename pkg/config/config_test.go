package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/vksnap/pkg/codec"
	"github.com/willibrandon/vksnap/pkg/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// emptyDotenv keeps tests independent of a .env in the working directory
func emptyDotenv(t *testing.T) string {
	return writeFile(t, "empty.env", "")
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", emptyDotenv(t))
	require.NoError(t, err)

	assert.Equal(t, "zstd", cfg.Engine.Compression)
	assert.Equal(t, store.BackendFile, cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HangTimeout)
	assert.Equal(t, "info", cfg.Log.Level)

	opts := cfg.EngineOptions()
	assert.False(t, opts.CascadeDestroy)
	assert.Equal(t, codec.ZstdCompression, opts.Compression)
}

func TestYAMLFile(t *testing.T) {
	path := writeFile(t, "vksnap.yaml", `
engine:
  cascade_destroy: true
  compression: none
store:
  backend: s3
  s3:
    endpoint: localhost:9000
    bucket: snaps
monitor:
  hang_timeout: 1m
log:
  format: json
`)
	cfg, err := Load(path, emptyDotenv(t))
	require.NoError(t, err)

	assert.True(t, cfg.Engine.CascadeDestroy)
	assert.Equal(t, codec.NoCompression, cfg.EngineOptions().Compression)
	assert.Equal(t, "snaps", cfg.Store.S3.Bucket)
	assert.Equal(t, time.Minute, cfg.MonitorOptions().HangTimeout)
	assert.Equal(t, 5*time.Second, cfg.MonitorOptions().CheckInterval)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestYAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "vksnap.yaml", "engine:\n  cascade: true\n")
	_, err := Load(path, emptyDotenv(t))
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "vksnap.yaml", "engine:\n  strict_load: false\n")
	t.Setenv("VKSNAP_ENGINE_STRICT_LOAD", "true")
	t.Setenv("VKSNAP_STORE_S3_REGION", "eu-west-1")
	t.Setenv("VKSNAP_MONITOR_CHECK_INTERVAL", "250ms")
	t.Setenv("VKSNAP_ENGINE_MAX_STREAM_SIZE", "4096")

	cfg, err := Load(path, emptyDotenv(t))
	require.NoError(t, err)
	assert.True(t, cfg.Engine.StrictLoad)
	assert.Equal(t, "eu-west-1", cfg.Store.S3.Region)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.CheckInterval)
	assert.Equal(t, int64(4096), cfg.EngineOptions().MaxStreamSize)
}

func TestDotenvFile(t *testing.T) {
	dotenv := writeFile(t, "test.env", "VKSNAP_LOG_LEVEL=debug\nVKSNAP_ENGINE_PRUNE_ON_SAVE=true\n")
	t.Cleanup(func() {
		os.Unsetenv("VKSNAP_LOG_LEVEL")
		os.Unsetenv("VKSNAP_ENGINE_PRUNE_ON_SAVE")
	})

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.EngineOptions().PruneOnSave)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Engine.Compression = "lz4"
	cfg.Monitor.HangTimeout = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lz4")
	assert.Contains(t, err.Error(), "hang_timeout")
	assert.Contains(t, err.Error(), "xml")
}
