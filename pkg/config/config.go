// Package config loads vksnap settings from defaults, an optional YAML
// file, .env files and VKSNAP_ environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/vksnap/pkg/codec"
	"github.com/willibrandon/vksnap/pkg/logging"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/reconstruction"
	"github.com/willibrandon/vksnap/pkg/store"
	"github.com/willibrandon/vksnap/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "VKSNAP_"

// Config is the complete configuration of the vksnap binaries
type Config struct {
	Engine    EngineConfig     `yaml:"engine" envPrefix:"ENGINE_"`
	Store     store.Config     `yaml:"store" envPrefix:"STORE_"`
	Monitor   MonitorConfig    `yaml:"monitor" envPrefix:"MONITOR_"`
	Log       logging.Options  `yaml:"log" envPrefix:"LOG_"`
	Telemetry telemetry.Config `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// EngineConfig holds the engine policies
type EngineConfig struct {
	CascadeDestroy       bool   `yaml:"cascade_destroy" env:"CASCADE_DESTROY"`
	ValidateDependencies bool   `yaml:"validate_dependencies" env:"VALIDATE_DEPENDENCIES"`
	StrictLoad           bool   `yaml:"strict_load" env:"STRICT_LOAD"`
	ContinueOnError      bool   `yaml:"continue_on_error" env:"CONTINUE_ON_ERROR"`
	PruneOnSave          bool   `yaml:"prune_on_save" env:"PRUNE_ON_SAVE"`
	Compression          string `yaml:"compression" env:"COMPRESSION"`

	// MaxStreamSize bounds loaded snapshots in bytes; zero keeps the default
	MaxStreamSize int64 `yaml:"max_stream_size" env:"MAX_STREAM_SIZE"`
}

// MonitorConfig holds the health monitor timings
type MonitorConfig struct {
	HangTimeout   time.Duration `yaml:"hang_timeout" env:"HANG_TIMEOUT"`
	CheckInterval time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
}

// Default returns the built-in configuration
func Default() *Config {
	mon := monitor.DefaultOptions()
	return &Config{
		Engine: EngineConfig{
			Compression: codec.DefaultCompression.String(),
		},
		Store: store.DefaultConfig(),
		Monitor: MonitorConfig{
			HangTimeout:   mon.HangTimeout,
			CheckInterval: mon.CheckInterval,
		},
		Log:       logging.DefaultOptions(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the configuration. An empty path skips the YAML file. With no
// dotenv files given, ./.env is read when it exists.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := loadDotenv(dotenv); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: dotenv: %w", err)
	}
	return nil
}

// Validate reports invalid settings
func (c *Config) Validate() error {
	var errs []error
	if _, err := codec.ParseCompression(c.Engine.Compression); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Engine.MaxStreamSize < 0 {
		errs = append(errs, fmt.Errorf("engine: max_stream_size must not be negative"))
	}
	if c.Monitor.HangTimeout <= 0 {
		errs = append(errs, fmt.Errorf("monitor: hang_timeout must be positive"))
	}
	if c.Monitor.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitor: check_interval must be positive"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text", "auto", "":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EngineOptions converts the engine section into engine options
func (c *Config) EngineOptions() reconstruction.Options {
	opts := reconstruction.DefaultOptions()
	opts.CascadeDestroy = c.Engine.CascadeDestroy
	opts.ValidateDependencies = c.Engine.ValidateDependencies
	opts.StrictLoad = c.Engine.StrictLoad
	opts.ContinueOnError = c.Engine.ContinueOnError
	opts.PruneOnSave = c.Engine.PruneOnSave
	opts.MaxStreamSize = c.Engine.MaxStreamSize
	if ct, err := codec.ParseCompression(c.Engine.Compression); err == nil {
		opts.Compression = ct
	}
	return opts
}

// MonitorOptions converts the monitor section into monitor options
func (c *Config) MonitorOptions() monitor.Options {
	opts := monitor.DefaultOptions()
	opts.HangTimeout = c.Monitor.HangTimeout
	opts.CheckInterval = c.Monitor.CheckInterval
	return opts
}
