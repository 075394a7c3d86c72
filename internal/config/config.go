// Package config loads the server configuration from YAML and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
	"github.com/zeusync/crdtsync/internal/core/crdt/state"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/scene"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRDTSYNC_"

var (
	ErrInvalidAddr     = errors.New("server address is required")
	ErrInvalidPool     = errors.New("invalid pool size classes")
	ErrInvalidLimit    = errors.New("limits must not be negative")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidEncoding = errors.New("log encoding must be json or console")
)

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Pool     PoolConfig     `yaml:"pool" envPrefix:"POOL_"`
	State    StateConfig    `yaml:"state" envPrefix:"STATE_"`
	Snapshot SnapshotConfig `yaml:"snapshot" envPrefix:"SNAPSHOT_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadLimit       int64         `yaml:"read_limit" env:"READ_LIMIT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	SendQueue       int           `yaml:"send_queue" env:"SEND_QUEUE"`
	Token           string        `yaml:"token" env:"TOKEN"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

type PoolConfig struct {
	MinClassSize    int `yaml:"min_class_size" env:"MIN_CLASS_SIZE"`
	MaxClassSize    int `yaml:"max_class_size" env:"MAX_CLASS_SIZE"`
	MaxFreePerClass int `yaml:"max_free_per_class" env:"MAX_FREE_PER_CLASS"`
	Prewarm         int `yaml:"prewarm" env:"PREWARM"`
	// Shared makes all scenes rent from one arena.
	Shared bool `yaml:"shared" env:"SHARED"`
}

type StateConfig struct {
	MaxAppendEntries int `yaml:"max_append_entries" env:"MAX_APPEND_ENTRIES"`
	MaxMessageSize   int `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	// KnownComponents limits world sync output, empty keeps every component.
	KnownComponents []uint32 `yaml:"known_components" env:"KNOWN_COMPONENTS"`
}

// SnapshotConfig enables SQLite persistence when Path is set.
type SnapshotConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

func Default() Config {
	p := pool.DefaultConfig()
	s := scene.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadLimit:       int64(s.MaxMessageSize),
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			SendQueue:       256,
		},
		Log: LogConfig{
			Level:    log.LevelInfo.String(),
			Encoding: "json",
		},
		Pool: PoolConfig{
			MinClassSize:    p.MinClassSize,
			MaxClassSize:    p.MaxClassSize,
			MaxFreePerClass: p.MaxFreePerClass,
			Prewarm:         p.Prewarm,
		},
		State: StateConfig{
			MaxAppendEntries: state.DefaultMaxAppendEntries,
			MaxMessageSize:   s.MaxMessageSize,
		},
	}
}

// Load reads path (when not empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, nil); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from environ, or the process environment when environ
// is nil.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return ErrInvalidAddr
	}
	if c.Server.ReadLimit < 0 || c.Server.SendQueue < 0 || c.State.MaxAppendEntries < 0 || c.State.MaxMessageSize < 0 || c.Pool.Prewarm < 0 || c.Pool.MaxFreePerClass < 0 {
		return ErrInvalidLimit
	}
	if c.Pool.MinClassSize <= 0 || c.Pool.MaxClassSize < c.Pool.MinClassSize {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidPool, c.Pool.MinClassSize, c.Pool.MaxClassSize)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEncoding, c.Log.Encoding)
	}
	return nil
}

// SceneConfig converts the pool and state sections for the scene hub.
func (c Config) SceneConfig() scene.Config {
	known := make([]crdt.ComponentID, 0, len(c.State.KnownComponents))
	for _, id := range c.State.KnownComponents {
		known = append(known, crdt.ComponentID(id))
	}
	return scene.Config{
		Pool: pool.Config{
			MinClassSize:    c.Pool.MinClassSize,
			MaxClassSize:    c.Pool.MaxClassSize,
			MaxFreePerClass: c.Pool.MaxFreePerClass,
			Prewarm:         c.Pool.Prewarm,
		},
		MaxAppendEntries: c.State.MaxAppendEntries,
		MaxMessageSize:   c.State.MaxMessageSize,
		KnownComponents:  known,
	}
}

func (c Config) LoggerConfig() log.Config {
	return log.Config{Level: log.ParseLevel(strings.ToLower(c.Log.Level)), Encoding: c.Log.Encoding}
}
