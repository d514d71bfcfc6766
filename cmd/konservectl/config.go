// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// config.go: YAML and environment configuration for konservectl.

package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielsz/konserve"
	"github.com/spf13/viper"
)

// Config is the root CLI configuration.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

// StoreConfig selects the backend and codec.
type StoreConfig struct {
	// Backend: memory, file, redis or postgres
	Backend string `mapstructure:"backend"`
	// Codec: msgpack, edn or cbor
	Codec string `mapstructure:"codec"`

	Dir string `mapstructure:"dir"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`

	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`

	// EncryptionKey is a base64 encoded 32-byte key; empty disables sealing.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with defaults. Logs go to stderr so
// stdout stays clean for values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "file",
			Codec:   "msgpack",
			Dir:     "./data",
		},
		Log: LogConfig{
			Level:   "warn",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads configuration from path, or from konservectl.yaml in the usual
// places when path is empty. Environment variables use the KONSERVE prefix
// with "." replaced by "_", e.g. KONSERVE_STORE_BACKEND=redis.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KONSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.codec", cfg.Store.Codec)
	v.SetDefault("store.dir", cfg.Store.Dir)
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.postgres_table", "")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("KONSERVE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("konservectl")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".konserve"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.Dir == "" {
			return errors.New("store.dir is required for the file backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid store.backend: %q", c.Store.Backend)
	}
	if _, err := newSerializer(c.Store.Codec); err != nil {
		return err
	}
	if _, err := c.Store.key(); err != nil {
		return err
	}
	return nil
}

func (s StoreConfig) key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	k, err := base64.StdEncoding.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	if len(k) != 32 {
		return nil, fmt.Errorf("store.encryption_key: want 32 bytes, got %d", len(k))
	}
	return k, nil
}

// storeConfig maps the CLI settings onto a konserve.Config.
func (s StoreConfig) storeConfig(logger konserve.Logger) (konserve.Config, error) {
	ser, err := newSerializer(s.Codec)
	if err != nil {
		return konserve.Config{}, err
	}
	key, err := s.key()
	if err != nil {
		return konserve.Config{}, err
	}
	cfg := konserve.Config{Serializer: ser, Logger: logger, EncryptionKey: key}
	switch s.Backend {
	case "file":
		cfg.Dir = s.Dir
	case "redis":
		cfg.RedisAddr = s.RedisAddr
		cfg.RedisPassword = s.RedisPassword
		cfg.RedisDB = s.RedisDB
		cfg.RedisKeyPrefix = s.RedisPrefix
	case "postgres":
		cfg.PostgresDSN = s.PostgresDSN
		cfg.PostgresTable = s.PostgresTable
	}
	return cfg, nil
}

func newSerializer(name string) (konserve.Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return konserve.NewBinary(), nil
	case "edn", "text":
		return konserve.NewText(), nil
	case "cbor":
		return konserve.NewCBOR()
	}
	return nil, fmt.Errorf("invalid codec: %q", name)
}
