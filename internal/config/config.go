// Package config loads server configuration from the environment.
//
// Every setting has a default except the API key. Validate refuses a Config
// without one: a server that accepts writes from anyone is a misconfiguration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sakif/profile-server/internal/store"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Defaults.
const (
	DefaultPort       = 3005
	DefaultFilePath   = "data/profile.json"
	DefaultSQLitePath = "data/profile.db"
)

// DefaultPathFor returns the data path used for backend when PROFILE_PATH
// and --data are both unset.
func DefaultPathFor(backend string) string {
	if backend == BackendSQLite {
		return DefaultSQLitePath
	}
	return DefaultFilePath
}

// ErrNoAPIKey is returned when neither API_KEY nor API_KEY_HASH is set.
var ErrNoAPIKey = errors.New("config: API_KEY or API_KEY_HASH must be set")

// Config holds everything the server needs to start.
type Config struct {
	Port        int
	DataPath    string // profile JSON file, or the SQLite database for the sqlite backend
	Backend     string
	WritePolicy store.WritePolicy
	APIKey      string // plaintext shared secret
	APIKeyHash  string // bcrypt hash of the shared secret; wins over APIKey
	LogLevel    slog.Level
}

// FromEnv reads the configuration from environment variables:
//
//	PORT                  listen port (default 3005)
//	PROFILE_PATH          data file (default data/profile.json, or data/profile.db for sqlite)
//	PROFILE_BACKEND       file | sqlite (default file)
//	PROFILE_WRITE_POLICY  write-through | optimistic (default write-through)
//	API_KEY               shared secret for write requests
//	API_KEY_HASH          bcrypt hash of the shared secret
//	LOG_LEVEL             debug | info | warn | error (default info)
func FromEnv() (Config, error) {
	backend := envOr("PROFILE_BACKEND", BackendFile)
	cfg := Config{
		Port:       DefaultPort,
		DataPath:   envOr("PROFILE_PATH", DefaultPathFor(backend)),
		Backend:    backend,
		APIKey:     os.Getenv("API_KEY"),
		APIKeyHash: os.Getenv("API_KEY_HASH"),
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}

	policy, err := store.ParseWritePolicy(os.Getenv("PROFILE_WRITE_POLICY"))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.WritePolicy = policy

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", v, err)
		}
	}

	return cfg, nil
}

// SetBackend switches the backend. A data path still at the old backend's
// default moves to the new backend's default, so `--backend sqlite` never
// opens the JSON file as a database.
func (c *Config) SetBackend(backend string) {
	if c.DataPath == DefaultPathFor(c.Backend) {
		c.DataPath = DefaultPathFor(backend)
	}
	c.Backend = backend
}

// Validate checks a Config for serving. Call it after flags have been
// applied on top of the environment.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.APIKey == "" && c.APIKeyHash == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ValidateStorage checks only the settings needed to open the backend.
func (c Config) ValidateStorage() error {
	if strings.TrimSpace(c.DataPath) == "" {
		return errors.New("config: data path must not be empty")
	}
	switch c.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config: unknown backend %q (want %s or %s)", c.Backend, BackendFile, BackendSQLite)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
