package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// Environment variables that override the config file.
const (
	EnvServerURL = "BBCHAT_SERVER_URL"
	EnvToken     = "BBCHAT_TOKEN"
	EnvUserID    = "BBCHAT_USER_ID"
	EnvLogLevel  = "BBCHAT_LOG_LEVEL"
)

// DefaultServerURL is used when neither the file nor the environment names a server.
const DefaultServerURL = "http://localhost:8080"

// Duration is a time.Duration that reads and writes as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.bbchat/config.toml.
type Config struct {
	DefaultAccount  string   `toml:"default_account"`
	ServerURL       string   `toml:"server_url"`
	Token           string   `toml:"token,omitempty"`
	UserID          string   `toml:"user_id,omitempty"`
	LogLevel        string   `toml:"log_level"`
	RefreshInterval Duration `toml:"refresh_interval"`
	TypingDwell     Duration `toml:"typing_dwell"`
	TypingThrottle  Duration `toml:"typing_throttle"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ServerURL:       DefaultServerURL,
		LogLevel:        "info",
		RefreshInterval: Duration{30 * time.Second},
		TypingDwell:     Duration{1200 * time.Millisecond},
		TypingThrottle:  Duration{800 * time.Millisecond},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(fsys afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(fsys afero.Fs, path string) (*Config, error) {
	cfg, err := Load(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(fsys afero.Fs, path string, cfg *Config) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
// When both a token and a user id end up set, the token is used to connect.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	override := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	override(EnvServerURL, &c.ServerURL)
	override(EnvToken, &c.Token)
	override(EnvUserID, &c.UserID)
	override(EnvLogLevel, &c.LogLevel)
}
