// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/matrixbot/lib/secret"
)

// EnvVar names the environment variable read by Load.
const EnvVar = "MATRIXBOT_CONFIG"

// Config is the bot configuration.
type Config struct {
	// ServerURL is the homeserver base URL, e.g. https://matrix.example.org.
	ServerURL string `yaml:"server_url"`

	// BotName is the display name the bot keeps and the word that
	// counts as a mention. It also defaults the login user.
	BotName string `yaml:"bot_name"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Store       StoreConfig       `yaml:"store"`
	Retry       RetryConfig       `yaml:"retry"`

	// PresenceInterval is the minimum time between presence updates.
	PresenceInterval time.Duration `yaml:"presence_interval"`

	Sync    SyncConfig    `yaml:"sync"`
	Crypto  CryptoConfig  `yaml:"crypto"`
	Metrics MetricsConfig `yaml:"metrics"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// CredentialsConfig holds the password login material. Exactly one of
// Password and PasswordFile may be set.
type CredentialsConfig struct {
	// User is the login localpart or full user ID. Empty means BotName.
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
}

// StoreConfig locates the credential database.
type StoreConfig struct {
	// Path is the SQLite file. Empty keeps the session in memory only.
	Path string `yaml:"path"`
}

// RetryConfig controls outbound call retries.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// SyncConfig controls the /sync long-poll loop.
type SyncConfig struct {
	// Timeout is the server-side long-poll hold time.
	Timeout time.Duration `yaml:"timeout"`

	// InitialSyncLimit caps the timeline of the first sync without a
	// stored cursor. Zero means no history is replayed.
	InitialSyncLimit int `yaml:"initial_sync_limit"`

	// MaxBackoff caps the delay between failed sync attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// CryptoConfig controls the device-key bootstrap.
type CryptoConfig struct {
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration before any file is applied.
func Default() *Config {
	return &Config{
		BotName: "hubot",
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
		},
		PresenceInterval: time.Minute,
		Sync: SyncConfig{
			Timeout:    30 * time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Crypto: CryptoConfig{
			ReadyTimeout: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads the file named by MATRIXBOT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your matrixbot.yaml, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path on top of Default and expands
// environment references.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.ServerURL,
		&c.BotName,
		&c.Credentials.User,
		&c.Credentials.Password,
		&c.Credentials.PasswordFile,
		&c.Store.Path,
		&c.Metrics.Listen,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}. Unset or empty
// variables take the default, or the empty string.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// LoginUser returns the user to log in as.
func (c *Config) LoginUser() string {
	if c.Credentials.User != "" {
		return c.Credentials.User
	}
	return c.BotName
}

// Password loads the login password into a protected buffer, from
// either the inline value or password_file. The caller closes it.
func (c *Config) Password() (*secret.Buffer, error) {
	if c.Credentials.PasswordFile != "" {
		buffer, err := secret.ReadFromPath(c.Credentials.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("config: reading password file: %w", err)
		}
		return buffer, nil
	}
	if c.Credentials.Password == "" {
		return nil, errors.New("config: no password configured")
	}
	return secret.NewFromString(c.Credentials.Password)
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	} else if parsed, err := url.Parse(c.ServerURL); err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server_url %q must be an http(s) URL", c.ServerURL))
	}

	if strings.TrimSpace(c.BotName) == "" {
		errs = append(errs, errors.New("bot_name is required"))
	}

	if c.Credentials.Password != "" && c.Credentials.PasswordFile != "" {
		errs = append(errs, errors.New("credentials.password and credentials.password_file are mutually exclusive"))
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, errors.New("retry.initial_delay must be positive"))
	}
	if c.PresenceInterval <= 0 {
		errs = append(errs, errors.New("presence_interval must be positive"))
	}
	if c.Sync.Timeout < 0 {
		errs = append(errs, errors.New("sync.timeout must not be negative"))
	}
	if c.Sync.InitialSyncLimit < 0 {
		errs = append(errs, errors.New("sync.initial_sync_limit must not be negative"))
	}
	if c.Sync.MaxBackoff <= 0 {
		errs = append(errs, errors.New("sync.max_backoff must be positive"))
	}
	if c.Crypto.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("crypto.ready_timeout must be positive"))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	return errors.Join(errs...)
}
