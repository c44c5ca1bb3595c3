// Package config loads the livepage configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/horosafe"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/sink"
)

// DefaultAddr binds the local interface only.
const DefaultAddr = "127.0.0.1:8090"

// Config is the top-level livepage configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	DB      DBConfig       `yaml:"db"`
	LLM     llm.Config     `yaml:"llm"`
	Builder builder.Config `yaml:"builder"`
	Hub     sink.HubConfig `yaml:"hub"`
	Sinks   []SinkConfig   `yaml:"sinks"`
	Preview PreviewConfig  `yaml:"preview"`

	LogLevel string `yaml:"log_level"` // debug | info | warn | error

	// APIKey is a fallback credential, used when none is stored.
	// Only set from GEMINI_API_KEY, never from the file.
	APIKey string `yaml:"-"`
	// Offline replaces the model backend with canned responses.
	Offline bool `yaml:"offline"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxBody         int64         `yaml:"max_body"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SecureCookie marks the session cookie Secure. Enable behind TLS.
	SecureCookie bool          `yaml:"secure_cookie"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	// SessionSecret keeps sessions valid across restarts. Empty = a random
	// secret per process.
	SessionSecret string `yaml:"session_secret"`
}

// DBConfig locates the credential database.
type DBConfig struct {
	Path string `yaml:"path"`
}

// SinkConfig defines an extra update output.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
	// Full includes the document in stdout lines.
	Full bool `yaml:"full"`
	// AllowPrivate lets a webhook target a private or loopback address.
	AllowPrivate bool          `yaml:"allow_private"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
	// Queue is the number of webhook updates buffered for delivery.
	Queue int `yaml:"queue"`
}

// PreviewConfig controls the headless preview.
type PreviewConfig struct {
	Enabled bool          `yaml:"enabled"`
	Remote  string        `yaml:"remote"`
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Timeout time.Duration `yaml:"timeout"`
	Stealth bool          `yaml:"stealth"`
}

// Load reads a YAML configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 4 << 20
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = 24 * time.Hour
	}
	if c.DB.Path == "" {
		c.DB.Path = "livepage.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// FromEnv overlays LIVEPAGE_* variables and GEMINI_API_KEY read through
// getenv. Pass os.Getenv in production.
func (c *Config) FromEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("LIVEPAGE_ADDR", &c.Server.Addr)
	str("LIVEPAGE_DB", &c.DB.Path)
	str("LIVEPAGE_LOG_LEVEL", &c.LogLevel)
	str("LIVEPAGE_PROVIDER", &c.LLM.Provider)
	str("LIVEPAGE_ENDPOINT", &c.LLM.Endpoint)
	str("LIVEPAGE_MODEL", &c.Builder.DefaultModel)
	str("LIVEPAGE_PREVIEW_REMOTE", &c.Preview.Remote)
	str("LIVEPAGE_SESSION_SECRET", &c.Server.SessionSecret)
	str("GEMINI_API_KEY", &c.APIKey)

	for key, dst := range map[string]*bool{
		"LIVEPAGE_OFFLINE":       &c.Offline,
		"LIVEPAGE_PREVIEW":       &c.Preview.Enabled,
		"LIVEPAGE_SECURE_COOKIE": &c.Server.SecureCookie,
	} {
		v := getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = b
	}
	if v := getenv("LIVEPAGE_WEBHOOK"); v != "" {
		c.Sinks = append(c.Sinks, SinkConfig{Type: "webhook", URL: v})
	}
	return nil
}

// Validate checks the sinks and the log level.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if err := horosafe.ValidateURL(s.URL, s.AllowPrivate); err != nil {
				return fmt.Errorf("config: sinks[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, errors.New("config: unknown log level " + strconv.Quote(s))
}
