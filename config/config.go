// Package config loads the ironkeep server configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/ironkeep/auth"
	"github.com/jmcleod/ironkeep/crypto"
)

// Environment variables that override the file.
const (
	EnvTokenSecret = "IRONKEEP_TOKEN_SECRET"
	EnvListen      = "IRONKEEP_LISTEN"
	EnvStoreDSN    = "IRONKEEP_STORE_DSN"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config is the server configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// FilesDir is the directory served by GET /api/files.
	FilesDir       string   `yaml:"files_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies lists CIDRs or IPs whose forwarding headers name the
	// client. Empty means the TCP peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// TokenSecret signs session tokens. Empty means a random secret per
	// process.
	TokenSecret string        `yaml:"token_secret"`
	SessionTTL  time.Duration `yaml:"session_ttl"`

	Store      StoreConfig      `yaml:"store"`
	KDF        KDFConfig        `yaml:"kdf"`
	Keychain   KeychainConfig   `yaml:"keychain"`
	LoginLimit LoginLimitConfig `yaml:"login_limit"`
	Log        LogConfig        `yaml:"log"`
	Audit      AuditConfig      `yaml:"audit"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the users file (file) or database file (bolt).
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

// KDFConfig bounds Argon2id work.
type KDFConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// KeychainConfig selects the keychain item format.
type KeychainConfig struct {
	Mode string `yaml:"mode"`
}

// LoginLimitConfig is the per-IP login attempt window.
type LoginLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig forwards audit events to an external collector.
type AuditConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	// WebhookHeader is sent with every delivery, e.g. "Authorization: Bearer x".
	WebhookHeader string `yaml:"webhook_header"`
	// WebhookTimeout bounds each delivery attempt.
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	// WebhookRetries is how many times a failed delivery is retried on a
	// network error, 429 or 5xx.
	WebhookRetries int `yaml:"webhook_retries"`
	// Alerts logs a warning when login or keychain failures spike.
	Alerts bool `yaml:"alerts"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:         ":3001",
		FilesDir:       "/mnt/nas_data/files",
		AllowedOrigins: []string{"http://localhost:5173"},
		SessionTTL:     time.Hour,
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   "users.yaml",
		},
		KDF: KDFConfig{
			Workers: 4,
			Timeout: 10 * time.Second,
		},
		Keychain: KeychainConfig{Mode: string(crypto.ModeCBC)},
		LoginLimit: LoginLimitConfig{
			Max:    5,
			Window: time.Minute,
		},
		Log:   LogConfig{Level: "info", Format: "json"},
		Audit: AuditConfig{
			WebhookTimeout: 5 * time.Second,
			WebhookRetries: 2,
			Alerts:         true,
		},
	}
}

// Load reads path over the defaults, applies the environment overlay and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTokenSecret); ok {
		c.TokenSecret = v
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		c.Store.DSN = v
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if c.TokenSecret != "" && len(c.TokenSecret) < auth.MinTokenSecretLength {
		errs = append(errs, fmt.Errorf("token_secret must be at least %d bytes", auth.MinTokenSecretLength))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverBolt:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", c.Store.Driver))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for driver \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.KDF.Workers < 1 || c.KDF.Workers > 256 {
		errs = append(errs, errors.New("kdf.workers must be between 1 and 256"))
	}
	if c.KDF.Timeout <= 0 {
		errs = append(errs, errors.New("kdf.timeout must be positive"))
	}
	if _, err := crypto.ParseMode(c.Keychain.Mode); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("invalid trusted_proxies entry %q", p))
		}
	}
	if c.Audit.WebhookURL != "" {
		if u, err := url.Parse(c.Audit.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, errors.New("audit.webhook_url must be an http(s) URL"))
		}
	}
	if c.Audit.WebhookTimeout <= 0 {
		errs = append(errs, errors.New("audit.webhook_timeout must be positive"))
	}
	if c.Audit.WebhookHeader != "" {
		if name, _, ok := strings.Cut(c.Audit.WebhookHeader, ":"); !ok || strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New(`audit.webhook_header must be "Name: Value"`))
		}
	}
	if c.Audit.WebhookRetries < 0 || c.Audit.WebhookRetries > 10 {
		errs = append(errs, errors.New("audit.webhook_retries must be between 0 and 10"))
	}
	if c.LoginLimit.Max < 1 {
		errs = append(errs, errors.New("login_limit.max must be at least 1"))
	}
	if c.LoginLimit.Window <= 0 {
		errs = append(errs, errors.New("login_limit.window must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
