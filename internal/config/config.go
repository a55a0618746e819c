// Package config handles configuration loading and validation.
//
// Settings come from three layers, later layers winning: an optional TOML
// file, the process environment (seeded from a .env file), and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// DefaultToken is the placeholder gateway secret used when none is configured.
const DefaultToken = "change-me"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/modelgate/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string  `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string  `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int     `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Token           string  `kong:"help='Shared secret clients send as a Bearer token.',env='MODELGATE_TOKEN'"`
	OpenAIAPIKey    string  `kong:"name='openai-api-key',help='OpenAI API key.',env='OPENAI_API_KEY'"`
	OpenAIBaseURL   string  `kong:"name='openai-base-url',help='OpenAI-compatible base URL.',env='OPENAI_BASE_URL'"`
	OllamaBaseURL   string  `kong:"name='ollama-base-url',help='Ollama OpenAI-compatible base URL.',env='OLLAMA_BASE_URL'"`
	DefaultProvider string  `kong:"help='Provider for models without a routing prefix: openai|ollama.',env='DEFAULT_PROVIDER'"`
	TimeoutSeconds  float64 `kong:"help='Upstream request timeout in seconds.',env='TIMEOUT_SECONDS'"`
	LogLevel        string  `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration. It is built once at
// startup and never mutated afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Gateway  GatewayConfig  `toml:"gateway"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Ollama   OllamaConfig   `toml:"ollama"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port" validate:"min=0,max=65535"` // 0 means "use default" (8000)
	BodyMaxBytes int64           `toml:"body_max_bytes" validate:"min=0"`
	PathPrefix   string          `toml:"path_prefix" validate:"omitempty,startswith=/"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// GatewayConfig holds inbound auth and routing settings.
type GatewayConfig struct {
	Token           string `toml:"token"`
	DefaultProvider string `toml:"default_provider" validate:"omitempty,oneof=openai ollama"`
}

// OpenAIConfig holds the OpenAI upstream settings.
type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url" validate:"omitempty,http_url"`
}

// OllamaConfig holds the Ollama upstream settings.
type OllamaConfig struct {
	BaseURL string `toml:"base_url" validate:"omitempty,http_url"`
}

// UpstreamConfig holds upstream connection settings shared by all providers.
type UpstreamConfig struct {
	TimeoutSeconds  float64 `toml:"timeout_seconds" validate:"min=0"`
	IdleConnections int     `toml:"idle_connections" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report TOML keys rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load reads the optional TOML config file and applies CLI/env overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/modelgate/config.toml then configs/config.toml and falls back to
// defaults plus environment when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Token != "" {
		c.Gateway.Token = cli.Token
	}
	if cli.OpenAIAPIKey != "" {
		c.OpenAI.APIKey = cli.OpenAIAPIKey
	}
	if cli.OpenAIBaseURL != "" {
		c.OpenAI.BaseURL = cli.OpenAIBaseURL
	}
	if cli.OllamaBaseURL != "" {
		c.Ollama.BaseURL = cli.OllamaBaseURL
	}
	if cli.DefaultProvider != "" {
		c.Gateway.DefaultProvider = cli.DefaultProvider
	}
	if cli.TimeoutSeconds != 0 {
		c.Upstream.TimeoutSeconds = cli.TimeoutSeconds
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// normalize lower-cases enum-like fields so comparisons are case-insensitive.
func (c *Config) normalize() {
	c.Gateway.DefaultProvider = strings.ToLower(strings.TrimSpace(c.Gateway.DefaultProvider))
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		prefix := c.Server.PathPrefix
		if prefix == "" {
			prefix = defaultPathPrefix
		}
		prefix = strings.TrimRight(prefix, "/")

		reserved := []string{"/health", "/status", prefix + "/chat/completions", prefix + "/embeddings"}
		if prefix != "" {
			reserved = append(reserved, prefix)
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s; got %q", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "http_url":
		return fmt.Sprintf("%s must be an http(s) URL; got %q", field, fe.Value())
	case "min":
		return fmt.Sprintf("%s must be >= %s; got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be <= %s; got %v", field, fe.Param(), fe.Value())
	case "startswith":
		return fmt.Sprintf("%s must start with %q; got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

const (
	defaultPathPrefix    = "/v1"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://127.0.0.1:11434/v1"
)

// setDefaults fills zero-valued fields with sensible defaults.
// For numeric fields zero means "unset" because TOML cannot distinguish an
// explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix = defaultPathPrefix
	}
	// "/" mounts the operations at the root, which is the empty prefix.
	c.Server.PathPrefix = strings.TrimRight(c.Server.PathPrefix, "/")
	if c.Gateway.Token == "" {
		c.Gateway.Token = DefaultToken
	}
	if c.Gateway.DefaultProvider == "" {
		c.Gateway.DefaultProvider = "openai"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = defaultOllamaBaseURL
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-request upstream timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnDefaults logs warnings for settings that are valid but unsafe or
// incomplete.
func (c *Config) WarnDefaults(logger *slog.Logger) {
	if c.Gateway.Token == DefaultToken {
		logger.Warn("gateway token is the built-in placeholder; set MODELGATE_TOKEN")
	}
	if c.OpenAI.APIKey == "" {
		logger.Warn("no OpenAI API key configured; requests routed to openai will fail",
			"default_provider", c.Gateway.DefaultProvider,
		)
	}
}
