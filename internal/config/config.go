// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/apidesk/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete apidesk configuration. It never holds
// provider API keys; those live only in a session's credential store.
type Config struct {
	Version string `toml:"version" yaml:"version" json:"version"`

	Server    ServerConfig    `toml:"server" yaml:"server" json:"server"`
	Session   SessionConfig   `toml:"session" yaml:"session" json:"session"`
	Providers ProvidersConfig `toml:"providers" yaml:"providers" json:"providers"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging" json:"logging"`
}

// ServerConfig contains the HTTP view API settings.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host" json:"host"`
	Port int    `toml:"port" yaml:"port" json:"port"`
	// AuthToken enables bearer auth on /v1 when non-empty.
	AuthToken   string   `toml:"auth_token" yaml:"auth_token" json:"auth_token"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	// RequestsPerSecond throttles inbound requests per client IP (0 = off).
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" yaml:"burst" json:"burst"`
}

// SessionConfig contains per-session limits.
type SessionConfig struct {
	RequestTimeoutSecs int `toml:"request_timeout_secs" yaml:"request_timeout_secs" json:"request_timeout_secs"`
	// HistoryLimit is the number of chat turns kept (0 = unbounded).
	HistoryLimit      int `toml:"history_limit" yaml:"history_limit" json:"history_limit"`
	IdleTimeoutMins   int `toml:"idle_timeout_mins" yaml:"idle_timeout_mins" json:"idle_timeout_mins"`
	MaxSessions       int `toml:"max_sessions" yaml:"max_sessions" json:"max_sessions"`
	ResultsPerFeature int `toml:"results_per_feature" yaml:"results_per_feature" json:"results_per_feature"`
	ReapIntervalSecs  int `toml:"reap_interval_secs" yaml:"reap_interval_secs" json:"reap_interval_secs"`
}

// ProvidersConfig holds the endpoint settings of every upstream service.
type ProvidersConfig struct {
	OpenAI     OpenAIConfig     `toml:"openai" yaml:"openai" json:"openai"`
	Together   TogetherConfig   `toml:"together" yaml:"together" json:"together"`
	Pexels     PexelsConfig     `toml:"pexels" yaml:"pexels" json:"pexels"`
	Finnhub    EndpointConfig   `toml:"finnhub" yaml:"finnhub" json:"finnhub"`
	TwelveData HistoryConfig    `toml:"twelvedata" yaml:"twelvedata" json:"twelvedata"`
	CoinAPI    HistoryConfig    `toml:"coinapi" yaml:"coinapi" json:"coinapi"`
	NewsAPI    NewsAPIConfig    `toml:"newsapi" yaml:"newsapi" json:"newsapi"`
}

// EndpointConfig overrides a provider base URL.
type EndpointConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url" json:"base_url"`
}

// OpenAIConfig configures chat completions.
type OpenAIConfig struct {
	BaseURL      string `toml:"base_url" yaml:"base_url" json:"base_url"`
	Model        string `toml:"model" yaml:"model" json:"model"`
	SystemPrompt string `toml:"system_prompt" yaml:"system_prompt" json:"system_prompt"`
}

// TogetherConfig configures image generation.
type TogetherConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url" json:"base_url"`
	Model   string `toml:"model" yaml:"model" json:"model"`
	Steps   int    `toml:"steps" yaml:"steps" json:"steps"`
	Width   int    `toml:"width" yaml:"width" json:"width"`
	Height  int    `toml:"height" yaml:"height" json:"height"`
}

// PexelsConfig configures video search.
type PexelsConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url" json:"base_url"`
	PerPage int    `toml:"per_page" yaml:"per_page" json:"per_page"`
}

// HistoryConfig configures a quote source with a history window.
type HistoryConfig struct {
	BaseURL     string `toml:"base_url" yaml:"base_url" json:"base_url"`
	HistoryDays int    `toml:"history_days" yaml:"history_days" json:"history_days"`
}

// NewsAPIConfig configures news search.
type NewsAPIConfig struct {
	BaseURL  string `toml:"base_url" yaml:"base_url" json:"base_url"`
	PageSize int    `toml:"page_size" yaml:"page_size" json:"page_size"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8787,
			CORSOrigins:       []string{"*"},
			RequestsPerSecond: 10,
			Burst:             20,
		},

		Session: SessionConfig{
			RequestTimeoutSecs: 30,
			HistoryLimit:       50,
			IdleTimeoutMins:    30,
			MaxSessions:        0, // unbounded
			ResultsPerFeature:  20,
			ReapIntervalSecs:   60,
		},

		Providers: ProvidersConfig{
			OpenAI:     OpenAIConfig{Model: "gpt-4"},
			Together:   TogetherConfig{Model: "stability-ai/sdxl", Steps: 30, Width: 1024, Height: 1024},
			Pexels:     PexelsConfig{PerPage: 10},
			TwelveData: HistoryConfig{HistoryDays: 365},
			CoinAPI:    HistoryConfig{HistoryDays: 30},
			NewsAPI:    NewsAPIConfig{PageSize: 10},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults fills any zero-value field from Default.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	// Server
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.CORSOrigins == nil {
		c.Server.CORSOrigins = d.Server.CORSOrigins
	}
	if c.Server.Burst == 0 && c.Server.RequestsPerSecond > 0 {
		c.Server.Burst = max(int(c.Server.RequestsPerSecond*2), 1)
	}

	// Session
	if c.Session.RequestTimeoutSecs == 0 {
		c.Session.RequestTimeoutSecs = d.Session.RequestTimeoutSecs
	}
	if c.Session.IdleTimeoutMins == 0 {
		c.Session.IdleTimeoutMins = d.Session.IdleTimeoutMins
	}
	if c.Session.ResultsPerFeature == 0 {
		c.Session.ResultsPerFeature = d.Session.ResultsPerFeature
	}
	if c.Session.ReapIntervalSecs == 0 {
		c.Session.ReapIntervalSecs = d.Session.ReapIntervalSecs
	}

	// Providers
	p, dp := &c.Providers, d.Providers
	if p.OpenAI.Model == "" {
		p.OpenAI.Model = dp.OpenAI.Model
	}
	if p.Together.Model == "" {
		p.Together.Model = dp.Together.Model
	}
	if p.Together.Steps == 0 {
		p.Together.Steps = dp.Together.Steps
	}
	if p.Together.Width == 0 {
		p.Together.Width = dp.Together.Width
	}
	if p.Together.Height == 0 {
		p.Together.Height = dp.Together.Height
	}
	if p.Pexels.PerPage == 0 {
		p.Pexels.PerPage = dp.Pexels.PerPage
	}
	if p.TwelveData.HistoryDays == 0 {
		p.TwelveData.HistoryDays = dp.TwelveData.HistoryDays
	}
	if p.CoinAPI.HistoryDays == 0 {
		p.CoinAPI.HistoryDays = dp.CoinAPI.HistoryDays
	}
	if p.NewsAPI.PageSize == 0 {
		p.NewsAPI.PageSize = dp.NewsAPI.PageSize
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the apidesk configuration directory. APIDESK_CONFIG_DIR
// overrides the default ~/.apidesk.
func ConfigDir() (string, error) {
	if dir := os.Getenv("APIDESK_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".apidesk"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	return configPath("config.toml")
}

// ConfigPathYAML returns the path to the YAML config file.
func ConfigPathYAML() (string, error) {
	return configPath("config.yaml")
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	return configPath("config.json")
}

func configPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// FindConfigFile returns the first existing config file in search order,
// or "" when none exists.
func FindConfigFile() (string, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathYAML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// ensureSecurePermissions narrows a config file to 0600. The file may hold
// the server auth token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the first config file found in ~/.apidesk (TOML, then YAML,
// then JSON) over the defaults, then applies .env and APIDESK_* overrides.
func Load() (*Config, error) {
	path, err := FindConfigFile()
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		return finish(cfg)
	}
	return LoadFromPath(path)
}

// LoadFromPath loads a config file, picking the decoder by extension.
// Unknown extensions are read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	loadDotEnv()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadYAML decodes a YAML file into cfg.
func LoadYAML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// loadDotEnv reads ./.env if present. Variables already set in the
// environment win.
func loadDotEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg as TOML atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# apidesk configuration file\n")
	buf.WriteString("# Provider API keys are never stored here; enter them per session.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "must not be negative")
	}
	if c.Server.Burst < 0 {
		add("server.burst", "must not be negative")
	}

	// Session
	if c.Session.RequestTimeoutSecs < 1 || c.Session.RequestTimeoutSecs > 600 {
		add("session.request_timeout_secs", "must be between 1 and 600, got %d", c.Session.RequestTimeoutSecs)
	}
	if c.Session.HistoryLimit < 0 {
		add("session.history_limit", "must not be negative")
	}
	if c.Session.IdleTimeoutMins < 0 {
		add("session.idle_timeout_mins", "must not be negative")
	}
	if c.Session.MaxSessions < 0 {
		add("session.max_sessions", "must not be negative")
	}
	if c.Session.ResultsPerFeature < 0 {
		add("session.results_per_feature", "must not be negative")
	}

	// Providers
	for field, raw := range c.baseURLFields() {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(field, "invalid URL %q, must be http or https", raw)
		}
	}
	if c.Providers.Together.Width < 0 || c.Providers.Together.Height < 0 || c.Providers.Together.Steps < 0 {
		add("providers.together", "steps, width and height must not be negative")
	}
	if c.Providers.Pexels.PerPage < 0 || c.Providers.Pexels.PerPage > 80 {
		add("providers.pexels.per_page", "must be between 1 and 80, got %d", c.Providers.Pexels.PerPage)
	}
	if c.Providers.NewsAPI.PageSize < 0 || c.Providers.NewsAPI.PageSize > 100 {
		add("providers.newsapi.page_size", "must be between 1 and 100, got %d", c.Providers.NewsAPI.PageSize)
	}
	if c.Providers.TwelveData.HistoryDays < 0 || c.Providers.CoinAPI.HistoryDays < 0 {
		add("providers", "history_days must not be negative")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		add("logging.format", "invalid format '%s', must be one of: console, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) baseURLFields() map[string]string {
	p := c.Providers
	return map[string]string{
		"providers.openai.base_url":     p.OpenAI.BaseURL,
		"providers.together.base_url":   p.Together.BaseURL,
		"providers.pexels.base_url":     p.Pexels.BaseURL,
		"providers.finnhub.base_url":    p.Finnhub.BaseURL,
		"providers.twelvedata.base_url": p.TwelveData.BaseURL,
		"providers.coinapi.base_url":    p.CoinAPI.BaseURL,
		"providers.newsapi.base_url":    p.NewsAPI.BaseURL,
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies APIDESK_* environment variables:
//   - APIDESK_HOST, APIDESK_PORT: server address
//   - APIDESK_AUTH_TOKEN: server.auth_token
//   - APIDESK_REQUEST_TIMEOUT_SECS: session.request_timeout_secs
//   - APIDESK_HISTORY_LIMIT: session.history_limit
//   - APIDESK_MAX_SESSIONS: session.max_sessions
//   - APIDESK_OPENAI_MODEL, APIDESK_SYSTEM_PROMPT: chat settings
//   - APIDESK_LOG_LEVEL, APIDESK_LOG_FORMAT: logging
//
// Malformed numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("APIDESK_HOST"); v != "" {
		c.Server.Host = v
	}
	envInt("APIDESK_PORT", &c.Server.Port)
	if v := os.Getenv("APIDESK_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}

	envInt("APIDESK_REQUEST_TIMEOUT_SECS", &c.Session.RequestTimeoutSecs)
	envInt("APIDESK_HISTORY_LIMIT", &c.Session.HistoryLimit)
	envInt("APIDESK_MAX_SESSIONS", &c.Session.MaxSessions)

	if v := os.Getenv("APIDESK_OPENAI_MODEL"); v != "" {
		c.Providers.OpenAI.Model = v
	}
	if v := os.Getenv("APIDESK_SYSTEM_PROMPT"); v != "" {
		c.Providers.OpenAI.SystemPrompt = v
	}

	if v := os.Getenv("APIDESK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("APIDESK_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation, matching the
// TOML key names (e.g. "session.history_limit").
func (c *Config) Get(key string) (any, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// =============================================================================
// CLONE AND STRING
// =============================================================================

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return &clone
}

// String returns the config as indented JSON with the auth token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
