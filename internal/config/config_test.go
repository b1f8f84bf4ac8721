// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/apidesk/internal/provider"
)

// isolate points the config directory at a fresh temp dir and clears the
// APIDESK_* variables a developer machine might carry.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APIDESK_CONFIG_DIR", dir)
	for _, name := range []string{
		"APIDESK_HOST", "APIDESK_PORT", "APIDESK_AUTH_TOKEN",
		"APIDESK_REQUEST_TIMEOUT_SECS", "APIDESK_HISTORY_LIMIT", "APIDESK_MAX_SESSIONS",
		"APIDESK_OPENAI_MODEL", "APIDESK_SYSTEM_PROMPT",
		"APIDESK_LOG_LEVEL", "APIDESK_LOG_FORMAT",
	} {
		t.Setenv(name, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// TestConfig_Default tests that default configuration is valid.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("Default port = %d, want 8787", cfg.Server.Port)
	}
	if cfg.Session.RequestTimeoutSecs != 30 {
		t.Errorf("Default request timeout = %d, want 30", cfg.Session.RequestTimeoutSecs)
	}
	if cfg.Session.HistoryLimit != 50 {
		t.Errorf("Default history limit = %d, want 50", cfg.Session.HistoryLimit)
	}
	if cfg.Providers.OpenAI.Model != "gpt-4" {
		t.Errorf("Default chat model = %q, want gpt-4", cfg.Providers.OpenAI.Model)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid default config", func(c *Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative throttle", func(c *Config) { c.Server.RequestsPerSecond = -1 }, "server.requests_per_second"},
		{"timeout zero", func(c *Config) { c.Session.RequestTimeoutSecs = 0 }, "session.request_timeout_secs"},
		{"negative history", func(c *Config) { c.Session.HistoryLimit = -1 }, "session.history_limit"},
		{"bad base url", func(c *Config) { c.Providers.NewsAPI.BaseURL = "ftp://x" }, "providers.newsapi.base_url"},
		{"relative base url", func(c *Config) { c.Providers.OpenAI.BaseURL = "/v1" }, "providers.openai.base_url"},
		{"local base url", func(c *Config) { c.Providers.OpenAI.BaseURL = "http://127.0.0.1:9000/v1" }, ""},
		{"pexels page too big", func(c *Config) { c.Providers.Pexels.PerPage = 81 }, "providers.pexels.per_page"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", err, tt.wantField)
			}
		})
	}
}

func TestConfig_SetDefaultsFillsZeroFields(t *testing.T) {
	cfg := &Config{}
	cfg.Server.RequestsPerSecond = 5
	cfg.SetDefaults()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Server.Burst)
	assert.Equal(t, 30, cfg.Session.RequestTimeoutSecs)
	assert.Equal(t, 0, cfg.Session.HistoryLimit, "zero history limit means unbounded")
	assert.Equal(t, "stability-ai/sdxl", cfg.Providers.Together.Model)
	assert.Equal(t, 365, cfg.Providers.TwelveData.HistoryDays)
	assert.Equal(t, 30, cfg.Providers.CoinAPI.HistoryDays)
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_SearchOrder(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"server":{"port":9003}}`)
	writeFile(t, filepath.Join(dir, "config.yaml"), "server:\n  port: 9002\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Server.Port, "YAML wins over JSON")

	writeFile(t, filepath.Join(dir, "config.toml"), "[server]\nport = 9001\n")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port, "TOML wins over YAML")
}

func TestLoadFromPath_Formats(t *testing.T) {
	dir := t.TempDir()
	isolate(t)

	tests := []struct {
		file    string
		content string
	}{
		{"a.toml", "[session]\nhistory_limit = 7\n[providers.newsapi]\nbase_url = \"http://localhost:1\"\n"},
		{"a.yaml", "session:\n  history_limit: 7\nproviders:\n  newsapi:\n    base_url: http://localhost:1\n"},
		{"a.json", `{"session":{"history_limit":7},"providers":{"newsapi":{"base_url":"http://localhost:1"}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.file, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			writeFile(t, path, tc.content)

			cfg, err := LoadFromPath(path)
			require.NoError(t, err)
			assert.Equal(t, 7, cfg.Session.HistoryLimit)
			assert.Equal(t, "http://localhost:1", cfg.Providers.NewsAPI.BaseURL)
			assert.Equal(t, 30, cfg.Session.RequestTimeoutSecs, "untouched fields keep defaults")

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "permissions are narrowed")
		})
	}
}

func TestLoadFromPath_InvalidFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	writeFile(t, path, "[server]\nport = 0x\n")

	_, err := LoadFromPath(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "invalid.toml")
	writeFile(t, path, "[logging]\nlevel = \"loud\"\n")
	_, err = LoadFromPath(path)
	var verrs ValidateErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("APIDESK_PORT", "9100")
	t.Setenv("APIDESK_HISTORY_LIMIT", "12")
	t.Setenv("APIDESK_MAX_SESSIONS", "not-a-number")
	t.Setenv("APIDESK_OPENAI_MODEL", "gpt-4o")
	t.Setenv("APIDESK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Session.HistoryLimit)
	assert.Equal(t, 0, cfg.Session.MaxSessions, "malformed numbers are ignored")
	assert.Equal(t, "gpt-4o", cfg.Providers.OpenAI.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Chdir(t.TempDir())
	writeFile(t, ".env", "APIDESK_PORT=9200\nAPIDESK_HISTORY_LIMIT=3\n")

	// APIDESK_HISTORY_LIMIT must be absent for .env to supply it.
	os.Unsetenv("APIDESK_HISTORY_LIMIT")
	t.Setenv("APIDESK_PORT", "9300")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Session.HistoryLimit)
}

// =============================================================================
// SAVING
// =============================================================================

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Session.MaxSessions = 4
	cfg.Providers.OpenAI.SystemPrompt = "Be brief."
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# apidesk configuration file"))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Session.MaxSessions)
	assert.Equal(t, "Be brief.", loaded.Providers.OpenAI.SystemPrompt)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestConfig_Get(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("session.history_limit")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != 50 {
		t.Errorf("Get(session.history_limit) = %v, want 50", val)
	}

	val, err = cfg.Get("providers.together.model")
	if err != nil || val != "stability-ai/sdxl" {
		t.Errorf("Get(providers.together.model) = %v, %v", val, err)
	}

	if _, err := cfg.Get("session.nope"); err == nil {
		t.Error("Get() should fail for unknown key")
	}
	if _, err := cfg.Get("server.port.x"); err == nil {
		t.Error("Get() should fail when descending into a scalar")
	}
}

func TestConfig_CloneAndString(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "s3cret-token"

	clone := cfg.Clone()
	clone.Server.CORSOrigins[0] = "https://example.com"
	if cfg.Server.CORSOrigins[0] != "*" {
		t.Error("Clone() shares the CORS slice")
	}

	s := cfg.String()
	if strings.Contains(s, "s3cret-token") {
		t.Error("String() leaks the auth token")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should mark the redacted token")
	}
}

func TestConfig_RuntimeConversions(t *testing.T) {
	cfg := Default()
	cfg.Session.IdleTimeoutMins = 5
	cfg.Providers.OpenAI.SystemPrompt = "Be brief."
	cfg.Providers.Finnhub.BaseURL = "http://127.0.0.1:9999"

	sc := cfg.SessionSettings()
	assert.Equal(t, 30*time.Second, sc.RequestTimeout)
	assert.Equal(t, 5*time.Minute, sc.IdleTimeout)
	assert.Equal(t, "Be brief.", sc.SystemPrompt)

	opts := cfg.ProviderOptions(zerolog.Nop())
	assert.Equal(t, map[string]string{provider.Finnhub: "http://127.0.0.1:9999"}, opts.BaseURLs)
	assert.Equal(t, "gpt-4", opts.ChatModel)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	assert.Equal(t, "127.0.0.1:8787", cfg.Addr())
	assert.Equal(t, "console", cfg.LoggerSettings().Format)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	err := watch(ctx, path, 20*time.Millisecond, func(cfg *Config, err error) {
		if err == nil {
			got <- cfg
		}
	})
	require.NoError(t, err)

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")

	select {
	case cfg := <-got:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent", "config.toml"), func(*Config, error) {})
	assert.Error(t, err)
}

