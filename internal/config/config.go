// Package config loads Sage's configuration: an optional JSON5 file overlaid
// by environment variables, following the same Default() -> Load() ->
// applyEnvOverrides() shape as the rest of this codebase's config package,
// env always taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/sageagent/sage/internal/sageerr"
)

// Config is Sage's complete runtime configuration.
type Config struct {
	Database  DatabaseConfig `json:"database"`
	Maple     MapleConfig    `json:"maple"`
	Signal    SignalConfig   `json:"signal"`
	Tools     ToolsConfig    `json:"tools"`
	Workspace string         `json:"workspace"`
	Health    HealthConfig   `json:"health"`
	LogLevel  string         `json:"log_level"`
	Otel      OtelConfig     `json:"otel"`
}

type DatabaseConfig struct {
	URL string `json:"-"` // secret: env only, never persisted to/read from the file

	// SQLitePath selects the standalone/dev-mode store (internal/store/sqlite)
	// instead of Postgres. When set, URL is not required.
	SQLitePath string `json:"sqlite_path"`
}

// MapleConfig names the OpenAI-compatible LLM/embedding endpoint Sage talks
// to. "Maple" is this deployment's name for that endpoint, matching the
// MAPLE_* environment variables in the external interface contract.
type MapleConfig struct {
	APIURL         string `json:"api_url"`
	APIKey         string `json:"-"` // secret: env only
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	VisionModel    string `json:"vision_model"`
}

type SignalConfig struct {
	PhoneNumber   string   `json:"phone_number"`
	CLIHost       string   `json:"cli_host"`
	CLIPort       int      `json:"cli_port"`
	CLISubprocess string   `json:"cli_subprocess"`
	AllowedUsers  []string `json:"allowed_users"`
}

// Subprocess reports whether the gateway should spawn signal-cli as a
// child process rather than dialing a TCP daemon.
func (s SignalConfig) Subprocess() bool {
	return s.CLISubprocess != ""
}

// AllowAll reports whether the allowlist is "*" (every sender accepted).
func (s SignalConfig) AllowAll() bool {
	return len(s.AllowedUsers) == 1 && s.AllowedUsers[0] == "*"
}

// Allowed reports whether sender is permitted to reach the Agent.
func (s SignalConfig) Allowed(sender string) bool {
	if s.AllowAll() {
		return true
	}
	for _, u := range s.AllowedUsers {
		if u == sender {
			return true
		}
	}
	return false
}

type ToolsConfig struct {
	BraveAPIKey string `json:"-"` // secret: env only
}

type HealthConfig struct {
	Port int `json:"port"`
}

type OtelConfig struct {
	OTLPEndpoint string `json:"-"` // env only
}

// Default returns a Config with sensible defaults; every field left unset
// here is filled in by the environment.
func Default() *Config {
	return &Config{
		Maple: MapleConfig{
			APIURL: "https://api.maple.example/v1",
			Model:  "maple-chat",
		},
		Signal: SignalConfig{
			CLIPort:      7583,
			AllowedUsers: []string{},
		},
		Workspace: "~/.sage/workspace",
		Health:    HealthConfig{Port: 8080},
		LogLevel:  "info",
	}
}

// Load reads an optional JSON5 file at path, then overlays environment
// variables (env always wins). A missing file is not an error: Sage is
// fully configurable via environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: read config %q: %v", sageerr.ConfigError, path, err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %q: %v", sageerr.ConfigError, path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Database.URL == "" && cfg.Database.SQLitePath == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL or SAGE_SQLITE_PATH is required", sageerr.ConfigError)
	}
	return cfg, nil
}

// ResolvePath returns the config file path: the SAGE_CONFIG env var if set,
// else the CLI-provided path (which may be empty, meaning env-only).
func ResolvePath(cliPath string) string {
	if v := os.Getenv("SAGE_CONFIG"); v != "" {
		return v
	}
	return cliPath
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("DATABASE_URL", &c.Database.URL)
	envStr("SAGE_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("MAPLE_API_URL", &c.Maple.APIURL)
	envStr("MAPLE_API_KEY", &c.Maple.APIKey)
	envStr("MAPLE_MODEL", &c.Maple.Model)
	envStr("MAPLE_EMBEDDING_MODEL", &c.Maple.EmbeddingModel)
	envStr("MAPLE_VISION_MODEL", &c.Maple.VisionModel)
	if c.Maple.VisionModel == "" {
		c.Maple.VisionModel = c.Maple.Model
	}

	envStr("SIGNAL_PHONE_NUMBER", &c.Signal.PhoneNumber)
	envStr("SIGNAL_CLI_HOST", &c.Signal.CLIHost)
	envInt("SIGNAL_CLI_PORT", &c.Signal.CLIPort)
	envStr("SIGNAL_CLI_SUBPROCESS", &c.Signal.CLISubprocess)
	if v := os.Getenv("SIGNAL_ALLOWED_USERS"); v != "" {
		c.Signal.AllowedUsers = splitAndTrim(v)
	}

	envStr("BRAVE_API_KEY", &c.Tools.BraveAPIKey)

	envStr("SAGE_WORKSPACE", &c.Workspace)
	envInt("HEALTH_PORT", &c.Health.Port)
	envStr("LOG_LEVEL", &c.LogLevel)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Otel.OTLPEndpoint)
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
