// Package config provides configuration management for Scribe.
// It supports loading configuration from environment variables, the
// repository's .scribe directory, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Scribe.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Repo        RepoConfig        `mapstructure:"repo"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Reminders   RemindersConfig   `mapstructure:"reminders"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Name        string `mapstructure:"name"`        // MCP server name announced to clients
	Listen      string `mapstructure:"listen"`      // empty = stdio; host:port = SSE + streamable HTTP
	ToolTimeout int    `mapstructure:"toolTimeout"` // per-tool deadline in seconds
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"` // embedded or server
	DBPath   string `mapstructure:"dbPath"`  // embedded backend
	DBURL    string `mapstructure:"dbUrl"`   // server backend (postgres DSN)
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// RepoConfig holds per-repository settings from .scribe/scribe.yaml.
type RepoConfig struct {
	Slug               string         `mapstructure:"repoSlug"`
	DevPlansDir        string         `mapstructure:"devPlansDir"`
	ProgressLogName    string         `mapstructure:"progressLogName"`
	TemplatesPack      string         `mapstructure:"templatesPack"`
	CustomTemplatesDir string         `mapstructure:"customTemplatesDir"`
	PluginsDir         string         `mapstructure:"pluginsDir"`
	PluginConfig       map[string]any `mapstructure:"pluginConfig"`
	DefaultEmoji       string         `mapstructure:"defaultEmoji"`
	DefaultAgent       string         `mapstructure:"defaultAgent"`
}

// PermissionsConfig gates operation classes per repository.
type PermissionsConfig struct {
	AllowRotate       bool `mapstructure:"allowRotate"`
	AllowGenerateDocs bool `mapstructure:"allowGenerateDocs"`
	AllowBulkEntries  bool `mapstructure:"allowBulkEntries"`
	RequireProject    bool `mapstructure:"requireProject"`
}

// RemindersConfig tunes the reminder engine.
type RemindersConfig struct {
	MaxPerResponse     int    `mapstructure:"maxPerResponse"`
	TeachingSessionCap int    `mapstructure:"teachingSessionCap"`
	SessionAwareHashes bool   `mapstructure:"sessionAwareHashes"`
	CachePath          string `mapstructure:"cachePath"`
}

// SessionsConfig controls agent session leases.
type SessionsConfig struct {
	IdleTTLMinutes int `mapstructure:"idleTtlMinutes"`
}

// TelemetryConfig controls the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// ToolTimeoutDuration returns the per-tool deadline as a time.Duration.
func (s *ServerConfig) ToolTimeoutDuration() time.Duration {
	return time.Duration(s.ToolTimeout) * time.Second
}

// IdleTTL returns the session idle TTL as a time.Duration.
func (s *SessionsConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if env := os.Getenv("SCRIBE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.name", "scribe")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.toolTimeout", 30)

	// Storage defaults
	v.SetDefault("storage.backend", "embedded")
	v.SetDefault("storage.dbPath", "")
	v.SetDefault("storage.dbUrl", "")
	v.SetDefault("storage.maxConns", 10)
	v.SetDefault("storage.minConns", 1)

	// Logging defaults - stderr because stdout carries JSON-RPC frames
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")

	// Repository defaults
	v.SetDefault("repo.repoSlug", "")
	v.SetDefault("repo.devPlansDir", "dev_plans")
	v.SetDefault("repo.progressLogName", "PROGRESS_LOG.md")
	v.SetDefault("repo.templatesPack", "standard")
	v.SetDefault("repo.customTemplatesDir", "")
	v.SetDefault("repo.pluginsDir", "")
	v.SetDefault("repo.defaultEmoji", "ℹ️")
	v.SetDefault("repo.defaultAgent", "default")

	// Permission defaults
	v.SetDefault("permissions.allowRotate", true)
	v.SetDefault("permissions.allowGenerateDocs", true)
	v.SetDefault("permissions.allowBulkEntries", true)
	v.SetDefault("permissions.requireProject", true)

	// Reminder defaults
	v.SetDefault("reminders.maxPerResponse", 5)
	v.SetDefault("reminders.teachingSessionCap", 3)
	v.SetDefault("reminders.sessionAwareHashes", true)
	v.SetDefault("reminders.cachePath", "")

	// Session defaults
	v.SetDefault("sessions.idleTtlMinutes", 45)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
}

// Load reads configuration for the given repository root.
// Environment variables use the prefix SCRIBE_ with snake_case naming.
// The config file is <repo>/.scribe/scribe.yaml or <repo>/.scribe/config.json.
func Load(repoRoot string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names differ from the dotted keys.
	_ = v.BindEnv("repo.repoSlug", "SCRIBE_DEFAULT_PROJECT_SLUG", "SCRIBE_REPO_SLUG")
	_ = v.BindEnv("reminders.cachePath", "SCRIBE_REMINDER_CACHE_PATH")
	_ = v.BindEnv("reminders.sessionAwareHashes", "SCRIBE_SESSION_AWARE_HASHES")
	_ = v.BindEnv("storage.dbPath", "SCRIBE_DB_PATH")
	_ = v.BindEnv("storage.dbUrl", "SCRIBE_DB_URL")

	if repoRoot != "" {
		scribeDir := filepath.Join(repoRoot, ".scribe")
		if _, err := os.Stat(filepath.Join(scribeDir, "config.json")); err == nil {
			v.SetConfigName("config")
			v.SetConfigType("json")
		} else {
			v.SetConfigName("scribe")
			v.SetConfigType("yaml")
		}
		v.AddConfigPath(scribeDir)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDerivedDefaults(&cfg, repoRoot)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDerivedDefaults fills in paths that depend on the repository root.
func applyDerivedDefaults(cfg *Config, repoRoot string) {
	if repoRoot == "" {
		return
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(repoRoot, ".scribe", "scribe.db")
	}
	if cfg.Reminders.CachePath == "" {
		cfg.Reminders.CachePath = filepath.Join(repoRoot, ".scribe", "reminder_cache.json")
	}
	if cfg.Repo.Slug == "" {
		cfg.Repo.Slug = filepath.Base(repoRoot)
	}
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	switch cfg.Storage.Backend {
	case "embedded":
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.dbPath is required for the embedded backend")
		}
	case "server":
		if cfg.Storage.DBURL == "" {
			errs = append(errs, "storage.dbUrl is required for the server backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be embedded or server, got %q", cfg.Storage.Backend))
	}

	if cfg.Server.ToolTimeout <= 0 {
		errs = append(errs, "server.toolTimeout must be positive")
	}
	if cfg.Sessions.IdleTTLMinutes <= 0 {
		errs = append(errs, "sessions.idleTtlMinutes must be positive")
	}
	if cfg.Reminders.MaxPerResponse <= 0 {
		errs = append(errs, "reminders.maxPerResponse must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// EnvRepoRoot returns the repository root override from the environment, or "".
func EnvRepoRoot() string { return os.Getenv("SCRIBE_REPO_ROOT") }

// EnvStatePath returns the state file path override from the environment, or "".
func EnvStatePath() string { return os.Getenv("SCRIBE_STATE_PATH") }

// EnvDefaultProject returns the default project name from the environment, or "".
func EnvDefaultProject() string { return os.Getenv("SCRIBE_DEFAULT_PROJECT") }

// EnvAgentKind returns the agent kind from the environment, or "".
func EnvAgentKind() string { return os.Getenv("SCRIBE_AGENT_KIND") }

// EnvAgentModel returns the agent model from the environment, or "".
func EnvAgentModel() string { return os.Getenv("SCRIBE_AGENT_MODEL") }
