// Package config handles configuration loading and management for docweave.
// It supports XDG config paths, project-level overrides, a .env file and
// DOCWEAVE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/docweave/internal/orchestrator/policy"
)

// EnvPrefix prefixes every environment override, e.g. DOCWEAVE_ENGINE_MAX_CONCURRENCY.
const EnvPrefix = "DOCWEAVE"

// ProjectConfigName is the per-project override file searched for upwards from the working directory.
const ProjectConfigName = ".docweave.yaml"

// Config holds all configuration for docweave.
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	State       StateConfig       `mapstructure:"state"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
}

// EngineConfig holds scheduling, retry and retention settings.
type EngineConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
	// DebugLog is a file receiving a trace of every scheduling decision.
	DebugLog string `mapstructure:"debug_log"`
}

// StateConfig selects the persistence backend.
type StateConfig struct {
	// Backend is sqlite, postgres or memory.
	Backend string `mapstructure:"backend"`
	// Path is the SQLite file; empty means the XDG data directory.
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// GeneratorConfig selects and configures the text generator.
type GeneratorConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
}

// DefinitionsConfig locates user request-type definitions.
type DefinitionsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// ArtifactsConfig holds where assembled documents are written.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// defaults is the single source of default values and of the set of known keys.
var defaults = map[string]any{
	"engine.max_concurrency": 4,
	"engine.request_timeout": "10m",
	"engine.task_timeout":    "2m",
	"engine.max_retries":     2,
	"engine.backoff_base":    "500ms",
	"engine.backoff_max":     "30s",
	"engine.result_ttl":      "24h",
	"engine.debug_log":       "",

	"state.backend": "sqlite",
	"state.path":    "",
	"state.dsn":     "",

	"generator.provider":    "anthropic",
	"generator.model":       "",
	"generator.api_key":     "",
	"generator.aws_region":  "",
	"generator.aws_profile": "",
	"generator.max_tokens":  8192,

	"definitions.dir":   "",
	"definitions.watch": false,

	"artifacts.dir": "./artifacts",

	"server.addr": ":8080",

	"log.level":  "info",
	"log.format": "text",
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DOCWEAVE_*, ANTHROPIC_API_KEY), including a .env file
// 2. Project config (.docweave.yaml in current directory or parent)
// 3. User config (~/.config/docweave/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

// Default returns a Config with default values.
func Default() *Config {
	cfg, err := decode(newDefaultsOnly())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func newDefaultsOnly() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	return v
}

func newViper() *viper.Viper {
	v := newDefaultsOnly()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("generator.api_key", EnvPrefix+"_GENERATOR_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Generator.APIKey = os.ExpandEnv(cfg.Generator.APIKey)
	cfg.State.DSN = os.ExpandEnv(cfg.State.DSN)
	return cfg, nil
}

// loadDotEnv loads ./.env into the process environment. Variables already
// set win; a missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Policy converts the engine section into an engine policy.
func (c *Config) Policy() *policy.Config {
	p := policy.Default()
	p.Scheduling.MaxConcurrency = c.Engine.MaxConcurrency
	p.Retry.DefaultMaxRetries = c.Engine.MaxRetries
	p.Retry.BackoffBase = c.Engine.BackoffBase
	p.Retry.BackoffMax = c.Engine.BackoffMax
	p.Timeouts.Task = c.Engine.TaskTimeout
	p.Timeouts.Request = c.Engine.RequestTimeout
	p.Results.TTL = c.Engine.ResultTTL
	p.Normalize()
	return p
}

// Keys returns every known configuration key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a configuration key.
func IsKnownKey(key string) bool {
	_, ok := defaults[strings.ToLower(key)]
	return ok
}

// Get returns the effective value of a dotted key after all overrides.
func Get(key string) (any, error) {
	if !IsKnownKey(key) {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	v := newViper()
	if err := readIfExists(v, GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("reading user config: %w", err)
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}
	return v.Get(key), nil
}

// Set writes one dotted key to the user config file, keeping other values.
func Set(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err := os.MkdirAll(getUserConfigDir(), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	if err := readIfExists(v, GetUserConfigPath()); err != nil {
		return fmt.Errorf("reading user config: %w", err)
	}
	v.Set(key, value)
	if err := v.WriteConfigAs(GetUserConfigPath()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// readIfExists reads path into v; a missing file leaves v untouched.
func readIfExists(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	return v.ReadInConfig()
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(GetUserConfigPath())

	v.Set("engine.max_concurrency", cfg.Engine.MaxConcurrency)
	v.Set("engine.request_timeout", cfg.Engine.RequestTimeout.String())
	v.Set("engine.task_timeout", cfg.Engine.TaskTimeout.String())
	v.Set("engine.max_retries", cfg.Engine.MaxRetries)
	v.Set("engine.backoff_base", cfg.Engine.BackoffBase.String())
	v.Set("engine.backoff_max", cfg.Engine.BackoffMax.String())
	v.Set("engine.result_ttl", cfg.Engine.ResultTTL.String())
	v.Set("engine.debug_log", cfg.Engine.DebugLog)
	v.Set("state.backend", cfg.State.Backend)
	v.Set("state.path", cfg.State.Path)
	v.Set("state.dsn", cfg.State.DSN)
	v.Set("generator.provider", cfg.Generator.Provider)
	v.Set("generator.model", cfg.Generator.Model)
	v.Set("generator.api_key", cfg.Generator.APIKey)
	v.Set("generator.aws_region", cfg.Generator.AWSRegion)
	v.Set("generator.aws_profile", cfg.Generator.AWSProfile)
	v.Set("generator.max_tokens", cfg.Generator.MaxTokens)
	v.Set("definitions.dir", cfg.Definitions.Dir)
	v.Set("definitions.watch", cfg.Definitions.Watch)
	v.Set("artifacts.dir", cfg.Artifacts.Dir)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for docweave.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "docweave")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "docweave")
	}
	return filepath.Join(home, ".config", "docweave")
}

// findProjectConfig searches for .docweave.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
