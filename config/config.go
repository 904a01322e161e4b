// Package config loads daemon settings: defaults, then an optional config file,
// then the JSON the editor plugin passes in the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"neopilot/cache"
	"neopilot/logger"
	"neopilot/text"
	"neopilot/trigger"
	"neopilot/types"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfig     = "NEOPILOT_CONFIG"
	EnvConfigFile = "NEOPILOT_CONFIG_FILE"
	EnvAPIKey     = "NEOPILOT_API_KEY"
)

type Config struct {
	NsID     int    `json:"ns_id" toml:"ns_id" yaml:"ns_id"`
	LogLevel string `json:"log_level" toml:"log_level" yaml:"log_level"` // trace, debug, info, warn, error
	LogLines int    `json:"log_lines" toml:"log_lines" yaml:"log_lines"`

	Provider            string  `json:"provider" toml:"provider" yaml:"provider"` // openai, ollama
	ProviderURL         string  `json:"provider_url" toml:"provider_url" yaml:"provider_url"`
	ProviderModel       string  `json:"provider_model" toml:"provider_model" yaml:"provider_model"`
	ProviderTemperature float64 `json:"provider_temperature" toml:"provider_temperature" yaml:"provider_temperature"`
	ProviderMaxTokens   int     `json:"provider_max_tokens" toml:"provider_max_tokens" yaml:"provider_max_tokens"`
	APIKey              string  `json:"api_key" toml:"api_key" yaml:"api_key"`
	CompressRequests    bool    `json:"compress_requests" toml:"compress_requests" yaml:"compress_requests"`
	CompletionTimeout   int     `json:"completion_timeout" toml:"completion_timeout" yaml:"completion_timeout"` // in milliseconds

	Debounce        int `json:"debounce" toml:"debounce" yaml:"debounce"` // in milliseconds
	Throttle        int `json:"throttle" toml:"throttle" yaml:"throttle"` // in milliseconds, 0 disables
	ColumnTolerance int `json:"column_tolerance" toml:"column_tolerance" yaml:"column_tolerance"`
	MinChars        int `json:"min_chars" toml:"min_chars" yaml:"min_chars"`

	MaxContextLines  int `json:"max_context_lines" toml:"max_context_lines" yaml:"max_context_lines"`
	ChunkSize        int `json:"chunk_size" toml:"chunk_size" yaml:"chunk_size"`
	MaxContextTokens int `json:"max_context_tokens" toml:"max_context_tokens" yaml:"max_context_tokens"`

	CacheTTL      int   `json:"cache_ttl" toml:"cache_ttl" yaml:"cache_ttl"` // in seconds
	CacheCapacity int64 `json:"cache_capacity" toml:"cache_capacity" yaml:"cache_capacity"` // in bytes

	Keys Keys `json:"keys" toml:"keys" yaml:"keys"`

	IgnoreFile             string `json:"ignore_file" toml:"ignore_file" yaml:"ignore_file"`
	MetricsAddr            string `json:"metrics_addr" toml:"metrics_addr" yaml:"metrics_addr"`
	IdleShutdown           int    `json:"idle_shutdown" toml:"idle_shutdown" yaml:"idle_shutdown"` // in seconds
	DebugImmediateShutdown bool   `json:"debug_immediate_shutdown" toml:"debug_immediate_shutdown" yaml:"debug_immediate_shutdown"`
}

// Keys are the editor mappings. NativeCompletion is the key the editor would
// handle itself when no suggestion is shown.
type Keys struct {
	Accept           string `json:"accept" toml:"accept" yaml:"accept"`
	AcceptWord       string `json:"accept_word" toml:"accept_word" yaml:"accept_word"`
	Next             string `json:"next" toml:"next" yaml:"next"`
	Prev             string `json:"prev" toml:"prev" yaml:"prev"`
	Dismiss          string `json:"dismiss" toml:"dismiss" yaml:"dismiss"`
	NativeCompletion string `json:"native_completion" toml:"native_completion" yaml:"native_completion"`
}

const (
	defaultProviderURL       = "http://localhost:11434"
	defaultProviderModel     = "qwen2.5-coder:7b"
	defaultProviderMaxTokens = 512
	defaultCompletionTimeout = 10000
	defaultMaxContextTokens  = 4096
	defaultIdleShutdown      = 300
	defaultLogLevel          = "info"
)

// Default returns the built-in configuration
func Default() Config {
	return Config{
		LogLevel:            defaultLogLevel,
		LogLines:            logger.DefaultMaxLines,
		Provider:            string(types.ProviderTypeOllama),
		ProviderURL:         defaultProviderURL,
		ProviderModel:       defaultProviderModel,
		ProviderTemperature: 0.2,
		ProviderMaxTokens:   defaultProviderMaxTokens,
		CompletionTimeout:   defaultCompletionTimeout,
		Debounce:            int(trigger.DefaultDebounce / time.Millisecond),
		ColumnTolerance:     trigger.DefaultColumnTolerance,
		MaxContextLines:     text.DefaultMaxContextLines,
		ChunkSize:           text.DefaultChunkSize,
		MaxContextTokens:    defaultMaxContextTokens,
		CacheTTL:            int(cache.DefaultTTL / time.Second),
		CacheCapacity:       cache.DefaultCapacityBytes,
		Keys: Keys{
			Accept:           "<Tab>",
			AcceptWord:       "<C-Right>",
			Next:             "<M-]>",
			Prev:             "<M-[>",
			Dismiss:          "<C-]>",
			NativeCompletion: "<Tab>",
		},
		IgnoreFile:   ".neopilotignore",
		IdleShutdown: defaultIdleShutdown,
	}
}

// Load builds the configuration from the environment
func Load() (Config, error) {
	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	cfg, err := LoadFrom(path, explicit, os.Getenv(EnvConfig))
	if err != nil {
		return cfg, err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	return cfg, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/neopilot/config.toml
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "neopilot", "config.toml")
}

// LoadFrom layers the file at path and the JSON override over the defaults and
// validates the result. A missing file is an error only when required is set.
func LoadFrom(path string, required bool, override string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return cfg, err
			}
		}
	}

	if strings.TrimSpace(override) != "" {
		if err := json.Unmarshal([]byte(override), &cfg); err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", EnvConfig, err)
		}
	}

	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	logger.Debug("config: loaded %s", path)
	return nil
}

// Validate replaces out-of-range tuning values with defaults and rejects settings
// that cannot work
func (c *Config) Validate() error {
	def := Default()

	fixInt := func(name string, v *int, fallback int) {
		if *v <= 0 {
			logger.Warn("config: %s=%d is not positive, using %d", name, *v, fallback)
			*v = fallback
		}
	}
	fixInt("debounce", &c.Debounce, def.Debounce)
	fixInt("column_tolerance", &c.ColumnTolerance, def.ColumnTolerance)
	fixInt("max_context_lines", &c.MaxContextLines, def.MaxContextLines)
	fixInt("chunk_size", &c.ChunkSize, def.ChunkSize)
	fixInt("max_context_tokens", &c.MaxContextTokens, def.MaxContextTokens)
	fixInt("provider_max_tokens", &c.ProviderMaxTokens, def.ProviderMaxTokens)
	fixInt("completion_timeout", &c.CompletionTimeout, def.CompletionTimeout)
	fixInt("cache_ttl", &c.CacheTTL, def.CacheTTL)
	fixInt("log_lines", &c.LogLines, def.LogLines)
	if c.CacheCapacity <= 0 {
		logger.Warn("config: cache_capacity=%d is not positive, using %d", c.CacheCapacity, def.CacheCapacity)
		c.CacheCapacity = def.CacheCapacity
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	if c.MinChars < 0 {
		c.MinChars = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	switch types.ProviderType(c.Provider) {
	case types.ProviderTypeOpenAI, types.ProviderTypeOllama:
	default:
		return types.NewError(types.KindInvalidInput, "config", "unknown provider %q", c.Provider)
	}
	if c.ProviderURL == "" {
		return types.NewError(types.KindInvalidInput, "config", "provider_url is required")
	}
	return nil
}

// Durations

func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Debounce) * time.Millisecond
}

func (c *Config) ThrottleDuration() time.Duration {
	return time.Duration(c.Throttle) * time.Millisecond
}

func (c *Config) CompletionTimeoutDuration() time.Duration {
	return time.Duration(c.CompletionTimeout) * time.Millisecond
}

func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func (c *Config) IdleShutdownDuration() time.Duration {
	return time.Duration(c.IdleShutdown) * time.Second
}

// ProviderConfig returns the backend settings
func (c *Config) ProviderConfig() *types.ProviderConfig {
	return &types.ProviderConfig{
		ProviderURL:         c.ProviderURL,
		ProviderModel:       c.ProviderModel,
		ProviderTemperature: c.ProviderTemperature,
		ProviderMaxTokens:   c.ProviderMaxTokens,
		APIKey:              c.APIKey,
		CompressRequests:    c.CompressRequests,
		MaxContextTokens:    c.MaxContextTokens,
		MaxContextLines:     c.MaxContextLines,
		ChunkSize:           c.ChunkSize,
	}
}
