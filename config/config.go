// Package config loads bankquery settings from the environment, an optional
// .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spektr-org/bankquery/datastore"
	"github.com/spektr-org/bankquery/translator"
)

// Config holds the settings of the CLI and the HTTP server.
type Config struct {
	// Text generation
	Provider         string `yaml:"provider"` // mock, foundry, gemini, anthropic
	Model            string `yaml:"model"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	FoundryEndpoint  string `yaml:"foundry_endpoint"` // skips discovery when set
	FoundryAPIKey    string `yaml:"foundry_api_key"`
	GeneratorRetries uint   `yaml:"generator_retries"`

	// Datasets
	Store    string        `yaml:"store"` // embed, dir, duckdb
	DataDir  string        `yaml:"data_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Execution
	Jurisdiction string `yaml:"jurisdiction"`
	Currency     string `yaml:"currency"`
	RowCap       int    `yaml:"row_cap"`

	// Serving
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"` // debug, info, warn, error

	// Warnings collects non-fatal notes produced while loading.
	// They are logged by the caller once the logger exists.
	Warnings []string `yaml:"-"`
}

var (
	providers = []string{translator.ProviderMock, translator.ProviderFoundry, translator.ProviderGemini, translator.ProviderAnthropic}
	stores    = []string{datastore.KindEmbed, datastore.KindDir, datastore.KindDuckDB}
	levels    = []string{"debug", "info", "warn", "warning", "error"}
)

// Load reads the environment (after an optional .env in the working
// directory), overlays the YAML file at path when path is not empty, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := LoadFromEnv()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv reads settings from environment variables. Unset variables
// leave zero values; malformed numbers are reported in Warnings.
func LoadFromEnv() *Config {
	cfg := &Config{
		Provider:        os.Getenv("BANKQUERY_PROVIDER"),
		Model:           os.Getenv("MODEL_NAME"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		FoundryEndpoint: os.Getenv("FOUNDRY_LOCAL_ENDPOINT"),
		FoundryAPIKey:   os.Getenv("FOUNDRY_LOCAL_API_KEY"),
		Store:           os.Getenv("BANKQUERY_STORE"),
		DataDir:         os.Getenv("BANKQUERY_DATA_DIR"),
		Jurisdiction:    os.Getenv("BANKQUERY_JURISDICTION"),
		Currency:        os.Getenv("BANKQUERY_CURRENCY"),
		ListenAddr:      os.Getenv("BANKQUERY_LISTEN_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}

	if os.Getenv("MOCK_MODE") == "1" {
		cfg.Provider = translator.ProviderMock
	}
	if v := os.Getenv("BANKQUERY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("BANKQUERY_CACHE_TTL %q ignored: %v", v, err))
		}
	}
	if v := os.Getenv("BANKQUERY_GENERATOR_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.GeneratorRetries = uint(n)
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("BANKQUERY_GENERATOR_RETRIES %q ignored: %v", v, err))
		}
	}
	if v := os.Getenv("BANKQUERY_ROW_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RowCap = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("BANKQUERY_ROW_CAP %q ignored: %v", v, err))
		}
	}
	return cfg
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = translator.ProviderFoundry
	}
	if c.Model == "" {
		c.Model = translator.DefaultModels[c.Provider]
	}
	if c.GeneratorRetries == 0 {
		c.GeneratorRetries = 3
	}
	if c.Store == "" {
		c.Store = datastore.KindEmbed
	}
	if c.Jurisdiction == "" {
		c.Jurisdiction = "UK"
	}
	if c.Currency == "" {
		c.Currency = "GBP"
	}
	if c.RowCap == 0 {
		c.RowCap = 50
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks enumerations and the keys each provider and store needs.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(providers, c.Provider) {
		errs = append(errs, fmt.Errorf("provider %q must be one of %s", c.Provider, strings.Join(providers, ", ")))
	}
	if c.Provider == translator.ProviderGemini && c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
	}
	if c.Provider == translator.ProviderAnthropic && c.AnthropicAPIKey == "" {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
	}
	if !slices.Contains(stores, c.Store) {
		errs = append(errs, fmt.Errorf("store %q must be one of %s", c.Store, strings.Join(stores, ", ")))
	}
	if c.Store == datastore.KindDir && c.DataDir == "" {
		errs = append(errs, errors.New("BANKQUERY_DATA_DIR is required for the dir store"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache TTL must not be negative"))
	}
	if c.RowCap < 0 {
		errs = append(errs, errors.New("row cap must not be negative"))
	}
	if !slices.Contains(levels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("log level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Translator returns the generation settings for the configured provider.
func (c *Config) Translator() translator.Config {
	tc := translator.Config{
		Provider: c.Provider,
		Model:    c.Model,
		Retries:  c.GeneratorRetries,
	}
	switch c.Provider {
	case translator.ProviderGemini:
		tc.APIKey = c.GeminiAPIKey
	case translator.ProviderAnthropic:
		tc.APIKey = c.AnthropicAPIKey
	case translator.ProviderFoundry:
		tc.APIKey = c.FoundryAPIKey
		tc.Endpoint = c.FoundryEndpoint
	}
	return tc
}

// StoreOptions returns the dataset store settings.
func (c *Config) StoreOptions(logger *slog.Logger) datastore.Options {
	return datastore.Options{
		Kind:     c.Store,
		Dir:      c.DataDir,
		CacheTTL: c.CacheTTL,
		Logger:   logger,
	}
}
