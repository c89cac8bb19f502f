// Package config handles configuration loading for finreport.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FINREPORT"

// Config represents the complete application configuration.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"  yaml:"source"  json:"source"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch"   json:"fetch"`
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract" json:"extract"`
	LLM     LLMConfig     `mapstructure:"llm"     yaml:"llm"     json:"llm"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"     json:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// SourceConfig holds the disclosure-site client settings.
type SourceConfig struct {
	ListingURL  string        `mapstructure:"listing_url"  yaml:"listing_url"  json:"listing_url"`
	StaticURL   string        `mapstructure:"static_url"   yaml:"static_url"   json:"static_url"`
	Referer     string        `mapstructure:"referer"      yaml:"referer"      json:"referer"`
	UserAgent   string        `mapstructure:"user_agent"   yaml:"user_agent"   json:"user_agent"`
	FeedURL     string        `mapstructure:"feed_url"     yaml:"feed_url"     json:"feed_url"` // optional RSS/Atom listing, "{code}" placeholder
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval" json:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"      yaml:"timeout"      json:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"  yaml:"max_retries"  json:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"  yaml:"max_backoff"  json:"max_backoff"`
	PageSize    int           `mapstructure:"page_size"    yaml:"page_size"    json:"page_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"    yaml:"cache_ttl"    json:"cache_ttl"` // listing cache, 0 disables
}

// StorageConfig holds document store settings.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
}

// FetchConfig holds orchestrator settings.
type FetchConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"     yaml:"timeout"     json:"timeout"` // one shared fetch, search to store
}

// ExtractConfig holds text and metric extraction settings.
type ExtractConfig struct {
	MaxRiskChars int `mapstructure:"max_risk_chars" yaml:"max_risk_chars" json:"max_risk_chars"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Primary       string        `mapstructure:"primary"         yaml:"primary"         json:"primary"` // "deepseek", "openai", "ollama"
	DeepSeekKey   string        `mapstructure:"deepseek_key"    yaml:"deepseek_key"    json:"-"`
	DeepSeekURL   string        `mapstructure:"deepseek_url"    yaml:"deepseek_url"    json:"deepseek_url"`
	OpenAIKey     string        `mapstructure:"openai_key"      yaml:"openai_key"      json:"-"`
	OpenAIURL     string        `mapstructure:"openai_url"      yaml:"openai_url"      json:"openai_url"`
	OllamaURL     string        `mapstructure:"ollama_url"      yaml:"ollama_url"      json:"ollama_url"`
	Model         string        `mapstructure:"model"           yaml:"model"           json:"model"`
	Temperature   float64       `mapstructure:"temperature"     yaml:"temperature"     json:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"      yaml:"max_tokens"      json:"max_tokens"`
	MaxInputChars int           `mapstructure:"max_input_chars" yaml:"max_input_chars" json:"max_input_chars"`
	Timeout       time.Duration `mapstructure:"timeout"         yaml:"timeout"         json:"timeout"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.finreport/config.yaml (home directory)
//  3. /etc/finreport/config.yaml (system)
//
// A .env file in the working directory is loaded first, if present.
// Environment variables override config file values.
// Format: FINREPORT_<SECTION>_<KEY>, e.g., FINREPORT_SOURCE_MIN_INTERVAL
func Load() (*Config, error) {
	loadDotEnv()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".finreport"))
	v.AddConfigPath("/etc/finreport")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Source.ListingURL == "":
		return errors.New("config: source.listing_url is required")
	case c.Source.MaxRetries < 0:
		return errors.New("config: source.max_retries must be >= 0")
	case c.Source.MinInterval < 0:
		return errors.New("config: source.min_interval must be >= 0")
	case c.Source.Timeout <= 0:
		return errors.New("config: source.timeout must be > 0")
	case c.Storage.DataDir == "":
		return errors.New("config: storage.data_dir is required")
	case c.Fetch.Concurrency < 1:
		return errors.New("config: fetch.concurrency must be >= 1")
	}
	return nil
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Source defaults (cninfo)
	v.SetDefault("source.listing_url", "http://www.cninfo.com.cn/new/fulltextSearch/full")
	v.SetDefault("source.static_url", "http://static.cninfo.com.cn/")
	v.SetDefault("source.referer", "http://www.cninfo.com.cn/new/fulltextSearch")
	v.SetDefault("source.user_agent", DefaultUserAgent)
	v.SetDefault("source.feed_url", "")
	v.SetDefault("source.min_interval", 2*time.Second)
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.base_backoff", time.Second)
	v.SetDefault("source.max_backoff", 30*time.Second)
	v.SetDefault("source.page_size", 10)
	v.SetDefault("source.cache_ttl", 10*time.Minute)

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")

	// Fetch defaults
	v.SetDefault("fetch.concurrency", 2)
	v.SetDefault("fetch.timeout", 10*time.Minute)

	// Extract defaults
	v.SetDefault("extract.max_risk_chars", 5000)

	// LLM defaults
	v.SetDefault("llm.primary", "deepseek")
	v.SetDefault("llm.deepseek_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.openai_url", "https://api.openai.com/v1")
	v.SetDefault("llm.ollama_url", "") // set to enable the local fallback
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_input_chars", 50000)
	v.SetDefault("llm.timeout", 120*time.Second)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// DefaultUserAgent identifies the client as a desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// The unprefixed names are the ones the providers document.
func overrideFromEnv(cfg *Config) {
	if key := firstEnv(EnvPrefix+"_LLM_DEEPSEEK_KEY", "DEEPSEEK_API_KEY"); key != "" {
		cfg.LLM.DeepSeekKey = key
	}
	if key := firstEnv(EnvPrefix+"_LLM_OPENAI_KEY", "OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// loadDotEnv loads ./.env without overriding variables already set.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
