// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Server() ServerConfig
	Catalog() CatalogConfig
	Router() RouterConfig
	Completion() CompletionConfig
	Providers() ProvidersConfig
	Decision() DecisionConfig

	SetServerListenAddr(addr string)
	SetDatabaseURL(url string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	CatalogCfg    CatalogConfig    `mapstructure:"catalog" yaml:"catalog"`
	RouterCfg     RouterConfig     `mapstructure:"router" yaml:"router"`
	CompletionCfg CompletionConfig `mapstructure:"completion" yaml:"completion"`
	ProvidersCfg  ProvidersConfig  `mapstructure:"providers" yaml:"providers"`
	DecisionCfg   DecisionConfig   `mapstructure:"decision" yaml:"decision"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Catalog() CatalogConfig       { return c.CatalogCfg }
func (c *Config) Router() RouterConfig         { return c.RouterCfg }
func (c *Config) Completion() CompletionConfig { return c.CompletionCfg }
func (c *Config) Providers() ProvidersConfig   { return c.ProvidersCfg }
func (c *Config) Decision() DecisionConfig     { return c.DecisionCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetServerListenAddr(addr string) { c.ServerCfg.ListenAddr = addr }
func (c *Config) SetDatabaseURL(url string)       { c.DatabaseCfg.URL = url }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" yaml:"-"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
	Migrate  bool   `mapstructure:"migrate" yaml:"migrate"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// CatalogConfig controls polling of the external model pricing catalog.
type CatalogConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// ReliabilityConfig feeds the router's reliability policy.
type ReliabilityConfig struct {
	// MinInputPrice is the per-million input price a model must exceed to be
	// trusted as primary without appearing on the allow-list.
	MinInputPrice float64  `mapstructure:"min_input_price" yaml:"min_input_price"`
	AllowList     []string `mapstructure:"allow_list" yaml:"allow_list"`
}

// TaskConfig is the seed routing configuration for one task class.
type TaskConfig struct {
	PrimaryModel            string   `mapstructure:"primary_model" yaml:"primary_model"`
	FallbackModel           string   `mapstructure:"fallback_model" yaml:"fallback_model"`
	MaxPricePerMillionInput *float64 `mapstructure:"max_price_per_million_input" yaml:"max_price_per_million_input"`
	RequiredCapabilities    []string `mapstructure:"required_capabilities" yaml:"required_capabilities"`
	AutoUpdate              bool     `mapstructure:"auto_update" yaml:"auto_update"`
	Provider                string   `mapstructure:"provider" yaml:"provider"`
	MaxTokens               int      `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature             float64  `mapstructure:"temperature" yaml:"temperature"`
	CostPer1K               float64  `mapstructure:"cost_per_1k" yaml:"cost_per_1k"`
}

// RouterConfig holds routing policy and per-task seed configuration.
type RouterConfig struct {
	Reliability ReliabilityConfig     `mapstructure:"reliability" yaml:"reliability"`
	Tasks       map[string]TaskConfig `mapstructure:"tasks" yaml:"tasks"`
}

// CompletionConfig bounds calls to the completion backends.
type CompletionConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxConcurrency    int64         `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// OpenRouterConfig configures the hosted OpenAI-compatible gateway.
type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Referer string `mapstructure:"referer" yaml:"referer"`
	Title   string `mapstructure:"title" yaml:"title"`
}

// LocalConfig configures a locally hosted OpenAI-compatible server.
type LocalConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// GeminiConfig configures direct access through the Gemini SDK.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"-"`
}

// ProvidersConfig groups backend credentials and endpoints.
type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `mapstructure:"openrouter" yaml:"openrouter"`
	Local      LocalConfig      `mapstructure:"local" yaml:"local"`
	Gemini     GeminiConfig     `mapstructure:"gemini" yaml:"gemini"`
}

// DecisionConfig tunes the decision loop.
type DecisionConfig struct {
	RecentActions               int               `mapstructure:"recent_actions" yaml:"recent_actions"`
	MaxConsecutiveModelFailures int               `mapstructure:"max_consecutive_model_failures" yaml:"max_consecutive_model_failures"`
	UnavailableWait             time.Duration     `mapstructure:"unavailable_wait" yaml:"unavailable_wait"`
	SearchEngineURL             string            `mapstructure:"search_engine_url" yaml:"search_engine_url"`
	Platforms                   map[string]string `mapstructure:"platforms" yaml:"platforms"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pilot")
	v.SetDefault("logger.log_file", "pilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", true)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// -- Catalog --
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("catalog.refresh_interval", "6h")
	v.SetDefault("catalog.fetch_timeout", "30s")
	v.SetDefault("catalog.max_retry_elapsed", "2m")

	// -- Router --
	v.SetDefault("router.reliability.min_input_price", 0.01)
	v.SetDefault("router.reliability.allow_list", []string{})

	v.SetDefault("router.tasks.execution.required_capabilities", []string{})
	v.SetDefault("router.tasks.execution.max_price_per_million_input", 5.0)
	v.SetDefault("router.tasks.execution.auto_update", true)
	v.SetDefault("router.tasks.execution.provider", "openrouter")
	v.SetDefault("router.tasks.execution.max_tokens", 1000)
	v.SetDefault("router.tasks.execution.temperature", 0.2)

	v.SetDefault("router.tasks.vision.required_capabilities", []string{"vision"})
	v.SetDefault("router.tasks.vision.max_price_per_million_input", 5.0)
	v.SetDefault("router.tasks.vision.auto_update", true)
	v.SetDefault("router.tasks.vision.provider", "openrouter")
	v.SetDefault("router.tasks.vision.max_tokens", 1500)
	v.SetDefault("router.tasks.vision.temperature", 0.1)

	v.SetDefault("router.tasks.bot_generation.required_capabilities", []string{})
	v.SetDefault("router.tasks.bot_generation.auto_update", false)
	v.SetDefault("router.tasks.bot_generation.provider", "openrouter")
	v.SetDefault("router.tasks.bot_generation.max_tokens", 4000)
	v.SetDefault("router.tasks.bot_generation.temperature", 0.7)

	// -- Completion --
	v.SetDefault("completion.timeout", "60s")
	v.SetDefault("completion.max_concurrency", 16)
	v.SetDefault("completion.requests_per_second", 10.0)
	v.SetDefault("completion.burst", 20)

	// -- Providers --
	v.SetDefault("providers.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("providers.openrouter.title", "pilot-engine")
	v.SetDefault("providers.local.base_url", "http://localhost:11434/v1")
	v.SetDefault("providers.local.model", "llama3.2")

	// -- Decision --
	v.SetDefault("decision.recent_actions", 3)
	v.SetDefault("decision.max_consecutive_model_failures", 3)
	v.SetDefault("decision.unavailable_wait", "2s")
	v.SetDefault("decision.search_engine_url", "https://www.google.com")
	v.SetDefault("decision.platforms", map[string]string{
		"google":    "https://www.google.com",
		"github":    "https://github.com",
		"linkedin":  "https://www.linkedin.com",
		"twitter":   "https://x.com",
		"x":         "https://x.com",
		"reddit":    "https://www.reddit.com",
		"facebook":  "https://www.facebook.com",
		"instagram": "https://www.instagram.com",
		"youtube":   "https://www.youtube.com",
		"amazon":    "https://www.amazon.com",
		"wikipedia": "https://www.wikipedia.org",
	})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("database.url", "PILOT_DATABASE_URL")
	_ = v.BindEnv("providers.openrouter.api_key", "PILOT_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("providers.gemini.api_key", "PILOT_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// knownProviders lists the values accepted for a task's provider.
var knownProviders = map[string]bool{
	"":           true,
	"openrouter": true,
	"local":      true,
	"gemini":     true,
	"rule_based": true,
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is a required configuration field")
	}
	if c.CompletionCfg.MaxConcurrency <= 0 {
		return fmt.Errorf("completion.max_concurrency must be a positive integer")
	}
	if c.CompletionCfg.Timeout <= 0 {
		return fmt.Errorf("completion.timeout must be a positive duration")
	}
	if c.CatalogCfg.Enabled && c.CatalogCfg.RefreshInterval <= 0 {
		return fmt.Errorf("catalog.refresh_interval must be a positive duration")
	}
	if c.DecisionCfg.RecentActions < 0 {
		return fmt.Errorf("decision.recent_actions cannot be negative")
	}
	if c.DecisionCfg.MaxConsecutiveModelFailures <= 0 {
		return fmt.Errorf("decision.max_consecutive_model_failures must be greater than 0")
	}
	for name, task := range c.RouterCfg.Tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("router.tasks.%s configuration invalid: %w", name, err)
		}
	}
	return nil
}

// Validate checks a single task configuration.
func (t *TaskConfig) Validate() error {
	if !knownProviders[strings.ToLower(t.Provider)] {
		return fmt.Errorf("unknown provider %q", t.Provider)
	}
	if t.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if t.MaxPricePerMillionInput != nil && *t.MaxPricePerMillionInput < 0 {
		return fmt.Errorf("max_price_per_million_input cannot be negative")
	}
	return nil
}
