// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Service ServiceConfig `mapstructure:"service" yaml:"service"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig tunes the chromedp session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	SelectorPoll      time.Duration `mapstructure:"selector_poll" yaml:"selector_poll"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// ContentLimit caps the sifted page text handed to the model, in runes.
	ContentLimit int `mapstructure:"content_limit" yaml:"content_limit"`
}

// LLMProvider identifies a supported provider family.
type LLMProvider string

const (
	ProviderGemini     LLMProvider = "gemini"
	ProviderOpenAI     LLMProvider = "openai"
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderDeepSeek   LLMProvider = "deepseek"
)

// LLMConfig selects and parameterizes the model provider. The API key is
// normally injected via NEXUS_LLM_API_KEY rather than the config file.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	// RequestsPerMinute throttles outbound generation calls. Zero disables.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// AgentConfig bounds the reason-act loop.
type AgentConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxDuration   time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	// HistoryTurns is how many of the most recent turns are replayed into the
	// prompt on each iteration.
	HistoryTurns int `mapstructure:"history_turns" yaml:"history_turns"`
	// RetryPolicy decides what happens on tool timeouts: "surface" hands the
	// error to the model, "auto" retries once before surfacing.
	RetryPolicy string `mapstructure:"retry_policy" yaml:"retry_policy"`
}

// MemoryScope selects the lifetime of the memory store.
type MemoryScope string

const (
	// ScopeSession keeps memories across tasks until an explicit reset.
	ScopeSession MemoryScope = "session"
	// ScopeTask clears the store every time a new task starts.
	ScopeTask MemoryScope = "task"
)

// MemoryConfig controls the memory store lifetime policy.
type MemoryConfig struct {
	Scope MemoryScope `mapstructure:"scope" yaml:"scope"`
}

// EventsConfig sizes the trace ring and subscriber buffers.
type EventsConfig struct {
	RingSize         int `mapstructure:"ring_size" yaml:"ring_size"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// ServiceConfig configures the HTTP/websocket API surface.
type ServiceConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values on the provided viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "nexus")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.selector_timeout", "5s")
	v.SetDefault("browser.selector_poll", "250ms")
	v.SetDefault("browser.post_load_wait", "1500ms")
	v.SetDefault("browser.content_limit", 15000)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 0)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 25)
	v.SetDefault("agent.max_duration", "10m")
	v.SetDefault("agent.history_turns", 20)
	v.SetDefault("agent.retry_policy", "surface")

	// -- Memory --
	v.SetDefault("memory.scope", "session")

	// -- Events --
	v.SetDefault("events.ring_size", 2000)
	v.SetDefault("events.subscriber_buffer", 64)

	// -- Service --
	v.SetDefault("service.addr", "127.0.0.1:8377")
	v.SetDefault("service.shutdown_timeout", "10s")
}

// DefaultConfigDir resolves the per-user configuration directory (~/.nexus).
func DefaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".nexus"), nil
}

// NewDefaultConfig returns a configuration populated entirely with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.api_key", "NEXUS_LLM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderOpenRouter, ProviderDeepSeek:
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.MaxDuration <= 0 {
		return fmt.Errorf("agent.max_duration must be a positive duration")
	}
	switch c.Agent.RetryPolicy {
	case "surface", "auto":
	default:
		return fmt.Errorf("agent.retry_policy must be \"surface\" or \"auto\"")
	}
	switch c.Memory.Scope {
	case ScopeSession, ScopeTask:
	default:
		return fmt.Errorf("memory.scope must be \"session\" or \"task\"")
	}
	if c.Browser.SelectorPoll <= 0 {
		return fmt.Errorf("browser.selector_poll must be a positive duration")
	}
	if c.Events.RingSize <= 0 {
		return fmt.Errorf("events.ring_size must be a positive integer")
	}
	return nil
}
