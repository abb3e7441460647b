// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Replay  ReplayConfig  `mapstructure:"replay" yaml:"replay"`
}

// LoggerConfig controls the zap logger and its optional rotating file sink.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig bounds the run loop and the context assembler.
type AgentConfig struct {
	// MaxSteps is the step budget for one run.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// MaxConsecutiveFailures terminates the run when reached.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	// MaxActionsPerStep truncates oversized action batches from the model.
	MaxActionsPerStep int `mapstructure:"max_actions_per_step" yaml:"max_actions_per_step"`
	// MaxHistoryItems caps the rolling step-history block in the prompt.
	MaxHistoryItems int `mapstructure:"max_history_items" yaml:"max_history_items"`
	// WaitBetweenActions is the settle delay between actions of one batch.
	WaitBetweenActions time.Duration `mapstructure:"wait_between_actions" yaml:"wait_between_actions"`
	// RetryDelay is applied before retrying after a transient model failure.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// UseVision attaches page screenshots to the observation entry.
	UseVision bool `mapstructure:"use_vision" yaml:"use_vision"`
	// SensitiveData maps placeholder keys to literal secret values, either
	// flat ("key: value") or scoped by domain pattern
	// ("https://*.example.com: {key: value}").
	SensitiveData map[string]interface{} `mapstructure:"sensitive_data" yaml:"sensitive_data"`
}

// LLMProvider identifies a supported model provider.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMModelConfig describes one configured model endpoint.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerMinute throttles calls to this model. Zero disables it.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMConfig holds the model roster and the tier assignments.
type LLMConfig struct {
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
}

// BrowserConfig controls the chromedp driver.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
}

// ReplayConfig controls history re-execution.
type ReplayConfig struct {
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	SkipFailures        bool          `mapstructure:"skip_failures" yaml:"skip_failures"`
	DelayBetweenActions time.Duration `mapstructure:"delay_between_actions" yaml:"delay_between_actions"`
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".webpilot"), nil
}

// SetDefaults registers every default value on the given viper instance.
// Defaults are registered up front so a partial config file never zeroes
// out unrelated settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("agent.max_steps", 100)
	v.SetDefault("agent.max_consecutive_failures", 3)
	v.SetDefault("agent.max_actions_per_step", 10)
	v.SetDefault("agent.max_history_items", 40)
	v.SetDefault("agent.wait_between_actions", 500*time.Millisecond)
	v.SetDefault("agent.retry_delay", 10*time.Second)
	v.SetDefault("agent.use_vision", false)

	v.SetDefault("llm.default_fast_model", "gemini-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-pro")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.post_load_wait", 1500*time.Millisecond)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 1100)

	v.SetDefault("replay.max_retries", 3)
	v.SetDefault("replay.skip_failures", false)
	v.SetDefault("replay.delay_between_actions", 2*time.Second)
}

// Load reads configuration from the given file (or the default locations
// when cfgFile is empty), layers environment variables on top, and
// validates the result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if dir, err := DefaultConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WEBPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be positive, got %d", c.Agent.MaxConsecutiveFailures)
	}
	if c.Agent.MaxHistoryItems < 2 {
		return fmt.Errorf("agent.max_history_items must be at least 2, got %d", c.Agent.MaxHistoryItems)
	}
	if c.Agent.MaxActionsPerStep <= 0 {
		return fmt.Errorf("agent.max_actions_per_step must be positive, got %d", c.Agent.MaxActionsPerStep)
	}
	if c.Replay.MaxRetries < 1 {
		return fmt.Errorf("replay.max_retries must be at least 1, got %d", c.Replay.MaxRetries)
	}
	for name, m := range c.LLM.Models {
		if m.Model == "" {
			return fmt.Errorf("llm model %q is missing the model name", name)
		}
		if m.Provider != ProviderGemini && m.Provider != ProviderOpenAI {
			return fmt.Errorf("llm model %q has unknown provider %q", name, m.Provider)
		}
	}
	return nil
}
