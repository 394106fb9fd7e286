// Package config loads agent settings from defaults, an optional file, .env and
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/polzovatel/browser-task-agent/internal/action"
	"github.com/polzovatel/browser-task-agent/internal/agent"
	"github.com/polzovatel/browser-task-agent/internal/browser"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/snapshot"
)

const envPrefix = "AGENT"

type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Browser BrowserConfig `mapstructure:"browser"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

type LLMConfig struct {
	Provider    string         `mapstructure:"provider"`
	OpenAI      ProviderConfig `mapstructure:"openai"`
	Anthropic   ProviderConfig `mapstructure:"anthropic"`
	MaxTokens   int            `mapstructure:"max_tokens"`
	Temperature float32        `mapstructure:"temperature"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	MaxRetries  int            `mapstructure:"max_retries"`
	// RequestsPerMinute caps model calls; zero disables the cap.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type BrowserConfig struct {
	Driver            string        `mapstructure:"driver"`
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	StorageState      string        `mapstructure:"storage_state"`
}

type AgentConfig struct {
	Verify          bool          `mapstructure:"verify"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxStepAttempts int           `mapstructure:"max_step_attempts"`
	HistoryWindow   int           `mapstructure:"history_window"`
	AuditPath       string        `mapstructure:"audit_path"`
	SettleTimeout   time.Duration `mapstructure:"settle_timeout"`
	ScrollAmount    int           `mapstructure:"scroll_amount"`
	MaxDepth        int           `mapstructure:"max_depth"`
	MaxDescription  int           `mapstructure:"max_description"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// envAliases binds keys to the conventional variable names used without the AGENT_ prefix.
var envAliases = map[string][]string{
	"llm.provider":           {"AGENT_LLM_PROVIDER", "LLM_PROVIDER"},
	"llm.openai.api_key":     {"OPENAI_API_KEY"},
	"llm.openai.model":       {"OPENAI_MODEL"},
	"llm.openai.base_url":    {"OPENAI_BASE_URL"},
	"llm.anthropic.api_key":  {"ANTHROPIC_API_KEY"},
	"llm.anthropic.model":    {"ANTHROPIC_MODEL"},
	"llm.anthropic.base_url": {"ANTHROPIC_BASE_URL"},
	"browser.headless":       {"AGENT_BROWSER_HEADLESS", "AGENT_HEADLESS"},
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", llm.ProviderOpenAI)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.model", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.anthropic.api_key", "")
	v.SetDefault("llm.anthropic.model", "")
	v.SetDefault("llm.anthropic.base_url", "")
	v.SetDefault("llm.max_tokens", llm.DefaultMaxTokens)
	v.SetDefault("llm.temperature", llm.DefaultTemperature)
	v.SetDefault("llm.timeout", llm.DefaultTimeout)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 0)

	v.SetDefault("browser.driver", browser.DriverPlaywright)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigation_timeout", browser.DefaultNavigationTimeout)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.storage_state", "")

	v.SetDefault("agent.verify", false)
	v.SetDefault("agent.max_attempts", 0)
	v.SetDefault("agent.max_step_attempts", 0)
	v.SetDefault("agent.history_window", llm.DefaultHistoryWindow)
	v.SetDefault("agent.audit_path", "")
	v.SetDefault("agent.settle_timeout", action.DefaultSettleTimeout)
	v.SetDefault("agent.scroll_amount", action.DefaultScrollAmount)
	v.SetDefault("agent.max_depth", snapshot.DefaultMaxDepth)
	v.SetDefault("agent.max_description", snapshot.DefaultMaxDescription)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", false)
}

// Load reads .env from the working directory, then layers defaults, the
// optional config file at path and the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Browser.Driver = strings.ToLower(strings.TrimSpace(cfg.Browser.Driver))
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case llm.ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			errs = append(errs, fmt.Errorf("%w: set OPENAI_API_KEY", llm.ErrMissingCredentials))
		}
	case llm.ProviderAnthropic:
		if c.LLM.Anthropic.APIKey == "" {
			errs = append(errs, fmt.Errorf("%w: set ANTHROPIC_API_KEY", llm.ErrMissingCredentials))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", llm.ErrUnknownProvider, c.LLM.Provider))
	}
	switch c.Browser.Driver {
	case browser.DriverPlaywright, browser.DriverChromedp:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", browser.ErrUnknownDriver, c.Browser.Driver))
	}
	if c.LLM.Temperature < 0 {
		errs = append(errs, errors.New("llm.temperature must not be negative"))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute must not be negative"))
	}
	if c.Agent.MaxAttempts < 0 {
		errs = append(errs, errors.New("agent.max_attempts must not be negative"))
	}
	if c.Agent.MaxStepAttempts < 0 {
		errs = append(errs, errors.New("agent.max_step_attempts must not be negative"))
	}
	if c.Agent.HistoryWindow < 0 {
		errs = append(errs, errors.New("agent.history_window must not be negative"))
	}
	return errors.Join(errs...)
}

// LLMSettings selects the credentials of the configured provider.
func (c *Config) LLMSettings() llm.Settings {
	p := c.LLM.OpenAI
	if c.LLM.Provider == llm.ProviderAnthropic {
		p = c.LLM.Anthropic
	}
	temperature := c.LLM.Temperature
	return llm.Settings{
		Provider:    c.LLM.Provider,
		APIKey:      p.APIKey,
		Model:       p.Model,
		BaseURL:     p.BaseURL,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: &temperature,
		Timeout:     c.LLM.Timeout,
		MaxRetries:  c.LLM.MaxRetries,

		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}

func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:          c.Browser.Headless,
		NavigationTimeout: c.Browser.NavigationTimeout,
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		StorageStatePath:  c.Browser.StorageState,
	}
}

func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		Verify: c.Agent.Verify,
		Retry: agent.RetryPolicy{
			MaxStepAttempts:  c.Agent.MaxStepAttempts,
			MaxTotalAttempts: c.Agent.MaxAttempts,
		},
		HistoryWindow: c.Agent.HistoryWindow,
		AuditPath:     c.Agent.AuditPath,
		Snapshot: snapshot.Options{
			MaxDepth:       c.Agent.MaxDepth,
			MaxDescription: c.Agent.MaxDescription,
		},
		Actions: action.Config{
			SettleTimeout:     c.Agent.SettleTimeout,
			NavigationTimeout: c.Browser.NavigationTimeout,
			ScrollAmount:      c.Agent.ScrollAmount,
		},
	}
}
