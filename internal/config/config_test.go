package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-agent/internal/browser"
	"github.com/polzovatel/browser-task-agent/internal/llm"
)

// isolate blanks every variable Load looks at; viper ignores empty values.
func isolate(t *testing.T) {
	t.Helper()
	for _, names := range envAliases {
		for _, name := range names {
			t.Setenv(name, "")
		}
	}
	for _, name := range []string{"AGENT_AGENT_VERIFY", "AGENT_AGENT_MAX_ATTEMPTS", "AGENT_BROWSER_DRIVER", "AGENT_BROWSER_NAVIGATION_TIMEOUT", "AGENT_LOGGER_LEVEL"} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, browser.DriverPlaywright, cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.False(t, cfg.Agent.Verify)
	assert.Zero(t, cfg.Agent.MaxAttempts)
	assert.Equal(t, llm.DefaultHistoryWindow, cfg.Agent.HistoryWindow)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:8080")
	t.Setenv("LLM_PROVIDER", " OpenAI ")
	t.Setenv("AGENT_HEADLESS", "true")
	t.Setenv("AGENT_AGENT_VERIFY", "true")
	t.Setenv("AGENT_AGENT_MAX_ATTEMPTS", "7")
	t.Setenv("AGENT_BROWSER_NAVIGATION_TIMEOUT", "15s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.LLM.OpenAI.BaseURL)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Agent.Verify)
	assert.Equal(t, 7, cfg.Agent.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Browser.NavigationTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: anthropic
  anthropic:
    model: claude-test
browser:
  driver: chromedp
agent:
  verify: true
  max_step_attempts: 2
  audit_path: /tmp/audit.json
logger:
  level: debug
`), 0o644))
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("AGENT_LOGGER_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-test", cfg.LLM.Anthropic.Model)
	assert.Equal(t, "ak-test", cfg.LLM.Anthropic.APIKey)
	assert.Equal(t, browser.DriverChromedp, cfg.Browser.Driver)
	assert.Equal(t, "warn", cfg.Logger.Level)
	require.NoError(t, cfg.Validate())

	settings := cfg.LLMSettings()
	assert.Equal(t, "ak-test", settings.APIKey)
	assert.Equal(t, "claude-test", settings.Model)

	ac := cfg.AgentConfig()
	assert.True(t, ac.Verify)
	assert.Equal(t, 2, ac.Retry.MaxStepAttempts)
	assert.Equal(t, "/tmp/audit.json", ac.AuditPath)
	assert.Equal(t, cfg.Browser.NavigationTimeout, ac.Actions.NavigationTimeout)
}

func TestZeroTemperatureReachesTheModel(t *testing.T) {
	isolate(t)
	t.Setenv("AGENT_LLM_TEMPERATURE", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	settings := cfg.LLMSettings()
	require.NotNil(t, settings.Temperature)
	assert.Zero(t, *settings.Temperature)

	cfg.LLM.OpenAI.APIKey = "sk"
	cfg.LLM.Temperature = -0.5
	assert.ErrorContains(t, cfg.Validate(), "llm.temperature")
}

func TestLoadMissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorIs(t, err, llm.ErrMissingCredentials)

	cfg.LLM.OpenAI.APIKey = "sk"
	cfg.Browser.Driver = "selenium"
	cfg.Agent.MaxAttempts = -1
	err = cfg.Validate()
	require.ErrorIs(t, err, browser.ErrUnknownDriver)
	assert.Contains(t, err.Error(), "agent.max_attempts")

	cfg.LLM.Provider = "gemini"
	require.ErrorIs(t, cfg.Validate(), llm.ErrUnknownProvider)
}

func TestBrowserOptions(t *testing.T) {
	cfg := &Config{Browser: BrowserConfig{Headless: true, ViewportWidth: 800, ViewportHeight: 600, StorageState: "state.json"}}
	opts := cfg.BrowserOptions()
	assert.True(t, opts.Headless)
	assert.Equal(t, 800, opts.ViewportWidth)
	assert.Equal(t, "state.json", opts.StorageStatePath)
}
