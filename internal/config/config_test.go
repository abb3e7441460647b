// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	// A missing explicit file is an error only when it was explicitly named.
	require.Error(t, err)

	cfg, err = loadFromDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Agent.MaxSteps)
	assert.Equal(t, 3, cfg.Agent.MaxConsecutiveFailures)
	assert.Equal(t, 40, cfg.Agent.MaxHistoryItems)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.WaitBetweenActions)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Replay.MaxRetries)
}

// loadFromDir runs Load from an isolated working directory so a developer's
// local config.yaml never leaks into tests.
func loadFromDir(t *testing.T, contents string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	if contents != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o644))
	}
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
	if contents != "" {
		return Load(filepath.Join(dir, "config.yaml"))
	}
	return Load("")
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := loadFromDir(t, `
agent:
  max_steps: 7
  max_history_items: 5
llm:
  default_powerful_model: my-model
  models:
    my-model:
      provider: openai
      model: gpt-4o
      base_url: https://openrouter.ai/api/v1
browser:
  headless: false
`)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, 5, cfg.Agent.MaxHistoryItems)
	// Untouched settings keep their defaults.
	assert.Equal(t, 3, cfg.Agent.MaxConsecutiveFailures)
	assert.False(t, cfg.Browser.Headless)

	require.Contains(t, cfg.LLM.Models, "my-model")
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Models["my-model"].Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Models["my-model"].Model)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("rejects non-positive step budget", func(t *testing.T) {
		cfg := base()
		cfg.Agent.MaxSteps = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects history cap below two", func(t *testing.T) {
		cfg := base()
		cfg.Agent.MaxHistoryItems = 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.LLM.Models = map[string]LLMModelConfig{
			"bad": {Provider: "mystery", Model: "x"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects model without a name", func(t *testing.T) {
		cfg := base()
		cfg.LLM.Models = map[string]LLMModelConfig{
			"bad": {Provider: ProviderGemini},
		}
		assert.Error(t, cfg.Validate())
	})
}
