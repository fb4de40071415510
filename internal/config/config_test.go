// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env expansion, duration parsing, and validation failures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
completion:
  provider: anthropic
  api_key: ${TEST_API_KEY}
  region: us-west-2
  max_tokens: 4000
tools:
  command: /usr/local/bin/secops-tools
  handshake_timeout: 45s
storage:
  backend: sqlite
  path: /tmp/gateway.db
orchestrator:
  max_iterations: 5
  system_prompt: "be thorough"
logging:
  level: debug
  format: json
`

func TestLoad_Valid(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "anthropic", cfg.Completion.Provider)
	assert.Equal(t, "sk-test-123", cfg.Completion.APIKey)
	assert.Equal(t, "us-west-2", cfg.Completion.Region)
	assert.Equal(t, 4000, cfg.Completion.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Tools.HandshakeTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, "be thorough", cfg.Orchestrator.SystemPrompt)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not closed"))
	assert.Error(t, err)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	// An unset ${VAR} expands to empty, which then fails validation for the
	// anthropic provider.
	t.Setenv("TEST_API_KEY", "")
	_, err := Load(writeConfig(t, validConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoad_BadDuration(t *testing.T) {
	bad := `
server:
  http_addr: ":8080"
completion:
  provider: bedrock
tools:
  command: secops-tools
  handshake_timeout: banana
storage:
  backend: dynamodb
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake_timeout")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:     ServerConfig{HTTPAddr: ":8080"},
			Completion: CompletionConfig{Provider: "bedrock"},
			Tools:      ToolsConfig{Command: "secops-tools"},
			Storage:    StorageConfig{Backend: "dynamodb"},
		}
	}

	t.Run("bedrock with dynamodb needs nothing else", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing http addr", func(t *testing.T) {
		c := base()
		c.Server.HTTPAddr = ""
		assert.Error(t, c.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		c := base()
		c.Completion.Provider = "openai"
		assert.Error(t, c.Validate())
	})

	t.Run("anthropic requires api key", func(t *testing.T) {
		c := base()
		c.Completion.Provider = "anthropic"
		assert.Error(t, c.Validate())
		c.Completion.APIKey = "sk-test"
		assert.NoError(t, c.Validate())
	})

	t.Run("missing tools command", func(t *testing.T) {
		c := base()
		c.Tools.Command = ""
		assert.Error(t, c.Validate())
	})

	t.Run("sqlite requires path", func(t *testing.T) {
		c := base()
		c.Storage.Backend = "sqlite"
		assert.Error(t, c.Validate())
		c.Storage.Path = "/tmp/db"
		assert.NoError(t, c.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		c := base()
		c.Storage.Backend = "redis"
		assert.Error(t, c.Validate())
	})

	t.Run("negative iterations", func(t *testing.T) {
		c := base()
		c.Orchestrator.MaxIterations = -1
		assert.Error(t, c.Validate())
	})
}
