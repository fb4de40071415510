// ABOUTME: Configuration loading and parsing for incident-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete incident-gateway configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Completion   CompletionConfig   `yaml:"completion"`
	Tools        ToolsConfig        `yaml:"tools"`
	Storage      StorageConfig      `yaml:"storage"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// CompletionConfig selects and configures the completion backend.
type CompletionConfig struct {
	// Provider is "anthropic" or "bedrock".
	Provider string `yaml:"provider"`

	// Model is the model identifier for the chosen provider. Empty selects
	// the provider default.
	Model string `yaml:"model"`

	// Region is the AWS region for the bedrock provider. Empty falls back
	// to storage.region, then the default AWS chain.
	Region string `yaml:"region"`

	// APIKey is the Anthropic API key (anthropic provider only). Usually
	// written as ${ANTHROPIC_API_KEY}.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the Anthropic endpoint (proxies, tests).
	BaseURL string `yaml:"base_url"`

	// MaxTokens bounds one completion. Zero uses the built-in default.
	MaxTokens int `yaml:"max_tokens"`
}

// ToolsConfig describes the capability registry subprocess.
type ToolsConfig struct {
	// Command is the registry executable, spawned once per conversation.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	HandshakeTimeout    time.Duration `yaml:"-"`
	HandshakeTimeoutRaw string        `yaml:"handshake_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "dynamodb" or "sqlite".
	Backend string `yaml:"backend"`

	// Region is the AWS region (dynamodb backend, and AWS-backed tools).
	Region string `yaml:"region"`

	// ChatTable and IncidentTable override the DynamoDB table names.
	ChatTable     string `yaml:"chat_table"`
	IncidentTable string `yaml:"incident_table"`

	// Path is the database file (sqlite backend).
	Path string `yaml:"path"`
}

// OrchestratorConfig tunes the conversation loop.
type OrchestratorConfig struct {
	// MaxIterations caps the tool loop. Must stay finite; zero uses the
	// built-in default.
	MaxIterations int `yaml:"max_iterations"`

	// SystemPrompt overrides the default analyst prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Completion.Provider {
	case "anthropic":
		if c.Completion.APIKey == "" {
			return fmt.Errorf("completion.api_key is required for the anthropic provider")
		}
	case "bedrock":
		// Credentials come from the AWS chain; nothing to require here.
	default:
		return fmt.Errorf("completion.provider must be \"anthropic\" or \"bedrock\", got %q", c.Completion.Provider)
	}

	if c.Tools.Command == "" {
		return fmt.Errorf("tools.command is required")
	}

	switch c.Storage.Backend {
	case "dynamodb":
		// Table names default in the store package.
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"dynamodb\" or \"sqlite\", got %q", c.Storage.Backend)
	}

	if c.Orchestrator.MaxIterations < 0 {
		return fmt.Errorf("orchestrator.max_iterations must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Tools.HandshakeTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Tools.HandshakeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing handshake_timeout %q: %w", cfg.Tools.HandshakeTimeoutRaw, err)
		}
		cfg.Tools.HandshakeTimeout = d
	}
	return nil
}
