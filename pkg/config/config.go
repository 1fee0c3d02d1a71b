// Package config loads taskpilot settings from YAML with environment
// overrides. Defaults are filled first, so an empty file is a valid config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config defines runtime settings for taskpilot.
type Config struct {
	SandboxDir string `yaml:"sandboxDir" validate:"required"`
	LogLevel   string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat  string `yaml:"logFormat" validate:"oneof=json text"`
	LogFile    string `yaml:"logFile"`

	Server ServerConfig `yaml:"server"`
	Exec   ExecConfig   `yaml:"exec"`
	Oracle OracleConfig `yaml:"oracle"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Address        string `yaml:"address" validate:"required"`
	RequestTimeout string `yaml:"requestTimeout" validate:"required"`
}

// ExecConfig bounds operation handlers and their subprocesses.
type ExecConfig struct {
	OperationTimeout string   `yaml:"operationTimeout" validate:"required"`
	MaxOutput        int      `yaml:"maxOutput" validate:"gt=0"`
	Blocklist        []string `yaml:"blocklist"`
	FormatCommand    []string `yaml:"formatCommand"`
}

// OracleConfig points at the language-model endpoint used for task
// resolution and the AI-backed operations. The credential is never read from
// the file; it comes from AIPROXY_TOKEN or OPENAI_API_KEY.
type OracleConfig struct {
	BaseURL    string `yaml:"baseURL" validate:"required,url"`
	Model      string `yaml:"model" validate:"required"`
	EmbedModel string `yaml:"embedModel" validate:"required"`
}

// Load reads configuration from a YAML file and applies TASKPILOT_*
// environment overrides. A missing path loads pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		SandboxDir: "./data",
		LogLevel:   "info",
		LogFormat:  "json",
		Server: ServerConfig{
			Address:        ":8000",
			RequestTimeout: "90s",
		},
		Exec: ExecConfig{
			OperationTimeout: "60s",
			MaxOutput:        4 << 20,
		},
		Oracle: OracleConfig{
			BaseURL:    "https://aiproxy.sanand.workers.dev/openai/v1",
			Model:      "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.RequestTimeout(); err != nil {
		return nil, fmt.Errorf("invalid config: server.requestTimeout: %w", err)
	}
	if _, err := cfg.OperationTimeout(); err != nil {
		return nil, fmt.Errorf("invalid config: exec.operationTimeout: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKPILOT_SANDBOX_DIR"); v != "" {
		cfg.SandboxDir = v
	}
	if v := os.Getenv("TASKPILOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TASKPILOT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TASKPILOT_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("TASKPILOT_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TASKPILOT_ORACLE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("TASKPILOT_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
}

// RequestTimeout parses the per-request HTTP deadline.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Server.RequestTimeout)
}

// OperationTimeout parses the per-operation execution deadline.
func (c *Config) OperationTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Exec.OperationTimeout)
}

// Credential returns the oracle API key from the environment. Startup must
// fail without one: resolution and the AI-backed operations cannot work.
func Credential() (string, error) {
	for _, name := range []string{"AIPROXY_TOKEN", "OPENAI_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("no oracle credential: set AIPROXY_TOKEN or OPENAI_API_KEY")
}

// DefaultPath returns the default location for the config file.
func DefaultPath() string {
	if path := os.Getenv("TASKPILOT_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskpilot", "config.yaml")
}
