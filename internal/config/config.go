package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models stepline.yml.
type Config struct {
	DataDir       string `yaml:"data_dir"`
	WorkspaceRoot string `yaml:"workspace_root"`
	ArchiveRoot   string `yaml:"archive_root"`
	Poll          struct {
		Interval    time.Duration `yaml:"interval"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"poll"`
	Generation GenerationConfig `yaml:"generation"`
	Server     struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type GenerationConfig struct {
	// Backend is "openai" or "template".
	Backend     string        `yaml:"backend"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config.data_dir is required")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("config.workspace_root is required")
	}
	if strings.TrimSpace(c.ArchiveRoot) == "" {
		return fmt.Errorf("config.archive_root is required")
	}
	if overlaps(c.WorkspaceRoot, c.ArchiveRoot) {
		return fmt.Errorf("config.archive_root and config.workspace_root must not overlap")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("config.poll.interval must be positive")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("config.poll.max_attempts must be positive")
	}
	switch c.Generation.Backend {
	case "template":
	case "openai":
		if c.Generation.BaseURL == "" {
			return fmt.Errorf("config.generation.base_url is required for the openai backend")
		}
		if _, err := url.Parse(c.Generation.BaseURL); err != nil {
			return fmt.Errorf("config.generation.base_url invalid: %w", err)
		}
		if c.Generation.Model == "" {
			return fmt.Errorf("config.generation.model is required for the openai backend")
		}
	default:
		return fmt.Errorf("config.generation.backend must be 'openai' or 'template'")
	}
	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("config.generation.max_tokens must not be negative")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// overlaps reports whether a and b are the same directory or one contains the
// other.
func overlaps(a, b string) bool {
	a, errA := filepath.Abs(a)
	b, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return false
	}
	return within(a, b) || within(b, a)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Path returns the config file path for a data directory.
func Path(dataDir string) string {
	if dataDir == "" {
		dataDir = "."
	}
	return filepath.Join(dataDir, "stepline.yml")
}

// Default returns the default Config rooted at dataDir.
func Default(dataDir string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	if dataDir == "" {
		dataDir = "."
	}
	cfg.DataDir = dataDir
	cfg.WorkspaceRoot = filepath.Join(dataDir, "workspace")
	cfg.ArchiveRoot = filepath.Join(dataDir, "archive")
	return &cfg
}

// Load reads config from path on top of defaults. A missing file yields defaults.
func Load(path, dataDir string) (*Config, error) {
	cfg := Default(dataDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	return fromYAML(cfg, data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte, dataDir string) (*Config, error) {
	return fromYAML(Default(dataDir), data)
}

func fromYAML(cfg *Config, data []byte) (*Config, error) {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `poll:
  interval: 10s
  max_attempts: 30

generation:
  backend: template
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  temperature: 0.7
  max_tokens: 4000
  timeout: 10m

server:
  addr: 127.0.0.1:8002
  base_path: /api
`
