package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigline.yml.
type Config struct {
	Marketplace struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"marketplace"`
	JobTypes map[string]struct {
		Description string `yaml:"description"`
	} `yaml:"job_types"`
	Validation struct {
		MinTitleLen        int     `yaml:"min_title_len"`
		MinPay             float64 `yaml:"min_pay"`
		RequireDescription bool    `yaml:"require_description"`
	} `yaml:"validation"`
	Cancellation struct {
		// PenaltyRates maps a job status to the fraction of pay charged
		// when the client cancels from that status.
		PenaltyRates map[string]float64 `yaml:"penalty_rates"`
	} `yaml:"cancellation"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gigline config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if len(c.JobTypes) == 0 {
		return fmt.Errorf("config.job_types must list at least one job type")
	}
	for name := range c.JobTypes {
		if name == "" {
			return fmt.Errorf("config.job_types contains empty type name")
		}
	}
	if c.Validation.MinTitleLen < 0 {
		return fmt.Errorf("config.validation.min_title_len must not be negative")
	}
	if c.Validation.MinPay < 0 {
		return fmt.Errorf("config.validation.min_pay must not be negative")
	}
	for status, rate := range c.Cancellation.PenaltyRates {
		if status == "" {
			return fmt.Errorf("config.cancellation.penalty_rates contains empty status")
		}
		if rate < 0 || rate > 1 {
			return fmt.Errorf("penalty rate for %s must be between 0 and 1", status)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	cfg.Marketplace.ID = marketplaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// PenaltyRate returns the cancellation penalty rate for a job status.
func (c *Config) PenaltyRate(status string) float64 {
	if c == nil || c.Cancellation.PenaltyRates == nil {
		return 0
	}
	return c.Cancellation.PenaltyRates[status]
}

const defaultTemplate = `marketplace:
  id: %s
  name: Gigline

job_types:
  cleaning:
    description: "House and office cleaning"
  moving:
    description: "Moving and hauling"
  repair:
    description: "Repair and handyman work"
  delivery:
    description: "Pickup and delivery"
  other:
    description: "Anything else"

validation:
  min_title_len: 3
  min_pay: 1
  require_description: true

cancellation:
  penalty_rates:
    ACTIVE: 0
    APPLIED: 0
    IN_PROGRESS: 0.1
`
