package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models factory.yml.
type Config struct {
	Pipeline struct {
		MaxNiches         int `yaml:"max_niches"`
		MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
		StaleTaskMinutes  int `yaml:"stale_task_minutes"`
	} `yaml:"pipeline"`
	Experiments struct {
		CooldownDays        int     `yaml:"cooldown_days"`
		MinViews            int     `yaml:"min_views"`
		PriceChangeCapPct   float64 `yaml:"price_change_cap_pct"`
		ApprovalPriority    int     `yaml:"approval_priority"`
		MaxActivePerListing int     `yaml:"max_active_per_listing"`
	} `yaml:"experiments"`
	Listing struct {
		Platforms    []string `yaml:"platforms"`
		MinPriceUSD  float64  `yaml:"min_price_usd"`
		MaxPriceUSD  float64  `yaml:"max_price_usd"`
		GumroadTitle int      `yaml:"gumroad_title_max"`
		EtsyTitle    int      `yaml:"etsy_title_max"`
		EtsyTagMax   int      `yaml:"etsy_tag_max"`
		MinTags      int      `yaml:"min_tags"`
	} `yaml:"listing"`
	Generation struct {
		Model         string `yaml:"model"`
		MaxRetries    int    `yaml:"max_retries"`
		BackoffBaseMS int    `yaml:"backoff_base_ms"`
	} `yaml:"generation"`
	Limits struct {
		WindowSeconds int            `yaml:"window_seconds"`
		PerService    map[string]int `yaml:"per_service"`
	} `yaml:"limits"`
	Notify struct {
		OperatorEmail string `yaml:"operator_email"`
		FromEmail     string `yaml:"from_email"`
		DigestHourUTC int    `yaml:"digest_hour_utc"`
	} `yaml:"notify"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Pipeline.MaxNiches <= 0 {
		return fmt.Errorf("config.pipeline.max_niches must be positive")
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("config.pipeline.max_concurrent_runs must be positive")
	}
	if c.Pipeline.StaleTaskMinutes <= 0 {
		return fmt.Errorf("config.pipeline.stale_task_minutes must be positive")
	}
	if c.Experiments.CooldownDays < 0 {
		return fmt.Errorf("config.experiments.cooldown_days must not be negative")
	}
	if c.Experiments.MinViews < 0 {
		return fmt.Errorf("config.experiments.min_views must not be negative")
	}
	if c.Experiments.PriceChangeCapPct <= 0 || c.Experiments.PriceChangeCapPct > 100 {
		return fmt.Errorf("config.experiments.price_change_cap_pct must be in (0,100]")
	}
	if c.Experiments.ApprovalPriority < 1 || c.Experiments.ApprovalPriority > 10 {
		return fmt.Errorf("config.experiments.approval_priority must be in [1,10]")
	}
	if len(c.Listing.Platforms) == 0 {
		return fmt.Errorf("config.listing.platforms is required")
	}
	for _, p := range c.Listing.Platforms {
		if p != "gumroad" && p != "etsy" {
			return fmt.Errorf("config.listing.platforms contains unknown platform %q", p)
		}
	}
	if c.Listing.MinPriceUSD <= 0 || c.Listing.MaxPriceUSD <= c.Listing.MinPriceUSD {
		return fmt.Errorf("config.listing price bounds invalid: [%v,%v]", c.Listing.MinPriceUSD, c.Listing.MaxPriceUSD)
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("config.generation.model is required")
	}
	if c.Generation.MaxRetries < 1 {
		return fmt.Errorf("config.generation.max_retries must be at least 1")
	}
	if c.Limits.WindowSeconds <= 0 {
		return fmt.Errorf("config.limits.window_seconds must be positive")
	}
	if c.Notify.DigestHourUTC < 0 || c.Notify.DigestHourUTC > 23 {
		return fmt.Errorf("config.notify.digest_hour_utc must be in [0,23]")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "factory.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `pipeline:
  max_niches: 3
  max_concurrent_runs: 1
  stale_task_minutes: 60

experiments:
  cooldown_days: 7
  min_views: 50
  price_change_cap_pct: 20
  approval_priority: 8
  max_active_per_listing: 1

listing:
  platforms: [gumroad, etsy]
  min_price_usd: 9
  max_price_usd: 149
  gumroad_title_max: 255
  etsy_title_max: 140
  etsy_tag_max: 13
  min_tags: 5

generation:
  model: gemini-2.0-flash
  max_retries: 3
  backoff_base_ms: 1000

limits:
  window_seconds: 60
  per_service:
    gemini: 30
    resend: 10
    gumroad: 20
    etsy: 20

notify:
  operator_email: ""
  from_email: "factory@localhost"
  digest_hour_utc: 6

server:
  addr: ":8080"
`
