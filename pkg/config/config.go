package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all CrossTrails configuration.
type Config struct {
	Listen        string          `yaml:"listen"`
	LogLevel      string          `yaml:"log_level"`
	VersesFile    string          `yaml:"verses_file"`
	CrossRefsFile string          `yaml:"cross_refs_file"`
	LLM           LLMConfig       `yaml:"llm"`
	Router        RouterConfig    `yaml:"router"`
	Cache         CacheConfig     `yaml:"cache"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Analysis      AnalysisConfig  `yaml:"analysis"`
}

// LLMConfig holds provider credentials and generation defaults.
type LLMConfig struct {
	Temperature float64          `yaml:"temperature"`
	MaxTokens   int              `yaml:"max_tokens"`
	Timeout     time.Duration    `yaml:"timeout"`
	Providers   []ProviderConfig `yaml:"providers"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is one of "gloo", "openai", "anthropic" or "azure".
type ProviderConfig struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// RouterConfig defines model aliases.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a client-facing model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a route.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// CacheConfig controls the in-process response cache.
type CacheConfig struct {
	MaxEntries int                      `yaml:"max_entries"`
	TTLs       map[string]time.Duration `yaml:"ttls"`
}

// RateLimitConfig controls request admission.
type RateLimitConfig struct {
	SweepInterval time.Duration           `yaml:"sweep_interval"`
	Policies      map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig overrides the window and quota of one request class.
type PolicyConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// AnalysisConfig controls the analysis orchestrator.
type AnalysisConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	ContextRange int           `yaml:"context_range"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		LLM: LLMConfig{
			Temperature: 0.7,
			MaxTokens:   1000,
			Timeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
		},
		RateLimit: RateLimitConfig{
			SweepInterval: 5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			Timeout:      30 * time.Second,
			Temperature:  0.7,
			MaxTokens:    1500,
			ContextRange: 2,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks value ranges that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Analysis.ContextRange < 1 || c.Analysis.ContextRange > 5 {
		return fmt.Errorf("analysis.context_range must be between 1 and 5, got %d", c.Analysis.ContextRange)
	}
	if c.Analysis.Timeout <= 0 {
		return fmt.Errorf("analysis.timeout must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("rate_limit.sweep_interval must be positive")
	}
	for name, p := range c.RateLimit.Policies {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			return fmt.Errorf("rate_limit.policies.%s: window and max_requests must be positive", name)
		}
	}
	seen := make(map[string]bool, len(c.LLM.Providers))
	for _, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers: provider without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("llm.providers: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
