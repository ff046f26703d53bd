package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Environment variables consulted by the factory.
const (
	EnvGlooClientID          = "GLOO_CLIENT_ID"
	EnvGlooClientSecret      = "GLOO_CLIENT_SECRET"
	EnvOpenAIAPIKey          = "OPENAI_API_KEY"
	EnvAnthropicAPIKey       = "ANTHROPIC_API_KEY"
	EnvGlooDefaultModel      = "GLOO_DEFAULT_MODEL"
	EnvOpenAIDefaultModel    = "OPENAI_DEFAULT_MODEL"
	EnvAnthropicDefaultModel = "ANTHROPIC_DEFAULT_MODEL"
	EnvTemperature           = "LLM_TEMPERATURE"
	EnvMaxTokens             = "LLM_MAX_TOKENS"
)

// defaultOrder is the probe order for the default provider.
var defaultOrder = []Kind{KindGloo, KindOpenAI, KindAnthropic}

// Descriptor describes a provider kind for listings.
type Descriptor struct {
	Kind              Kind     `json:"kind"`
	Name              string   `json:"name"`
	Implemented       bool     `json:"implemented"`
	SupportsStreaming bool     `json:"supports_streaming"`
	DefaultModel      string   `json:"default_model,omitempty"`
	Models            []string `json:"models,omitempty"`
	Credentials       []string `json:"credentials"`
}

// Factory builds providers and memoises them by configuration.
type Factory struct {
	mu         sync.Mutex
	instances  map[string]Provider
	configured []Config
	lookupEnv  func(string) (string, bool)
	httpClient *http.Client
	logger     *zap.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithEnv replaces os.LookupEnv.
func WithEnv(lookup func(string) (string, bool)) FactoryOption {
	return func(f *Factory) { f.lookupEnv = lookup }
}

// WithHTTPClient sets the client used for every upstream call.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger.Named("llm") }
}

// WithConfigured registers provider configurations that take precedence
// over environment credentials when choosing the default provider.
func WithConfigured(cfgs ...Config) FactoryOption {
	return func(f *Factory) { f.configured = append(f.configured, cfgs...) }
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		instances:  make(map[string]Provider),
		lookupEnv:  os.LookupEnv,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) env(key string) string {
	v, _ := f.lookupEnv(key)
	return v
}

// normalize fills unset fields from the environment and built-in defaults.
func (f *Factory) normalize(cfg Config) Config {
	if cfg.Model == "" {
		cfg.Model = f.defaultModel(cfg.Provider)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
		if v, err := strconv.ParseFloat(f.env(EnvTemperature), 64); err == nil {
			cfg.Temperature = v
		}
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
		if v, err := strconv.Atoi(f.env(EnvMaxTokens)); err == nil && v > 0 {
			cfg.MaxTokens = v
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL(cfg.Provider)
	}
	switch cfg.Provider {
	case KindGloo:
		if cfg.ClientID == "" {
			cfg.ClientID = f.env(EnvGlooClientID)
		}
		if cfg.ClientSecret == "" {
			cfg.ClientSecret = f.env(EnvGlooClientSecret)
		}
	case KindOpenAI:
		if cfg.APIKey == "" {
			cfg.APIKey = f.env(EnvOpenAIAPIKey)
		}
	case KindAnthropic:
		if cfg.APIKey == "" {
			cfg.APIKey = f.env(EnvAnthropicAPIKey)
		}
	}
	return cfg
}

func (f *Factory) defaultModel(k Kind) string {
	var env, fallback string
	switch k {
	case KindGloo:
		env, fallback = EnvGlooDefaultModel, DefaultModel
	case KindOpenAI:
		env, fallback = EnvOpenAIDefaultModel, DefaultModel
	case KindAnthropic:
		env, fallback = EnvAnthropicDefaultModel, DefaultAnthropicModel
	default:
		return DefaultModel
	}
	if v := f.env(env); v != "" {
		return v
	}
	return fallback
}

// GetProvider returns the provider for cfg, building it on first use.
// Equal configurations share one instance.
func (f *Factory) GetProvider(cfg Config) (Provider, error) {
	if !cfg.Provider.Implemented() {
		return nil, fmt.Errorf("%w: %q", ErrProviderUnsupported, cfg.Provider)
	}
	cfg = f.normalize(cfg)
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsMissing, cfg.Provider)
	}

	key := cfg.Key()
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.instances[key]; ok {
		return p, nil
	}
	p := f.build(cfg)
	f.instances[key] = p
	f.logger.Debug("provider created",
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.Model))
	return p, nil
}

func (f *Factory) build(cfg Config) Provider {
	logger := f.logger.With(zap.String("provider", string(cfg.Provider)))
	switch cfg.Provider {
	case KindGloo:
		return newGlooProvider(cfg, f.httpClient, newGlooTokenSource(cfg, f.httpClient, logger), logger)
	case KindOpenAI:
		return newOpenAIProvider(cfg, f.httpClient, logger)
	case KindAnthropic:
		return newAnthropicProvider(cfg, f.httpClient, logger)
	default:
		// Unreachable: GetProvider rejects unimplemented kinds.
		panic(fmt.Sprintf("llm: no backend for %q", cfg.Provider))
	}
}

// DefaultConfig picks the first usable configured provider, then probes
// environment credentials in order gloo, openai, anthropic.
func (f *Factory) DefaultConfig() (Config, error) {
	for _, cfg := range f.configured {
		if !cfg.Provider.Implemented() {
			continue
		}
		if n := f.normalize(cfg); n.HasCredentials() {
			return n, nil
		}
	}
	for _, k := range defaultOrder {
		if cfg := f.normalize(Config{Provider: k}); cfg.HasCredentials() {
			return cfg, nil
		}
	}
	return Config{}, fmt.Errorf("%w: set %s and %s, %s, or %s",
		ErrCredentialsMissing, EnvGlooClientID, EnvGlooClientSecret, EnvOpenAIAPIKey, EnvAnthropicAPIKey)
}

// GetDefaultProvider returns the provider chosen by DefaultConfig.
func (f *Factory) GetDefaultProvider() (Provider, error) {
	cfg, err := f.DefaultConfig()
	if err != nil {
		return nil, err
	}
	return f.GetProvider(cfg)
}

// Clear forgets every memoised provider.
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances = make(map[string]Provider)
}

// Len returns the number of memoised providers.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// HealthStatus health-checks every memoised provider concurrently.
func (f *Factory) HealthStatus(ctx context.Context) map[string]bool {
	f.mu.Lock()
	snapshot := make(map[string]Provider, len(f.instances))
	for k, p := range f.instances {
		snapshot[k] = p
	}
	f.mu.Unlock()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]bool, len(snapshot))
	)
	for k, p := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := p.HealthCheck(ctx)
			mu.Lock()
			out[k] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// Catalog describes every known provider kind.
func (f *Factory) Catalog() []Descriptor {
	return []Descriptor{
		{
			Kind: KindGloo, Name: "Gloo AI", Implemented: true, SupportsStreaming: true,
			DefaultModel: f.defaultModel(KindGloo),
			Models:       []string{"gpt-4o-mini", "gpt-4o", "gpt-4", "gpt-3.5-turbo", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
			Credentials:  []string{EnvGlooClientID, EnvGlooClientSecret},
		},
		{
			Kind: KindOpenAI, Name: "OpenAI", Implemented: true, SupportsStreaming: true,
			DefaultModel: f.defaultModel(KindOpenAI),
			Models:       []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"},
			Credentials:  []string{EnvOpenAIAPIKey},
		},
		{
			Kind: KindAnthropic, Name: "Anthropic", Implemented: true, SupportsStreaming: true,
			DefaultModel: f.defaultModel(KindAnthropic),
			Models:       []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"},
			Credentials:  []string{EnvAnthropicAPIKey},
		},
		{
			Kind: KindAzure, Name: "Azure OpenAI", Implemented: false,
			Credentials: []string{"AZURE_OPENAI_API_KEY"},
		},
	}
}

// Available reports whether credentials for k can be found.
func (f *Factory) Available(k Kind) bool {
	if !k.Implemented() {
		return false
	}
	for _, cfg := range f.configured {
		if cfg.Provider == k && f.normalize(cfg).HasCredentials() {
			return true
		}
	}
	return f.normalize(Config{Provider: k}).HasCredentials()
}
