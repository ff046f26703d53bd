package router

import (
	"errors"
	"fmt"

	"github.com/crosstrails/crosstrails/pkg/config"
	"github.com/crosstrails/crosstrails/pkg/llm"
)

var (
	// ErrNoProviders is returned when nothing can serve a request.
	ErrNoProviders = errors.New("no providers configured")
	// ErrNoRoute is returned when an alias resolves to no known provider.
	ErrNoRoute = errors.New("route has no known providers")
)

// Request is a client's requested LLM configuration. Provider is either a
// configured provider name or a provider kind.
type Request struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Router resolves requested providers and model aliases to ordered
// provider configurations.
type Router struct {
	cfg      *config.Config
	fallback func() (llm.Config, error)
}

// Option configures a Router.
type Option func(*Router)

// WithFallback sets the configuration used when no provider is configured,
// typically (*llm.Factory).DefaultConfig.
func WithFallback(fn func() (llm.Config, error)) Option {
	return func(r *Router) { r.fallback = fn }
}

// New creates a Router from the given configuration.
func New(cfg *config.Config, opts ...Option) *Router {
	r := &Router{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromProvider converts a configured provider. An empty Type means the
// provider name is the kind.
func FromProvider(p config.ProviderConfig) (llm.Config, error) {
	t := p.Type
	if t == "" {
		t = p.Name
	}
	kind, err := llm.ParseKind(t)
	if err != nil {
		return llm.Config{}, fmt.Errorf("provider %q: %w", p.Name, err)
	}
	return llm.Config{
		Provider:     kind,
		Model:        p.Model,
		BaseURL:      p.URL,
		APIKey:       p.APIKey,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
	}, nil
}

// Configured converts every configured provider, in order.
func (r *Router) Configured() ([]llm.Config, error) {
	out := make([]llm.Config, 0, len(r.cfg.LLM.Providers))
	for _, p := range r.cfg.LLM.Providers {
		c, err := FromProvider(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r.withDefaults(c))
	}
	return out, nil
}

func (r *Router) withDefaults(c llm.Config) llm.Config {
	if c.Temperature == 0 {
		c.Temperature = r.cfg.LLM.Temperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = r.cfg.LLM.MaxTokens
	}
	return c
}

func (r *Router) provider(name string) (config.ProviderConfig, bool) {
	for _, p := range r.cfg.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return config.ProviderConfig{}, false
}

// Resolve returns an ordered list of candidate configurations for req.
// A model matching a configured alias yields the alias targets. A provider
// name selects that configured provider; a provider kind selects the
// configured providers of that kind or, failing that, the bare kind with
// environment credentials. Otherwise the first configured provider, or the
// fallback, is used with the requested model.
func (r *Router) Resolve(req Request) ([]llm.Config, error) {
	routes, err := r.resolve(req)
	if err != nil {
		return nil, err
	}
	for i := range routes {
		routes[i] = r.withDefaults(routes[i])
		if req.Temperature != 0 {
			routes[i].Temperature = req.Temperature
		}
		if req.MaxTokens != 0 {
			routes[i].MaxTokens = req.MaxTokens
		}
	}
	return routes, nil
}

func (r *Router) resolve(req Request) ([]llm.Config, error) {
	for _, route := range r.cfg.Router.Routes {
		if req.Model == "" || route.Model != req.Model {
			continue
		}
		var routes []llm.Config
		for _, target := range route.Targets {
			p, ok := r.provider(target.Provider)
			if !ok {
				continue // skip unknown providers
			}
			c, err := FromProvider(p)
			if err != nil {
				return nil, err
			}
			c.Model = target.Model
			if c.Model == "" {
				c.Model = req.Model
			}
			routes = append(routes, c)
		}
		if len(routes) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoRoute, req.Model)
		}
		return routes, nil
	}

	withModel := func(c llm.Config) llm.Config {
		if req.Model != "" {
			c.Model = req.Model
		}
		return c
	}

	if req.Provider != "" {
		if p, ok := r.provider(req.Provider); ok {
			c, err := FromProvider(p)
			if err != nil {
				return nil, err
			}
			return []llm.Config{withModel(c)}, nil
		}
		kind, err := llm.ParseKind(req.Provider)
		if err != nil {
			return nil, err
		}
		var routes []llm.Config
		for _, p := range r.cfg.LLM.Providers {
			c, err := FromProvider(p)
			if err != nil || c.Provider != kind {
				continue
			}
			routes = append(routes, withModel(c))
		}
		if len(routes) == 0 {
			routes = append(routes, withModel(llm.Config{Provider: kind}))
		}
		return routes, nil
	}

	if len(r.cfg.LLM.Providers) > 0 {
		c, err := FromProvider(r.cfg.LLM.Providers[0])
		if err != nil {
			return nil, err
		}
		return []llm.Config{withModel(c)}, nil
	}
	if r.fallback != nil {
		c, err := r.fallback()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoProviders, err)
		}
		return []llm.Config{withModel(c)}, nil
	}
	return nil, ErrNoProviders
}

// Builder is satisfied by *llm.Factory.
type Builder interface {
	GetProvider(cfg llm.Config) (llm.Provider, error)
}

// FirstUsable returns the first candidate b can build, or the last error.
func FirstUsable(b Builder, candidates []llm.Config) (llm.Config, error) {
	err := ErrNoProviders
	for _, c := range candidates {
		if _, err = b.GetProvider(c); err == nil {
			return c, nil
		}
	}
	return llm.Config{}, err
}
