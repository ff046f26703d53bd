package router

import (
	"errors"
	"testing"

	"github.com/crosstrails/crosstrails/pkg/config"
	"github.com/crosstrails/crosstrails/pkg/llm"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.Providers = []config.ProviderConfig{
		{Name: "gloo-prod", Type: "gloo", ClientID: "id", ClientSecret: "secret"},
		{Name: "openai", APIKey: "sk-1"},
		{Name: "anthropic", Type: "anthropic", APIKey: "sk-2", Model: "claude-3-5-haiku-latest"},
	}
	cfg.Router.Routes = []config.RouteConfig{
		{
			Model: "fast",
			Targets: []config.RouteTarget{
				{Provider: "openai", Model: "gpt-4o-mini"},
				{Provider: "anthropic", Model: "claude-3-5-haiku-latest"},
			},
		},
	}
	return cfg
}

func TestResolveNoRequestUsesFirstProvider(t *testing.T) {
	r := New(testConfig())
	routes, err := r.Resolve(Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	if routes[0].Provider != llm.KindGloo || routes[0].ClientID != "id" {
		t.Errorf("unexpected route: %+v", routes[0])
	}
	if routes[0].Temperature != 0.7 || routes[0].MaxTokens != 1000 {
		t.Errorf("expected llm defaults, got %+v", routes[0])
	}
}

func TestResolveWithAlias(t *testing.T) {
	r := New(testConfig())
	routes, err := r.Resolve(Request{Model: "fast", Temperature: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Provider != llm.KindOpenAI || routes[0].Model != "gpt-4o-mini" {
		t.Errorf("unexpected first route: %+v", routes[0])
	}
	if routes[1].Provider != llm.KindAnthropic || routes[1].APIKey != "sk-2" {
		t.Errorf("unexpected second route: %+v", routes[1])
	}
	for _, rt := range routes {
		if rt.Temperature != 0.3 {
			t.Errorf("request temperature not applied: %+v", rt)
		}
	}
}

func TestResolveEmptyTargetModelUsesRequested(t *testing.T) {
	cfg := testConfig()
	cfg.Router.Routes = []config.RouteConfig{
		{Model: "gpt-4", Targets: []config.RouteTarget{{Provider: "openai"}}},
	}
	routes, err := New(cfg).Resolve(Request{Model: "gpt-4"})
	if err != nil {
		t.Fatal(err)
	}
	if routes[0].Model != "gpt-4" {
		t.Errorf("expected model gpt-4, got %s", routes[0].Model)
	}
}

func TestResolveSkipsUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Router.Routes = []config.RouteConfig{
		{Model: "fast", Targets: []config.RouteTarget{{Provider: "unknown", Model: "x"}, {Provider: "openai", Model: "gpt-4o-mini"}}},
	}
	routes, err := New(cfg).Resolve(Request{Model: "fast"})
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 || routes[0].Provider != llm.KindOpenAI {
		t.Errorf("unexpected routes: %+v", routes)
	}
}

func TestResolveAllUnknownProviders(t *testing.T) {
	cfg := testConfig()
	cfg.Router.Routes = []config.RouteConfig{
		{Model: "bad", Targets: []config.RouteTarget{{Provider: "unknown", Model: "x"}}},
	}
	_, err := New(cfg).Resolve(Request{Model: "bad"})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestResolveByProviderName(t *testing.T) {
	routes, err := New(testConfig()).Resolve(Request{Provider: "gloo-prod", Model: "gpt-4o", MaxTokens: 200})
	if err != nil {
		t.Fatal(err)
	}
	if routes[0].Provider != llm.KindGloo || routes[0].Model != "gpt-4o" || routes[0].MaxTokens != 200 {
		t.Errorf("unexpected route: %+v", routes[0])
	}
}

func TestResolveByProviderKind(t *testing.T) {
	r := New(testConfig())
	routes, err := r.Resolve(Request{Provider: "GLOO"})
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 || routes[0].ClientSecret != "secret" {
		t.Errorf("expected configured gloo provider, got %+v", routes)
	}

	cfg := testConfig()
	cfg.LLM.Providers = cfg.LLM.Providers[:1]
	routes, err = New(cfg).Resolve(Request{Provider: "openai", Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if routes[0].Provider != llm.KindOpenAI || routes[0].APIKey != "" || routes[0].Model != "gpt-4o" {
		t.Errorf("expected bare openai route, got %+v", routes[0])
	}
}

func TestResolveUnsupportedProvider(t *testing.T) {
	_, err := New(testConfig()).Resolve(Request{Provider: "cohere"})
	if !errors.Is(err, llm.ErrProviderUnsupported) {
		t.Fatalf("expected ErrProviderUnsupported, got %v", err)
	}
}

func TestResolveFallback(t *testing.T) {
	cfg := config.Default()
	r := New(cfg, WithFallback(func() (llm.Config, error) {
		return llm.Config{Provider: llm.KindOpenAI, APIKey: "env"}, nil
	}))
	routes, err := r.Resolve(Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if routes[0].Provider != llm.KindOpenAI || routes[0].Model != "gpt-4o" {
		t.Errorf("unexpected route: %+v", routes[0])
	}

	failing := New(cfg, WithFallback(func() (llm.Config, error) {
		return llm.Config{}, llm.ErrCredentialsMissing
	}))
	_, err = failing.Resolve(Request{})
	if !errors.Is(err, ErrNoProviders) || !errors.Is(err, llm.ErrCredentialsMissing) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveNoProviders(t *testing.T) {
	_, err := New(config.Default()).Resolve(Request{})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestConfigured(t *testing.T) {
	cfgs, err := New(testConfig()).Configured()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 3 {
		t.Fatalf("expected 3 configs, got %d", len(cfgs))
	}
	if cfgs[1].Provider != llm.KindOpenAI {
		t.Errorf("name should double as kind, got %+v", cfgs[1])
	}

	cfg := testConfig()
	cfg.LLM.Providers = append(cfg.LLM.Providers, config.ProviderConfig{Name: "local", Type: "ollama"})
	if _, err := New(cfg).Configured(); !errors.Is(err, llm.ErrProviderUnsupported) {
		t.Fatalf("expected ErrProviderUnsupported, got %v", err)
	}
}

type stubBuilder map[llm.Kind]error

func (s stubBuilder) GetProvider(cfg llm.Config) (llm.Provider, error) {
	return nil, s[cfg.Provider]
}

func TestFirstUsable(t *testing.T) {
	candidates := []llm.Config{{Provider: llm.KindAzure}, {Provider: llm.KindOpenAI}}
	b := stubBuilder{llm.KindAzure: llm.ErrProviderUnsupported}
	got, err := FirstUsable(b, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != llm.KindOpenAI {
		t.Errorf("expected openai, got %s", got.Provider)
	}

	b[llm.KindOpenAI] = llm.ErrCredentialsMissing
	if _, err := FirstUsable(b, candidates); !errors.Is(err, llm.ErrCredentialsMissing) {
		t.Fatalf("expected last error, got %v", err)
	}
	if _, err := FirstUsable(b, nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}
