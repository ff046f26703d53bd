package llm

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Kind is the closed set of provider backends.
type Kind string

// Provider kinds. Azure is recognised but has no backend yet.
const (
	KindGloo      Kind = "gloo"
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindAzure     Kind = "azure"
)

// Kinds lists every recognised provider kind.
var Kinds = []Kind{KindGloo, KindOpenAI, KindAnthropic, KindAzure}

// ParseKind maps a provider name onto a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrProviderUnsupported, s)
}

// Implemented reports whether k has a backend.
func (k Kind) Implemented() bool {
	switch k {
	case KindGloo, KindOpenAI, KindAnthropic:
		return true
	default:
		return false
	}
}

// Generation defaults.
const (
	DefaultModel          = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 1000
)

// Default base URLs.
const (
	GlooBaseURL      = "https://platform.ai.gloo.com"
	OpenAIBaseURL    = "https://api.openai.com/v1"
	AnthropicBaseURL = "https://api.anthropic.com"
)

// Config identifies one provider instance.
type Config struct {
	Provider     Kind    `json:"provider"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	BaseURL      string  `json:"base_url,omitempty"`
	APIKey       string  `json:"-"`
	ClientID     string  `json:"-"`
	ClientSecret string  `json:"-"`
}

// Key identifies the instance a Config produces. Credentials contribute a
// fingerprint rather than their plaintext.
func (c Config) Key() string {
	sum := sha256.Sum256([]byte(c.APIKey + "\x00" + c.ClientID + "\x00" + c.ClientSecret))
	return fmt.Sprintf("%s:%s:%g:%d:%s:%x", c.Provider, c.Model, c.Temperature, c.MaxTokens, c.BaseURL, sum[:6])
}

// HasCredentials reports whether the credentials required by the kind are set.
func (c Config) HasCredentials() bool {
	switch c.Provider {
	case KindGloo:
		return c.ClientID != "" && c.ClientSecret != ""
	case KindOpenAI, KindAnthropic, KindAzure:
		return c.APIKey != ""
	default:
		return false
	}
}

func defaultBaseURL(k Kind) string {
	switch k {
	case KindGloo:
		return GlooBaseURL
	case KindOpenAI:
		return OpenAIBaseURL
	case KindAnthropic:
		return AnthropicBaseURL
	default:
		return ""
	}
}
