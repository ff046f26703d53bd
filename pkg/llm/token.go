package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Gloo OAuth2 parameters.
const (
	glooTokenPath     = "/oauth2/token"
	glooTokenScope    = "api/access"
	tokenRefreshSkew  = 60 * time.Second
	tokenBreakerTrips = 3
)

// credentialsFetcher requests a fresh token on every call.
type credentialsFetcher struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (f credentialsFetcher) Token() (*oauth2.Token, error) {
	return f.cfg.Token(f.ctx)
}

// breakerTokenSource stops hammering the token endpoint after repeated
// failures.
type breakerTokenSource struct {
	src oauth2.TokenSource
	cb  *gobreaker.CircuitBreaker
}

func (b *breakerTokenSource) Token() (*oauth2.Token, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.src.Token()
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// newGlooTokenSource returns a cached client-credentials token source that
// refreshes a minute before expiry.
func newGlooTokenSource(cfg Config, client *http.Client, logger *zap.Logger) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.BaseURL, "/") + glooTokenPath,
		Scopes:       []string{glooTokenScope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gloo-token",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tokenBreakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("token breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	fetch := &breakerTokenSource{src: credentialsFetcher{ctx: ctx, cfg: cc}, cb: cb}
	return oauth2.ReuseTokenSourceWithExpiry(nil, fetch, tokenRefreshSkew)
}
