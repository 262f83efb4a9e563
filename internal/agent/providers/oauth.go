package providers

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/allyrun/ally/internal/agent"
)

// NewOAuthKeyResolver adapts an oauth2.TokenSource into the runtime's
// per-request API key resolver, for deployments that front a hosted model
// API with an OAuth gateway issuing short-lived tokens. The token source
// caches and refreshes on its own; every model request gets a currently
// valid access token.
func NewOAuthKeyResolver(source oauth2.TokenSource) agent.APIKeyResolver {
	return func(ctx context.Context, provider string) (string, error) {
		token, err := source.Token()
		if err != nil {
			return "", fmt.Errorf("oauth token for %s: %w", provider, err)
		}
		return token.AccessToken, nil
	}
}

// NewClientCredentialsResolver builds a resolver from a standard OAuth2
// client-credentials grant.
func NewClientCredentialsResolver(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) agent.APIKeyResolver {
	cfg := &clientcredentials.Config{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
	}
	return NewOAuthKeyResolver(cfg.TokenSource(ctx))
}
