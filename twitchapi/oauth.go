package twitchapi

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// OAuthConfig builds the oauth2 config for the Twitch authorization code
// grant. The returned config's Endpoint can be repointed in tests.
func OAuthConfig(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     endpoints.Twitch,
	}
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth
// code grant.
func BuildAuthorizeURL(cfg *oauth2.Config, state string) (string, error) {
	if cfg.ClientID == "" || cfg.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return cfg.AuthCodeURL(state), nil
}

// ExchangeAuthCode exchanges an authorization code for access and refresh
// tokens.
func ExchangeAuthCode(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || code == "" || cfg.RedirectURL == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	return cfg.Exchange(ctx, code)
}

// RefreshToken exchanges a refresh token for a new access token. Twitch
// rotates refresh tokens, so callers must persist the returned token's
// RefreshToken, not the one they passed in.
func RefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to
// +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
