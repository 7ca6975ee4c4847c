package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials)
// token. App tokens work for Helix lookups only; IRC chat needs a user token
// with chat scopes.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	TokenURL     string // defaults to the Twitch id endpoint

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns the cached token, fetching a new one when it is within a
// minute of expiry.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > time.Minute {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.fetch(ctx)
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	// Another caller may have fetched while we waited for the lock.
	if ts.token != "" && time.Until(ts.expiresAt) > time.Minute {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}

	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")

	endpoint := ts.TokenURL
	if endpoint == "" {
		endpoint = defaultTokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twitch token request failed: %s: %s", resp.Status, string(b))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = body.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return ts.token, nil
}
