package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// tokenServer answers the client-credentials grant with the given token and
// counts how many requests arrived.
func tokenServer(t *testing.T, token string, expiresIn int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}))
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, "app-token-1", 3600, &calls)
	defer srv.Close()

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}
	ctx := context.Background()

	tok, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok != "app-token-1" {
		t.Errorf("token = %q, want app-token-1", tok)
	}
	if _, err := ts.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (second Get served from cache)", n)
	}
}

func TestTokenSourceRefetchesNearExpiry(t *testing.T) {
	var calls atomic.Int32
	// expires_in of 30s is inside the one-minute refresh buffer, so every
	// Get goes back upstream.
	srv := tokenServer(t, "short-lived", 30, &calls)
	defer srv.Close()

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := ts.Get(ctx); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestTokenSourceMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get without credentials succeeded, want error")
	}
}

func TestTokenSourceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get succeeded against a 500, want error")
	}
}

func TestTokenSourceEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "", "expires_in": 3600})
	}))
	defer srv.Close()

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get accepted an empty access_token, want error")
	}
}

func TestTokenSourceConcurrentGet(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, "shared", 3600, &calls)
	defer srv.Close()

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := ts.Get(context.Background()); err != nil || tok != "shared" {
				t.Errorf("Get = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()
	// The write lock serializes fetches; once one succeeds the rest read
	// the cached token.
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}
