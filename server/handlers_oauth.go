package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dbpkg "github.com/onnwee/chat-tender/db"
	"github.com/onnwee/chat-tender/twitchapi"
)

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil || h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	oc := twitchapi.OAuthConfig(h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, h.cfg.TwitchRedirectURI, h.cfg.Scopes())
	authURL, err := twitchapi.BuildAuthorizeURL(oc, st)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil || h.db == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	// validate state
	h.stateMu.RLock()
	exp, ok := h.stateStore[st]
	h.stateMu.RUnlock()
	if !ok || time.Now().After(exp) {
		http.Error(w, "invalid state", 400)
		return
	}
	h.stateMu.Lock()
	delete(h.stateStore, st)
	h.stateMu.Unlock()
	ctx := r.Context()
	oc := twitchapi.OAuthConfig(h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, h.cfg.TwitchRedirectURI, h.cfg.Scopes())
	tok, err := twitchapi.ExchangeAuthCode(ctx, oc, code)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	// persist tokens using dbpkg.UpsertOAuthToken (handles encryption)
	dbErr := dbpkg.UpsertOAuthToken(ctx, h.db, "twitch", tok.AccessToken, tok.RefreshToken,
		tok.Expiry, strings.Join(h.cfg.Scopes(), " "))
	if dbErr != nil {
		http.Error(w, dbErr.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "expiry": tok.Expiry}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
