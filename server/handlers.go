// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/chat-tender/chat"
	"github.com/onnwee/chat-tender/config"
	dbpkg "github.com/onnwee/chat-tender/db"
	"github.com/onnwee/chat-tender/eventsub"
	"github.com/onnwee/chat-tender/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Handlers holds dependencies for all HTTP handlers. Session and EventSub
// may be nil when the corresponding subsystem is disabled; handlers degrade
// to 503 or empty responses instead of panicking.
type Handlers struct {
	db           *sql.DB
	cfg          *config.Config
	session      *chat.Session
	suppressions *chat.SuppressionStore
	archive      *dbpkg.Archive
	events       *eventsub.Client
	emotes       *twitchapi.EmoteCatalog
	started      time.Time

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(cfg *config.Config, db *sql.DB, session *chat.Session, suppressions *chat.SuppressionStore, archive *dbpkg.Archive, events *eventsub.Client, emotes *twitchapi.EmoteCatalog) *Handlers {
	return &Handlers{
		db:           db,
		cfg:          cfg,
		session:      session,
		suppressions: suppressions,
		archive:      archive,
		events:       events,
		emotes:       emotes,
		started:      time.Now(),
		stateStore:   make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}
