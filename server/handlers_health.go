package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/chat-tender/chat"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"chat", func() error {
			if h.session == nil {
				return fmt.Errorf("chat session not configured")
			}
			if st := h.session.CurrentState(); st != chat.StateConnected {
				return fmt.Errorf("chat %s", st)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
