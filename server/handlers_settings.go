package server

import (
	"encoding/json"
	"net/http"
)

// HandleSuppressions reads (GET) or wholesale-replaces (PUT) the set of
// notice ids dropped before publication.
func (h *Handlers) HandleSuppressions(w http.ResponseWriter, r *http.Request) {
	if h.suppressions == nil {
		http.Error(w, "suppressions not available", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"msg_ids": h.suppressions.List()})
	case http.MethodPut:
		var req struct {
			MsgIDs []string `json:"msg_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.MsgIDs == nil {
			http.Error(w, "msg_ids required (use [] to clear)", http.StatusBadRequest)
			return
		}
		if err := h.suppressions.Replace(r.Context(), req.MsgIDs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"msg_ids": h.suppressions.List()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleEmoteInvalidate drops the cached third-party emote catalog so the
// next parsed line triggers a refetch. The cache has no TTL; this is the
// only way to pick up newly added channel emotes without a restart.
func (h *Handlers) HandleEmoteInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.emotes == nil {
		http.Error(w, "emote catalog not available", http.StatusServiceUnavailable)
		return
	}
	h.emotes.Invalidate()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "invalidated"})
}
