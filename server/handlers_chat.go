package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dbpkg "github.com/onnwee/chat-tender/db"
)

// sseEvent writes one named SSE event with a JSON payload.
func sseEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// HandleChatStream streams the live room over Server-Sent Events: published
// messages, deletions, poll updates, and room state changes, each as a named
// event. The subscription starts at connect time; use /chat/history to
// backfill.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancelEvents := h.session.Events.Subscribe(64)
	defer cancelEvents()
	deleted, cancelDeleted := h.session.DeletedIDs.Subscribe(16)
	defer cancelDeleted()
	purged, cancelPurged := h.session.DeletedAuthors.Subscribe(16)
	defer cancelPurged()
	polls, cancelPolls := h.session.Polls.Subscribe(16)
	defer cancelPolls()
	room, cancelRoom := h.session.Room.Watch(4)
	defer cancelRoom()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			err = sseEvent(w, flusher, "message", ev)
		case id, ok := <-deleted:
			if !ok {
				return
			}
			err = sseEvent(w, flusher, "delete", map[string]string{"id": id})
		case login, ok := <-purged:
			if !ok {
				return
			}
			err = sseEvent(w, flusher, "delete_author", map[string]string{"author_login": login})
		case p, ok := <-polls:
			if !ok {
				return
			}
			err = sseEvent(w, flusher, "poll", p)
		case rs, ok := <-room:
			if !ok {
				return
			}
			err = sseEvent(w, flusher, "room", rs)
		}
		if err != nil {
			slog.Debug("sse client gone", slog.Any("err", err))
			return
		}
	}
}

// HandleChatState returns a JSON snapshot of the session: connection state,
// room modes, member roster, and the local moderator bit.
func (h *Handlers) HandleChatState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	room, _ := h.session.Room.Get()
	members, _ := h.session.Members.Get()
	isMod, _ := h.session.ModFlag.Get()
	out := map[string]any{
		"connection":   h.session.CurrentState().String(),
		"channel":      h.session.RoomName(),
		"room":         room,
		"members":      members,
		"member_count": len(members),
		"is_moderator": isMod,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleChatHistory returns recent archived messages for the joined channel.
func (h *Handlers) HandleChatHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.archive == nil {
		http.Error(w, "history not available", http.StatusServiceUnavailable)
		return
	}
	channel := r.URL.Query().Get("channel")
	if channel == "" && h.session != nil {
		channel = h.session.RoomName()
	}
	limit := parseIntQuery(r, "limit", 100)
	var msgs []dbpkg.ArchivedMessage
	var err error
	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		since, perr := time.Parse(time.RFC3339, sinceParam)
		if perr != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		msgs, err = h.archive.ListSince(r.Context(), channel, since, limit)
	} else {
		msgs, err = h.archive.ListRecent(r.Context(), channel, limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []dbpkg.ArchivedMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msgs)
}

// HandleChatSend posts a message (optionally a threaded reply) to the room.
func (h *Handlers) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Text    string `json:"text"`
		ReplyTo string `json:"reply_to,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.session.SendMessage(req.Text, req.ReplyTo); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}

// HandleChatModerate forwards a moderation command (slash-prefixed) to the
// room. Requires the local identity to hold the moderator bit.
func (h *Handlers) HandleChatModerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	if isMod, _ := h.session.ModFlag.Get(); !isMod {
		http.Error(w, "not a moderator", http.StatusForbidden)
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(req.Command, "/") {
		http.Error(w, "command must start with /", http.StatusBadRequest)
		return
	}
	if err := h.session.SendModeration(req.Command); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}

// HandleStatus reports a coarse overview of all subsystems.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{
		"chat":           "disabled",
		"eventsub":       "disabled",
		"database":       h.db != nil,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	if h.session != nil {
		members, _ := h.session.Members.Get()
		out["chat"] = h.session.CurrentState().String()
		out["channel"] = h.session.RoomName()
		out["member_count"] = len(members)
		if room, ok := h.session.Room.Get(); ok {
			out["room"] = room
		}
	}
	if h.events != nil {
		if id := h.events.SessionID(); id != "" {
			out["eventsub"] = "connected"
			out["eventsub_session"] = id
		} else {
			out["eventsub"] = "connecting"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
