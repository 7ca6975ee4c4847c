package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/onnwee/chat-tender/irc"
)

// Archive persists published chat events so a restart does not lose the
// room's recent history. It implements chat.Archiver.
type Archive struct{ DB *sql.DB }

// SaveEvent inserts one published event. Emote spans are stored as JSON;
// badge names joined with commas, mirroring their tag form.
func (a *Archive) SaveEvent(ctx context.Context, channel string, ev irc.ChatEvent) error {
	var emotes []byte
	if len(ev.Emotes) > 0 {
		b, err := json.Marshal(ev.Emotes)
		if err != nil {
			return err
		}
		emotes = b
	}
	_, err := a.DB.ExecContext(ctx, `INSERT INTO chat_messages
		(channel, msg_id, username, user_login, message, kind, color, badges, emotes, reply_to_id, reply_to_username, reply_to_message)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		channel, ev.ID, ev.Author, ev.AuthorLogin, ev.Text, ev.Kind.String(), ev.AuthorColor,
		strings.Join(ev.BadgeNames, ","), string(emotes),
		ev.ReplyParentID, ev.ReplyParentLogin, ev.ReplyParentBody)
	return err
}

// MarkDeleted flags one archived message by its msg id.
func (a *Archive) MarkDeleted(ctx context.Context, msgID string) error {
	_, err := a.DB.ExecContext(ctx,
		`UPDATE chat_messages SET deleted = TRUE WHERE msg_id = $1`, msgID)
	return err
}

// MarkAuthorDeleted flags all archived messages from one login in a
// channel, matching a chat-wide clear of that user.
func (a *Archive) MarkAuthorDeleted(ctx context.Context, channel, login string) error {
	_, err := a.DB.ExecContext(ctx,
		`UPDATE chat_messages SET deleted = TRUE WHERE channel = $1 AND LOWER(user_login) = LOWER($2)`,
		channel, login)
	return err
}

// ArchivedMessage is one row of stored history, shaped for the history API.
type ArchivedMessage struct {
	MsgID     string    `json:"id"`
	Username  string    `json:"author"`
	UserLogin string    `json:"author_login,omitempty"`
	Message   string    `json:"text"`
	Kind      string    `json:"kind"`
	Color     string    `json:"color,omitempty"`
	Badges    string    `json:"badges,omitempty"`
	Emotes    string    `json:"emotes,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRecent returns the newest messages for a channel, oldest first so
// clients can append in order. Deleted messages are included with the flag
// set and their kind rewritten to deleted; the client decides how to
// render them.
func (a *Archive) ListRecent(ctx context.Context, channel string, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.DB.QueryContext(ctx, `SELECT msg_id, username, user_login, message, kind,
		COALESCE(color,''), COALESCE(badges,''), COALESCE(emotes,''), deleted, created_at
		FROM chat_messages WHERE channel = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.MsgID, &m.Username, &m.UserLogin, &m.Message, &m.Kind,
			&m.Color, &m.Badges, &m.Emotes, &m.Deleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Deleted {
			m.Kind = irc.EventDeleted.String()
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListSince returns messages for a channel newer than since, oldest first,
// capped at limit. Used by history reads with an explicit range start.
func (a *Archive) ListSince(ctx context.Context, channel string, since time.Time, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.DB.QueryContext(ctx, `SELECT msg_id, username, user_login, message, kind,
		COALESCE(color,''), COALESCE(badges,''), COALESCE(emotes,''), deleted, created_at
		FROM chat_messages WHERE channel = $1 AND created_at > $2
		ORDER BY created_at ASC, id ASC LIMIT $3`,
		channel, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.MsgID, &m.Username, &m.UserLogin, &m.Message, &m.Kind,
			&m.Color, &m.Badges, &m.Emotes, &m.Deleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Deleted {
			m.Kind = irc.EventDeleted.String()
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
