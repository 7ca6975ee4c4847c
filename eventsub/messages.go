// Package eventsub maintains the Twitch EventSub websocket session: welcome
// handling, keepalive supervision with forced reconnect, linear backoff, and
// best-effort subscription negotiation against a backend whose condition
// validation is only discoverable by trial.
package eventsub

import (
	"encoding/json"
	"time"
)

// Message types carried in envelope metadata.
const (
	TypeWelcome      = "session_welcome"
	TypeKeepalive    = "session_keepalive"
	TypeNotification = "notification"
	TypeReconnect    = "session_reconnect"
	TypeRevocation   = "revocation"
)

// Metadata describes one websocket frame.
type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// Envelope is the outer JSON shape of every EventSub frame.
type Envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// WelcomePayload carries the session id and the keepalive timeout hint.
type WelcomePayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

// NotificationPayload wraps an asynchronous event delivery.
type NotificationPayload struct {
	Subscription struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

// Notification is the decoded form handed to the consumer callback.
type Notification struct {
	Type  string
	Event json.RawMessage
}
