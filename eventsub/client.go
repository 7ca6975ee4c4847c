package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-tender/telemetry"
)

// DefaultURL is Twitch's EventSub websocket endpoint.
const DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

// Client owns one EventSub websocket lifecycle: connect, welcome, keepalive
// supervision, notification delivery, and subscription negotiation. Run
// reconnects with backoff until its context is canceled.
type Client struct {
	// URL defaults to DefaultURL.
	URL string
	// Creator posts subscription requests; required for negotiation.
	Creator SubscriptionCreator
	// BroadcasterID and UserID feed the condition candidates.
	BroadcasterID string
	UserID        string
	// Requests are the event types to register after each welcome.
	Requests []Request
	// OnNotification receives decoded notifications; may be nil.
	OnNotification func(Notification)
	// OnAuthFailure fires on a 401 during negotiation. The owner is
	// expected to invalidate the stored session/token, not just log.
	OnAuthFailure func()
	// Dialer overrides the websocket dialer for tests.
	Dialer *websocket.Dialer

	// now is stubbed in tests.
	now func() time.Time

	mu           sync.Mutex
	conn         *websocket.Conn
	sessionID    string
	lastTraffic  time.Time
	timeout      time.Duration
	attempts     int
	negotiations []*negotiation

	// negMu serializes negotiators. Each welcome spawns one, and a
	// negotiator from a burned session can still be blocked in a
	// subscription request when the next welcome arrives; only one may
	// touch the negotiation records at a time.
	negMu sync.Mutex
}

// NewClient builds a client with negotiation state for the given requests.
func NewClient(url string, creator SubscriptionCreator, broadcasterID, userID string, requests []Request) *Client {
	c := &Client{
		URL:           url,
		Creator:       creator,
		BroadcasterID: broadcasterID,
		UserID:        userID,
		Requests:      requests,
		now:           time.Now,
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	for _, r := range requests {
		c.negotiations = append(c.negotiations, &negotiation{req: r})
	}
	return c
}

// SessionID returns the current session id, empty when no welcome has been
// received on the live connection.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Run connects and supervises the socket until ctx is canceled. Each
// failure schedules a reconnect after ReconnectDelay(attempts); the count
// resets once the new session proves alive (welcome or keepalive).
func (c *Client) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("eventsub connection ended", slog.Any("err", err))
		}
		telemetry.SetEventSubSessionUp(false)
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.attempts++
		delay := ReconnectDelay(c.attempts)
		c.mu.Unlock()
		telemetry.IncEventSubReconnects()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce dials, starts the keepalive monitor, and pumps frames until the
// socket dies. The monitor closes the socket on prolonged silence, which
// surfaces here as a read error and triggers the ambient reconnect.
func (c *Client) runOnce(ctx context.Context) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial eventsub: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.sessionID = ""
	c.lastTraffic = c.now()
	c.timeout = defaultKeepaliveTimeout
	c.mu.Unlock()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go c.monitor(monitorCtx, conn)

	// ctx cancellation must unblock the read.
	go func() {
		<-monitorCtx.Done()
		_ = conn.Close()
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.sessionID = ""
			c.mu.Unlock()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handleEnvelope(ctx, env)
	}
}

// monitor runs the periodic silence check at half the advertised timeout
// (15s floor) and force-closes the socket when silence exceeds the timeout
// plus grace. Any inbound traffic counts as liveness, not just keepalives,
// so servers that interleave irregular notifications never false-trigger.
func (c *Client) monitor(ctx context.Context, conn *websocket.Conn) {
	for {
		c.mu.Lock()
		timeout := c.timeout
		last := c.lastTraffic
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(checkInterval(timeout)):
		}

		c.mu.Lock()
		timeout = c.timeout
		last = c.lastTraffic
		c.mu.Unlock()
		if keepaliveExpired(last, c.now(), timeout) {
			slog.Warn("eventsub keepalive expired, forcing reconnect",
				slog.Duration("silence", c.now().Sub(last)),
				slog.Duration("timeout", timeout))
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) handleEnvelope(ctx context.Context, env Envelope) {
	c.mu.Lock()
	c.lastTraffic = c.now()
	c.mu.Unlock()

	switch env.Metadata.MessageType {
	case TypeWelcome:
		var wp WelcomePayload
		if err := json.Unmarshal(env.Payload, &wp); err != nil {
			slog.Warn("eventsub welcome decode failed", slog.Any("err", err))
			return
		}
		c.mu.Lock()
		c.sessionID = wp.Session.ID
		if wp.Session.KeepaliveTimeoutSeconds > 0 {
			c.timeout = time.Duration(wp.Session.KeepaliveTimeoutSeconds) * time.Second
		}
		c.attempts = 0
		c.mu.Unlock()
		telemetry.SetEventSubSessionUp(true)
		slog.Info("eventsub session established",
			slog.String("session_id", wp.Session.ID),
			slog.Duration("keepalive_timeout", c.timeout))
		go c.negotiate(ctx, wp.Session.ID)
	case TypeKeepalive:
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
	case TypeNotification:
		var np NotificationPayload
		if err := json.Unmarshal(env.Payload, &np); err != nil {
			slog.Warn("eventsub notification decode failed", slog.Any("err", err))
			return
		}
		telemetry.IncEventSubNotifications(np.Subscription.Type)
		if c.OnNotification != nil {
			c.OnNotification(Notification{Type: np.Subscription.Type, Event: np.Event})
		}
	case TypeReconnect:
		// The server is about to drop us; close now and let Run redial.
		slog.Info("eventsub server requested reconnect")
		c.closeConn()
	case TypeRevocation:
		slog.Warn("eventsub subscription revoked",
			slog.String("type", env.Metadata.SubscriptionType))
	}
}

// negotiate registers each pending event type against the session. A shape
// rejection burns the current session on purpose: the backend only
// validates conditions at subscription time, so the next candidate needs a
// fresh session id to be tried cleanly.
func (c *Client) negotiate(ctx context.Context, sessionID string) {
	if c.Creator == nil {
		return
	}
	c.negMu.Lock()
	defer c.negMu.Unlock()
	if !c.sessionLive(sessionID) {
		return
	}
	candidates := conditionCandidates(c.BroadcasterID, c.UserID)
	for _, n := range c.negotiations {
		if n.state != negotiationPending {
			continue
		}
		for n.candidate < len(candidates) {
			cond := pruneCondition(candidates[n.candidate])
			if len(cond) == 0 {
				n.candidate++
				continue
			}
			status, body, err := c.Creator.CreateSubscription(ctx, n.req.Type, n.req.Version, sessionID, cond)
			if !c.sessionLive(sessionID) {
				// The session was replaced while the request was in
				// flight; the response applied to a dead session id, so
				// the successor's negotiator starts over from here.
				return
			}
			if err != nil {
				// Transport-level failure; the ambient cycle retries.
				slog.Warn("eventsub subscribe request failed", slog.String("type", n.req.Type), slog.Any("err", err))
				return
			}
			switch classifyResponse(status, body) {
			case outcomeDone:
				n.state = negotiationDone
				slog.Info("eventsub subscription active", slog.String("type", n.req.Type))
			case outcomeNextCandidate:
				n.candidate++
				if n.candidate >= len(candidates) {
					n.state = negotiationAbandoned
					slog.Warn("eventsub subscription exhausted condition shapes", slog.String("type", n.req.Type))
					continue
				}
				// Force a fresh session for the next shape.
				c.closeSession(sessionID)
				return
			case outcomeAuthFailure:
				slog.Warn("eventsub subscribe unauthorized; invalidating session", slog.String("type", n.req.Type))
				if c.OnAuthFailure != nil {
					c.OnAuthFailure()
				}
				n.state = negotiationAbandoned
				return
			case outcomeAbandon:
				n.state = negotiationAbandoned
				slog.Warn("eventsub subscription rejected", slog.String("type", n.req.Type), slog.Int("status", status))
			case outcomeRetryLater:
				slog.Warn("eventsub subscribe deferred", slog.String("type", n.req.Type), slog.Int("status", status))
				return
			}
			break
		}
	}
}

// sessionLive reports whether sessionID is still the current session.
func (c *Client) sessionLive(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID == sessionID
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// closeSession closes the socket only while sessionID is still the live
// session. A negotiation goroutine can outlive its connection; without
// this re-check a stale completion would tear down the successor.
func (c *Client) closeSession(sessionID string) {
	c.mu.Lock()
	conn := c.conn
	if c.sessionID != sessionID {
		conn = nil
	}
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// pruneCondition drops empty id values from a candidate shape.
func pruneCondition(cond map[string]string) map[string]string {
	out := make(map[string]string, len(cond))
	for k, v := range cond {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
