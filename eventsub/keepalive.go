package eventsub

import (
	"time"
)

const (
	// defaultKeepaliveTimeout applies until the welcome advertises one.
	defaultKeepaliveTimeout = 90 * time.Second
	// keepaliveGrace is added on top of the advertised timeout before a
	// silent connection is declared dead.
	keepaliveGrace = 30 * time.Second
	// minCheckInterval floors how often the background check runs.
	minCheckInterval = 15 * time.Second
	// reconnectBaseDelay and reconnectMaxDelay bound the backoff schedule.
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// keepaliveExpired reports whether silence since last exceeds the advertised
// timeout plus the fixed grace period. Strictly greater: silence exactly at
// the threshold does not trigger.
func keepaliveExpired(last, now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = defaultKeepaliveTimeout
	}
	return now.Sub(last) > timeout+keepaliveGrace
}

// checkInterval is half the advertised timeout, floored at 15s. Checking at
// half the timeout guarantees at most one missed period before the expiry
// test can fire, without spinning on short timeouts.
func checkInterval(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultKeepaliveTimeout
	}
	iv := timeout / 2
	if iv < minCheckInterval {
		iv = minCheckInterval
	}
	return iv
}

// ReconnectDelay is the backoff before reconnect attempt n (1-based):
// min(2s x n, 60s). Attempt counts reset on any welcome or keepalive.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := time.Duration(attempt) * reconnectBaseDelay
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}
