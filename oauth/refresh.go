// Package oauth keeps provider tokens in the oauth_tokens table fresh. A
// background refresher wakes on a jittered interval and renews any token
// whose remaining lifetime has fallen inside the configured window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// RefreshFunc exchanges a refresh token for new credentials and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically checks the provider's
// token row and refreshes it when its expiry is within window. The interval
// is jittered so multiple instances sharing a database do not stampede.
func StartRefresher(ctx context.Context, db *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	go func() {
		//nolint:gosec // G404: scheduling jitter, not security
		start := time.Duration(rand.Int63n(int64(interval / 2)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(start):
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitteredInterval(interval)):
			}
			refreshOnce(ctx, db, provider, window, fn)
		}
	}()
}

// jitteredInterval spreads wakeups by up to 20% either way, never dropping
// below half the base interval.
func jitteredInterval(interval time.Duration) time.Duration {
	span := int64(interval / 5)
	//nolint:gosec // G404: scheduling jitter, not security
	next := interval + time.Duration(rand.Int63n(span*2)-span)
	if next < interval/2 {
		next = interval / 2
	}
	return next
}

// refreshOnce renews the provider's token if it expires within window.
// It reports whether a new token was persisted.
func refreshOnce(ctx context.Context, db *sql.DB, provider string, window time.Duration, fn RefreshFunc) bool {
	row := db.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at, scope
		FROM oauth_tokens WHERE provider=$1 LIMIT 1`, provider)
	var access, refresh, scope string
	var expiry time.Time
	if err := row.Scan(&access, &refresh, &expiry, &scope); err != nil {
		return false
	}
	if refresh == "" || time.Until(expiry) > window {
		return false
	}

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAccess, newRefresh, newExpiry, newScope, err := fn(rctx, refresh)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return false
	}
	// Providers may omit the rotated refresh token or scope; keep the old ones.
	if newRefresh == "" {
		newRefresh = refresh
	}
	if newScope == "" {
		newScope = scope
	}
	_, err = db.ExecContext(ctx, `UPDATE oauth_tokens SET access_token=$1, refresh_token=$2,
		expires_at=$3, scope=$4, updated_at=NOW() WHERE provider=$5`,
		newAccess, newRefresh, newExpiry, strings.TrimSpace(newScope), provider)
	if err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return false
	}
	slog.Info("token refreshed", slog.String("provider", provider))
	return true
}
