// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinesReceived      prometheus.Counter
	ParseFailures      prometheus.Counter
	NoticesSuppressed  prometheus.Counter
	ChatReconnects     prometheus.Counter
	EventSubReconnects prometheus.Counter

	EventsPublished       *prometheus.CounterVec
	EventSubNotifications *prometheus.CounterVec

	// Histograms (seconds)
	HelixRequestDuration prometheus.Observer

	// Gauges
	ConnectionStateGauge prometheus.Gauge // numeric ConnectionState value
	MembershipGauge      prometheus.Gauge
	EventSubSessionGauge prometheus.Gauge // 1=session established, 0=down
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_lines_received_total", Help: "Raw IRC lines received"})
		ParseFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_parse_failures_total", Help: "Chat-bearing lines the parser rejected (salvage path taken)"})
		NoticesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_notices_suppressed_total", Help: "Notices dropped by the suppression policy"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "IRC reconnect attempts"})
		EventSubReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "eventsub_reconnects_total", Help: "EventSub socket reconnect attempts"})
		EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_events_published_total", Help: "Chat events published, by kind"}, []string{"kind"})
		EventSubNotifications = promauto.NewCounterVec(prometheus.CounterOpts{Name: "eventsub_notifications_total", Help: "EventSub notifications received, by type"}, []string{"type"})
		HelixRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "helix_request_duration_seconds", Help: "Helix API request duration seconds", Buckets: prometheus.DefBuckets})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_connection_state", Help: "Chat connection state (0=disconnected 1=connecting 2=connected 3=error)"})
		MembershipGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_membership_size", Help: "Current number of known chatters in the room"})
		EventSubSessionGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "eventsub_session_up", Help: "EventSub session established=1 down=0"})
	})
}

// IncLinesReceived counts one raw wire line.
func IncLinesReceived() {
	if LinesReceived != nil {
		LinesReceived.Inc()
	}
}

// IncParseFailures counts one salvaged chat line.
func IncParseFailures() {
	if ParseFailures != nil {
		ParseFailures.Inc()
	}
}

// IncNoticesSuppressed counts one suppressed notice.
func IncNoticesSuppressed() {
	if NoticesSuppressed != nil {
		NoticesSuppressed.Inc()
	}
}

// IncChatReconnects counts one IRC reconnect attempt.
func IncChatReconnects() {
	if ChatReconnects != nil {
		ChatReconnects.Inc()
	}
}

// IncEventSubReconnects counts one EventSub reconnect attempt.
func IncEventSubReconnects() {
	if EventSubReconnects != nil {
		EventSubReconnects.Inc()
	}
}

// IncEventsPublished counts one published chat event by kind.
func IncEventsPublished(kind string) {
	if EventsPublished != nil {
		EventsPublished.WithLabelValues(kind).Inc()
	}
}

// IncEventSubNotifications counts one received notification by type.
func IncEventSubNotifications(eventType string) {
	if EventSubNotifications != nil {
		EventSubNotifications.WithLabelValues(eventType).Inc()
	}
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(state int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.Set(float64(state))
	}
}

// SetMembershipSize records the current roster size.
func SetMembershipSize(n int) {
	if MembershipGauge != nil {
		MembershipGauge.Set(float64(n))
	}
}

// SetEventSubSessionUp records whether an EventSub session is established.
func SetEventSubSessionUp(up bool) {
	if EventSubSessionGauge != nil {
		if up {
			EventSubSessionGauge.Set(1)
		} else {
			EventSubSessionGauge.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
