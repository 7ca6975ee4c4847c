// Package server exposes the HTTP API: health, status, metrics, and the live
// chat surface used by the frontend. It includes permissive CORS for
// development and injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/onnwee/chat-tender/chat"
	"github.com/onnwee/chat-tender/config"
	dbpkg "github.com/onnwee/chat-tender/db"
	"github.com/onnwee/chat-tender/eventsub"
	"github.com/onnwee/chat-tender/telemetry"
	"github.com/onnwee/chat-tender/twitchapi"
)

// Deps bundles the subsystems the HTTP surface exposes. Nil members disable
// their routes gracefully.
type Deps struct {
	Config       *config.Config
	DB           *sql.DB
	Session      *chat.Session
	Suppressions *chat.SuppressionStore
	Archive      *dbpkg.Archive
	EventSub     *eventsub.Client
	Emotes       *twitchapi.EmoteCatalog
}

// mutatingEndpoints are rate limited and, when admin auth is configured,
// protected by it.
var mutatingEndpoints = map[string]bool{
	"/chat/send":                  true,
	"/chat/moderate":              true,
	"/settings/suppressions":      true,
	"/settings/emotes/invalidate": true,
}

// NewMux returns the HTTP handler with all routes.
// The provided context is used for rate limiter cleanup goroutine lifecycle.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	handlers := NewHandlers(deps.Config, deps.DB, deps.Session, deps.Suppressions, deps.Archive, deps.EventSub, deps.Emotes)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// OAuth endpoints
	mux.HandleFunc("/auth/twitch/start", handlers.HandleTwitchOAuthStart)
	mux.HandleFunc("/auth/twitch/callback", handlers.HandleTwitchOAuthCallback)

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Status endpoint
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Chat endpoints
	mux.HandleFunc("/chat/stream", handlers.HandleChatStream)
	mux.HandleFunc("/chat/state", handlers.HandleChatState)
	mux.HandleFunc("/chat/history", handlers.HandleChatHistory)
	mux.HandleFunc("/chat/send", handlers.HandleChatSend)
	mux.HandleFunc("/chat/moderate", handlers.HandleChatModerate)

	// Settings endpoints
	mux.HandleFunc("/settings/suppressions", handlers.HandleSuppressions)
	mux.HandleFunc("/settings/emotes/invalidate", handlers.HandleEmoteInvalidate)

	// Mutating endpoints get auth (when configured) plus rate limiting;
	// everything else passes through.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mutatingEndpoints[r.URL.Path] && r.Method != http.MethodGet {
			adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		// Start tracing span if enabled
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.url", r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrappedWriter.statusCode))
		if wrappedWriter.statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, deps),
		ReadTimeout: 5 * time.Second,
		// SSE connections stay open; WriteTimeout would sever them.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
