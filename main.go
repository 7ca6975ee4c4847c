// Command chat-tender is the main entrypoint for the chat backend.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Joins the configured Twitch chat room and archives messages.
//   - Maintains an EventSub websocket session when credentials allow.
//   - Exposes an HTTP server with the chat stream, health, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/chat-tender/chat"
	"github.com/onnwee/chat-tender/config"
	"github.com/onnwee/chat-tender/db"
	"github.com/onnwee/chat-tender/eventsub"
	"github.com/onnwee/chat-tender/irc"
	"github.com/onnwee/chat-tender/oauth"
	"github.com/onnwee/chat-tender/server"
	"github.com/onnwee/chat-tender/telemetry"
	"github.com/onnwee/chat-tender/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// App access token for Helix lookups (user ids, chatters, EventSub
	// subscriptions). NOT usable for IRC chat.
	var helix *twitchapi.HelixClient
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		helix = &twitchapi.HelixClient{
			ClientID: cfg.TwitchClientID,
			Token:    &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		}
	}

	// Resolve the broadcaster and bot user ids up front; both EventSub
	// conditions and the third-party emote catalog key off the numeric id.
	var broadcasterID, botUserID string
	if helix != nil && cfg.TwitchChannel != "" {
		lctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if id, err := helix.GetUserID(lctx, cfg.TwitchChannel); err != nil {
			slog.Warn("broadcaster id lookup failed", slog.String("channel", cfg.TwitchChannel), slog.Any("err", err))
		} else {
			broadcasterID = id
		}
		if cfg.TwitchBotUsername != "" {
			if id, err := helix.GetUserID(lctx, cfg.TwitchBotUsername); err != nil {
				slog.Warn("bot user id lookup failed", slog.String("login", cfg.TwitchBotUsername), slog.Any("err", err))
			} else {
				botUserID = id
			}
		}
		cancel()
	}

	// Suppression policy, persisted per message id.
	suppressions := chat.NewSuppressionStore(database)
	if err := suppressions.Load(ctx); err != nil {
		slog.Warn("suppression load failed, using defaults", slog.Any("err", err))
	}

	archive := &db.Archive{DB: database}

	// Third-party emote catalog feeds whole-word scan decoration in the parser.
	catalog := &twitchapi.EmoteCatalog{ChannelID: broadcasterID}
	parser := &irc.Parser{ThirdPartyEmotes: func() map[string]string {
		ectx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return catalog.Lookup(ectx)
	}}

	session := chat.NewSession(chat.Config{
		ServerAddr: cfg.IRCServerAddr,
		Username:   cfg.TwitchBotUsername,
		OAuthToken: cfg.TwitchOAuthToken,
	}, parser, suppressions, archive)

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat connection disabled", slog.Any("reason", err))
	} else {
		go session.Run(ctx, cfg.TwitchChannel)
	}

	// Mirror moderation deletions into the archive so history replays match
	// what a live viewer would see.
	go func() {
		ids, cancel := session.DeletedIDs.Subscribe(64)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-ids:
				if err := archive.MarkDeleted(ctx, id); err != nil {
					slog.Warn("archive delete mark failed", slog.String("msg_id", id), slog.Any("err", err))
				}
			}
		}
	}()
	go func() {
		authors, cancel := session.DeletedAuthors.Subscribe(16)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case login := <-authors:
				if err := archive.MarkAuthorDeleted(ctx, session.RoomName(), login); err != nil {
					slog.Warn("archive author delete mark failed", slog.String("login", login), slog.Any("err", err))
				}
			}
		}
	}()

	// Seed the roster from the privileged chatters endpoint once per
	// connection. A 401/403 (non-moderator token) is expected; the
	// membership lines then stand alone.
	if helix != nil && broadcasterID != "" && botUserID != "" {
		go func() {
			states, cancel := session.State.Watch(8)
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case st := <-states:
					if st != chat.StateConnected {
						continue
					}
					cctx, ccancel := context.WithTimeout(ctx, 10*time.Second)
					chatters, err := helix.GetChatters(cctx, broadcasterID, botUserID)
					ccancel()
					if err != nil {
						if twitchapi.IsPermissionError(err) {
							slog.Debug("chatters fetch not permitted; using membership roster only")
						} else {
							slog.Warn("chatters fetch failed", slog.Any("err", err))
						}
						continue
					}
					session.SeedMembers(chatters)
				}
			}
		}()
	}

	// EventSub websocket session, when the Helix app credentials and a
	// broadcaster id are available.
	var esClient *eventsub.Client
	if cfg.EventSubReady() && helix != nil && broadcasterID != "" {
		var requests []eventsub.Request
		for _, topic := range cfg.EventSubTopics {
			requests = append(requests, eventsub.Request{Type: topic, Version: "1"})
		}
		esClient = eventsub.NewClient(cfg.EventSubURL, helix, broadcasterID, botUserID, requests)
		esClient.OnNotification = func(n eventsub.Notification) {
			slog.Info("eventsub notification", slog.String("type", n.Type))
		}
		esClient.OnAuthFailure = func() {
			slog.Error("eventsub subscription rejected with 401; app credentials need attention")
		}
		go esClient.Run(ctx)
	} else {
		slog.Info("eventsub disabled (missing client credentials, channel, or topics)")
	}

	// Centralized OAuth token refresher for the user token obtained via
	// /auth/twitch/start.
	oauthCfg := twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.Scopes())
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := twitchapi.RefreshToken(rctx, oauthCfg, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(cfg.Scopes(), " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (chat stream, health/status, metrics)
	go func() {
		deps := server.Deps{
			Config:       cfg,
			DB:           database,
			Session:      session,
			Suppressions: suppressions,
			Archive:      archive,
			EventSub:     esClient,
			Emotes:       catalog,
		}
		if err := server.Start(ctx, deps, cfg.ListenAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
