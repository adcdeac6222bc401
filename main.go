// Command kicklite is the local daemon behind the Kick livestream client.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Restores the persisted OAuth session and schedules token refreshes.
//   - Shares live chat relay sessions among HTTP subscribers, optionally
//     keeping one channel's chat warm in the background.
//   - Exposes a local HTTP API with sign-in, channel browsing, chat
//     streaming, /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kicklite/kicklite/auth"
	"github.com/kicklite/kicklite/chat"
	"github.com/kicklite/kicklite/config"
	"github.com/kicklite/kicklite/crypto"
	"github.com/kicklite/kicklite/db"
	"github.com/kicklite/kicklite/emotes"
	"github.com/kicklite/kicklite/kickapi"
	"github.com/kicklite/kicklite/server"
	"github.com/kicklite/kicklite/telemetry"
	"github.com/kicklite/kicklite/userdata"
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
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("kicklite", "1.0.0")
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

	// Versioned migrations first; fall back to the embedded SQL for setups
	// predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session storage encrypts token blobs at rest when a key is configured.
	var enc crypto.Encryptor
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		enc, err = crypto.NewAESEncryptor(key)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("session encryption enabled")
	} else {
		slog.Warn("ENCRYPTION_KEY not set; session tokens stored in plaintext")
	}

	// Auth: persisted session + proxy-brokered exchanges + bearer credential
	// shared with the Kick API client.
	creds := &kickapi.BearerCredential{}
	mgr := auth.NewManager(auth.ManagerConfig{
		Store:        &auth.Store{DB: database, Enc: enc},
		Proxy:        &auth.ProxyClient{BaseURL: cfg.ProxyURL},
		Creds:        creds,
		ClientID:     cfg.KickClientID,
		AuthorizeURL: cfg.KickAuthorizeURL,
		Scopes:       cfg.KickScopes,
		RedirectURI:  cfg.KickRedirectURI,
		ProxyURL:     cfg.ProxyURL,
	})
	bootCtx, cancelBoot := context.WithTimeout(ctx, 15*time.Second)
	mgr.Bootstrap(bootCtx)
	cancelBoot()

	kick := &kickapi.Client{
		BaseURL:   cfg.KickAPIBaseURL,
		SearchURL: cfg.SearchURL,
		SearchKey: cfg.SearchKey,
		Creds:     creds,
	}

	hub := chat.NewHub(chat.HubConfig{
		Resolver:          kick,
		Emotes:            &emotes.Client{BaseURL: cfg.SevenTVBaseURL},
		RelayURL:          cfg.RelayURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
	})

	// Background watcher: keeps the configured channel's chat warm while live.
	if cfg.ChatAutoChannel != "" {
		go chat.StartSupervisor(ctx, hub, kick, cfg.ChatAutoChannel)
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	deps := server.Deps{
		DB:    database,
		Auth:  mgr,
		Kick:  kick,
		Hub:   hub,
		Users: &userdata.Store{DB: database},
	}
	go func() {
		if err := server.Start(ctx, deps, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
