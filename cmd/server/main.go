package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/ytakahashi/line-todo-sync/internal/config"
	"github.com/ytakahashi/line-todo-sync/internal/handlers"
	"github.com/ytakahashi/line-todo-sync/internal/livesync"
	"github.com/ytakahashi/line-todo-sync/internal/logger"
	"github.com/ytakahashi/line-todo-sync/internal/services"
	"github.com/ytakahashi/line-todo-sync/internal/sse"
	"github.com/ytakahashi/line-todo-sync/internal/store"
	"github.com/ytakahashi/line-todo-sync/internal/store/badgerstore"
	"github.com/ytakahashi/line-todo-sync/internal/validation"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{
		Environment: cfg.App.Environment,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment != "production",
	})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, closeStore, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	events := sse.NewManager(log, cfg.Server.SSEHeartbeat)
	hub := livesync.NewHub(docs, log, livesync.WithOnChange(func(ownerID string, v livesync.View) {
		events.EmitToOwner(ownerID, sse.NewViewEvent(ownerID, v, v.Version))
	}))
	defer hub.Close()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.ErrorHandler(log)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "ok",
			"backend":  cfg.Store.Backend,
			"sessions": hub.Len(),
			"clients":  events.ClientCount(),
		})
	})

	stream := sse.NewHandler(events, log, func(ownerID string) (any, uint64, error) {
		sess, err := hub.Session(ownerID)
		if err != nil {
			return nil, 0, err
		}
		v := sess.View()
		return v, v.Version, nil
	})
	handlers.NewAPIHandler(hub, stream, validation.New(), log).Register(e.Group("/api/v1"))

	if cfg.LINE.Enabled() {
		bot, err := messaging_api.NewMessagingApiAPI(cfg.LINE.ChannelToken)
		if err != nil {
			return fmt.Errorf("failed to create LINE bot client: %w", err)
		}
		webhookHandler := handlers.NewWebhookHandler(bot, cfg.LINE.ChannelSecret, hub, log)
		e.POST("/webhook", webhookHandler.HandleWebhook)
	} else {
		log.Info("LINE webhook disabled: LINE_CHANNEL_TOKEN or LINE_CHANNEL_SECRET not set")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events.Start(gctx)
		return nil
	})

	g.Go(func() error {
		evictIdleSessions(gctx, hub, events, cfg.Server.SessionIdleTimeout)
		return nil
	})

	g.Go(func() error {
		log.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.App.Environment),
			slog.String("store", cfg.Store.Backend))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Streams hold their connections open, so they are closed before the
		// HTTP server waits for in-flight requests.
		if err := events.Shutdown(shutdownCtx); err != nil {
			log.Warn("SSE shutdown incomplete", slog.String("error", err.Error()))
		}
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// evictIdleSessions releases sessions unused for idle whose owner has no
// open event stream, until ctx is done.
func evictIdleSessions(ctx context.Context, hub *livesync.Hub, events *sse.Manager, idle time.Duration) {
	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hub.EvictIdle(idle, events.HasClients)
		case <-ctx.Done():
			return
		}
	}
}

// openStore opens the configured document store and returns its closer.
func openStore(cfg config.StoreConfig, log *slog.Logger) (store.DocumentStore, func() error, error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		fs, err := services.NewFirestoreService(context.Background(), cfg.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using firestore document store", slog.String("project", cfg.ProjectID))
		return fs, fs.Close, nil
	default:
		bs, err := badgerstore.Open(badgerstore.Options{Path: cfg.BadgerPath, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.Close, nil
	}
}
