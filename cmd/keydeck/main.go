package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/dmaloy/keydeck/internal/adapter/driven/envpublisher"
	"github.com/dmaloy/keydeck/internal/adapter/driven/factory"
	"github.com/dmaloy/keydeck/internal/adapter/driven/mcp"
	sqliteadapter "github.com/dmaloy/keydeck/internal/adapter/driven/sqlite"
	httphandler "github.com/dmaloy/keydeck/internal/adapter/driving/http"
	"github.com/dmaloy/keydeck/internal/application"
	"github.com/dmaloy/keydeck/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"rotation_interval", cfg.RotationInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	blobStore := sqliteadapter.NewBlobRepo(db)

	var quotaClient *factory.Client
	if cfg.QuotaBaseURL != "" {
		quotaClient = factory.NewClientWithHTTPClient(&http.Client{Timeout: 30 * time.Second}, cfg.QuotaBaseURL)
	} else {
		quotaClient = factory.NewClient()
	}

	publisher, err := envpublisher.NewPublisher()
	if err != nil {
		return err
	}

	mcpEditor, err := mcp.NewEditor()
	if err != nil {
		return err
	}

	// 6. Create key service, restore persisted state, reconcile the active
	// flag against what the environment actually exports.
	keySvc := application.NewKeyService(quotaClient, publisher, blobStore, cfg.FetchTimeout)
	if err := keySvc.Load(ctx); err != nil {
		return err
	}
	if err := keySvc.Reconcile(ctx); err != nil {
		slog.Warn("reconcile against environment failed", "error", err)
	}

	// 7. Create rotation scheduler and arm it for the current active key.
	scheduler := application.NewRotationScheduler(cfg.RotationInterval, keySvc.Refresh)
	keySvc.SetActiveChangeListener(scheduler.Observe)
	if id, ok := keySvc.ActiveID(); ok {
		scheduler.Observe(id, true)
	}
	defer scheduler.Disarm()

	// 8. Create HTTP handler and server.
	apiHandler := httphandler.NewHandler(keySvc, scheduler, mcpEditor, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
