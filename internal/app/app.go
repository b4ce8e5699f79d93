// Package app wires configuration, storage, the dispatch engine and
// the HTTP API into one runnable unit.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailburst/mailburst/internal/api"
	"github.com/mailburst/mailburst/internal/config"
	"github.com/mailburst/mailburst/internal/dispatch"
	"github.com/mailburst/mailburst/internal/events"
	"github.com/mailburst/mailburst/internal/metrics"
	"github.com/mailburst/mailburst/internal/render"
	"github.com/mailburst/mailburst/internal/sentinel"
	"github.com/mailburst/mailburst/internal/smtpx"
	"github.com/mailburst/mailburst/internal/store"
	"github.com/mailburst/mailburst/internal/vault"
)

// App is the main application
type App struct {
	config    *config.Config
	db        *store.DB
	vault     *vault.Vault
	scheduler *dispatch.Scheduler
	apiServer *api.Server
	logger    *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	m := metrics.New()
	metrics.SetGlobal(m)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	v, err := vault.Open(cfg.Database.VaultPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	servers := store.NewServerRepository(db)
	emails := store.NewEmailRepository(db)
	templates := store.NewTemplateRepository(db)

	broadcaster := events.NewBroadcaster(cfg.Dispatch.EventBufferSize)
	renderer := render.New(v)
	snt := sentinel.New(cfg.Sentinel.Keywords, cfg.Sentinel.Codes)

	dialer := smtpx.NewDialer(
		cfg.SMTP.Timeout,
		cfg.SMTP.HelloDomain,
		cfg.SMTP.TLSSkipVerify,
		logger.With("component", "smtp_client"),
	)

	scheduler := dispatch.New(
		servers,
		emails,
		renderer,
		snt,
		broadcaster,
		&connDialer{dialer: dialer},
		logger.With("component", "dispatch"),
	)

	apiServer := api.NewServer(api.Deps{
		Scheduler:   scheduler,
		Servers:     servers,
		Emails:      emails,
		Templates:   templates,
		Vault:       v,
		Broadcaster: broadcaster,
		Dialer:      dialer,
		Metrics:     m,
		Auth:        cfg.Auth,
		Defaults:    cfg.Dispatch,
		ListenAddr:  cfg.Server.ListenAddr,
		Version:     version,
		Logger:      logger.With("component", "api"),
	})

	return &App{
		config:    cfg,
		db:        db,
		vault:     v,
		scheduler: scheduler,
		apiServer: apiServer,
		logger:    logger,
	}, nil
}

// connDialer adapts the concrete SMTP dialer to the scheduler's
// interface.
type connDialer struct {
	dialer *smtpx.Dialer
}

func (d *connDialer) Dial(cfg store.ServerConfig) (dispatch.Conn, error) {
	return d.dialer.Dial(cfg)
}

// Run starts the API server and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailburst",
		"addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"vault", a.config.Database.VaultPath,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting new work and wait for in-flight sends and their
	// history writes before closing storage underneath them.
	a.scheduler.Stop()
	if err := a.scheduler.Wait(shutdownCtx); err != nil {
		a.logger.Error("bulk job did not finish before deadline", "error", err)
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if err := a.vault.Close(); err != nil {
		a.logger.Error("vault close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
