package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/config"
	"github.com/dukerupert/mise/internal/database"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/logging"
	"github.com/dukerupert/mise/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// Without a database the directory still serves sample data.
	var primary backend.Store
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database unavailable, serving sample data", "error", err)
		primary = backend.Offline{Reason: err}
	} else {
		defer db.Close()
		primary = sqlStore(db, cfg)
	}

	var mailer email.Sender = email.LogSender{Logger: logger.With("component", "email")}
	client := email.NewClient(cfg.PostmarkToken, cfg.FromEmail,
		email.WithReplyTo(cfg.ReplyTo),
		email.WithMessageStream(cfg.EmailStream),
	)
	if client.Configured() {
		mailer = client
	} else {
		logger.Warn("postmark not configured, emails will be logged")
	}
	if !cfg.BillingEnabled() {
		logger.Warn("stripe not configured, checkout and webhooks disabled")
	}

	srv, err := server.New(primary, cfg, mailer, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	if len(cfg.AdminEmails) == 0 {
		logger.Warn("no admin emails configured, admin console disabled")
	} else {
		bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if n, err := srv.BootstrapAdmins(bootCtx); err != nil {
			logger.Error("bootstrap admin identities", "error", err)
		} else if n > 0 {
			logger.Info("bootstrapped admin identities", "count", n)
		}
		bootCancel()
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.Sessions().DeleteExpiredSessions(cleanupCtx); err != nil {
					logger.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired sessions", "count", n)
				}
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					logger.Debug("cleaned up rate limit windows", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("mise starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func sqlStore(db *sql.DB, cfg config.Config) *backend.SQLStore {
	dialect := backend.SQLite
	if database.IsPostgres(cfg.DatabaseURL) {
		dialect = backend.Postgres
	}
	return backend.NewSQLStore(db, dialect, cfg.BackendTimeout)
}
