// Package main runs the payment layer HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/ledgerworks/payment_layer/internal/app"
	"github.com/ledgerworks/payment_layer/internal/app/httpapi"
	"github.com/ledgerworks/payment_layer/internal/app/notify"
	"github.com/ledgerworks/payment_layer/internal/app/storage/postgres"
	"github.com/ledgerworks/payment_layer/internal/config"
	"github.com/ledgerworks/payment_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("main").Errorf("load config: %v", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.Errorf("connect database: %v", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := postgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Errorf("ensure schema: %v", err)
			os.Exit(1)
		}
		stores.Services = pg
		stores.Payments = pg
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	var notifier notify.Notifier
	if cfg.Mailer.URL != "" {
		notifier = notify.NewMailerClient(notify.MailerConfig{
			BaseURL:    cfg.Mailer.URL,
			Timeout:    time.Duration(cfg.Mailer.TimeoutSec) * time.Second,
			MaxRetries: cfg.Mailer.MaxRetries,
		})
	} else {
		log.Warn("EMAIL_SERVICE_URL not set; notifications disabled")
	}

	application, err := app.New(stores, app.Options{
		Notifier:       notifier,
		ExportDir:      cfg.Export.Dir,
		ExportSchedule: cfg.Export.Schedule,
	}, log)
	if err != nil {
		log.Errorf("build application: %v", err)
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.Errorf("start application: %v", err)
		os.Exit(1)
	}

	limiter := httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	handler := limiter.Handler(httpapi.NewHandler(application, log))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("payment server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Errorf("server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Warnf("application stop: %v", err)
	}
}
