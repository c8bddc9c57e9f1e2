// Command posd is the POS terminal backend. One process serves one till: it
// owns the terminal-local SQLite state (draft session, crash sentinel, print
// queue), talks to the shared restaurant database for dine-in tabs when
// configured, and exposes the HTTP API consumed by the till UI.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-pos-backend/internal/config"
	"github.com/tbourn/go-pos-backend/internal/events"
	httpapi "github.com/tbourn/go-pos-backend/internal/http"
	"github.com/tbourn/go-pos-backend/internal/observability"
	"github.com/tbourn/go-pos-backend/internal/printer"
	"github.com/tbourn/go-pos-backend/internal/remote"
	"github.com/tbourn/go-pos-backend/internal/repo"
	"github.com/tbourn/go-pos-backend/internal/services"
	"github.com/tbourn/go-pos-backend/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// Optional .env for local development; real deployments use environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Terminal-local database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open local database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("local migration failed")
	}

	// Shared restaurant database (optional)
	var tabStore services.RestaurantStore
	if cfg.PGDSN != "" {
		pool, err := remote.Connect(ctx, cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("shared database connect failed")
		}
		defer pool.Close()
		if err := remote.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("shared schema setup failed")
		}
		tabStore = remote.NewStore(pool, log.With().Str("component", "remote").Logger())
		log.Info().Msg("shared restaurant database connected")
	} else {
		log.Info().Msg("no shared database configured; tab endpoints disabled")
	}

	// Status event broker (optional)
	var publisher services.StatusPublisher
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.TerminalID, log.With().Str("component", "events").Logger())
		if err != nil {
			// Events are advisory; run without them rather than refusing to start.
			log.Warn().Err(err).Msg("status broker unavailable, events disabled")
		} else {
			publisher = nats
			defer nats.Close()
		}
	}

	// Printer delivery channel
	var transport printer.Transport
	switch cfg.Print.Mode {
	case "amqp":
		amqp, err := printer.DialAMQP(cfg.Print.AMQPURL)
		if err != nil {
			log.Fatal().Err(err).Msg("print worker broker connect failed")
		}
		defer amqp.Close()
		transport = amqp
	default:
		transport = printer.NewHTTPTransport(cfg.Print.HTTPBaseURL)
	}

	// HTTP API and services
	r := gin.New()
	app := httpapi.RegisterRoutes(r, db, tabStore, services.StaticTransport(transport), publisher, cfg)

	// Crash-recovery check before the UI can connect.
	dec, err := app.Session.OnStartup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup recovery check failed")
	} else if dec.RestoreAvailable {
		log.Info().Str("session_id", dec.Snapshot.SessionID).Msg("restorable order session found; awaiting operator decision")
	}

	// Background queue maintenance: drain on a fixed cadence while the
	// printer answers, and sweep PRINTING jobs orphaned by a crash.
	go func() {
		ticker := time.NewTicker(cfg.Print.ProcessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := app.Queue.SweepStuck(ctx, cfg.Print.SweepAge); err == nil && n > 0 {
					log.Warn().Int64("jobs", n).Msg("requeued stuck print jobs")
				}
				if !transport.Reachable(ctx) {
					continue
				}
				report, err := app.Queue.AutoProcessQueue(ctx, 0, true)
				if err != nil {
					log.Warn().Err(err).Msg("background queue drain failed")
					continue
				}
				if report.Dispatched > 0 {
					log.Info().
						Int("dispatched", report.Dispatched).
						Int("succeeded", report.Succeeded).
						Int("failed", report.Failed).
						Msg("queue drained")
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("terminal", cfg.TerminalID).Msg("posd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// Persist any pending snapshot, then mark the exit deliberate so the next
	// launch does not misread this shutdown as a crash.
	app.Session.Flush(shutdownCtx)
	app.Session.MarkCleanExit(shutdownCtx)

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown failed")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info().Msg("bye")
	os.Exit(0)
}
