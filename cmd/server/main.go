package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voicegate/internal/artifacts"
	"voicegate/internal/config"
	"voicegate/internal/dispatch"
	"voicegate/internal/escalate"
	"voicegate/internal/metrics"
	"voicegate/internal/monitor"
	"voicegate/internal/session"
	"voicegate/internal/vonage"
	"voicegate/internal/webhook"
	"voicegate/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("service_number", cfg.ServiceNumber).
		Str("processor", cfg.ProcessorServer).
		Bool("record_calls", cfg.RecordCalls).
		Msg("starting voicegate server")

	// Provider client; a missing or invalid application key is fatal
	privateKey, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PrivateKeyFile).Msg("failed to read application private key")
	}
	client, err := vonage.NewClient(vonage.Config{
		AppID:      cfg.AppID,
		PrivateKey: privateKey,
		BaseURL:    cfg.APIBaseURL,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create provider client")
	}

	// Artifact store for recordings and transcripts
	artifactStore, err := artifacts.NewFileStore(cfg.PostCallDataDir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create artifact store")
	}

	// Create context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Correlation store with orphan reclaim
	store := session.NewStore(log.Logger)
	go store.RunReaper(ctx, time.Minute, cfg.IdleTimeout)

	// Monitor feed for operator dashboards
	hub := monitor.NewHub(log.Logger)
	go hub.Run(ctx)

	// Event dispatcher and escalation scheduler
	dispatcher := dispatch.NewDispatcher(store, client, cfg, log.Logger)
	scheduler := escalate.NewScheduler(dispatcher.FireEscalation, log.Logger)
	dispatcher.BindScheduler(scheduler)
	dispatcher.BindPublisher(hub)
	store.OnEvict = scheduler.Cancel

	// Webhook and operator handlers
	wh := webhook.NewHandler(dispatcher, store, client, artifactStore, cfg, log.Logger)
	wsHandler := monitor.NewHandler(hub, cfg.AllowedOrigins, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Handler(store.Len))

	// Provider webhooks, optionally signature-checked
	r.Route("/webhooks", func(r chi.Router) {
		if cfg.SignatureSecret != "" {
			r.Use(webhook.VerifySignature(cfg.SignatureSecret, log.Logger))
		}
		wh.Routes(r)
	})

	// Operator surface
	r.Get("/call", wh.HandleCall)
	r.Post("/transfer", wh.HandleTransfer)
	r.Get("/ws", wsHandler.ServeHTTP)

	log.Info().Msgf("you may call in to the phone number: %s", cfg.ServiceNumber)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background loops and pending escalations
	cancel()
	scheduler.Stop()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"voicegate"}`)
}
