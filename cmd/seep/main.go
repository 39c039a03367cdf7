package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/seep/internal/config"
	"github.com/ent0n29/seep/internal/httpapi"
	"github.com/ent0n29/seep/internal/observability"
	"github.com/ent0n29/seep/internal/session"
	"github.com/ent0n29/seep/internal/transcript"
	"github.com/ent0n29/seep/internal/widget"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer store.Close()

	switch {
	case cfg.BackendMode == "mock", cfg.BackendMode == "auto" && cfg.ServiceHost == "":
		log.Printf("chat backend: mock (set SEEP_SERVICE_HOST to reach an assistant service)")
	default:
		log.Printf("chat backend: %s", cfg.ServiceHost)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	factory := widget.NewFactory(widget.FactoryConfig{
		DefaultHost:         cfg.ServiceHost,
		AllowedHosts:        cfg.AllowedHosts,
		DefaultMerchantID:   cfg.DefaultMerchantID,
		BackendMode:         cfg.BackendMode,
		MockChunkDelay:      cfg.MockChunkDelay,
		ChatTimeout:         cfg.ChatTimeout,
		ConfigTimeout:       cfg.ConfigTimeout,
		TelemetryTimeout:    cfg.TelemetryTimeout,
		TelemetryEnabled:    cfg.TelemetryEnabled,
		EscalationThreshold: cfg.EscalationThreshold,
		UnhelpfulPhrases:    cfg.UnhelpfulPhrases,
		Transcript:          store,
		Metrics:             metrics,
		Turns:               sessions,
	})
	defer factory.Flush()

	api := httpapi.New(cfg, sessions, factory, store, metrics)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	api.Shutdown()

	log.Printf("shutdown complete")
}
