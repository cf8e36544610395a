package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antoniostano/handoff/internal/agent"
	"github.com/antoniostano/handoff/internal/call"
	"github.com/antoniostano/handoff/internal/config"
	"github.com/antoniostano/handoff/internal/httpapi"
	"github.com/antoniostano/handoff/internal/observability"
	"github.com/antoniostano/handoff/internal/room"
	"github.com/antoniostano/handoff/internal/summary"
	"github.com/antoniostano/handoff/internal/token"
	"github.com/antoniostano/handoff/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	issuer := token.NewIssuer(cfg.TransportAPIKey, cfg.TransportAPISecret, cfg.TokenDefaultTTL)

	ctx := context.Background()
	archive, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer archive.Close()

	var directory room.Directory
	dirMode := strings.ToLower(strings.TrimSpace(cfg.RoomDirectoryMode))
	switch dirMode {
	case "http":
		if cfg.TransportAPIKey == "" || cfg.TransportAPISecret == "" {
			log.Fatalf("ROOM_DIRECTORY_MODE=http but TRANSPORT_API_KEY/TRANSPORT_API_SECRET are not set")
		}
		directory = room.NewHTTPDirectory(cfg.TransportURL, issuer)
		log.Printf("room directory: http (%s)", cfg.TransportURL)
	case "mock":
		directory = room.NewMockDirectory()
		log.Printf("room directory: mock")
	default: // auto
		if cfg.TransportAPIKey != "" && cfg.TransportAPISecret != "" {
			directory = room.NewHTTPDirectory(cfg.TransportURL, issuer)
			log.Printf("room directory: http (%s)", cfg.TransportURL)
		} else {
			directory = room.NewMockDirectory()
			log.Printf("room directory: mock (no transport credentials)")
		}
	}

	summarizer := summary.NewService(summary.NewProvider(summary.Config{
		Mode:   cfg.SummarizerMode,
		URL:    cfg.SummarizerHTTPURL,
		APIKey: cfg.SummarizerAPIKey,
		Model:  cfg.SummarizerModel,
	}), cfg.SummarizerTimeout)

	registry := call.NewRegistry(cfg.SessionIdleTimeout)
	events := call.NewEventHub()

	orchestrator := call.NewOrchestrator(
		registry,
		directory,
		issuer,
		summarizer,
		agent.NewSignalFactory(directory),
		agent.NewSignalHoldPlayer(directory),
		archive,
		events,
		metrics,
		cfg.HoldAudioFile,
	)

	registry.SetEvictHook(func(s call.Session) {
		orchestrator.Release(s.RoomID)
		metrics.CallEvents.WithLabelValues("evicted").Inc()
		metrics.ActiveCalls.Set(float64(registry.ActiveCount()))
	})

	api := httpapi.New(cfg, orchestrator, events, issuer, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, cfg.SessionSweepInterval)

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

	log.Printf("shutdown complete")
}
