package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitched26/pitched/internal/config"
	"github.com/pitched26/pitched/internal/httpserver"
	"github.com/pitched26/pitched/internal/llm"
	"github.com/pitched26/pitched/internal/logging"
)

func main() {
	log := logging.Init()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()

	analyzer := llm.NewCoachClient(cfg.CoachAPIKey, cfg.CoachAPIURL, cfg.CoachModelID)
	srv := httpserver.New(cfg, analyzer)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("server listening", "addr", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "err", err)
		}
	case sig := <-sigChan:
		log.Infow("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnw("graceful shutdown failed", "err", err)
		_ = server.Close()
	}
}
