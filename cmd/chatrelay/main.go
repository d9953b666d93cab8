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

	"github.com/Ahmadjon7/UZB-AI/internal/config"
	"github.com/Ahmadjon7/UZB-AI/internal/llm"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
	"github.com/Ahmadjon7/UZB-AI/internal/relay"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	if cfg.LLM.APIKey == "" {
		logger.L.Warn("no upstream API key configured; completions will fail")
	}

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLM)

	// Initialize router
	handler := relay.NewHandler(llmClient, *cfg)
	router := relay.NewRouter(handler, cfg.Server)

	timeout := cfg.Server.Timeout()
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// leave room for the relay's own ceiling to report 504
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", serverAddr, "model", cfg.LLM.Model, "request_timeout", timeout)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.L.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("graceful shutdown failed", "error", err)
	}
}
