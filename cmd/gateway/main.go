package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/httpapi"
	"transcribe_gateway/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		utils.NewLogger("main").Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger := utils.NewLogger("main")
	defer logger.Sync()

	// Create router with all dependencies
	handler, deps, err := httpapi.NewRouter(cfg)
	if err != nil {
		logger.Error("Failed to build router", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Transcription gateway listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("Server error", "error", err)
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}

	// Stop the settlement worker, flush the audit sink, close connections
	if err := deps.Shutdown(ctx); err != nil {
		logger.Warn("Dependency shutdown incomplete", "error", err)
	}

	logger.Info("Server exited")
}
