package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"shelfcheck/internal/app"
	"shelfcheck/internal/platform/config"
	"shelfcheck/internal/platform/httpserver"
	"shelfcheck/internal/platform/logger"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("error", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		log.Error("failed to start services", "error", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg.Server.Addr, a.Router())
	srv.BaseContext = func(_ net.Listener) context.Context { return ctx }

	log.Info("starting shelfcheck",
		"addr", cfg.Server.Addr,
		"state_backend", cfg.Backends.State,
		"limiter_backend", cfg.Backends.Limiter,
		"broker", cfg.Backends.Broker,
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("failed to close services", "error", err)
	}
}
