package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skylark/internal/api/middleware"
	"skylark/internal/api/routes"
	"skylark/internal/core/engine"
	"skylark/internal/db/sqlite"
	_ "skylark/internal/providers/bluesky"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "skylark.db"
	}

	store, err := sqlite.Open(dbURL)
	if err != nil {
		logger.Error("failed to open database", "url", dbURL, "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	info := store.Info()
	logger.Info("database ready", "database", info.Database, "in_memory", info.InMemory)

	e := engine.New(store, engine.WithLogger(logger))

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	// Rate limiting: 120 requests per minute per IP
	rateLimit := 120
	if v := os.Getenv("SKYLARK_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateLimit = n
		}
	}
	r.Use(middleware.NewRateLimiter(rateLimit, time.Minute).Middleware)

	routes.Register(r, e)
	r.Handle("/metrics", promhttp.Handler())

	addr := os.Getenv("SKYLARK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "addr", addr, "providers", e.Registry().Available())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
}
