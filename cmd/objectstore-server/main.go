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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/api"
	"github.com/tendant/simple-objectstore/pkg/objectstore/config"
)

// APIPrefix is where the container API is mounted. Remote clients include it
// in their base URL.
const APIPrefix = "/api/v1"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv(), config.WithMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, release, err := cfg.BuildClient(ctx, logger)
	if err != nil {
		logger.Error("Failed to build client", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}
	defer release()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           NewRouter(app.DefaultApp().R, client, cfg, logger, promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Object store server starting", "port", cfg.Server.Port, "backend", cfg.Backend, "auth", cfg.Server.AuthSecret != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}

// NewRouter mounts health checks, metrics and the container API on r.
// app.DefaultApp may only be built once per process.
func NewRouter(r *chi.Mux, client *objectstore.Client, cfg *config.Config, logger *slog.Logger, metricsHandler http.Handler) http.Handler {
	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	options := []api.HandlerOption{api.WithHandlerLogger(logger)}
	if cfg.Server.AuthSecret != "" {
		options = append(options, api.WithAuth(jwtauth.New("HS256", []byte(cfg.Server.AuthSecret), nil)))
	}
	r.Mount(APIPrefix, api.NewHandler(client, options...).Routes())

	return r
}
