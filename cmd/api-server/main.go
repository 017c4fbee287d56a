package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/app/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close(logger)

	if rt.Memory != nil {
		docs, pats := bootstrap.SeedDemoUsers(rt.Memory, 3, 10)
		for _, u := range append(docs, pats...) {
			logger.Info("demo user", "id", u.ID, "role", u.Role, "email", u.Email)
		}
	}

	routerCfg := api.RouterConfig{
		Service:     rt.Service,
		Redis:       rt.Redis,
		Idempotency: rt.Idempotency,
		JWTSecret:   cfg.JWTSecret,
		Logger:      logger,
		Env:         cfg.Env,
		Version:     version,
	}
	if rt.Pool != nil {
		routerCfg.PgPool = rt.Pool
	}
	if rt.Bus != nil {
		routerCfg.Subscriber = rt.Bus
	}
	if rt.Registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("api-server stopped")
}
