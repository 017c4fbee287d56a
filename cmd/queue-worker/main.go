package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/clinic-scheduling/internal/app/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/worker"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("queue-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "timezone", cfg.ClinicTimezone)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close(logger)

	worker.NewQueueSweeper(rt.Service, cfg.WorkerInterval, logger).Run(rootCtx)
}
