package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/scanwatcher/internal/bootstrap"
	"github.com/kirillkom/scanwatcher/internal/config"
	"github.com/kirillkom/scanwatcher/internal/observability/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config error: %v", err)
		return 1
	}
	logger := logging.NewJSONLogger("scanwatcherd", cfg.Service.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		return 1
	}
	defer app.Close()

	if err := app.Orchestrator.Start(ctx); err != nil {
		logger.Error("startup_failed", "error", err)
		return 1
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	case err := <-app.Orchestrator.Fatal():
		logger.Error("fatal_failure", "error", err)
		exitCode = 1
	}

	// Detach from the signal context so a second signal cannot cut the
	// graceful window short of the configured deadline.
	if err := app.Orchestrator.Stop(context.Background()); err != nil {
		logger.Error("shutdown_incomplete", "error", err)
		exitCode = 1
	}
	return exitCode
}
