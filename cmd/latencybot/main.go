// Command latencybot runs the reference-vs-prediction-market latency engine.
// It loads configuration, validates it, sets up signal handling and runs the
// application until SIGINT or SIGTERM. The audit subcommand prints recent
// audit entries instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/latencybot/internal/app"
	"github.com/alanyoungcy/latencybot/internal/config"
	"github.com/alanyoungcy/latencybot/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "audit" {
		os.Exit(runAudit(os.Args[2:], os.Stdout, os.Stderr))
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "force dry-run mode regardless of configuration")
	flag.Parse()

	logger, _ := logging.New("info", config.LogFileConfig{})
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	logger, logFile := logging.New(cfg.LogLevel, cfg.LogFile)
	defer logFile.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("latencybot starting",
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("latencybot stopped")
}
