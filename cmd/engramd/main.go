package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aschepis/engramd/config"
	"github.com/aschepis/engramd/logger"
	"github.com/aschepis/engramd/runtime"
)

const defaultConfigPath = "engramd.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", defaultConfigPath, "Path to YAML config file")
		logFile    = flag.String("logfile", "", "Path to log file. Overrides the config file setting")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logging to stdout)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *pretty {
		cfg.LogFile = ""
	}

	log, err := logger.InitWithOptions(cfg.LogFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("config", *configPath).
		Str("data_dir", cfg.DataDir).
		Msg("engramd starting")

	app, err := runtime.NewApp(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck // no remedy for close errors on shutdown

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.Scheduler.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	app.Scheduler.Stop()

	log.Info().Msg("engramd shutdown complete")
	return nil
}
