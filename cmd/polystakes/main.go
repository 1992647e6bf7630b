// Command polystakes runs a prediction-market ledger node in one of the
// node, memory or archive modes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/polystakes/internal/app"
	"github.com/alanyoungcy/polystakes/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "polystakes: %v\n", err)
		os.Exit(1)
	}
}

// run loads and validates the configuration, then runs the node until ctx is
// cancelled or the mode returns. Cancellation is a clean exit.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("polystakes", flag.ContinueOnError)
	configPath := fs.String("config", "config.toml", "configuration file; empty uses defaults and env only")
	mode := fs.String("mode", "", "override the configured mode (node, memory, archive)")
	checkOnly := fs.Bool("check", false, "validate the configuration and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config %q: %w", *configPath, err)
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})).With(slog.String("mode", cfg.Mode))
	slog.SetDefault(logger)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	if *checkOnly {
		logger.Info("configuration ok", slog.String("config", *configPath))
		return nil
	}

	node := app.New(cfg, logger)
	err = node.Run(ctx)
	node.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("polystakes stopped")
	return nil
}

// parseLevel accepts slog level names ("debug", "WARN", "info+2"); anything
// else logs at info.
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
