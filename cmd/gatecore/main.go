// Package main implements the gatebot core daemon: the event engine,
// the gatenet listener, and the managers that turn device activity
// into recorded entries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/goliathdrakken/gatebot/config"
	"github.com/goliathdrakken/gatebot/service"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "gatecore"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting gatebot core",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"gates", len(cfg.Gates))

	ctx := context.Background()
	core, err := service.NewCore(ctx, service.Deps{
		Logger: logger,
		Config: cfg,
	})
	if err != nil {
		return fmt.Errorf("assemble core: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := core.Start(signalCtx); err != nil {
		return fmt.Errorf("start core: %w", err)
	}

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := core.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("stop core: %w", err)
	}
	return nil
}

// loadConfig uses defaults when no config file was given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
