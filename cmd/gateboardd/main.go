// Package main implements the gateboard daemon: the bridge between a
// serial gateboard device and a running gatebot core. It maintains the
// gatenet connection, verifies the board's firmware handshake, and
// forwards board activity as core events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/goliathdrakken/gatebot/config"
	"github.com/goliathdrakken/gatebot/gateboard"
	"github.com/goliathdrakken/gatebot/gatenet"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "gateboardd"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	CoreAddr         string
	Device           string
	Baud             int
	BoardName        string
	RequiredFirmware uint
	LogLevel         string
	ShutdownTimeout  time.Duration
	ShowVersion      bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.CoreAddr, "core-addr", gatenet.DefaultAddr,
		"Address of the gatebot core's gatenet listener")
	flag.StringVar(&cfg.Device, "device", "/dev/ttyUSB0",
		"Serial device the gateboard is attached to")
	flag.IntVar(&cfg.Baud, "baud", gateboard.DefaultBaud,
		"Serial device speed")
	flag.StringVar(&cfg.BoardName, "board-name", "gateboard",
		"Name of this gateboard when talking to the core. Run multiple "+
			"daemons with different names for multiple boards.")
	flag.UintVar(&cfg.RequiredFirmware, "required-firmware-version",
		gateboard.DefaultRequiredFirmware,
		"Minimum firmware version serviced; messages from older boards "+
			"are ignored until they are updated")
	flag.StringVar(&cfg.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second,
		"Graceful shutdown timeout")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	flag.Parse()
	return cfg
}

// validateFlags rejects flag values the daemon cannot honor.
func validateFlags(cfg *CLIConfig) error {
	if cfg.RequiredFirmware < 1 || cfg.RequiredFirmware > 65535 {
		return fmt.Errorf("required-firmware-version must be between 1 and 65535, got %d",
			cfg.RequiredFirmware)
	}
	if cfg.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", cfg.Baud)
	}
	if cfg.BoardName == "" {
		return fmt.Errorf("board-name must not be empty")
	}
	return nil
}

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

	logger := setupLogger(cliCfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("Starting gateboard daemon",
		"version", Version,
		"device", cliCfg.Device,
		"core_addr", cliCfg.CoreAddr)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	client := gatenet.NewClient(gatenet.ClientDeps{
		Logger: logger.With("component", "gatenet-client"),
		Addr:   cliCfg.CoreAddr,
	})
	go client.Run(signalCtx)

	link := gateboard.NewLink(gateboard.LinkDeps{
		Logger:           logger.With("component", "gateboard-link"),
		Sender:           client,
		Device:           cliCfg.Device,
		Baud:             cliCfg.Baud,
		BoardName:        cliCfg.BoardName,
		GateName:         config.Default().Auth.AllGatesAlias,
		RequiredFirmware: uint16(cliCfg.RequiredFirmware),
	})
	if err := link.Initialize(); err != nil {
		return fmt.Errorf("initialize link: %w", err)
	}
	if err := link.Start(signalCtx); err != nil {
		return fmt.Errorf("start link: %w", err)
	}

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := link.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("stop link: %w", err)
	}
	return client.Close()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler).With("service", appName, "pid", os.Getpid())
}
