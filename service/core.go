package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliathdrakken/gatebot/auth"
	"github.com/goliathdrakken/gatebot/backend"
	"github.com/goliathdrakken/gatebot/backend/sqlite"
	"github.com/goliathdrakken/gatebot/component"
	"github.com/goliathdrakken/gatebot/config"
	"github.com/goliathdrakken/gatebot/entry"
	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/gate"
	"github.com/goliathdrakken/gatebot/gatenet"
	"github.com/goliathdrakken/gatebot/hub"
	"github.com/goliathdrakken/gatebot/latch"
	"github.com/goliathdrakken/gatebot/metric"
	"github.com/goliathdrakken/gatebot/relay"
)

// Deps holds construction inputs for the core.
type Deps struct {
	Logger *slog.Logger
	Config *config.Config

	// Backend overrides the configured backend, for tests.
	Backend backend.Backend
}

// Core is the assembled gatebot engine.
type Core struct {
	logger  *slog.Logger
	cfg     *config.Config
	metrics *metric.Registry

	hub      *hub.Hub
	gates    *gate.Registry
	latches  *latch.Manager
	auth     *auth.Manager
	recorder *entry.Recorder
	relay    *relay.Relay
	backend  backend.Backend
	server   *gatenet.Server

	metricServer *metric.Server
	heartbeat    *Heartbeat
	components   []component.LifecycleComponent

	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
	started        bool
}

// NewCore wires the engine from configuration. Nothing is listening or
// dispatching until Start.
func NewCore(ctx context.Context, deps Deps) (*Core, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	metrics := metric.NewRegistry()
	eventHub := hub.New(hub.Deps{
		Logger:    logger.With("component", "eventhub"),
		Metrics:   metrics,
		QueueSize: cfg.Core.EventQueueSize,
	})

	gates := gate.NewRegistry(logger.With("component", "gate-registry"))
	for _, g := range cfg.Gates {
		if err := gates.Register(g.Name); err != nil {
			return nil, err
		}
	}

	store, err := buildBackend(ctx, deps, cfg, logger)
	if err != nil {
		return nil, err
	}

	// The backend may know gates beyond the configured set, seeded by
	// earlier runs or admin tooling. Register those too.
	backendGates, err := store.ListGates(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range backendGates {
		if gates.Exists(name) {
			continue
		}
		if err := gates.Register(name); err != nil {
			return nil, err
		}
	}

	latches := latch.NewManager(latch.Deps{
		Logger:  logger.With("component", "latch-manager"),
		Metrics: metrics,
		Hub:     eventHub,
		Gates:   gates,
	})

	maxIdle := make(map[string]time.Duration, len(cfg.Auth.MaxIdle))
	for device, d := range cfg.Auth.MaxIdle {
		maxIdle[device] = d.Std()
	}
	authMgr := auth.NewManager(auth.Deps{
		Logger:         logger.With("component", "auth-manager"),
		Latches:        latches,
		Gates:          gates,
		Backend:        store,
		AllGatesAlias:  cfg.Auth.AllGatesAlias,
		MaxIdle:        maxIdle,
		DefaultMaxIdle: cfg.Auth.DefaultMaxIdle.Std(),
		Captive:        cfg.Auth.Captive,
		DefaultCaptive: cfg.Auth.DefaultCaptive,
	})

	recorder := entry.NewRecorder(entry.Deps{
		Logger:  logger.With("component", "entry-recorder"),
		Metrics: metrics,
		Hub:     eventHub,
		Backend: store,
	})

	server := gatenet.NewServer(gatenet.ServerDeps{
		Logger:  logger.With("component", "gatenet-server"),
		Metrics: metrics,
		Hub:     eventHub,
		Addr:    cfg.Core.ListenAddr,
	})

	c := &Core{
		logger:   logger,
		cfg:      cfg,
		metrics:  metrics,
		hub:      eventHub,
		gates:    gates,
		latches:  latches,
		auth:     authMgr,
		recorder: recorder,
		backend:  store,
		server:   server,
	}

	sinks := []relay.Sink{relay.BroadcastSink("gatenet", server)}
	c.components = append(c.components, server)
	if cfg.Relay.NATS.Enabled {
		mirror := relay.NewNATSMirror(relay.NATSMirrorDeps{
			Logger: logger.With("component", "nats-mirror"),
			URL:    cfg.Relay.NATS.URL,
		})
		sinks = append(sinks, mirror)
		c.components = append(c.components, mirror)
	}
	if cfg.Relay.WebSocket.Enabled {
		fanout := relay.NewWebSocketFanout(relay.WebSocketDeps{
			Logger: logger.With("component", "ws-fanout"),
			Addr:   cfg.Relay.WebSocket.Addr,
			Path:   cfg.Relay.WebSocket.Path,
		})
		sinks = append(sinks, fanout)
		c.components = append(c.components, fanout)
	}
	c.relay = relay.New(relay.Deps{
		Logger: logger.With("component", "relay"),
		Sinks:  sinks,
	})

	eventHub.Subscribe(latches)
	eventHub.Subscribe(authMgr)
	eventHub.Subscribe(recorder)
	eventHub.Subscribe(c.relay)

	c.heartbeat = NewHeartbeat(
		logger.With("component", "heartbeat"),
		eventHub,
		cfg.Core.HeartbeatInterval.Std(),
	)
	if cfg.Metrics.Enabled {
		c.metricServer = metric.NewServer(cfg.Metrics.Addr, metrics,
			logger.With("component", "metric-server"))
	}

	return c, nil
}

func buildBackend(ctx context.Context, deps Deps, cfg *config.Config, logger *slog.Logger) (backend.Backend, error) {
	if deps.Backend != nil {
		return deps.Backend, nil
	}

	switch cfg.Backend.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Backend.Path},
			logger.With("component", "sqlite-backend"))
		if err != nil {
			return nil, err
		}
		for _, g := range cfg.Gates {
			if err := store.AddGate(ctx, g.Name); err != nil {
				return nil, err
			}
		}
		return store, nil

	case "memory", "":
		store := backend.NewMemory()
		for _, g := range cfg.Gates {
			store.AddGate(g.Name)
		}
		return store, nil

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"core", "buildBackend", "driver selection")
	}
}

// Hub exposes the event hub, mainly for tests and embedding callers.
func (c *Core) Hub() *hub.Hub { return c.hub }

// Gates exposes the gate registry.
func (c *Core) Gates() *gate.Registry { return c.gates }

// Latches exposes the latch manager.
func (c *Core) Latches() *latch.Manager { return c.latches }

// Backend exposes the persistence backend.
func (c *Core) Backend() backend.Backend { return c.backend }

// ListenAddr returns the gatenet server's bound address.
func (c *Core) ListenAddr() string { return c.server.Addr() }

// Start brings the engine up: dispatcher first, then the lifecycle
// components, then the heartbeat. A StartCompleteEvent is published
// once everything is running.
func (c *Core) Start(ctx context.Context) error {
	if c.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "core", "Start", "state check")
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())
	c.dispatchCancel = cancel
	c.dispatchDone = make(chan struct{})
	go func() {
		defer close(c.dispatchDone)
		c.hub.Run(dispatchCtx)
	}()

	for _, comp := range c.components {
		if err := comp.Initialize(); err != nil {
			c.stopStarted(5 * time.Second)
			return err
		}
		if err := comp.Start(ctx); err != nil {
			c.stopStarted(5 * time.Second)
			return err
		}
		c.logger.Info("Component started", "component", comp.Meta().Name)
	}

	if c.metricServer != nil {
		go func() {
			if err := c.metricServer.Start(); err != nil {
				c.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	c.heartbeat.Start(ctx)
	c.started = true

	c.hub.Publish(&event.StartCompleteEvent{})
	c.logger.Info("Core started", "gates", len(c.cfg.Gates), "addr", c.ListenAddr())
	return nil
}

// Stop shuts the engine down: quit notice to subscribers, heartbeat
// off, components in reverse start order, dispatcher last so queued
// events still drain.
func (c *Core) Stop(timeout time.Duration) error {
	if !c.started {
		return nil
	}
	c.started = false

	c.hub.Publish(&event.QuitEvent{})

	c.heartbeat.Stop()

	var firstErr error
	if err := c.stopStarted(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.metricServer != nil {
		if err := c.metricServer.Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Park the dispatcher before draining, so queued events are still
	// delivered one at a time by a single goroutine.
	c.dispatchCancel()
	<-c.dispatchDone
	for c.hub.DispatchNext(50 * time.Millisecond) {
	}

	if closer, ok := c.backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.logger.Info("Core stopped")
	return firstErr
}

func (c *Core) stopStarted(timeout time.Duration) error {
	var firstErr error
	for i := len(c.components) - 1; i >= 0; i-- {
		if err := c.components[i].Stop(timeout); err != nil {
			c.logger.Warn("Component stop failed",
				"component", c.components[i].Meta().Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
