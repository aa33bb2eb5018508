package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goliathdrakken/gatebot/component"
	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
)

// wsWriteTimeout bounds a single client write.
const wsWriteTimeout = 2 * time.Second

// WebSocketDeps holds configuration for the WebSocket fanout sink.
type WebSocketDeps struct {
	Logger *slog.Logger

	// Addr is the HTTP listen address, e.g. "localhost:9806".
	Addr string

	// Path is the upgrade endpoint. Defaults to "/events".
	Path string
}

// WebSocketFanout serves an HTTP endpoint that upgrades to WebSocket
// and pushes every relayed event to all connected clients as a JSON
// text message.
type WebSocketFanout struct {
	logger *slog.Logger
	addr   string
	path   string

	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	running    atomic.Bool
	startTime  time.Time
	errorCount atomic.Int64
}

var _ Sink = (*WebSocketFanout)(nil)
var _ component.LifecycleComponent = (*WebSocketFanout)(nil)

// NewWebSocketFanout creates the fanout. The HTTP server starts in
// Start.
func NewWebSocketFanout(deps WebSocketDeps) *WebSocketFanout {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ws-fanout")
	}
	path := deps.Path
	if path == "" {
		path = "/events"
	}

	return &WebSocketFanout{
		logger: logger,
		addr:   deps.Addr,
		path:   path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Name implements Sink.
func (w *WebSocketFanout) Name() string { return "ws-fanout" }

// Meta implements component.LifecycleComponent.
func (w *WebSocketFanout) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ws-fanout",
		Type:        "transport",
		Description: fmt.Sprintf("WebSocket event fanout on %s%s", w.addr, w.path),
		Version:     "1.0.0",
	}
}

// Health implements component.LifecycleComponent.
func (w *WebSocketFanout) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    w.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(w.errorCount.Load()),
		Uptime:     time.Since(w.startTime),
	}
}

// Initialize implements component.LifecycleComponent.
func (w *WebSocketFanout) Initialize() error {
	if w.addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ws-fanout", "Initialize", "address validation")
	}
	if _, _, err := net.SplitHostPort(w.addr); err != nil {
		return errors.WrapInvalid(err, "ws-fanout", "Initialize", "address validation")
	}
	return nil
}

// Start binds the HTTP listener and begins accepting upgrades.
func (w *WebSocketFanout) Start(_ context.Context) error {
	if w.running.Load() {
		return nil
	}

	listener, err := net.Listen("tcp", w.addr)
	if err != nil {
		return errors.WrapTransient(err, "ws-fanout", "Start", "listener binding")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleUpgrade)
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	w.running.Store(true)
	w.startTime = time.Now()
	w.logger.Info("WebSocket fanout listening",
		"addr", listener.Addr().String(), "path", w.path)

	go func() {
		if err := w.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			w.logger.Error("WebSocket fanout server failed", "error", err)
		}
	}()
	return nil
}

// Stop closes all clients and shuts the HTTP server down.
func (w *WebSocketFanout) Stop(timeout time.Duration) error {
	if !w.running.Load() {
		return nil
	}
	w.running.Store(false)

	w.mu.Lock()
	for conn := range w.clients {
		_ = conn.Close()
	}
	w.clients = make(map[*websocket.Conn]bool)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Wrap(w.server.Shutdown(ctx), "ws-fanout", "Stop", "server shutdown")
}

// ClientCount returns the number of connected clients.
func (w *WebSocketFanout) ClientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *WebSocketFanout) handleUpgrade(wr http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		w.errorCount.Add(1)
		w.logger.Warn("WebSocket upgrade failed",
			"remote", r.RemoteAddr, "error", err)
		return
	}

	w.mu.Lock()
	w.clients[conn] = true
	count := len(w.clients)
	w.mu.Unlock()
	w.logger.Info("WebSocket client connected",
		"remote", r.RemoteAddr, "clients", count)

	// Drain inbound control frames; the fanout is write-only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				w.dropClient(conn)
				return
			}
		}
	}()
}

func (w *WebSocketFanout) dropClient(conn *websocket.Conn) {
	_ = conn.Close()
	w.mu.Lock()
	_, present := w.clients[conn]
	delete(w.clients, conn)
	count := len(w.clients)
	w.mu.Unlock()
	if present {
		w.logger.Info("WebSocket client disconnected", "clients", count)
	}
}

// Deliver implements Sink, pushing the event envelope to every client.
func (w *WebSocketFanout) Deliver(ev event.Event) error {
	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}

	w.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(w.clients))
	for conn := range w.clients {
		targets = append(targets, conn)
	}
	w.mu.Unlock()

	for _, conn := range targets {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			w.errorCount.Add(1)
			w.dropClient(conn)
		}
	}
	return nil
}
