package gatenet

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
)

// reconnectSchedule is the delay before each consecutive reconnect
// attempt. Attempts past the end of the table reuse the final entry;
// a successful connection resets the position.
var reconnectSchedule = []time.Duration{
	5 * time.Second,
	5 * time.Second,
	10 * time.Second,
	10 * time.Second,
	20 * time.Second,
	20 * time.Second,
	60 * time.Second,
}

// dialTimeout bounds a single connection attempt.
const dialTimeout = 5 * time.Second

// Handler receives events read from the server. Nil callbacks are
// skipped. OnEvent, when set, sees every inbound event including those
// with a typed callback.
type Handler struct {
	OnLatchUpdate  func(*event.LatchUpdate)
	OnEntryCreated func(*event.EntryCreatedEvent)
	OnEvent        func(event.Event)
}

// ClientDeps holds runtime dependencies for a gatenet client.
type ClientDeps struct {
	Logger *slog.Logger

	// Addr is the server address. Defaults to DefaultAddr.
	Addr string

	// Handler receives inbound events. May be zero if the client only
	// sends.
	Handler Handler
}

// Client is a single gatenet connection with automatic reconnect.
// All Send methods fail fast with ErrNoConnection while disconnected;
// callers rely on Run to restore the link.
type Client struct {
	logger  *slog.Logger
	addr    string
	handler Handler

	mu       sync.Mutex
	conn     net.Conn
	failures int
}

// NewClient creates a gatenet client. It does not connect; call Connect
// once or Run for a self-healing connection.
func NewClient(deps ClientDeps) *Client {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gatenet-client")
	}
	addr := deps.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		logger:  logger,
		addr:    addr,
		handler: deps.Handler,
	}
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect establishes the connection if not already connected. It is
// idempotent; a concurrent or repeated call while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.failures++
		return errors.WrapTransient(err, "gatenet-client", "Connect", "dial")
	}

	c.conn = conn
	c.failures = 0
	c.logger.Info("Connected to gatenet server", "addr", c.addr)

	go c.readLoop(conn)
	return nil
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Run keeps the connection alive until the context is cancelled,
// sleeping per the reconnect schedule between consecutive failures.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.Connect(ctx); err != nil {
			delay := c.backoffDelay()
			c.logger.Warn("Connection failed, will retry",
				"addr", c.addr, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		// Connected. Poll until the connection drops or we are done.
		ticker := time.NewTicker(time.Second)
	connected:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				_ = c.Close()
				return
			case <-ticker.C:
				if !c.Connected() {
					break connected
				}
			}
		}
		ticker.Stop()
	}
}

func (c *Client) backoffDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.failures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(reconnectSchedule) {
		idx = len(reconnectSchedule) - 1
	}
	return reconnectSchedule[idx]
}

// readLoop consumes inbound frames until the connection drops. A read
// or decode failure marks the client disconnected so Run can rebuild
// the link.
func (c *Client) readLoop(conn net.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			_ = conn.Close()
			c.logger.Info("Disconnected from gatenet server", "addr", c.addr)
		}
		c.mu.Unlock()
	}()

	reader := bufio.NewReader(conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			return
		}
		if len(frame) == 0 {
			continue
		}

		ev, err := event.Unmarshal(frame)
		if err != nil {
			c.logger.Warn("Malformed frame from server, ignoring", "error", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev event.Event) {
	switch typed := ev.(type) {
	case *event.LatchUpdate:
		if c.handler.OnLatchUpdate != nil {
			c.handler.OnLatchUpdate(typed)
		}
	case *event.EntryCreatedEvent:
		if c.handler.OnEntryCreated != nil {
			c.handler.OnEntryCreated(typed)
		}
	}
	if c.handler.OnEvent != nil {
		c.handler.OnEvent(ev)
	}
}

// Send serializes and writes one event. Fails with ErrNoConnection when
// disconnected; a write failure drops the connection.
func (c *Client) Send(ev event.Event) error {
	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	frame := append(data, event.Terminator...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection,
			"gatenet-client", "Send", "connection check")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		_ = c.dropLocked()
		return errors.WrapTransient(err, "gatenet-client", "Send", "write")
	}
	return nil
}

// SendPing sends a connectivity probe.
func (c *Client) SendPing() error {
	return c.Send(&event.Ping{})
}

// SendMeterUpdate reports a raw meter reading for a gate.
func (c *Client) SendMeterUpdate(gateName string, reading int64) error {
	return c.Send(&event.MeterUpdate{GateName: gateName, Reading: reading})
}

// SendLatchStart requests a latch be opened on a gate.
func (c *Client) SendLatchStart(gateName string) error {
	return c.Send(&event.LatchRequest{
		GateName: gateName,
		Request:  event.ActionOpenLatch,
	})
}

// SendLatchStop requests a gate's latch be closed.
func (c *Client) SendLatchStop(gateName string) error {
	return c.Send(&event.LatchRequest{
		GateName: gateName,
		Request:  event.ActionCloseLatch,
	})
}

// SendAuthTokenAdd reports a credential appearing at a gate.
func (c *Client) SendAuthTokenAdd(gateName, authDevice, tokenValue string) error {
	return c.Send(&event.TokenAuthEvent{
		GateName:       gateName,
		AuthDeviceName: authDevice,
		TokenValue:     tokenValue,
		Status:         event.TokenAdded,
	})
}

// SendAuthTokenRemove reports a credential leaving a gate.
func (c *Client) SendAuthTokenRemove(gateName, authDevice, tokenValue string) error {
	return c.Send(&event.TokenAuthEvent{
		GateName:       gateName,
		AuthDeviceName: authDevice,
		TokenValue:     tokenValue,
		Status:         event.TokenRemoved,
	})
}

// SendThermoUpdate reports a temperature sensor reading.
func (c *Client) SendThermoUpdate(sensorName string, value float64) error {
	return c.Send(&event.ThermoEvent{SensorName: sensorName, SensorValue: value})
}
