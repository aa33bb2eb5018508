package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goliathdrakken/gatebot/component"
	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
)

// SubjectPrefix is prepended to the event kind to form the mirror
// subject, e.g. "gatebot.event.LatchUpdate".
const SubjectPrefix = "gatebot.event."

// NATSMirrorDeps holds configuration for the NATS mirror sink.
type NATSMirrorDeps struct {
	Logger *slog.Logger

	// URL is the NATS server URL. Defaults to nats.DefaultURL.
	URL string
}

// NATSMirror republishes relayed events onto NATS subjects so external
// systems can consume them without speaking gatenet.
type NATSMirror struct {
	logger *slog.Logger
	url    string

	conn       *nats.Conn
	running    atomic.Bool
	startTime  time.Time
	errorCount atomic.Int64
}

var _ Sink = (*NATSMirror)(nil)
var _ component.LifecycleComponent = (*NATSMirror)(nil)

// NewNATSMirror creates the mirror. The connection is established in
// Start.
func NewNATSMirror(deps NATSMirrorDeps) *NATSMirror {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "nats-mirror")
	}
	url := deps.URL
	if url == "" {
		url = nats.DefaultURL
	}
	return &NATSMirror{logger: logger, url: url}
}

// Name implements Sink.
func (m *NATSMirror) Name() string { return "nats-mirror" }

// Meta implements component.LifecycleComponent.
func (m *NATSMirror) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-mirror",
		Type:        "transport",
		Description: fmt.Sprintf("event mirror publishing to %s%s*", m.url, " subjects "+SubjectPrefix),
		Version:     "1.0.0",
	}
}

// Health implements component.LifecycleComponent.
func (m *NATSMirror) Health() component.HealthStatus {
	connected := m.conn != nil && m.conn.IsConnected()
	return component.HealthStatus{
		Healthy:    m.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(m.errorCount.Load()),
		Uptime:     time.Since(m.startTime),
	}
}

// Initialize implements component.LifecycleComponent.
func (m *NATSMirror) Initialize() error {
	if m.url == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"nats-mirror", "Initialize", "URL validation")
	}
	return nil
}

// Start connects to the NATS server. Reconnects are delegated to the
// client library.
func (m *NATSMirror) Start(_ context.Context) error {
	if m.running.Load() {
		return nil
	}

	conn, err := nats.Connect(m.url,
		nats.Name("gatebot-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.logger.Warn("NATS connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			m.logger.Info("NATS connection restored", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "nats-mirror", "Start", "connect")
	}

	m.conn = conn
	m.running.Store(true)
	m.startTime = time.Now()
	m.logger.Info("NATS mirror connected", "url", m.url)
	return nil
}

// Stop drains and closes the connection.
func (m *NATSMirror) Stop(timeout time.Duration) error {
	if !m.running.Load() {
		return nil
	}
	m.running.Store(false)

	if m.conn != nil {
		drained := make(chan struct{})
		go func() {
			_ = m.conn.Drain()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(timeout):
			m.conn.Close()
			return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout),
				"nats-mirror", "Stop", "drain")
		}
	}
	return nil
}

// Deliver implements Sink, publishing the event envelope to its kind
// subject.
func (m *NATSMirror) Deliver(ev event.Event) error {
	if m.conn == nil || !m.conn.IsConnected() {
		m.errorCount.Add(1)
		return errors.WrapTransient(errors.ErrNoConnection,
			"nats-mirror", "Deliver", "connection check")
	}

	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	subject := SubjectPrefix + string(ev.EventKind())
	if err := m.conn.Publish(subject, data); err != nil {
		m.errorCount.Add(1)
		return errors.WrapTransient(err, "nats-mirror", "Deliver", "publish")
	}
	return nil
}
