package gatenet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/goliathdrakken/gatebot/component"
	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/hub"
	"github.com/goliathdrakken/gatebot/metric"
	"github.com/goliathdrakken/gatebot/pkg/retry"
)

// DefaultAddr is the address the server listens on and clients dial
// when nothing else is configured.
const DefaultAddr = "localhost:9805"

// writeTimeout bounds a single peer write during broadcast so one slow
// peer cannot stall the rest.
const writeTimeout = 2 * time.Second

// maxFrameBytes bounds a single inbound frame. Anything longer is a
// protocol violation and drops the peer.
const maxFrameBytes = 64 * 1024

// peer is one connected gatenet client.
type peer struct {
	id   uuid.UUID
	conn net.Conn

	writeMu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := p.conn.Write(data)
	return err
}

// ServerDeps holds runtime dependencies for the gatenet server.
type ServerDeps struct {
	Logger  *slog.Logger
	Metrics *metric.Registry
	Hub     hub.Publisher

	// Addr is the TCP listen address. Defaults to DefaultAddr.
	Addr string
}

// Server accepts gatenet peers, publishes their frames onto the hub,
// and broadcasts core events back out.
type Server struct {
	logger    *slog.Logger
	metrics   *metric.CoreMetrics
	publisher hub.Publisher
	addr      string

	retryConfig retry.Config

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	listener  net.Listener

	peers map[uuid.UUID]*peer

	errorCount atomic.Int64
}

var _ component.LifecycleComponent = (*Server)(nil)

// NewServer creates a gatenet server.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gatenet-server")
	}
	addr := deps.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	return &Server{
		logger:      logger,
		metrics:     deps.Metrics.Core(),
		publisher:   deps.Hub,
		addr:        addr,
		retryConfig: retry.Quick(),
		peers:       make(map[uuid.UUID]*peer),
	}
}

// Meta implements component.LifecycleComponent.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "gatenet-server",
		Type:        "transport",
		Description: fmt.Sprintf("gatenet line protocol listener on %s", s.addr),
		Version:     "1.0.0",
	}
}

// Health implements component.LifecycleComponent.
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	listening := s.listener != nil
	s.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    s.running.Load() && listening,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// Initialize implements component.LifecycleComponent.
func (s *Server) Initialize() error {
	if _, _, err := net.SplitHostPort(s.addr); err != nil {
		return errors.WrapInvalid(err, "gatenet-server", "Initialize", "address validation")
	}
	if s.publisher == nil {
		return errors.WrapInvalid(errors.New("nil hub publisher"),
			"gatenet-server", "Initialize", "dependency validation")
	}
	return nil
}

// Start binds the listener and begins accepting peers.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	bind := func() error {
		l, err := net.Listen("tcp", s.addr)
		if err != nil {
			return err
		}
		s.listener = l
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, bind); err != nil {
		return errors.WrapTransient(err, "gatenet-server", "Start", "listener binding")
	}

	s.running.Store(true)
	s.startTime = time.Now()
	s.logger.Info("Listening for gatenet peers", "addr", s.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.acceptLoop(ctx)
	}()

	return nil
}

// Addr returns the bound listen address. Useful when the configured
// address requested an ephemeral port.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes the listener and every peer connection.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, p := range s.peers {
		_ = p.conn.Close()
	}
	s.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"gatenet-server", "Stop", "graceful shutdown")
	}

	s.mu.Lock()
	s.listener = nil
	s.peers = make(map[uuid.UUID]*peer)
	s.mu.Unlock()
	return nil
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Broadcast serializes an event once and writes it to every connected
// peer. Peers whose write fails are dropped.
func (s *Server) Broadcast(ev event.Event) {
	data, err := event.Marshal(ev)
	if err != nil {
		s.logger.Warn("Could not serialize event for broadcast",
			"kind", ev.EventKind(), "error", err)
		return
	}
	frame := append(data, event.Terminator...)

	s.mu.RLock()
	targets := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		targets = append(targets, p)
	}
	s.mu.RUnlock()

	for _, p := range targets {
		if err := p.write(frame); err != nil {
			s.logger.Info("Dropping peer after write failure",
				"peer", p.id, "error", err)
			if s.metrics != nil {
				s.metrics.BroadcastErrors.Inc()
			}
			s.removePeer(p)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			default:
			}
			s.errorCount.Add(1)
			if !errors.IsTransient(err) {
				s.logger.Error("Accept failed, stopping listener", "error", err)
				return
			}
			continue
		}

		p := &peer{id: uuid.New(), conn: conn}
		s.addPeer(p)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.peerLoop(p)
		}()
	}
}

func (s *Server) addPeer(p *peer) {
	s.mu.Lock()
	s.peers[p.id] = p
	count := len(s.peers)
	s.mu.Unlock()

	s.logger.Info("Peer connected",
		"peer", p.id, "remote", p.conn.RemoteAddr(), "peers", count)
	if s.metrics != nil {
		s.metrics.PeersConnected.Set(float64(count))
	}
}

func (s *Server) removePeer(p *peer) {
	_ = p.conn.Close()

	s.mu.Lock()
	_, present := s.peers[p.id]
	delete(s.peers, p.id)
	count := len(s.peers)
	s.mu.Unlock()

	if present {
		s.logger.Info("Peer disconnected", "peer", p.id, "peers", count)
		if s.metrics != nil {
			s.metrics.PeersConnected.Set(float64(count))
		}
	}
}

// peerLoop reads frames from one peer until the connection drops or a
// malformed frame arrives.
func (s *Server) peerLoop(p *peer) {
	defer s.removePeer(p)

	reader := bufio.NewReader(p.conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			if err != io.EOF && s.running.Load() {
				s.logger.Info("Peer read failed", "peer", p.id, "error", err)
			}
			return
		}
		if len(frame) == 0 {
			// An empty body is a protocol violation, same as garbage.
			s.logger.Warn("Empty frame from peer, dropping connection", "peer", p.id)
			if s.metrics != nil {
				s.metrics.FramesRejected.Inc()
			}
			return
		}

		ev, err := event.Unmarshal(frame)
		if err != nil {
			// A peer that cannot frame correctly cannot be trusted to
			// resync. Drop the connection, never the process.
			s.logger.Warn("Malformed frame from peer, dropping connection",
				"peer", p.id, "error", err)
			if s.metrics != nil {
				s.metrics.FramesRejected.Inc()
			}
			return
		}

		if s.metrics != nil {
			s.metrics.FramesReceived.Inc()
		}
		s.publisher.Publish(ev)
	}
}

// readFrame reads up to the blank-line terminator and returns the frame
// body without it.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line == "\n" {
			return []byte(strings.TrimRight(buf.String(), "\n")), nil
		}
		buf.WriteString(line)
		if buf.Len() > maxFrameBytes {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: frame exceeds %d bytes", errors.ErrMalformedMessage, maxFrameBytes),
				"gatenet", "readFrame", "frame size check")
		}
	}
}
