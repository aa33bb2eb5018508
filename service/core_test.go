package service

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/backend"
	"github.com/goliathdrakken/gatebot/config"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/gatenet"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Core.ListenAddr = "127.0.0.1:0"
	cfg.Gates = []config.GateConfig{{Name: "front"}, {Name: "back"}}
	cfg.Metrics.Enabled = false
	return cfg
}

func startTestCore(t *testing.T) *Core {
	t.Helper()
	core, err := NewCore(context.Background(), Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: testConfig(),
	})
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Stop(5 * time.Second) })
	return core
}

func TestCoreWiresConfiguredGates(t *testing.T) {
	core := startTestCore(t)

	assert.True(t, core.Gates().Exists("front"))
	assert.True(t, core.Gates().Exists("back"))

	names, err := core.Backend().ListGates(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"front", "back"}, names)
}

func TestCoreRejectsDoubleStart(t *testing.T) {
	core := startTestCore(t)
	assert.Error(t, core.Start(context.Background()))
}

func TestMeterTrafficOpensLatch(t *testing.T) {
	core := startTestCore(t)

	client := gatenet.NewClient(gatenet.ClientDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Addr:   core.ListenAddr(),
	})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.SendMeterUpdate("front", 500))

	require.Eventually(t, func() bool {
		return core.Latches().GetLatch("front") != nil
	}, 3*time.Second, 10*time.Millisecond)

	l := core.Latches().GetLatch("front")
	assert.Empty(t, l.Username(), "unauthenticated traffic opens an anonymous latch")
	assert.Equal(t, event.StateActive, l.State())
}

func TestTokenAuthFlowEndToEnd(t *testing.T) {
	core, err := NewCore(context.Background(), Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: testConfig(),
	})
	require.NoError(t, err)

	// Assign a credential before traffic arrives.
	mem, ok := core.Backend().(interface {
		AssignToken(authDevice, tokenValue, username string)
	})
	require.True(t, ok)
	mem.AssignToken(config.AuthDeviceOnewire, "00000000c0ffee00", "alice")

	require.NoError(t, core.Start(context.Background()))
	defer core.Stop(5 * time.Second)

	client := gatenet.NewClient(gatenet.ClientDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Addr:   core.ListenAddr(),
	})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.SendAuthTokenAdd(
		"front", config.AuthDeviceOnewire, "00000000c0ffee00"))

	require.Eventually(t, func() bool {
		l := core.Latches().GetLatch("front")
		return l != nil && l.Username() == "alice"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, client.SendAuthTokenRemove(
		"front", config.AuthDeviceOnewire, "00000000c0ffee00"))

	require.Eventually(t, func() bool {
		return core.Latches().GetLatch("front") == nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLatchUpdatesReachConnectedClients(t *testing.T) {
	core := startTestCore(t)

	updates := make(chan *event.LatchUpdate, 16)
	client := gatenet.NewClient(gatenet.ClientDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Addr:   core.ListenAddr(),
		Handler: gatenet.Handler{
			OnLatchUpdate: func(u *event.LatchUpdate) { updates <- u },
		},
	})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.SendLatchStart("back"))

	select {
	case u := <-updates:
		assert.Equal(t, "back", u.GateName)
		assert.Equal(t, event.StateInitial, u.State)
	case <-time.After(3 * time.Second):
		t.Fatal("no latch update broadcast back to the client")
	}
}

func TestCoreRegistersBackendGates(t *testing.T) {
	store := backend.NewMemory()
	store.AddGate("side")

	core, err := NewCore(context.Background(), Deps{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:  testConfig(),
		Backend: store,
	})
	require.NoError(t, err)

	// Configured gates plus whatever the backend already knew.
	assert.True(t, core.Gates().Exists("front"))
	assert.True(t, core.Gates().Exists("back"))
	assert.True(t, core.Gates().Exists("side"))
}

// serialListener counts how many deliveries overlap in time. The hub
// contract is one event to all subscribers at a time, including the
// drain during shutdown.
type serialListener struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	seen     atomic.Int32
}

func (l *serialListener) HandleEvent(event.Event) {
	if l.inFlight.Add(1) > 1 {
		l.overlaps.Add(1)
	}
	time.Sleep(50 * time.Microsecond)
	l.seen.Add(1)
	l.inFlight.Add(-1)
}

func TestStopDispatchesQueuedEventsSequentially(t *testing.T) {
	core, err := NewCore(context.Background(), Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: testConfig(),
	})
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))

	listener := &serialListener{}
	core.Hub().Subscribe(listener)

	const published = 500
	for i := 0; i < published; i++ {
		core.Hub().Publish(&event.Ping{})
	}

	require.NoError(t, core.Stop(10*time.Second))

	assert.GreaterOrEqual(t, listener.seen.Load(), int32(published),
		"every event queued before Stop is delivered")
	assert.Zero(t, listener.overlaps.Load(),
		"deliveries never run concurrently, even while draining")
}

func TestStopDrainsAndIsIdempotent(t *testing.T) {
	core, err := NewCore(context.Background(), Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: testConfig(),
	})
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))

	core.Hub().Publish(&event.MeterUpdate{GateName: "front", Reading: 10})

	require.NoError(t, core.Stop(5*time.Second))
	assert.NoError(t, core.Stop(5*time.Second), "second stop is a no-op")
}
