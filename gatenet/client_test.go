package gatenet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
)

func TestClientSendReachesHub(t *testing.T) {
	srv, pub := startTestServer(t)

	client := NewClient(ClientDeps{Logger: testLogger(), Addr: srv.Addr()})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.SendMeterUpdate("front", 2200))
	require.NoError(t, client.SendAuthTokenAdd("front", "core.onewire", "c0ffee"))
	require.NoError(t, client.SendLatchStop("front"))

	require.Eventually(t, func() bool {
		return len(pub.all()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	events := pub.all()
	assert.IsType(t, &event.MeterUpdate{}, events[0])
	assert.IsType(t, &event.TokenAuthEvent{}, events[1])
	assert.IsType(t, &event.LatchRequest{}, events[2])
}

func TestClientReceivesBroadcasts(t *testing.T) {
	srv, _ := startTestServer(t)

	var mu sync.Mutex
	var updates []*event.LatchUpdate
	var others []event.Event

	client := NewClient(ClientDeps{
		Logger: testLogger(),
		Addr:   srv.Addr(),
		Handler: Handler{
			OnLatchUpdate: func(u *event.LatchUpdate) {
				mu.Lock()
				updates = append(updates, u)
				mu.Unlock()
			},
			OnEvent: func(ev event.Event) {
				mu.Lock()
				others = append(others, ev)
				mu.Unlock()
			},
		},
	})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.Eventually(t, func() bool {
		return srv.PeerCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.Broadcast(&event.LatchUpdate{LatchID: 5, GateName: "front", State: event.StateActive})
	srv.Broadcast(&event.ThermoEvent{SensorName: "cellar", SensorValue: 9.0})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(others) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 1, "typed callback fires alongside OnEvent")
	assert.Equal(t, int64(5), updates[0].LatchID)
}

func TestClientSendWhileDisconnected(t *testing.T) {
	client := NewClient(ClientDeps{Logger: testLogger(), Addr: "127.0.0.1:1"})
	err := client.SendPing()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestClientConnectIsIdempotent(t *testing.T) {
	srv, _ := startTestServer(t)

	client := NewClient(ClientDeps{Logger: testLogger(), Addr: srv.Addr()})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	assert.True(t, client.Connected())
	require.Eventually(t, func() bool {
		return srv.PeerCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientDetectsServerClose(t *testing.T) {
	srv, _ := startTestServer(t)

	client := NewClient(ClientDeps{Logger: testLogger(), Addr: srv.Addr()})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, srv.Stop(5*time.Second))

	require.Eventually(t, func() bool {
		return !client.Connected()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackoffDelayFollowsSchedule(t *testing.T) {
	c := NewClient(ClientDeps{Logger: testLogger()})

	expected := []time.Duration{
		5 * time.Second,  // failure 1
		5 * time.Second,  // failure 2
		10 * time.Second, // failure 3
		10 * time.Second,
		20 * time.Second,
		20 * time.Second,
		60 * time.Second,
		60 * time.Second, // past the table end, stays at the max
		60 * time.Second,
	}
	for i, want := range expected {
		c.mu.Lock()
		c.failures = i + 1
		c.mu.Unlock()
		assert.Equal(t, want, c.backoffDelay(), "failure count %d", i+1)
	}

	// A successful connect resets the position.
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
	assert.Equal(t, 5*time.Second, c.backoffDelay())
}
