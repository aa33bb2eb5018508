package latch

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/gate"
)

// capture is a hub.Publisher that records published latch updates.
type capture struct {
	mu     sync.Mutex
	events []*event.LatchUpdate
}

func (c *capture) Publish(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update, ok := ev.(*event.LatchUpdate); ok {
		c.events = append(c.events, update)
	}
}

func (c *capture) updates() []*event.LatchUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.LatchUpdate(nil), c.events...)
}

func (c *capture) states() []event.LatchState {
	var ret []event.LatchState
	for _, u := range c.updates() {
		ret = append(ret, u.State)
	}
	return ret
}

type fixture struct {
	manager *Manager
	gates   *gate.Registry
	pub     *capture
	now     time.Time
	nowMu   sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, gateNames ...string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		gates: gate.NewRegistry(logger),
		pub:   &capture{},
		now:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	for _, name := range gateNames {
		require.NoError(t, f.gates.Register(name))
	}
	f.manager = NewManager(Deps{
		Logger: logger,
		Hub:    f.pub,
		Gates:  f.gates,
		Now:    f.clock,
	})
	return f
}

func TestOpenUnknownGate(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Open("nope", "alice", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownGate)
	assert.Empty(t, f.pub.updates())
}

func TestOpenPublishesInitialState(t *testing.T) {
	f := newFixture(t, "front")
	l, err := f.manager.Open("front", "alice", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "alice", l.Username())
	assert.Equal(t, event.StateInitial, l.State())

	updates := f.pub.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, l.ID(), updates[0].LatchID)
	assert.Equal(t, event.StateInitial, updates[0].State)
	assert.Equal(t, "alice", updates[0].Username)
}

func TestOpenSameUserIsIdempotent(t *testing.T) {
	f := newFixture(t, "front")
	first, err := f.manager.Open("front", "alice", time.Minute)
	require.NoError(t, err)

	second, err := f.manager.Open("front", "alice", 2*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID(), "same user keeps the latch")
	assert.Equal(t, 2*time.Minute, second.MaxIdle(), "idle bound refreshed")
}

func TestOpenDifferentUserReplaces(t *testing.T) {
	f := newFixture(t, "front")
	first, err := f.manager.Open("front", "alice", time.Minute)
	require.NoError(t, err)

	second, err := f.manager.Open("front", "bob", time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, "bob", second.Username())
	// alice's latch was completed before bob's opened.
	assert.Equal(t,
		[]event.LatchState{event.StateInitial, event.StateCompleted, event.StateInitial},
		f.pub.states())
}

func TestOpenTakesOverAnonymousLatch(t *testing.T) {
	f := newFixture(t, "front")
	anon, err := f.manager.Open("front", "", time.Minute)
	require.NoError(t, err)

	named, err := f.manager.Open("front", "bob", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, anon.ID(), named.ID(), "anonymous latch is rebound, not replaced")
	assert.Equal(t, "bob", named.Username())
}

func TestCloseLifecycle(t *testing.T) {
	f := newFixture(t, "front")
	l, err := f.manager.Open("front", "alice", time.Minute)
	require.NoError(t, err)

	closed := f.manager.Close("front")
	require.NotNil(t, closed)
	assert.Equal(t, l.ID(), closed.ID())
	assert.Equal(t, event.StateCompleted, closed.State())
	assert.Nil(t, f.manager.GetLatch("front"))

	assert.Nil(t, f.manager.Close("front"), "closing a closed gate is a no-op")
}

func TestMeterUpdateUnknownGate(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.manager.UpdateFromMeter("nope", 100))
	assert.Empty(t, f.pub.updates())
}

func TestMeterUpdateZeroDeltaIsNoOp(t *testing.T) {
	f := newFixture(t, "front")
	require.NotNil(t, f.manager.UpdateFromMeter("front", 100))
	f.pub.events = nil

	assert.Nil(t, f.manager.UpdateFromMeter("front", 100))
	assert.Empty(t, f.pub.updates())
}

func TestMeterActivityOpensAnonymousLatch(t *testing.T) {
	f := newFixture(t, "front")

	l := f.manager.UpdateFromMeter("front", 100)
	require.NotNil(t, l)
	assert.Empty(t, l.Username())
	assert.Equal(t, event.StateActive, l.State())

	// Implicit open publishes exactly one update, already active.
	updates := f.pub.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, event.StateActive, updates[0].State)
}

func TestMeterActivityOnExistingLatch(t *testing.T) {
	f := newFixture(t, "front")
	l, err := f.manager.Open("front", "alice", time.Minute)
	require.NoError(t, err)
	f.pub.events = nil

	f.advance(2 * time.Second)
	got := f.manager.UpdateFromMeter("front", 50)
	require.NotNil(t, got)
	assert.Equal(t, l.ID(), got.ID(), "activity attributed to the open latch")
	assert.Equal(t, event.StateActive, got.State())

	f.advance(time.Second)
	f.manager.UpdateFromMeter("front", 75)
	updates := f.pub.updates()
	require.Len(t, updates, 2)
	assert.Equal(t, event.StateActive, updates[1].State)
	assert.True(t, updates[1].LastActivityTime.After(updates[0].LastActivityTime))
}

func TestIdleSweepBoundaryIsStrict(t *testing.T) {
	f := newFixture(t, "front")
	_, err := f.manager.Open("front", "alice", 10*time.Second)
	require.NoError(t, err)

	// Exactly at the bound: not idle yet.
	f.advance(10 * time.Second)
	f.manager.HandleIdleSweep()
	require.NotNil(t, f.manager.GetLatch("front"))

	// One step past the bound: idle, then completed.
	f.advance(time.Nanosecond)
	f.manager.HandleIdleSweep()
	assert.Nil(t, f.manager.GetLatch("front"))
	assert.Equal(t,
		[]event.LatchState{event.StateInitial, event.StateIdle, event.StateCompleted},
		f.pub.states())
}

func TestIdleSweepMeasuresFromLastActivity(t *testing.T) {
	f := newFixture(t, "front")
	_, err := f.manager.Open("front", "alice", 10*time.Second)
	require.NoError(t, err)

	f.advance(8 * time.Second)
	f.manager.UpdateFromMeter("front", 10)

	// 11s after open but only 3s after activity.
	f.advance(3 * time.Second)
	f.manager.HandleIdleSweep()
	assert.NotNil(t, f.manager.GetLatch("front"))

	f.advance(8 * time.Second)
	f.manager.HandleIdleSweep()
	assert.Nil(t, f.manager.GetLatch("front"))
}

func TestHandleRequest(t *testing.T) {
	f := newFixture(t, "front")

	f.manager.HandleRequest(&event.LatchRequest{
		GateName: "front", Request: event.ActionOpenLatch,
	})
	l := f.manager.GetLatch("front")
	require.NotNil(t, l)
	assert.Empty(t, l.Username())

	f.pub.events = nil
	f.manager.HandleRequest(&event.LatchRequest{
		GateName: "front", Request: event.ActionReportStatus,
	})
	updates := f.pub.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, l.ID(), updates[0].LatchID)

	f.manager.HandleRequest(&event.LatchRequest{
		GateName: "front", Request: event.ActionCloseLatch,
	})
	assert.Nil(t, f.manager.GetLatch("front"))
}

func TestConcurrentOpensKeepOneLatchPerGate(t *testing.T) {
	f := newFixture(t, "front")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			username := fmt.Sprintf("user%d", worker)
			for j := 0; j < 25; j++ {
				_, err := f.manager.Open("front", username, time.Minute)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, f.manager.ActiveLatches(), 1)
	require.NotNil(t, f.manager.GetLatch("front"))

	// Every replacement completed its predecessor first, so all but
	// the surviving latch were closed.
	created := make(map[int64]bool)
	completed := 0
	for _, u := range f.pub.updates() {
		switch u.State {
		case event.StateInitial:
			created[u.LatchID] = true
		case event.StateCompleted:
			completed++
		}
	}
	assert.Equal(t, len(created)-1, completed)
}

func TestLatchIDsAreMonotonic(t *testing.T) {
	f := newFixture(t, "front", "back")
	a, err := f.manager.Open("front", "", 0)
	require.NoError(t, err)
	b, err := f.manager.Open("back", "", 0)
	require.NoError(t, err)
	assert.Equal(t, a.ID()+1, b.ID())
}
