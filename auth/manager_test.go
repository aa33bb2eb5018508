package auth

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/backend"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/gate"
	"github.com/goliathdrakken/gatebot/latch"
)

// discard swallows latch updates; auth tests inspect the latch manager
// directly.
type discard struct{}

func (discard) Publish(event.Event) {}

type fixture struct {
	manager *Manager
	latches *latch.Manager
	store   *backend.Memory
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

	gates := gate.NewRegistry(logger)
	for _, name := range gateNames {
		require.NoError(t, gates.Register(name))
	}

	f := &fixture{
		store: backend.NewMemory(),
		now:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	f.latches = latch.NewManager(latch.Deps{
		Logger: logger,
		Hub:    discard{},
		Gates:  gates,
		Now:    f.clock,
	})
	f.manager = NewManager(Deps{
		Logger:  logger,
		Latches: f.latches,
		Gates:   gates,
		Backend: f.store,
		MaxIdle: map[string]time.Duration{
			"core.onewire":         120 * time.Second,
			"contrib.phidget.rfid": 20 * time.Second,
		},
		DefaultMaxIdle: 10 * time.Second,
		Captive: map[string]bool{
			"core.onewire":         true,
			"contrib.phidget.rfid": false,
		},
		DefaultCaptive: true,
		Now:            f.clock,
	})
	return f
}

func tokenAdd(gateName, device, value string) *event.TokenAuthEvent {
	return &event.TokenAuthEvent{
		GateName:       gateName,
		AuthDeviceName: device,
		TokenValue:     value,
		Status:         event.TokenAdded,
	}
}

func tokenRemove(gateName, device, value string) *event.TokenAuthEvent {
	return &event.TokenAuthEvent{
		GateName:       gateName,
		AuthDeviceName: device,
		TokenValue:     value,
		Status:         event.TokenRemoved,
	}
}

func TestAssignedTokenOpensLatch(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("core.onewire", "c0ffee", "alice")

	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "c0ffee"))

	l := f.latches.GetLatch("front")
	require.NotNil(t, l)
	assert.Equal(t, "alice", l.Username())
	assert.Equal(t, 120*time.Second, l.MaxIdle(), "per-device idle bound applied")
}

func TestUnassignedTokenOpensNothing(t *testing.T) {
	f := newFixture(t, "front")

	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "deadbeef"))

	assert.Nil(t, f.latches.GetLatch("front"))
	require.NotNil(t, f.manager.CurrentToken("front"),
		"token is tracked even when unassigned")
}

func TestUnknownGateIsDropped(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("core.onewire", "c0ffee", "alice")

	require.NotPanics(t, func() {
		f.manager.HandleTokenAuth(tokenAdd("nope", "core.onewire", "c0ffee"))
	})
	assert.Nil(t, f.manager.CurrentToken("nope"))
	assert.Nil(t, f.latches.GetLatch("front"))
}

func TestWildcardFansOutToAllGates(t *testing.T) {
	f := newFixture(t, "front", "back")
	f.store.AssignToken("core.onewire", "c0ffee", "alice")

	f.manager.HandleTokenAuth(tokenAdd(DefaultAllGatesAlias, "core.onewire", "c0ffee"))

	for _, gateName := range []string{"front", "back"} {
		l := f.latches.GetLatch(gateName)
		require.NotNil(t, l, "gate %s", gateName)
		assert.Equal(t, "alice", l.Username())
	}
}

func TestSameTokenReAddIsDebounced(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("core.onewire", "c0ffee", "alice")

	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "c0ffee"))
	first := f.latches.GetLatch("front")
	require.NotNil(t, first)
	seen := f.manager.CurrentToken("front").LastSeen

	f.advance(5 * time.Second)
	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "c0ffee"))

	second := f.latches.GetLatch("front")
	require.NotNil(t, second)
	assert.Equal(t, first.ID(), second.ID(), "debounce must not bounce the latch")
	assert.True(t, f.manager.CurrentToken("front").LastSeen.After(seen),
		"last seen refreshed")
}

func TestDifferentTokenReplaces(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("core.onewire", "aaaa", "alice")
	f.store.AssignToken("core.onewire", "bbbb", "bob")

	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "aaaa"))
	aliceLatch := f.latches.GetLatch("front")
	require.NotNil(t, aliceLatch)

	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "bbbb"))
	bobLatch := f.latches.GetLatch("front")
	require.NotNil(t, bobLatch)

	assert.Equal(t, "bob", bobLatch.Username())
	assert.NotEqual(t, aliceLatch.ID(), bobLatch.ID())
	rec := f.manager.CurrentToken("front")
	require.NotNil(t, rec)
	assert.Equal(t, "bbbb", rec.TokenValue)
}

func TestCaptiveRemovalClosesLatch(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("core.onewire", "c0ffee", "alice")

	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "c0ffee"))
	require.NotNil(t, f.latches.GetLatch("front"))

	f.manager.HandleTokenAuth(tokenRemove("front", "core.onewire", "c0ffee"))
	assert.Nil(t, f.latches.GetLatch("front"), "captive device ends the latch")
	assert.Nil(t, f.manager.CurrentToken("front"))
}

func TestNonCaptiveRemovalLeavesLatch(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("contrib.phidget.rfid", "1234", "alice")

	f.manager.HandleTokenAuth(tokenAdd("front", "contrib.phidget.rfid", "1234"))
	require.NotNil(t, f.latches.GetLatch("front"))

	f.manager.HandleTokenAuth(tokenRemove("front", "contrib.phidget.rfid", "1234"))
	assert.NotNil(t, f.latches.GetLatch("front"),
		"contactless removal relies on the idle sweep")
	assert.Nil(t, f.manager.CurrentToken("front"), "record still cleared")
}

func TestStaleRemovalIsIgnored(t *testing.T) {
	f := newFixture(t, "front")
	f.store.AssignToken("core.onewire", "c0ffee", "alice")
	f.manager.HandleTokenAuth(tokenAdd("front", "core.onewire", "c0ffee"))

	// Removal of a token that is not the tracked one.
	require.NotPanics(t, func() {
		f.manager.HandleTokenAuth(tokenRemove("front", "core.onewire", "other"))
	})
	assert.NotNil(t, f.latches.GetLatch("front"))
	assert.NotNil(t, f.manager.CurrentToken("front"))
}

func TestRemovalWithNothingTracked(t *testing.T) {
	f := newFixture(t, "front")
	require.NotPanics(t, func() {
		f.manager.HandleTokenAuth(tokenRemove("front", "core.onewire", "c0ffee"))
	})
}

func TestTokenRecordString(t *testing.T) {
	rec := newTokenRecord("core.onewire", "c0ffee", "front", time.Now())
	assert.Equal(t, "core.onewire=c0ffee@front", rec.String())
}
