package gate

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/errors"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterAndGet(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Register("front"))

	g, err := r.Get("front")
	require.NoError(t, err)
	assert.Equal(t, "front", g.Name())
	assert.True(t, r.Exists("front"))
}

func TestRegisterDuplicate(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Register("front"))

	err := r.Register("front")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)
}

func TestGetUnknown(t *testing.T) {
	r := testRegistry()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownGate)
}

func TestUnregister(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Register("front"))
	require.NoError(t, r.Unregister("front"))
	assert.False(t, r.Exists("front"))

	err := r.Unregister("front")
	assert.ErrorIs(t, err, errors.ErrUnknownGate)
}

func TestListAll(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Register("front"))
	require.NoError(t, r.Register("back"))

	names := make(map[string]bool)
	for _, g := range r.ListAll() {
		names[g.Name()] = true
	}
	assert.Equal(t, map[string]bool{"front": true, "back": true}, names)
}

func TestMeterFirstReadingCountsInFull(t *testing.T) {
	var m Meter
	assert.Equal(t, int64(100), m.SetTicks(100))
	assert.Equal(t, int64(100), m.TotalTicks())
}

func TestMeterDeltas(t *testing.T) {
	var m Meter
	m.SetTicks(100)
	assert.Equal(t, int64(20), m.SetTicks(120))
	assert.Equal(t, int64(0), m.SetTicks(120))
	assert.Equal(t, int64(120), m.TotalTicks())
}

func TestMeterResetRestartsBaseline(t *testing.T) {
	var m Meter
	m.SetTicks(1000)
	// Counter wrapped or device rebooted: the new reading counts whole.
	assert.Equal(t, int64(40), m.SetTicks(40))
	assert.Equal(t, int64(10), m.SetTicks(50))
	assert.Equal(t, int64(1050), m.TotalTicks())
}

func TestMeterLastActivityOnlyOnMovement(t *testing.T) {
	var m Meter
	assert.True(t, m.LastActivity().IsZero())

	m.SetTicks(5)
	first := m.LastActivity()
	assert.False(t, first.IsZero())

	m.SetTicks(5) // zero delta
	assert.Equal(t, first, m.LastActivity())
}
