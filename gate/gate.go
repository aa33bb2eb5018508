package gate

import (
	"sync"
	"time"
)

// Gate is a registered physical access point. A Gate owns its meter
// state and nothing else; lifetime belongs to the Registry.
type Gate struct {
	name  string
	meter Meter
}

// NewGate creates a gate with a fresh meter.
func NewGate(name string) *Gate {
	return &Gate{name: name}
}

// Name returns the gate's registered name.
func (g *Gate) Name() string {
	return g.name
}

// Meter returns the gate's meter.
func (g *Gate) Meter() *Meter {
	return &g.meter
}

// Meter tracks a gate sensor's cumulative tick counter.
type Meter struct {
	mu           sync.Mutex
	lastReading  int64
	totalTicks   int64
	lastActivity time.Time
}

// SetTicks records a new cumulative reading and returns the delta since
// the previous one. A reading below the previous value is treated as a
// counter reset: the baseline restarts and the full reading counts as
// the delta. The zero-valued meter has a baseline of zero, so the first
// reading counts in full.
func (m *Meter) SetTicks(reading int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := reading - m.lastReading
	if delta < 0 {
		delta = reading
	}
	m.lastReading = reading
	if delta != 0 {
		m.totalTicks += delta
		m.lastActivity = time.Now()
	}
	return delta
}

// TotalTicks returns the accumulated tick count across resets.
func (m *Meter) TotalTicks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTicks
}

// LastActivity returns the time of the last nonzero delta, or the zero
// time if the meter has never moved.
func (m *Meter) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}
