package latch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/gate"
	"github.com/goliathdrakken/gatebot/hub"
	"github.com/goliathdrakken/gatebot/metric"
)

// DefaultMaxIdle is the idle bound applied to latches opened without an
// explicit bound (implicit meter-activity opens, bare LatchRequests).
const DefaultMaxIdle = 10 * time.Second

// Deps holds runtime dependencies for the latch manager.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Registry
	Hub     hub.Publisher
	Gates   *gate.Registry

	// DefaultMaxIdle overrides the package default when > 0.
	DefaultMaxIdle time.Duration

	// Now substitutes the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Manager creates latches and manages their lifecycle. It sits one
// layer above the gate registry and never touches devices directly.
type Manager struct {
	*hub.Router

	logger         *slog.Logger
	metrics        *metric.CoreMetrics
	publisher      hub.Publisher
	gates          *gate.Registry
	defaultMaxIdle time.Duration
	now            func() time.Time

	mu      sync.Mutex
	latches map[string]*Latch
	nextID  int64
}

// NewManager creates a latch manager and binds its event handlers.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "latch-manager")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	defaultMaxIdle := deps.DefaultMaxIdle
	if defaultMaxIdle <= 0 {
		defaultMaxIdle = DefaultMaxIdle
	}

	m := &Manager{
		Router:         hub.NewRouter(),
		logger:         logger,
		metrics:        deps.Metrics.Core(),
		publisher:      deps.Hub,
		gates:          deps.Gates,
		defaultMaxIdle: defaultMaxIdle,
		now:            now,
		latches:        make(map[string]*Latch),
		// Seeding from wall-clock seconds keeps IDs unique across
		// process restarts.
		nextID: now().Unix(),
	}

	m.Bind(event.KindHeartbeatSecond, func(event.Event) { m.HandleIdleSweep() })
	m.Bind(event.KindLatchRequest, func(ev event.Event) {
		m.HandleRequest(ev.(*event.LatchRequest))
	})
	m.Bind(event.KindMeterUpdate, func(ev event.Event) {
		mu := ev.(*event.MeterUpdate)
		m.UpdateFromMeter(mu.GateName, mu.Reading)
	})

	return m
}

// GetLatch returns the active latch for a gate, or nil.
func (m *Manager) GetLatch(gateName string) *Latch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latches[gateName]
}

// ActiveLatches returns the active latches in unspecified order.
func (m *Manager) ActiveLatches() []*Latch {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Latch, 0, len(m.latches))
	for _, l := range m.latches {
		ret = append(ret, l)
	}
	return ret
}

// Open starts or renews the latch on a gate.
//
// If a latch already exists for the gate: an anonymous latch is rebound
// to a non-empty username (ownership transfer); a latch owned by a
// different user is closed and replaced; a latch owned by the same user
// has its idle bound refreshed. Fails with ErrUnknownGate (and creates
// nothing) if the gate is not registered.
func (m *Manager) Open(gateName, username string, maxIdle time.Duration) (*Latch, error) {
	if _, err := m.gates.Get(gateName); err != nil {
		return nil, err
	}
	if maxIdle <= 0 {
		maxIdle = m.defaultMaxIdle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.latches[gateName]
	if current != nil && username != "" && current.username != username {
		if current.username == "" {
			m.logger.Info("User is taking over the existing latch",
				"user", username, "latch", current.String())
			current.username = username
			m.publishUpdate(current)
			return current, nil
		}
		m.logger.Info("User is replacing the existing latch",
			"user", username, "latch", current.String())
		m.closeLocked(gateName)
		current = nil
	}

	if current != nil && current.username == username {
		// Existing latch owned by this user: just poke it.
		current.maxIdle = maxIdle
		m.publishUpdate(current)
		return current, nil
	}

	l := &Latch{
		id:        m.nextIDLocked(),
		gateName:  gateName,
		username:  username,
		maxIdle:   maxIdle,
		state:     event.StateInitial,
		startTime: m.now(),
	}
	m.latches[gateName] = l
	m.logger.Info("Opening latch", "latch", l.String())
	if m.metrics != nil {
		m.metrics.LatchesOpened.Inc()
		m.metrics.ActiveLatches.Set(float64(len(m.latches)))
	}
	m.publishUpdate(l)
	return l, nil
}

// Close ends the gate's latch, publishing the completed transition.
// Returns nil if the gate has no latch.
func (m *Manager) Close(gateName string) *Latch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(gateName)
}

func (m *Manager) closeLocked(gateName string) *Latch {
	l := m.latches[gateName]
	if l == nil {
		return nil
	}
	m.logger.Info("Closing latch", "latch", l.String())
	delete(m.latches, gateName)
	m.stateChange(l, event.StateCompleted)
	if m.metrics != nil {
		m.metrics.LatchesClosed.Inc()
		m.metrics.ActiveLatches.Set(float64(len(m.latches)))
	}
	return l
}

// UpdateFromMeter records sensor activity on a gate. A zero meter delta
// is a no-op. A nonzero delta on a latch-less gate implicitly opens an
// anonymous latch before the activity is recorded; the first activity
// forces the active state.
func (m *Manager) UpdateFromMeter(gateName string, reading int64) *Latch {
	g, err := m.gates.Get(gateName)
	if err != nil {
		m.logger.Warn("Meter update for unknown gate", "gate", gateName)
		return nil
	}

	delta := g.Meter().SetTicks(reading)
	m.logger.Debug("Meter update",
		"gate", gateName, "reading", reading, "delta", delta)
	if delta == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.latches[gateName]
	if l == nil {
		l = &Latch{
			id:        m.nextIDLocked(),
			gateName:  gateName,
			maxIdle:   m.defaultMaxIdle,
			state:     event.StateInitial,
			startTime: m.now(),
		}
		m.latches[gateName] = l
		m.logger.Info("Activity on latch-less gate, opening anonymous latch",
			"latch", l.String())
		if m.metrics != nil {
			m.metrics.LatchesOpened.Inc()
			m.metrics.ActiveLatches.Set(float64(len(m.latches)))
		}
	}

	l.touch(m.now())
	if l.state != event.StateActive {
		m.stateChange(l, event.StateActive)
	} else {
		m.publishUpdate(l)
	}
	return l
}

// HandleIdleSweep closes every latch whose idle time strictly exceeds
// its bound, transitioning through the idle state first. Runs on each
// heartbeat second.
func (m *Manager) HandleIdleSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	// Collect first: closeLocked mutates the map.
	var idle []*Latch
	for _, l := range m.latches {
		if l.isIdle(now) {
			idle = append(idle, l)
		}
	}
	for _, l := range idle {
		m.logger.Info("Latch has become too idle, ending", "latch", l.String())
		m.stateChange(l, event.StateIdle)
		m.closeLocked(l.gateName)
	}
}

// HandleRequest routes an external latch request.
func (m *Manager) HandleRequest(req *event.LatchRequest) {
	switch req.Request {
	case event.ActionOpenLatch:
		if _, err := m.Open(req.GateName, "", m.defaultMaxIdle); err != nil {
			m.logger.Warn("Open request for unknown gate", "gate", req.GateName)
		}
	case event.ActionCloseLatch:
		m.Close(req.GateName)
	case event.ActionReportStatus:
		m.reportStatus(req.GateName)
	}
}

func (m *Manager) reportStatus(gateName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.latches[gateName]; l != nil {
		m.publishUpdate(l)
	}
}

func (m *Manager) nextIDLocked() int64 {
	ret := m.nextID
	m.nextID++
	return ret
}

func (m *Manager) stateChange(l *Latch, state event.LatchState) {
	l.state = state
	m.publishUpdate(l)
}

func (m *Manager) publishUpdate(l *Latch) {
	m.publisher.Publish(l.snapshot())
}
