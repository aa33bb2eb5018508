package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goliathdrakken/gatebot/backend"
	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/gate"
	"github.com/goliathdrakken/gatebot/hub"
	"github.com/goliathdrakken/gatebot/latch"
)

// DefaultAllGatesAlias is the reserved gate name meaning "every
// currently registered gate". The alias itself is never registered.
const DefaultAllGatesAlias = "__all_gates__"

// backendTimeout bounds credential lookups so a hung backend cannot
// stall token processing indefinitely.
const backendTimeout = 5 * time.Second

// Deps holds runtime dependencies for the authentication manager.
type Deps struct {
	Logger  *slog.Logger
	Latches *latch.Manager
	Gates   *gate.Registry
	Backend backend.Backend

	// AllGatesAlias overrides DefaultAllGatesAlias when non-empty.
	AllGatesAlias string

	// MaxIdle maps auth device names to the idle bound applied to
	// latches they open; DefaultMaxIdle is the fallback.
	MaxIdle        map[string]time.Duration
	DefaultMaxIdle time.Duration

	// Captive maps auth device names to whether the device physically
	// retains the credential; DefaultCaptive is the fallback. Removal
	// from a captive device closes the latch immediately.
	Captive        map[string]bool
	DefaultCaptive bool

	// Now substitutes the clock, for tests.
	Now func() time.Time
}

// Manager reacts to TokenAuthEvents and drives the latch manager.
type Manager struct {
	*hub.Router

	logger         *slog.Logger
	latches        *latch.Manager
	gates          *gate.Registry
	backend        backend.Backend
	allGatesAlias  string
	maxIdle        map[string]time.Duration
	defaultMaxIdle time.Duration
	captive        map[string]bool
	defaultCaptive bool
	now            func() time.Time

	mu     sync.Mutex
	tokens map[string]*TokenRecord // gate name -> currently present token
}

// NewManager creates an authentication manager and binds its handlers.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "auth-manager")
	}
	alias := deps.AllGatesAlias
	if alias == "" {
		alias = DefaultAllGatesAlias
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	defaultMaxIdle := deps.DefaultMaxIdle
	if defaultMaxIdle <= 0 {
		defaultMaxIdle = latch.DefaultMaxIdle
	}

	m := &Manager{
		Router:         hub.NewRouter(),
		logger:         logger,
		latches:        deps.Latches,
		gates:          deps.Gates,
		backend:        deps.Backend,
		allGatesAlias:  alias,
		maxIdle:        deps.MaxIdle,
		defaultMaxIdle: defaultMaxIdle,
		captive:        deps.Captive,
		defaultCaptive: deps.DefaultCaptive,
		now:            now,
		tokens:         make(map[string]*TokenRecord),
	}

	m.Bind(event.KindTokenAuth, func(ev event.Event) {
		m.HandleTokenAuth(ev.(*event.TokenAuthEvent))
	})

	return m
}

// CurrentToken returns the token record tracked for a gate, or nil.
func (m *Manager) CurrentToken(gateName string) *TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[gateName]
}

// HandleTokenAuth processes a token presence event. The wildcard alias
// fans out to every registered gate; an unknown concrete gate resolves
// to nothing and the event is silently dropped.
func (m *Manager) HandleTokenAuth(ev *event.TokenAuthEvent) {
	for _, gateName := range m.resolveGates(ev.GateName) {
		switch ev.Status {
		case event.TokenAdded:
			m.tokenAdded(ev.AuthDeviceName, ev.TokenValue, gateName)
		case event.TokenRemoved:
			m.tokenRemoved(ev.AuthDeviceName, ev.TokenValue, gateName)
		default:
			m.logger.Warn("Token event with unknown status",
				"status", ev.Status, "gate", gateName)
		}
	}
}

func (m *Manager) resolveGates(gateName string) []string {
	if gateName == m.allGatesAlias {
		gates := m.gates.ListAll()
		names := make([]string, 0, len(gates))
		for _, g := range gates {
			names = append(names, g.Name())
		}
		return names
	}
	if m.gates.Exists(gateName) {
		return []string{gateName}
	}
	return nil
}

// tokenAdded processes a presence signal inside one critical section.
func (m *Manager) tokenAdded(authDevice, tokenValue, gateName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := newTokenRecord(authDevice, tokenValue, gateName, m.now())

	existing := m.tokens[gateName]
	if rec.SameTuple(existing) {
		// Re-adding the present token is a debounce, not a new signal.
		existing.Status = StatusActive
		existing.LastSeen = m.now()
		m.logger.Debug("Token re-attached, refreshing", "token", existing.String())
		return
	}

	m.logger.Info("Token attached", "token", rec.String())
	if existing != nil {
		// A gate never appears to hold two tokens at once.
		m.logger.Info("Removing previous token", "token", existing.String())
		m.tokenRemovedLocked(existing)
	}

	m.tokens[gateName] = rec
	m.maybeOpenLatch(rec)
}

// tokenRemoved processes a removal signal inside one critical section.
func (m *Manager) tokenRemoved(authDevice, tokenValue, gateName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := newTokenRecord(authDevice, tokenValue, gateName, m.now())
	existing := m.tokens[gateName]
	if !rec.SameTuple(existing) {
		m.logger.Warn("Token has already been removed", "token", rec.String())
		return
	}
	m.tokenRemovedLocked(existing)
}

func (m *Manager) tokenRemovedLocked(rec *TokenRecord) {
	m.logger.Info("Token detached", "token", rec.String())
	rec.Status = StatusRemoved
	delete(m.tokens, rec.GateName)
	m.maybeCloseLatch(rec)
}

// maybeOpenLatch starts or renews a latch for the token's user. A
// lookup miss or unavailable backend opens nothing: the gate still
// works via implicit anonymous latches.
func (m *Manager) maybeOpenLatch(rec *TokenRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()

	token, err := m.backend.LookupToken(ctx, rec.AuthDevice, rec.TokenValue)
	if err != nil {
		if errors.Is(err, errors.ErrUnknownToken) {
			m.logger.Info("Token not assigned", "token", rec.String())
		} else {
			m.logger.Warn("Backend unavailable during token lookup, ignoring token",
				"token", rec.String(), "error", err)
		}
		return
	}
	if token.Username == "" {
		m.logger.Info("Token not assigned", "token", rec.String())
		return
	}

	maxIdle, ok := m.maxIdle[rec.AuthDevice]
	if !ok {
		maxIdle = m.defaultMaxIdle
	}
	if _, err := m.latches.Open(rec.GateName, token.Username, maxIdle); err != nil {
		m.logger.Warn("Could not open latch for token",
			"token", rec.String(), "error", err)
	}
}

// maybeCloseLatch ends the gate's latch if the auth device is captive.
// Non-captive (contactless) devices rely on the idle sweep instead.
func (m *Manager) maybeCloseLatch(rec *TokenRecord) {
	captive, ok := m.captive[rec.AuthDevice]
	if !ok {
		captive = m.defaultCaptive
	}
	if captive {
		m.logger.Debug("Captive auth device, ending latch immediately",
			"token", rec.String())
		m.latches.Close(rec.GateName)
	} else {
		m.logger.Debug("Non-captive auth device, leaving latch running",
			"token", rec.String())
	}
}
