package gate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliathdrakken/gatebot/errors"
)

// Registry maintains the listing of available gates.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	gates map[string]*Gate
}

// NewRegistry creates an empty gate registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "gate-registry")
	}
	return &Registry{
		logger: logger,
		gates:  make(map[string]*Gate),
	}
}

// Register adds a new gate. Fails with ErrAlreadyRegistered if the name
// is taken.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gates[name]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrAlreadyRegistered, name),
			"gate-registry", "Register", "duplicate check")
	}
	r.logger.Info("Registering new gate", "gate", name)
	r.gates[name] = NewGate(name)
	return nil
}

// Unregister removes a gate. Fails with ErrUnknownGate if absent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gates[name]; !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownGate, name),
			"gate-registry", "Unregister", "existence check")
	}
	r.logger.Info("Unregistering gate", "gate", name)
	delete(r.gates, name)
	return nil
}

// Get returns the named gate, or ErrUnknownGate.
func (r *Registry) Get(name string) (*Gate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gates[name]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownGate, name),
			"gate-registry", "Get", "lookup")
	}
	return g, nil
}

// Exists reports whether the named gate is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.gates[name]
	return ok
}

// ListAll returns every registered gate in unspecified order.
func (r *Registry) ListAll() []*Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*Gate, 0, len(r.gates))
	for _, g := range r.gates {
		ret = append(ret, g)
	}
	return ret
}
