package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliathdrakken/gatebot/errors"
)

// Memory is an in-memory Backend. It applies the same zero-duration
// spillage decline as the sqlite store.
type Memory struct {
	mu      sync.Mutex
	tokens  map[string]string // "device|value" -> username
	gates   []string
	entries []*Entry
	nextID  int64
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		tokens: make(map[string]string),
		nextID: 1,
	}
}

func tokenKey(authDevice, tokenValue string) string {
	return authDevice + "|" + tokenValue
}

// AssignToken binds a credential to a username.
func (m *Memory) AssignToken(authDevice, tokenValue, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenKey(authDevice, tokenValue)] = username
}

// AddGate adds a gate name to the backend's listing.
func (m *Memory) AddGate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gates = append(m.gates, name)
}

// LookupToken implements Backend.
func (m *Memory) LookupToken(_ context.Context, authDevice, tokenValue string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	username, ok := m.tokens[tokenKey(authDevice, tokenValue)]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s=%s", errors.ErrUnknownToken, authDevice, tokenValue),
			"memory-backend", "LookupToken", "lookup")
	}
	return &Token{
		AuthDevice: authDevice,
		TokenValue: tokenValue,
		Username:   username,
	}, nil
}

// RecordEntry implements Backend.
func (m *Memory) RecordEntry(_ context.Context, gateName, username string, pourTime time.Time, duration time.Duration) (*Entry, error) {
	if duration <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &Entry{
		ID:       m.nextID,
		GateName: gateName,
		Username: username,
		PourTime: pourTime,
		Duration: duration,
	}
	m.nextID++
	m.entries = append(m.entries, entry)
	return entry, nil
}

// ListGates implements Backend.
func (m *Memory) ListGates(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.gates...), nil
}

// Entries returns all recorded entries, for tests.
func (m *Memory) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.entries...)
}
