package backend

import (
	"context"
	"time"
)

// Token is a credential record resolved from an auth device reading.
type Token struct {
	AuthDevice string
	TokenValue string
	Username   string
}

// Entry is one persisted record of a completed latch session.
type Entry struct {
	ID       int64
	GateName string
	Username string
	PourTime time.Time
	Duration time.Duration
}

// Backend is the storage/credential collaborator consumed by the
// authentication coordinator and the entry recorder.
type Backend interface {
	// LookupToken resolves a credential to its owning user. Fails with
	// errors.ErrUnknownToken when the credential is not assigned; that
	// is an expected miss, not a failure.
	LookupToken(ctx context.Context, authDevice, tokenValue string) (*Token, error)

	// RecordEntry persists a completed latch as an entry. Returns
	// (nil, nil) when policy declines the record (e.g. zero-duration
	// spillage); the caller logs and moves on.
	RecordEntry(ctx context.Context, gateName, username string, pourTime time.Time, duration time.Duration) (*Entry, error)

	// ListGates returns the gate names known to the backend, used to
	// seed the gate registry at startup.
	ListGates(ctx context.Context) ([]string, error)
}
