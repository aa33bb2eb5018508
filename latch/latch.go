package latch

import (
	"fmt"
	"time"

	"github.com/goliathdrakken/gatebot/event"
)

// Latch is one authorized open-gate session. All fields are guarded by
// the owning Manager's lock; the struct itself carries no lock.
type Latch struct {
	id       int64
	gateName string
	username string
	maxIdle  time.Duration
	state    event.LatchState

	startTime time.Time
	// endTime is the time of the most recent activity; zero until the
	// first activity is seen.
	endTime time.Time
}

// ID returns the latch's process-unique identifier.
func (l *Latch) ID() int64 { return l.id }

// GateName returns the name of the gate this latch is bound to. The
// latch holds only the identifier; gate lifetime belongs to the
// registry.
func (l *Latch) GateName() string { return l.gateName }

// Username returns the bound username, empty for an anonymous latch.
func (l *Latch) Username() string { return l.username }

// State returns the latch's current state.
func (l *Latch) State() event.LatchState { return l.state }

// MaxIdle returns the latch's idle bound.
func (l *Latch) MaxIdle() time.Duration { return l.maxIdle }

// StartTime returns when the latch was opened.
func (l *Latch) StartTime() time.Time { return l.startTime }

func (l *Latch) String() string {
	return fmt.Sprintf("<Latch 0x%08x: gate=%s username=%q max_idle=%s>",
		l.id, l.gateName, l.username, l.maxIdle)
}

// touch records activity at the given instant.
func (l *Latch) touch(now time.Time) {
	l.endTime = now
}

// lastActivity is the most recent activity time, or the start time if
// the latch has never been active.
func (l *Latch) lastActivity() time.Time {
	if l.endTime.IsZero() {
		return l.startTime
	}
	return l.endTime
}

// idleTime is the elapsed time since the last activity.
func (l *Latch) idleTime(now time.Time) time.Duration {
	return now.Sub(l.lastActivity())
}

// isIdle reports whether idle time strictly exceeds the max-idle bound.
// Equality does not trip the bound.
func (l *Latch) isIdle(now time.Time) bool {
	return l.idleTime(now) > l.maxIdle
}

// snapshot builds the LatchUpdate wire representation of the latch.
func (l *Latch) snapshot() *event.LatchUpdate {
	return &event.LatchUpdate{
		LatchID:          l.id,
		GateName:         l.gateName,
		State:            l.state,
		Username:         l.username,
		StartTime:        l.startTime,
		LastActivityTime: l.lastActivity(),
	}
}
