// Package entry persists completed latch sessions through the backend.
//
// The Recorder listens for LatchUpdate events and, on the completed
// transition, asks the backend to record an entry. The backend may
// decline (policy, e.g. zero-duration spillage); a decline or a backend
// failure is logged and never affects the latch lifecycle. Successful
// records are announced as EntryCreatedEvents.
package entry
