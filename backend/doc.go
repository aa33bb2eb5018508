// Package backend defines the collaborator interface through which the
// core resolves credentials and persists entries, plus an in-memory
// implementation used by tests and degraded operation.
//
// The core treats the backend as best-effort: a lookup miss means an
// anonymous latch, a record failure means lost history, never blocked
// gate operation.
package backend
