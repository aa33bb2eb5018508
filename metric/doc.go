// Package metric provides Prometheus-based metrics collection and an
// HTTP endpoint for gatebot monitoring.
//
// A single Registry owns the core platform metrics (event hub traffic,
// latch/entry counts, gatenet peers) and accepts component-specific
// collectors. The Server exposes everything on /metrics with a trivial
// /healthz alongside.
package metric
