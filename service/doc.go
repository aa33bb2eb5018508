// Package service assembles the gatebot core: the event hub and its
// dispatcher, the gate registry, the latch, auth and entry managers,
// the gatenet listener, the relay sinks, the metrics server and the
// heartbeat. The Core owns startup order and graceful shutdown; cmd
// binaries only parse flags and hand it a config.
package service
