// Package config defines the gatebot configuration file format and its
// defaults.
//
// Configuration is a single YAML document deserialized into one
// explicit Config struct. Load starts from Default and overlays the
// file, so a minimal config only names its gates.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goliathdrakken/gatebot/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "120s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.WrapInvalid(err, "config", "UnmarshalYAML", "duration parsing")
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Well-known auth device names.
const (
	AuthDeviceOnewire = "core.onewire"
	AuthDeviceRFID    = "contrib.phidget.rfid"
)

// Config is the complete gatebot configuration.
type Config struct {
	Core      CoreConfig      `yaml:"core"`
	Gates     []GateConfig    `yaml:"gates"`
	Auth      AuthConfig      `yaml:"auth"`
	Backend   BackendConfig   `yaml:"backend"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Relay     RelayConfig     `yaml:"relay"`
	Gateboard GateboardConfig `yaml:"gateboard"`
}

// CoreConfig holds the event engine and gatenet listener settings.
type CoreConfig struct {
	// ListenAddr is the gatenet TCP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// HeartbeatInterval is the period of the second heartbeat driving
	// idle sweeps.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// EventQueueSize bounds the hub queue. 0 uses the hub default.
	EventQueueSize int `yaml:"event_queue_size"`
}

// GateConfig describes one controlled gate.
type GateConfig struct {
	Name string `yaml:"name"`

	// MaxIdle overrides the latch idle bound for latches explicitly
	// requested on this gate. 0 uses the default.
	MaxIdle Duration `yaml:"max_idle"`
}

// AuthConfig holds authentication manager settings.
type AuthConfig struct {
	// AllGatesAlias is the reserved gate name that fans out to every
	// registered gate.
	AllGatesAlias string `yaml:"all_gates_alias"`

	// DefaultMaxIdle applies to latches opened by devices absent from
	// MaxIdle.
	DefaultMaxIdle Duration `yaml:"default_max_idle"`

	// MaxIdle maps auth device names to latch idle bounds. Contactless
	// devices get short bounds since removal carries no signal.
	MaxIdle map[string]Duration `yaml:"max_idle"`

	// DefaultCaptive applies to devices absent from Captive.
	DefaultCaptive bool `yaml:"default_captive"`

	// Captive maps auth device names to whether they hold the
	// credential while in use.
	Captive map[string]bool `yaml:"captive"`
}

// BackendConfig selects and configures the persistence backend.
type BackendConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RelayConfig configures optional external event sinks.
type RelayConfig struct {
	NATS      NATSRelayConfig      `yaml:"nats"`
	WebSocket WebSocketRelayConfig `yaml:"websocket"`
}

// NATSRelayConfig configures the NATS event mirror.
type NATSRelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// WebSocketRelayConfig configures the WebSocket event fanout.
type WebSocketRelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// GateboardConfig configures a local board link (used by gateboardd).
type GateboardConfig struct {
	Device           string `yaml:"device"`
	Baud             int    `yaml:"baud"`
	BoardName        string `yaml:"board_name"`
	GateName         string `yaml:"gate_name"`
	RequiredFirmware uint16 `yaml:"required_firmware"`
	StrictCRC        bool   `yaml:"strict_crc"`
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			ListenAddr:        "localhost:9805",
			HeartbeatInterval: Duration(time.Second),
		},
		Auth: AuthConfig{
			AllGatesAlias:  "__all_gates__",
			DefaultMaxIdle: Duration(10 * time.Second),
			MaxIdle: map[string]Duration{
				AuthDeviceOnewire: Duration(120 * time.Second),
				AuthDeviceRFID:    Duration(20 * time.Second),
			},
			DefaultCaptive: true,
			Captive: map[string]bool{
				AuthDeviceOnewire: true,
				AuthDeviceRFID:    false,
			},
		},
		Backend: BackendConfig{
			Driver: "memory",
			Path:   "./data/gatebot.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "localhost:9100",
		},
		Relay: RelayConfig{
			WebSocket: WebSocketRelayConfig{
				Addr: "localhost:9806",
				Path: "/events",
			},
		},
		Gateboard: GateboardConfig{
			Baud:             115200,
			BoardName:        "gateboard",
			RequiredFirmware: 4,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "file read")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "Load", "yaml parsing")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Core.ListenAddr); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: core.listen_addr %q", errors.ErrInvalidConfig, c.Core.ListenAddr),
			"config", "Validate", "listen address check")
	}
	if c.Core.HeartbeatInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: core.heartbeat_interval must be positive", errors.ErrInvalidConfig),
			"config", "Validate", "heartbeat check")
	}

	seen := make(map[string]bool, len(c.Gates))
	for _, g := range c.Gates {
		if g.Name == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: gate with empty name", errors.ErrInvalidConfig),
				"config", "Validate", "gate name check")
		}
		if g.Name == c.Auth.AllGatesAlias {
			return errors.WrapInvalid(
				fmt.Errorf("%w: gate name %q collides with the all-gates alias",
					errors.ErrInvalidConfig, g.Name),
				"config", "Validate", "gate name check")
		}
		if seen[g.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate gate %q", errors.ErrInvalidConfig, g.Name),
				"config", "Validate", "gate name check")
		}
		seen[g.Name] = true
	}

	switch c.Backend.Driver {
	case "memory":
	case "sqlite":
		if c.Backend.Path == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: backend.path required for sqlite", errors.ErrMissingConfig),
				"config", "Validate", "backend check")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: backend.driver %q", errors.ErrInvalidConfig, c.Backend.Driver),
			"config", "Validate", "backend check")
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: metrics.addr %q", errors.ErrInvalidConfig, c.Metrics.Addr),
				"config", "Validate", "metrics address check")
		}
	}
	if c.Relay.WebSocket.Enabled {
		if _, _, err := net.SplitHostPort(c.Relay.WebSocket.Addr); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: relay.websocket.addr %q", errors.ErrInvalidConfig, c.Relay.WebSocket.Addr),
				"config", "Validate", "relay address check")
		}
	}
	return nil
}
