package event

import "time"

// Kind names an event type. The string value is the wire name carried in
// the envelope's "event" field.
type Kind string

// All event kinds known to the core.
const (
	KindPing            Kind = "Ping"
	KindQuit            Kind = "QuitEvent"
	KindStartComplete   Kind = "StartCompleteEvent"
	KindMeterUpdate     Kind = "MeterUpdate"
	KindLatchUpdate     Kind = "LatchUpdate"
	KindGateIdle        Kind = "GateIdleEvent"
	KindEntryCreated    Kind = "EntryCreatedEvent"
	KindTokenAuth       Kind = "TokenAuthEvent"
	KindThermo          Kind = "ThermoEvent"
	KindLatchRequest    Kind = "LatchRequest"
	KindHeartbeatSecond Kind = "HeartbeatSecondEvent"
	KindHeartbeatMinute Kind = "HeartbeatMinuteEvent"
	KindHeartbeatHour   Kind = "HeartbeatHourEvent"
)

// Event is implemented by every event struct.
type Event interface {
	// EventKind returns the wire name of this event's type.
	EventKind() Kind
}

// LatchState enumerates the states of a latch session.
type LatchState string

// Latch session states. StateCloseWait is declared for protocol
// compatibility but no transition currently targets it.
const (
	StateInitial   LatchState = "initial"
	StateActive    LatchState = "active"
	StateIdle      LatchState = "idle"
	StateCloseWait LatchState = "close_wait"
	StateCompleted LatchState = "completed"
)

// TokenStatus enumerates presence states of an auth token.
type TokenStatus string

// Token presence states.
const (
	TokenAdded   TokenStatus = "added"
	TokenRemoved TokenStatus = "removed"
)

// LatchAction enumerates the requests carried by a LatchRequest.
type LatchAction string

// LatchRequest actions.
const (
	ActionOpenLatch    LatchAction = "open_latch"
	ActionCloseLatch   LatchAction = "close_latch"
	ActionReportStatus LatchAction = "report_status"
)

// Ping is a connectivity probe with no payload.
type Ping struct{}

// EventKind implements Event.
func (*Ping) EventKind() Kind { return KindPing }

// QuitEvent announces an orderly shutdown of the publishing process.
// Subscribers that buffer state should flush on receipt.
type QuitEvent struct{}

// EventKind implements Event.
func (*QuitEvent) EventKind() Kind { return KindQuit }

// StartCompleteEvent announces that the core finished starting all of
// its managers and worker loops.
type StartCompleteEvent struct{}

// EventKind implements Event.
func (*StartCompleteEvent) EventKind() Kind { return KindStartComplete }

// MeterUpdate is a raw counter reading from a gate's flow-style sensor.
type MeterUpdate struct {
	GateName string `json:"gate_name"`
	Reading  int64  `json:"reading"`
}

// EventKind implements Event.
func (*MeterUpdate) EventKind() Kind { return KindMeterUpdate }

// LatchUpdate is a snapshot of a latch session, published on every state
// transition and on activity. LastActivityTime is always >= StartTime.
type LatchUpdate struct {
	LatchID          int64      `json:"latch_id"`
	GateName         string     `json:"gate_name"`
	State            LatchState `json:"state"`
	Username         string     `json:"username,omitempty"`
	StartTime        time.Time  `json:"start_time"`
	LastActivityTime time.Time  `json:"last_activity_time"`
}

// EventKind implements Event.
func (*LatchUpdate) EventKind() Kind { return KindLatchUpdate }

// GateIdleEvent reports that a gate has gone idle.
type GateIdleEvent struct {
	GateName string `json:"gate_name"`
}

// EventKind implements Event.
func (*GateIdleEvent) EventKind() Kind { return KindGateIdle }

// EntryCreatedEvent announces that a completed latch was persisted as an
// entry by the backend.
type EntryCreatedEvent struct {
	LatchID   int64     `json:"latch_id"`
	EntryID   int64     `json:"entry_id"`
	GateName  string    `json:"gate_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Username  string    `json:"username,omitempty"`
}

// EventKind implements Event.
func (*EntryCreatedEvent) EventKind() Kind { return KindEntryCreated }

// TokenAuthEvent reports presence or removal of a credential at a gate.
// GateName may be the configured all-gates alias, which handlers resolve
// to every currently registered gate.
type TokenAuthEvent struct {
	GateName       string      `json:"gate_name"`
	AuthDeviceName string      `json:"auth_device_name"`
	TokenValue     string      `json:"token_value"`
	Status         TokenStatus `json:"status"`
}

// EventKind implements Event.
func (*TokenAuthEvent) EventKind() Kind { return KindTokenAuth }

// ThermoEvent is a temperature sensor reading.
type ThermoEvent struct {
	SensorName  string  `json:"sensor_name"`
	SensorValue float64 `json:"sensor_value"`
}

// EventKind implements Event.
func (*ThermoEvent) EventKind() Kind { return KindThermo }

// LatchRequest is an explicit external command against a gate's latch.
type LatchRequest struct {
	GateName string      `json:"gate_name"`
	Request  LatchAction `json:"request"`
}

// EventKind implements Event.
func (*LatchRequest) EventKind() Kind { return KindLatchRequest }

// HeartbeatSecondEvent fires once per heartbeat interval (nominally one
// second). The latch manager's idle sweep runs on it.
type HeartbeatSecondEvent struct{}

// EventKind implements Event.
func (*HeartbeatSecondEvent) EventKind() Kind { return KindHeartbeatSecond }

// HeartbeatMinuteEvent fires once per minute.
type HeartbeatMinuteEvent struct{}

// EventKind implements Event.
func (*HeartbeatMinuteEvent) EventKind() Kind { return KindHeartbeatMinute }

// HeartbeatHourEvent fires once per hour.
type HeartbeatHourEvent struct{}

// EventKind implements Event.
func (*HeartbeatHourEvent) EventKind() Kind { return KindHeartbeatHour }
