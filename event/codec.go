package event

import (
	"encoding/json"
	"fmt"

	"github.com/goliathdrakken/gatebot/errors"
)

// Terminator separates messages on the gatenet wire. It belongs to the
// transport framing, not to the JSON payload.
const Terminator = "\n\n"

// envelope is the wire form of every event.
type envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// factories maps each kind to a constructor for its zero value. Built
// explicitly; decoding consults only this table.
var factories = map[Kind]func() Event{
	KindPing:            func() Event { return &Ping{} },
	KindQuit:            func() Event { return &QuitEvent{} },
	KindStartComplete:   func() Event { return &StartCompleteEvent{} },
	KindMeterUpdate:     func() Event { return &MeterUpdate{} },
	KindLatchUpdate:     func() Event { return &LatchUpdate{} },
	KindGateIdle:        func() Event { return &GateIdleEvent{} },
	KindEntryCreated:    func() Event { return &EntryCreatedEvent{} },
	KindTokenAuth:       func() Event { return &TokenAuthEvent{} },
	KindThermo:          func() Event { return &ThermoEvent{} },
	KindLatchRequest:    func() Event { return &LatchRequest{} },
	KindHeartbeatSecond: func() Event { return &HeartbeatSecondEvent{} },
	KindHeartbeatMinute: func() Event { return &HeartbeatMinuteEvent{} },
	KindHeartbeatHour:   func() Event { return &HeartbeatHourEvent{} },
}

// Kinds returns the names of all registered event kinds.
func Kinds() []Kind {
	ret := make([]Kind, 0, len(factories))
	for k := range factories {
		ret = append(ret, k)
	}
	return ret
}

// New returns a zero value of the named kind, or an error if the kind is
// not registered.
func New(kind Kind) (Event, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownEvent, kind),
			"event", "New", "kind lookup")
	}
	return factory(), nil
}

// Marshal serializes an event to its JSON envelope, without terminator.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.WrapInvalid(err, "event", "Marshal", "payload encoding")
	}
	return json.Marshal(envelope{Event: ev.EventKind(), Data: data})
}

// Unmarshal decodes a JSON envelope into its typed event. Unknown kinds
// and malformed JSON fail with an invalid-class error; callers at
// connection boundaries treat that as a reason to drop the connection,
// never to stop the process.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err),
			"event", "Unmarshal", "envelope decoding")
	}
	ev, err := New(env.Event)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err),
				"event", "Unmarshal", "payload decoding")
		}
	}
	return ev, nil
}
