// Package model holds the data shapes shared across the alarm-reporting
// core: event kinds, telenumeric identifiers, and the queued/wire forms of
// an event. Nothing in here talks to a socket, a clock, or a telephony
// host — those seams live in their own packages.
package model

import "fmt"

// EventKind is the closed set of event kinds from the wire protocol. The
// numeric value is the wire id and must not be renumbered once assigned.
type EventKind uint8

const (
	EventOkay EventKind = iota
	EventSensorTriggered
	EventSensorRestored
	EventDisarmed
	EventTempDisarmed
	EventBreach
	EventInternetLost
	EventInternetRestored
	EventPing

	// EventUnknown is not part of the wire closed set; it's the sentinel
	// returned for a wire id outside it. Kept out of the iota block so it
	// can never collide with a real, spec-assigned id.
	EventUnknown EventKind = 255
)

func (k EventKind) String() string {
	switch k {
	case EventOkay:
		return "OKAY"
	case EventSensorTriggered:
		return "SENSOR_TRIGGERED"
	case EventSensorRestored:
		return "SENSOR_RESTORED"
	case EventDisarmed:
		return "DISARMED"
	case EventTempDisarmed:
		return "TEMP_DISARMED"
	case EventBreach:
		return "BREACH"
	case EventInternetLost:
		return "INTERNET_LOST"
	case EventInternetRestored:
		return "INTERNET_RESTORED"
	case EventPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Inferred reports whether the server derives this event from observation
// rather than receiving it on the wire. Inferred events never consume a
// sequence number and are never queued.
func (k EventKind) Inferred() bool {
	switch k {
	case EventBreach, EventInternetLost, EventInternetRestored:
		return true
	default:
		return false
	}
}

// EventKindFromWire maps a wire id back to an EventKind, returning
// EventUnknown for anything outside the closed set.
func EventKindFromWire(id int) EventKind {
	if id < 0 || id > int(EventPing) {
		return EventUnknown
	}
	return EventKind(id)
}

// EncodedEvent is a queued, not-yet-fully-acknowledged event: the exact
// byte string that will go on the wire, plus the sequence number it
// consumed and how many times it's been attempted on any transport.
type EncodedEvent struct {
	Seq      uint32
	Payload  []byte
	Attempts uint32
}

func (e EncodedEvent) String() string {
	return fmt.Sprintf("EncodedEvent{seq=%d attempts=%d len=%d}", e.Seq, e.Attempts, len(e.Payload))
}
