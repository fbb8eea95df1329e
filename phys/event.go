package phys

import "fmt"

// EventType describes a status report from the physical layer
type EventType int

// physical layer status events
const (
	EventDChannelUp EventType = iota
	EventDChannelDown
	EventBChannelUp
	EventBChannelDown
	EventChargePulse
	EventIncomingCall
)

func (t EventType) String() string {
	switch t {
	case EventDChannelUp:
		return "DCONN"
	case EventDChannelDown:
		return "DHUP"
	case EventBChannelUp:
		return "BCONN"
	case EventBChannelDown:
		return "BHUP"
	case EventChargePulse:
		return "CINF"
	case EventIncomingCall:
		return "ICALL"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a status report for one channel of a driver. Caller, Called
// and SI are only set for EventIncomingCall.
type Event struct {
	Type    EventType        `json:"type"`
	Driver  int              `json:"driver"`
	Channel int              `json:"channel"`
	Caller  string           `json:"caller,omitempty"`
	Called  string           `json:"called,omitempty"`
	SI      ServiceIndicator `json:"si,omitempty"`
}

func (e Event) String() string {
	if e.Type == EventIncomingCall {
		return fmt.Sprintf("%v %v/%v caller:%v called:%v si:%v", e.Type,
			e.Driver, e.Channel, e.Caller, e.Called, e.SI)
	}
	return fmt.Sprintf("%v %v/%v", e.Type, e.Driver, e.Channel)
}
