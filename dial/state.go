package dial

import (
	"fmt"
	"strings"
)

// State is the dial state of an interface
type State int

// dial states
const (
	StateIdle State = iota
	StateOutWaitDConn
	StateOutWaitBConn
	StateInWaitDConn
	StateInWaitBConn
	StateActive
	StateWaitBeforeCallback
	stateMax
)

var stateNames = []string{"idle", "out-wait-dconn", "out-wait-bconn",
	"in-wait-dconn", "in-wait-bconn", "active", "wait-callback"}

func (s State) String() string {
	if s < 0 || s >= stateMax {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	v, err := parseName(string(text), stateNames)
	if err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	*s = State(v)
	return nil
}

// DialMode selects when an interface dials
type DialMode int

// dial modes
const (
	DialOff DialMode = iota
	DialManual
	DialAuto
)

var dialModeNames = []string{"off", "manual", "auto"}

func (m DialMode) String() string {
	if m < 0 || int(m) >= len(dialModeNames) {
		return fmt.Sprintf("dialmode(%d)", int(m))
	}
	return dialModeNames[m]
}

// MarshalText encodes the mode name
func (m DialMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name
func (m *DialMode) UnmarshalText(text []byte) error {
	v, err := parseName(string(text), dialModeNames)
	if err != nil {
		return fmt.Errorf("invalid dial mode: %w", err)
	}
	*m = DialMode(v)
	return nil
}

// CallbackMode selects how a qualified incoming call is called back
type CallbackMode int

// callback modes. With CallbackHangup the ring is rejected before calling
// back, with CallbackHold it is left alone until the caller gives up.
const (
	CallbackNone CallbackMode = iota
	CallbackHangup
	CallbackHold
)

var callbackNames = []string{"none", "hangup", "hold"}

func (m CallbackMode) String() string {
	if m < 0 || int(m) >= len(callbackNames) {
		return fmt.Sprintf("callback(%d)", int(m))
	}
	return callbackNames[m]
}

// MarshalText encodes the mode name
func (m CallbackMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name
func (m *CallbackMode) UnmarshalText(text []byte) error {
	v, err := parseName(string(text), callbackNames)
	if err != nil {
		return fmt.Errorf("invalid callback mode: %w", err)
	}
	*m = CallbackMode(v)
	return nil
}

func parseName(s string, names []string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(s, n) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q, expected one of %v", s,
		strings.Join(names, ","))
}

// Disposition is the router decision for an incoming call
type Disposition int

// incoming call dispositions
const (
	DispositionIgnore Disposition = iota
	DispositionAccept
	DispositionReject
	// DispositionCallback rejects the ring and calls back later
	DispositionCallback
	// DispositionHold leaves the ring alone and calls back later
	DispositionHold
)

func (d Disposition) String() string {
	switch d {
	case DispositionIgnore:
		return "ignore"
	case DispositionAccept:
		return "accept"
	case DispositionReject:
		return "reject"
	case DispositionCallback:
		return "callback"
	case DispositionHold:
		return "hold"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// TxResult is returned by TransmitRequest
type TxResult int

// transmit results
const (
	TxAccepted TxResult = iota
	TxBusy
	TxUnreachable
)

func (r TxResult) String() string {
	switch r {
	case TxAccepted:
		return "accepted"
	case TxBusy:
		return "busy"
	case TxUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("txresult(%d)", int(r))
	}
}
