// Package phys describes the physical layer that seizes, dials and releases
// ISDN channels, and the events it reports back. The call control core only
// issues commands through Driver and consumes Events.
package phys

import (
	"fmt"
	"strings"
)

// L2Proto is a layer 2 (B channel) protocol
type L2Proto int

// Layer 2 protocols. The numeric values index the feature mask.
const (
	L2X75I L2Proto = iota
	L2X75UI
	L2X75BUI
	L2HDLC
	L2Trans
	L2X25DTE
	L2X25DCE
	L2V11096
	L2V11019
	L2V11038
	L2Modem
	L2Fax
	l2Max
)

var l2Names = []string{"x75i", "x75ui", "x75bui", "hdlc", "trans", "x25dte",
	"x25dce", "v110-9600", "v110-19200", "v110-38400", "modem", "fax"}

func (p L2Proto) String() string {
	if p < 0 || p >= l2Max {
		return fmt.Sprintf("l2(%d)", int(p))
	}
	return l2Names[p]
}

// Valid returns true if p is a known protocol
func (p L2Proto) Valid() bool {
	return p >= 0 && p < l2Max
}

// V110 returns true for the V.110 rate adaption protocols
func (p L2Proto) V110() bool {
	return p == L2V11096 || p == L2V11019 || p == L2V11038
}

// L3Proto is a layer 3 protocol
type L3Proto int

// Layer 3 protocols
const (
	L3Trans L3Proto = iota
	L3T70
	L3Fax
	l3Max
)

var l3Names = []string{"trans", "t70", "fax"}

func (p L3Proto) String() string {
	if p < 0 || p >= l3Max {
		return fmt.Sprintf("l3(%d)", int(p))
	}
	return l3Names[p]
}

// Valid returns true if p is a known protocol
func (p L3Proto) Valid() bool {
	return p >= 0 && p < l3Max
}

// MarshalText encodes the protocol name
func (p L2Proto) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a protocol name
func (p *L2Proto) UnmarshalText(text []byte) error {
	v, err := ParseL2(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText encodes the protocol name
func (p L3Proto) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a protocol name
func (p *L3Proto) UnmarshalText(text []byte) error {
	v, err := ParseL3(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseL2 converts a protocol name to L2Proto
func ParseL2(s string) (L2Proto, error) {
	for i, n := range l2Names {
		if strings.EqualFold(s, n) {
			return L2Proto(i), nil
		}
	}
	return 0, fmt.Errorf("unknown layer 2 protocol: %v", s)
}

// ParseL3 converts a protocol name to L3Proto
func ParseL3(s string) (L3Proto, error) {
	for i, n := range l3Names {
		if strings.EqualFold(s, n) {
			return L3Proto(i), nil
		}
	}
	return 0, fmt.Errorf("unknown layer 3 protocol: %v", s)
}

// Features is the capability mask of a channel. Bits 0-15 are layer 2
// protocols, bits 16-31 layer 3 protocols.
type Features uint32

// FeatureL2 returns the feature bit for a layer 2 protocol
func FeatureL2(p L2Proto) Features {
	return 1 << uint(p)
}

// FeatureL3 returns the feature bit for a layer 3 protocol
func FeatureL3(p L3Proto) Features {
	return 0x10000 << uint(p)
}

// Has returns true if all bits of want are set in f
func (f Features) Has(want Features) bool {
	return f&want == want
}

// ParseFeatures converts a list of names into a feature mask. Layer 3 names
// carry an "l3" prefix (l3trans, l3t70, l3fax).
func ParseFeatures(names []string) (Features, error) {
	var f Features
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), "l3") {
			p, err := ParseL3(n[2:])
			if err != nil {
				return 0, err
			}
			f |= FeatureL3(p)
			continue
		}
		p, err := ParseL2(n)
		if err != nil {
			return 0, err
		}
		f |= FeatureL2(p)
	}
	return f, nil
}

// ServiceIndicator is the bearer service of an incoming call
type ServiceIndicator int

// service indicators as signaled in the SETUP message
const (
	SIVoice ServiceIndicator = 1
	SIData  ServiceIndicator = 7
)

func (si ServiceIndicator) String() string {
	switch si {
	case SIVoice:
		return "voice"
	case SIData:
		return "data"
	default:
		return fmt.Sprintf("si(%d)", int(si))
	}
}

// Driver is implemented by physical layer drivers. Commands must not block:
// the result of a command is reported later as an Event. Events may be
// delivered from any goroutine but never from inside a command call.
type Driver interface {
	Desc() string
	Channels() int
	Capabilities(channel int) Features
	Dial(channel int, number string, l2 L2Proto, l3 L3Proto, msn string) error
	AcceptD(channel int) error
	AcceptB(channel int) error
	Hangup(channel int) error
	SetL2(channel int, p L2Proto) error
	SetL3(channel int, p L3Proto) error
	SetEAZ(channel int, eaz string) error
	// Attach sets the function events are delivered to.
	Attach(h Handler)
	// Start blocks until Stop is called.
	Start() error
	Stop(error)
}

// Handler receives driver events
type Handler func(Event)
