// Package charge counts the charge pulses of a call and decides when an
// idle link should be dropped to save cost.
package charge

import "fmt"

// Info is the charge information availability of a call
type Info int

// charge info states
const (
	InfoNone Info = iota
	InfoFirst
	InfoInterval
)

func (i Info) String() string {
	switch i {
	case InfoNone:
		return "none"
	case InfoFirst:
		return "first"
	case InfoInterval:
		return "interval"
	default:
		return fmt.Sprintf("info(%d)", int(i))
	}
}

// Policy holds the cost control parameters of an interface. All times are
// in ticks.
type Policy struct {
	// OnHTime is the idle time before hangup, 0 disables auto hangup
	OnHTime int64
	// ChargeHup hangs up just before the next charge unit starts
	ChargeHup bool
	// ChargeInt overrides the measured charge interval if > 0
	ChargeInt int64
	// InboundHup allows auto hangup of incoming calls
	InboundHup bool
}

// Account is the charge state of one call
type Account struct {
	Units    int
	info     Info
	start    int64
	first    int64
	last     int64
	interval int64
}

// Start sets the reference time when a call becomes active
func (a *Account) Start(now int64) {
	a.start = now
	a.last = now
}

// Pulse records a charge pulse
func (a *Account) Pulse(now int64) {
	a.Units++
	switch a.info {
	case InfoNone:
		a.first = now
		a.info = InfoFirst
	case InfoFirst:
		a.interval = now - a.first
		a.info = InfoInterval
	}
	a.last = now
}

// Info returns the charge info state
func (a *Account) Info() Info {
	return a.info
}

// Interval returns the measured charge interval, 0 if not yet known
func (a *Account) Interval() int64 {
	if a.info != InfoInterval {
		return 0
	}
	return a.interval
}

// Reset clears the account, called on every hangup
func (a *Account) Reset() {
	*a = Account{}
}

// RecommendHangup returns true if a call idle for idle ticks should be
// dropped now.
func (a *Account) RecommendHangup(now, idle int64, outgoing bool, p Policy) bool {
	if p.OnHTime <= 0 || idle <= p.OnHTime {
		return false
	}

	allowed := outgoing || p.InboundHup
	if !p.ChargeHup {
		return allowed
	}

	interval := a.Interval()
	if p.ChargeInt > 0 {
		interval = p.ChargeInt
	}
	if interval <= 0 {
		return allowed
	}

	// hang up within the last 2 ticks of the current unit
	since := now - a.last
	return allowed && since%interval >= interval-2
}
