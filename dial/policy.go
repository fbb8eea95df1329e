package dial

import (
	"fmt"

	"github.com/simpleiot/dialnet/charge"
	"github.com/simpleiot/dialnet/phys"
)

// Policy is the configuration of an interface. Times are in ticks.
type Policy struct {
	// MSN is the local number. A leading v accepts only voice calls, a
	// leading b voice and data calls.
	MSN      string       `json:"msn"`
	L2       phys.L2Proto `json:"l2"`
	L3       phys.L3Proto `json:"l3"`
	DialMode DialMode     `json:"dialMode"`
	Callback CallbackMode `json:"callback"`
	// Secure only accepts callers in the incoming list
	Secure bool `json:"secure"`
	Up     bool `json:"up"`

	OnHTime     int64 `json:"onhtime"`
	DialMax     int   `json:"dialmax"`
	DialWait    int64 `json:"dialwait"`
	DialTimeout int64 `json:"dialtimeout"`
	ChargeHup   bool  `json:"chargehup"`
	ChargeInt   int64 `json:"chargeint"`
	InboundHup  bool  `json:"inboundhup"`
	CBDelay     int64 `json:"cbdelay"`

	TriggerCPS int64 `json:"triggercps"`
	SlaveDelay int64 `json:"slavedelay"`
	// Master is set on bundle slaves
	Master string `json:"master,omitempty"`

	// PreDriver and PreChannel bind the interface to one slot, -1 for any
	PreDriver  int  `json:"preDriver"`
	PreChannel int  `json:"preChannel"`
	Exclusive  bool `json:"exclusive"`
}

// DefaultPolicy is applied to new interfaces
func DefaultPolicy() Policy {
	return Policy{
		L2:         phys.L2X75I,
		L3:         phys.L3Trans,
		DialMode:   DialAuto,
		Up:         true,
		OnHTime:    10,
		DialMax:    1,
		DialWait:   5,
		CBDelay:    5,
		InboundHup: true,
		TriggerCPS: 6000,
		SlaveDelay: 10,
		PreDriver:  -1,
		PreChannel: -1,
	}
}

func (p Policy) prebound() bool {
	return p.PreDriver >= 0 && p.PreChannel >= 0
}

func (p Policy) charge() charge.Policy {
	return charge.Policy{
		OnHTime:    p.OnHTime,
		ChargeHup:  p.ChargeHup,
		ChargeInt:  p.ChargeInt,
		InboundHup: p.InboundHup,
	}
}

func (p Policy) validate() error {
	if !p.L2.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidProtocol, p.L2)
	}
	if !p.L3.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidProtocol, p.L3)
	}
	if p.L3 == phys.L3Fax && p.L2 != phys.L2Fax {
		return fmt.Errorf("%w: l3 fax requires l2 fax", ErrInvalidProtocol)
	}
	if p.DialMode < DialOff || p.DialMode > DialAuto {
		return fmt.Errorf("%w: dial mode %v", ErrInvalidConfig, p.DialMode)
	}
	if p.Callback < CallbackNone || p.Callback > CallbackHold {
		return fmt.Errorf("%w: callback %v", ErrInvalidConfig, p.Callback)
	}
	if (p.PreDriver < 0) != (p.PreChannel < 0) {
		return fmt.Errorf("%w: preDriver and preChannel must be set together",
			ErrInvalidConfig)
	}
	if p.Exclusive && !p.prebound() {
		return fmt.Errorf("%w: exclusive requires a bound channel", ErrInvalidConfig)
	}
	for _, v := range []int64{p.OnHTime, p.DialWait, p.DialTimeout, p.ChargeInt,
		p.CBDelay, p.TriggerCPS, p.SlaveDelay, int64(p.DialMax)} {
		if v < 0 {
			return fmt.Errorf("%w: negative time or count", ErrInvalidConfig)
		}
	}
	return nil
}
