package dial

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/phonebook"
	"github.com/simpleiot/dialnet/phys"
	"golang.org/x/exp/slices"
)

// Decision is the result of routing an incoming call
type Decision struct {
	Disposition Disposition `json:"disposition"`
	// Interface is set when an interface took the call
	Interface string `json:"interface,omitempty"`
	Err       error  `json:"-"`
}

// IncomingCall routes a call indication to at most one interface and
// answers, rejects or ignores the ring on the driver.
func (e *Engine) IncomingCall(ev phys.Event) Decision {
	e.lock.Lock()
	defer e.unlock()

	d := e.route(ev)

	sig := chanpool.SlotID{Driver: ev.Driver, Channel: ev.Channel}
	drv, ok := e.drivers[ev.Driver]
	if !ok {
		return d
	}

	var err error
	switch d.Disposition {
	case DispositionAccept:
		err = drv.drv.AcceptD(ev.Channel)
	case DispositionReject, DispositionCallback:
		err = drv.drv.Hangup(ev.Channel)
	}
	if err != nil {
		log.Printf("Router: %v on %v failed: %v", d.Disposition, sig, err)
	}

	return d
}

func (e *Engine) route(ev phys.Event) Decision {
	sig := chanpool.SlotID{Driver: ev.Driver, Channel: ev.Channel}

	caller := ev.Caller
	if caller == "" {
		caller = "0"
	}

	if e.config.Debug > 0 {
		log.Printf("Router: call from %v to %v on %v si %v", caller, ev.Called,
			sig, ev.SI)
	}

	if ev.SI != phys.SIVoice && ev.SI != phys.SIData {
		if e.config.Verbose {
			log.Printf("Router: ignoring call from %v, service %v", caller, ev.SI)
		}
		return Decision{Disposition: DispositionIgnore}
	}

	if _, ok := e.drivers[ev.Driver]; !ok {
		return Decision{Disposition: DispositionIgnore,
			Err: fmt.Errorf("%w: %v", ErrUnknownDriver, ev.Driver)}
	}

	if _, ok := e.pool.Slot(sig); !ok {
		return Decision{Disposition: DispositionIgnore,
			Err: fmt.Errorf("%w: %v", chanpool.ErrUnknownSlot, sig)}
	}

	stopped := false

	for _, h := range slices.Clone(e.order) {
		i, ok := e.ifaces[h]
		if !ok || !e.eligible(i, sig) {
			continue
		}

		if !phonebook.MatchLocalEAZ(ev.Called, i.policy.MSN, ev.SI) {
			continue
		}

		if i.policy.DialMode == DialOff || e.stopped {
			stopped = true
			continue
		}

		if !e.exclusiveFit(i, sig) {
			continue
		}

		if !i.book.MatchesIncoming(caller, i.policy.Secure) {
			if e.config.Verbose {
				log.Printf("Router: %v: caller %v not in incoming list", i.name, caller)
			}
			continue
		}

		if !i.policy.Up {
			if e.config.Verbose {
				log.Printf("Router: %v is down, rejecting call from %v", i.name, caller)
			}
			return Decision{Disposition: DispositionReject, Interface: i.name,
				Err: fmt.Errorf("%w: %v", ErrAdministrativelyDown, i.name)}
		}

		if i.master != 0 && !e.chainConnected(i) {
			continue
		}

		if i.policy.Callback != CallbackNone {
			if d, ok := e.acceptCallback(i, caller); ok {
				return d
			}
			continue
		}

		if d, ok := e.accept(i, sig, caller); ok {
			return d
		}
	}

	if stopped {
		if e.config.Verbose {
			log.Printf("Router: rejecting call from %v to %v, dialing stopped",
				caller, ev.Called)
		}
		return Decision{Disposition: DispositionReject,
			Err: ErrAdministrativelyStopped}
	}

	if e.config.Verbose {
		log.Printf("Router: no interface for call from %v to %v", caller, ev.Called)
	}

	return Decision{Disposition: DispositionIgnore}
}

// eligible returns true for unbound interfaces and for interfaces still
// waiting for the D channel on another channel of the same driver.
func (e *Engine) eligible(i *iface, sig chanpool.SlotID) bool {
	if !i.bound {
		return true
	}
	return i.state == StateOutWaitDConn && i.callbackNumber == "" &&
		i.slot.Driver == sig.Driver && i.slot.Channel != sig.Channel
}

// chainConnected returns true if the master of a slave and all slaves
// ahead of it are connected
func (e *Engine) chainConnected(i *iface) bool {
	m, ok := e.ifaces[i.master]
	if !ok || m.state != StateActive {
		return false
	}
	for _, h := range m.slaves {
		if h == i.handle {
			return true
		}
		if e.ifaces[h].state != StateActive {
			return false
		}
	}
	return false
}

// reservedFor returns true if the slot is reserved for i
func (e *Engine) reservedFor(i *iface, id chanpool.SlotID) bool {
	s, ok := e.pool.Slot(id)
	return ok && s.Usage&chanpool.UsageExclusive != 0 && s.Owner == i.name
}

// exclusiveFit checks whether the signaling channel can be used by i when
// it is reserved.
//
// Some cards always signal incoming calls on channel 0. If channel 0 is
// reserved for another interface and channel 1 is reserved for i, the two
// reservations and the bindings of their owners are exchanged so the call
// can be taken on channel 0. Any other reserved channel skips i.
func (e *Engine) exclusiveFit(i *iface, sig chanpool.SlotID) bool {
	fits := func() bool {
		s, ok := e.pool.Slot(sig)
		return ok && (s.Usage&chanpool.UsageExclusive == 0 || s.Owner == i.name)
	}

	if fits() {
		return true
	}

	if sig.Channel != 0 {
		return false
	}

	sib := chanpool.SlotID{Driver: sig.Driver, Channel: 1}
	if !e.reservedFor(i, sib) {
		return false
	}
	if s1, _ := e.pool.Slot(sib); !s1.Usage.Free() {
		return false
	}
	if s0, _ := e.pool.Slot(sig); !s0.Usage.Free() {
		return false
	}

	if err := e.swapBind(sig.Driver); err != nil {
		log.Printf("Router: swap on driver %v failed: %v", sig.Driver, err)
		return false
	}

	if fits() {
		log.Printf("Router: %v: exchanged channel reservations on driver %v",
			i.name, sig.Driver)
		return true
	}

	if err := e.swapBind(sig.Driver); err != nil {
		log.Printf("Router: swap back on driver %v failed: %v", sig.Driver, err)
	}
	return false
}

// swapBind exchanges the reservations of channel 0 and 1 of a driver and
// the channel bindings of the two owners
func (e *Engine) swapBind(driver int) error {
	owner := func(ch int) *iface {
		s, ok := e.pool.Slot(chanpool.SlotID{Driver: driver, Channel: ch})
		if !ok || s.Usage&chanpool.UsageExclusive == 0 {
			return nil
		}
		if h, ok := e.byName[s.Owner]; ok {
			return e.ifaces[h]
		}
		return nil
	}
	o0, o1 := owner(0), owner(1)

	if err := e.pool.SwapExclusive(driver); err != nil {
		return err
	}

	if o0 != nil {
		o0.policy.PreChannel = 1
	}
	if o1 != nil {
		o1.policy.PreChannel = 0
	}
	return nil
}

func (e *Engine) abortDial(i *iface) {
	if !i.bound {
		return
	}
	log.Printf("Router: %v: aborting outgoing call on %v for incoming call",
		i.name, i.slot)
	e.hangup(i, nil)
}

func (e *Engine) acceptCallback(i *iface, caller string) (Decision, bool) {
	req := chanpool.Request{
		L2:         i.policy.L2,
		L3:         i.policy.L3,
		PreDriver:  i.policy.PreDriver,
		PreChannel: i.policy.PreChannel,
		MSN:        phonebook.StripMSN(i.policy.MSN),
		Kind:       chanpool.UsageNet,
		Holder:     i.name,
	}

	id, ok := e.pool.Acquire(req)
	if !ok && i.bound {
		// the channel of the dial being aborted was acquired with the
		// same request
		e.abortDial(i)
		id, ok = e.pool.Acquire(req)
	}
	if !ok {
		log.Printf("Router: %v: no channel to call back %v", i.name, caller)
		return Decision{}, false
	}
	e.abortDial(i)

	e.bind(i, id)
	i.callbackNumber = caller
	i.timer.arm(e.now, i.policy.CBDelay)
	log.Printf("Router: %v will call back %v in %v", i.name, caller, i.policy.CBDelay)
	e.setState(i, StateWaitBeforeCallback, nil)

	disp := DispositionCallback
	if i.policy.Callback == CallbackHold {
		disp = DispositionHold
	}
	return Decision{Disposition: disp, Interface: i.name}, true
}

func (e *Engine) accept(i *iface, sig chanpool.SlotID, caller string) (Decision, bool) {
	if err := e.pool.CanClaim(sig, i.name); err != nil {
		if e.config.Verbose {
			log.Printf("Router: %v: %v", i.name, err)
		}
		return Decision{}, false
	}

	e.abortDial(i)

	if err := e.pool.Claim(sig, chanpool.UsageNet, i.name); err != nil {
		log.Printf("Router: %v: %v", i.name, err)
		return Decision{}, false
	}
	e.bind(i, sig)

	_ = e.command(i, "set l2", func(d phys.Driver, ch int) error {
		return d.SetL2(ch, i.policy.L2)
	})
	_ = e.command(i, "set l3", func(d phys.Driver, ch int) error {
		return d.SetL3(ch, i.policy.L3)
	})

	i.outgoing = false
	i.peer = caller
	i.callID = uuid.New().String()
	i.timer.arm(e.now, incomingAnswer)

	log.Printf("Router: %v accepting call from %v on %v", i.name, caller, sig)
	e.setState(i, StateInWaitDConn, nil)

	return Decision{Disposition: DispositionAccept, Interface: i.name}, true
}
