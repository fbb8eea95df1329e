package dial

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/phonebook"
	"github.com/simpleiot/dialnet/phys"
)

// timeouts in ticks
const (
	dconnTimeout   = 10
	bconnTimeout   = 10
	incomingAnswer = 15
)

type input int

const (
	inputTimer input = iota
	inputDUp
	inputDDown
	inputBUp
	inputBDown
	inputCharge
	inputMax
)

var inputNames = []string{"timer", "dconn", "dhup", "bconn", "bhup", "charge"}

func (in input) String() string {
	if in < 0 || in >= inputMax {
		return fmt.Sprintf("input(%d)", int(in))
	}
	return inputNames[in]
}

func inputFor(t phys.EventType) input {
	switch t {
	case phys.EventDChannelUp:
		return inputDUp
	case phys.EventDChannelDown:
		return inputDDown
	case phys.EventBChannelUp:
		return inputBUp
	case phys.EventBChannelDown:
		return inputBDown
	case phys.EventChargePulse:
		return inputCharge
	}
	return inputMax
}

type transition func(e *Engine, i *iface, ev phys.Event)

var transitions [stateMax][inputMax]transition

func init() {
	on := func(s State, in input, t transition) {
		transitions[s][in] = t
	}

	on(StateOutWaitDConn, inputDUp, (*Engine).outDConn)
	on(StateOutWaitDConn, inputTimer, (*Engine).redial)
	on(StateOutWaitDConn, inputDDown, (*Engine).remoteHangup)

	on(StateOutWaitBConn, inputBUp, (*Engine).outBConn)
	on(StateOutWaitBConn, inputTimer, (*Engine).redial)
	on(StateOutWaitBConn, inputDDown, (*Engine).remoteHangup)

	on(StateInWaitDConn, inputDUp, (*Engine).inDConn)
	on(StateInWaitDConn, inputTimer, (*Engine).answerTimeout)
	on(StateInWaitDConn, inputDDown, (*Engine).remoteHangup)

	on(StateInWaitBConn, inputBUp, (*Engine).inBConn)
	on(StateInWaitBConn, inputTimer, (*Engine).answerTimeout)
	on(StateInWaitBConn, inputDDown, (*Engine).remoteHangup)

	on(StateActive, inputCharge, (*Engine).chargePulse)
	on(StateActive, inputBDown, (*Engine).remoteHangup)
	on(StateActive, inputDDown, (*Engine).remoteHangup)

	on(StateWaitBeforeCallback, inputTimer, (*Engine).callback)
}

func (e *Engine) fire(i *iface, in input, ev phys.Event) {
	if in < 0 || in >= inputMax {
		return
	}
	t := transitions[i.state][in]
	if t == nil {
		if e.config.Debug > 1 {
			log.Printf("Dial: %v ignoring %v in state %v", i.name, in, i.state)
		}
		return
	}
	t(e, i, ev)
}

func (e *Engine) setState(i *iface, state State, reason error) {
	if state == i.state {
		return
	}

	log.Printf("Dial: %v state: %v -> %v", i.name, i.state, state)

	sc := StateChange{
		Name:   i.name,
		From:   i.state,
		To:     state,
		CallID: i.callID,
		Peer:   i.peer,
		Tick:   e.now,
	}
	if reason != nil {
		sc.Reason = reason.Error()
	}

	i.state = state
	i.stateStart = e.now

	if e.notify != nil {
		notify := e.notify
		e.later(func() { notify(sc) })
	}
}

func (e *Engine) driver(i *iface) phys.Driver {
	if d, ok := e.drivers[i.slot.Driver]; ok {
		return d.drv
	}
	return nil
}

// command runs a driver command on the bound channel and logs failures
func (e *Engine) command(i *iface, name string, f func(d phys.Driver, ch int) error) error {
	d := e.driver(i)
	if d == nil {
		return fmt.Errorf("%w: %v", ErrUnknownDriver, i.slot.Driver)
	}
	if e.config.Debug > 0 {
		log.Printf("Dial: %v %v on %v", i.name, name, i.slot)
	}
	err := f(d, i.slot.Channel)
	if err != nil {
		log.Printf("Dial: %v %v on %v failed: %v", i.name, name, i.slot, err)
	}
	return err
}

func (e *Engine) bind(i *iface, id chanpool.SlotID) {
	i.slot = id
	i.bound = true
	e.bySlot[id] = i.handle
}

func (e *Engine) unbind(i *iface) {
	if !i.bound {
		return
	}
	if !e.pool.Release(i.slot, chanpool.UsageNet) {
		log.Printf("Dial: %v slot %v was not in use", i.name, i.slot)
	}
	delete(e.bySlot, i.slot)
	i.bound = false
}

// outBook returns the outgoing numbers of an interface. A slave without
// own numbers dials the numbers of its master.
func (e *Engine) outBook(i *iface) *phonebook.Book {
	if i.book.Len(phonebook.Out) == 0 && i.master != 0 {
		if m, ok := e.ifaces[i.master]; ok {
			return m.book
		}
	}
	return i.book
}

// dialOut starts an outgoing call on an idle interface, or on the channel
// acquired for a callback.
func (e *Engine) dialOut(i *iface) error {
	if !i.bound {
		id, ok := e.pool.Acquire(chanpool.Request{
			L2:         i.policy.L2,
			L3:         i.policy.L3,
			PreDriver:  i.policy.PreDriver,
			PreChannel: i.policy.PreChannel,
			MSN:        phonebook.StripMSN(i.policy.MSN),
			Kind:       chanpool.UsageNet,
			Holder:     i.name,
		})
		if !ok {
			i.lastErr = ErrNoChannel
			log.Printf("Dial: %v: no channel available", i.name)
			return fmt.Errorf("%w: %v", ErrNoChannel, i.name)
		}
		e.bind(i, id)
	}

	msn := e.pool.MapMSN(i.slot.Driver, phonebook.StripMSN(i.policy.MSN))
	for _, c := range []struct {
		name string
		f    func(d phys.Driver, ch int) error
	}{
		{"clear eaz", func(d phys.Driver, ch int) error { return d.SetEAZ(ch, "") }},
		{"set eaz", func(d phys.Driver, ch int) error { return d.SetEAZ(ch, msn) }},
		{"set l2", func(d phys.Driver, ch int) error { return d.SetL2(ch, i.policy.L2) }},
		{"set l3", func(d phys.Driver, ch int) error { return d.SetL3(ch, i.policy.L3) }},
	} {
		if err := e.command(i, c.name, c.f); err != nil {
			e.teardown(i, err)
			return err
		}
	}

	i.outgoing = true
	i.cursor = phonebook.Cursor{}
	i.dialStarted = e.now
	i.callID = uuid.New().String()

	return e.dialNext(i)
}

func (e *Engine) dialNext(i *iface) error {
	var number string
	if i.callbackNumber != "" {
		number = i.callbackNumber
		i.cursor.Cycles++
	} else {
		var err error
		number, i.cursor, err = e.outBook(i).NextOutgoing(i.cursor)
		if err != nil {
			err = fmt.Errorf("%v: %w", i.name, err)
			e.hangup(i, err)
			return err
		}
	}

	msn := e.pool.MapMSN(i.slot.Driver, phonebook.StripMSN(i.policy.MSN))
	err := e.command(i, "dial "+number, func(d phys.Driver, ch int) error {
		return d.Dial(ch, number, i.policy.L2, i.policy.L3, msn)
	})
	if err != nil {
		e.hangup(i, err)
		return err
	}

	log.Printf("Dial: %v dialing %v on %v", i.name, number, i.slot)
	i.peer = number
	i.timer.arm(e.now, dconnTimeout)
	e.setState(i, StateOutWaitDConn, nil)
	return nil
}

// redial handles a dial timeout: the next number is tried until the list
// was walked dialmax times or the dial timeout passed.
func (e *Engine) redial(i *iface, _ phys.Event) {
	maxCycles := max(i.policy.DialMax, 1)
	expired := i.policy.DialTimeout > 0 && e.now-i.dialStarted > i.policy.DialTimeout

	if i.cursor.Cycles >= maxCycles || expired {
		log.Printf("Dial: %v: dial failed, waiting %v before next attempt",
			i.name, i.policy.DialWait)
		i.cooldownUntil = e.now + i.policy.DialWait
		e.hangup(i, fmt.Errorf("%w: %v", ErrDialTimeout, i.name))
		return
	}

	_ = e.command(i, "hangup", func(d phys.Driver, ch int) error {
		return d.Hangup(ch)
	})
	_ = e.dialNext(i)
}

func (e *Engine) outDConn(i *iface, _ phys.Event) {
	err := e.command(i, "accept b", func(d phys.Driver, ch int) error {
		return d.AcceptB(ch)
	})
	if err != nil {
		e.hangup(i, err)
		return
	}
	i.timer.arm(e.now, bconnTimeout)
	e.setState(i, StateOutWaitBConn, nil)
}

func (e *Engine) outBConn(i *iface, _ phys.Event) {
	e.pool.MarkOutgoing(i.slot)
	e.activate(i)
}

func (e *Engine) inDConn(i *iface, _ phys.Event) {
	err := e.command(i, "accept b", func(d phys.Driver, ch int) error {
		return d.AcceptB(ch)
	})
	if err != nil {
		e.hangup(i, err)
		return
	}
	i.timer.arm(e.now, bconnTimeout)
	e.setState(i, StateInWaitBConn, nil)
}

func (e *Engine) inBConn(i *iface, _ phys.Event) {
	e.activate(i)
}

func (e *Engine) answerTimeout(i *iface, _ phys.Event) {
	log.Printf("Dial: %v: incoming call from %v timed out", i.name, i.peer)
	e.hangup(i, fmt.Errorf("%w: %v answering %v", ErrDialTimeout, i.name, i.peer))
}

func (e *Engine) remoteHangup(i *iface, _ phys.Event) {
	log.Printf("Dial: %v: remote hangup", i.name)
	var reason error
	if i.state != StateActive {
		reason = errRemoteHangup
	}
	e.teardown(i, reason)
}

func (e *Engine) chargePulse(i *iface, _ phys.Event) {
	i.account.Pulse(e.now)
	if e.config.Debug > 0 {
		log.Printf("Dial: %v charge unit %v, interval %v", i.name,
			i.account.Units, i.account.Interval())
	}
}

func (e *Engine) callback(i *iface, _ phys.Event) {
	log.Printf("Dial: %v calling back %v", i.name, i.callbackNumber)
	if err := e.dialOut(i); err != nil {
		log.Printf("Dial: %v callback failed: %v", i.name, err)
	}
}

// activate is the entry action of StateActive
func (e *Engine) activate(i *iface) {
	i.timer.cancel()
	i.idle = 0
	i.sampleBytes = 0
	i.sampleAt = e.now
	i.cps = 0
	i.overloaded = false
	i.account.Reset()
	i.account.Start(e.now)
	i.lastErr = nil

	if i.master != 0 {
		log.Printf("Bundle: %v joined %v", i.name, e.ifaces[i.master].name)
	}

	e.setState(i, StateActive, nil)

	i.ready = e.encap == nil
	if enc := e.encap; enc != nil {
		name, slot := i.name, i.slot
		e.later(func() { enc.Open(name, slot) })
	}
	if i.ready {
		e.flushHeld(i)
	}
}

func (e *Engine) flushHeld(i *iface) {
	frame := i.held
	i.held = nil
	if frame == nil {
		return
	}
	e.send(i, frame)
}

func (e *Engine) send(i *iface, frame []byte) {
	i.idle = 0
	i.txBytes += int64(len(frame))
	if enc := e.encap; enc != nil {
		name := i.name
		e.later(func() { enc.Send(name, frame) })
	}
}

// hangup drops the call with a hangup command to the driver
func (e *Engine) hangup(i *iface, reason error) {
	if i.bound {
		_ = e.command(i, "hangup", func(d phys.Driver, ch int) error {
			return d.Hangup(ch)
		})
	}
	e.teardown(i, reason)
}

// teardown returns an interface to idle. Slaves of a master are dropped
// first.
func (e *Engine) teardown(i *iface, reason error) {
	for _, h := range i.slaves {
		s := e.ifaces[h]
		if s.state != StateIdle || s.bound {
			e.hangup(s, errMasterDown)
		}
	}

	wasActive := i.state == StateActive
	e.unbind(i)

	i.timer.cancel()
	i.account.Reset()
	i.held = nil
	i.ready = false
	i.idle = 0
	i.outgoing = false
	i.callbackNumber = ""
	i.overloaded = false
	i.cps = 0
	i.sampleBytes = 0

	if reason != nil {
		i.lastErr = reason
	}

	e.setState(i, StateIdle, reason)
	i.peer = ""
	i.callID = ""

	if wasActive && e.encap != nil {
		enc, name := e.encap, i.name
		e.later(func() { enc.Close(name) })
	}
}

func lastFailure(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
