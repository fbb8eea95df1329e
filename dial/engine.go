// Package dial is the call control core. The Engine owns all network
// interfaces, drives each one through the dial state machine, routes
// incoming calls and schedules channel bundles. Time is counted in ticks
// advanced by Tick.
package dial

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/charge"
	"github.com/simpleiot/dialnet/phonebook"
	"github.com/simpleiot/dialnet/phys"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Handle is a stable reference to an interface. 0 is never used.
type Handle int

// Encapsulator is the link layer that carries frames over a connected
// channel. Busy is called with the engine lock held and must not call back
// into the engine. Open, Close and Send are called after the lock is
// released.
type Encapsulator interface {
	Open(name string, slot chanpool.SlotID)
	Close(name string)
	Busy(name string) bool
	Send(name string, frame []byte)
}

// StateChange is reported on every state transition
type StateChange struct {
	Name   string `json:"name"`
	From   State  `json:"from"`
	To     State  `json:"to"`
	CallID string `json:"callId,omitempty"`
	Peer   string `json:"peer,omitempty"`
	Reason string `json:"reason,omitempty"`
	Tick   int64  `json:"tick"`
}

// Config for the engine
type Config struct {
	// Debug 0 logs transitions, 1 adds driver commands, 2 every event
	Debug int
	// Verbose logs rejected incoming calls
	Verbose bool
	// TickPeriod is used by Start, defaults to 1s
	TickPeriod time.Duration
}

type driverEntry struct {
	id   int
	name string
	drv  phys.Driver
}

type iface struct {
	handle Handle
	name   string
	policy Policy
	book   *phonebook.Book

	state      State
	stateStart int64
	timer      timer

	bound    bool
	slot     chanpool.SlotID
	outgoing bool
	peer     string
	callID   string

	cursor         phonebook.Cursor
	dialStarted    int64
	callbackNumber string
	cooldownUntil  int64
	lastErr        error

	idle    int64
	rxBytes int64
	txBytes int64
	account charge.Account

	ready bool
	held  []byte

	// bundle, slaves are kept in chain order on the master
	master        Handle
	slaves        []Handle
	sampleBytes   int64
	sampleAt      int64
	cps           int64
	overloaded    bool
	overloadStart int64
	rr            int
}

// Engine is the call control core
type Engine struct {
	config Config
	lock   sync.Mutex
	pool   *chanpool.Pool

	drivers    map[int]*driverEntry
	ifaces     map[Handle]*iface
	order      []Handle
	byName     map[string]Handle
	bySlot     map[chanpool.SlotID]Handle
	nextHandle Handle

	now     int64
	stopped bool

	encap  Encapsulator
	notify func(StateChange)

	// pending runs after the lock is released
	pending []func()

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine constructor
func NewEngine(config Config) *Engine {
	if config.TickPeriod <= 0 {
		config.TickPeriod = time.Second
	}
	return &Engine{
		config:     config,
		pool:       chanpool.New(),
		drivers:    make(map[int]*driverEntry),
		ifaces:     make(map[Handle]*iface),
		byName:     make(map[string]Handle),
		bySlot:     make(map[chanpool.SlotID]Handle),
		nextHandle: 1,
		stop:       make(chan struct{}),
	}
}

func (e *Engine) unlock() {
	fns := e.pending
	e.pending = nil
	e.lock.Unlock()
	for _, f := range fns {
		f()
	}
}

func (e *Engine) later(f func()) {
	e.pending = append(e.pending, f)
}

// SetEncapsulator sets the link layer. nil drops frames.
func (e *Engine) SetEncapsulator(enc Encapsulator) {
	e.lock.Lock()
	defer e.unlock()
	e.encap = enc
}

// OnStateChange sets a function that is called on every state transition
func (e *Engine) OnStateChange(f func(StateChange)) {
	e.lock.Lock()
	defer e.unlock()
	e.notify = f
}

// Start ticks the engine until Stop is called
func (e *Engine) Start() error {
	t := time.NewTicker(e.config.TickPeriod)
	defer t.Stop()

	for {
		select {
		case <-e.stop:
			return nil
		case <-t.C:
			e.Tick()
		}
	}
}

// Stop the engine
func (e *Engine) Stop(_ error) {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Now returns the current tick
func (e *Engine) Now() int64 {
	e.lock.Lock()
	defer e.unlock()
	return e.now
}

// SetStopped stops or resumes all dialing. While stopped, incoming calls
// for matching interfaces are rejected.
func (e *Engine) SetStopped(stopped bool) {
	e.lock.Lock()
	defer e.unlock()
	if stopped != e.stopped {
		log.Println("Dial: stopped: ", stopped)
	}
	e.stopped = stopped
}

// AddDriver registers a physical driver and its channels. msnMap maps
// interface MSNs to the MSN used on this driver.
func (e *Engine) AddDriver(id int, name string, drv phys.Driver, msnMap map[string]string) error {
	e.lock.Lock()
	defer e.unlock()

	if _, ok := e.drivers[id]; ok {
		return fmt.Errorf("%w: %v", chanpool.ErrDriverExists, id)
	}

	features := make([]phys.Features, drv.Channels())
	for ch := range features {
		features[ch] = drv.Capabilities(ch)
	}

	if err := e.pool.AddDriver(id, features, msnMap); err != nil {
		return err
	}

	e.drivers[id] = &driverEntry{id: id, name: name, drv: drv}

	drv.Attach(func(ev phys.Event) {
		ev.Driver = id
		e.HandleEvent(ev)
	})

	log.Printf("Dial: added driver %v (%v) with %v channels", name, drv.Desc(),
		len(features))

	return nil
}

// RemoveDriver drops a driver. Interfaces using one of its channels are
// disconnected.
func (e *Engine) RemoveDriver(id int) error {
	e.lock.Lock()
	defer e.unlock()

	d, ok := e.drivers[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownDriver, id)
	}

	for _, h := range slices.Clone(e.order) {
		i := e.ifaces[h]
		if i.bound && i.slot.Driver == id {
			e.teardown(i, fmt.Errorf("%w: %v removed", ErrUnknownDriver, d.name))
		}
	}

	if _, err := e.pool.RemoveDriver(id); err != nil {
		return err
	}

	d.drv.Attach(nil)
	delete(e.drivers, id)
	log.Println("Dial: removed driver ", d.name)
	return nil
}

// DriverInfo describes a registered driver
type DriverInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	Channels int    `json:"channels"`
}

// Drivers returns all registered drivers sorted by id
func (e *Engine) Drivers() []DriverInfo {
	e.lock.Lock()
	defer e.unlock()

	ids := maps.Keys(e.drivers)
	slices.Sort(ids)

	ret := make([]DriverInfo, 0, len(ids))
	for _, id := range ids {
		d := e.drivers[id]
		ret = append(ret, DriverInfo{ID: id, Name: d.name, Desc: d.drv.Desc(),
			Channels: d.drv.Channels()})
	}
	return ret
}

// Slots returns the state of all channels
func (e *Engine) Slots() []chanpool.Slot {
	return e.pool.Slots()
}

func (e *Engine) lookup(name string) (*iface, error) {
	h, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownInterface, name)
	}
	return e.ifaces[h], nil
}

// CreateInterface adds an interface with the default policy
func (e *Engine) CreateInterface(name string) error {
	e.lock.Lock()
	defer e.unlock()

	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if _, ok := e.byName[name]; ok {
		return fmt.Errorf("%w: %v", ErrInterfaceExists, name)
	}

	h := e.nextHandle
	e.nextHandle++

	e.ifaces[h] = &iface{
		handle: h,
		name:   name,
		policy: DefaultPolicy(),
		book:   phonebook.New(),
	}
	e.order = append(e.order, h)
	e.byName[name] = h

	log.Println("Dial: created interface ", name)
	return nil
}

// RemoveInterface deletes an idle interface. Slaves of a removed master
// become independent interfaces.
func (e *Engine) RemoveInterface(name string) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}

	if i.state != StateIdle || i.bound {
		return fmt.Errorf("%w: %v is %v", ErrConfigBusy, name, i.state)
	}

	for _, s := range i.slaves {
		e.ifaces[s].master = 0
		e.ifaces[s].policy.Master = ""
	}
	e.unlinkSlave(i)

	if i.policy.Exclusive {
		_ = e.pool.ClearExclusive(chanpool.SlotID{Driver: i.policy.PreDriver,
			Channel: i.policy.PreChannel}, name)
	}

	delete(e.ifaces, i.handle)
	delete(e.byName, name)
	if idx := slices.Index(e.order, i.handle); idx >= 0 {
		e.order = slices.Delete(e.order, idx, idx+1)
	}

	log.Println("Dial: removed interface ", name)
	return nil
}

func (e *Engine) unlinkSlave(i *iface) {
	if i.master == 0 {
		return
	}
	if m := e.ifaces[i.master]; m != nil {
		if idx := slices.Index(m.slaves, i.handle); idx >= 0 {
			m.slaves = slices.Delete(m.slaves, idx, idx+1)
		}
	}
	i.master = 0
}

// SetConfig replaces the policy of an idle interface
func (e *Engine) SetConfig(name string, p Policy) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}

	if err := p.validate(); err != nil {
		return err
	}

	if i.state != StateIdle || i.bound {
		return fmt.Errorf("%w: %v is %v", ErrConfigBusy, name, i.state)
	}

	var master *iface
	if p.Master != "" {
		master, err = e.lookup(p.Master)
		if err != nil {
			return fmt.Errorf("master: %w", err)
		}
		if master == i || master.master != 0 {
			return fmt.Errorf("%w: %v can not be master of %v", ErrInvalidConfig,
				p.Master, name)
		}
		if len(i.slaves) > 0 {
			return fmt.Errorf("%w: %v has slaves", ErrInvalidConfig, name)
		}
	}

	if p.prebound() {
		if _, ok := e.drivers[p.PreDriver]; !ok {
			return fmt.Errorf("%w: %v", ErrUnknownDriver, p.PreDriver)
		}
	}

	oldPre := chanpool.SlotID{Driver: i.policy.PreDriver, Channel: i.policy.PreChannel}
	newPre := chanpool.SlotID{Driver: p.PreDriver, Channel: p.PreChannel}

	if p.Exclusive && (!i.policy.Exclusive || oldPre != newPre) {
		if err := e.pool.SetExclusive(newPre, name); err != nil {
			return err
		}
	}
	if i.policy.Exclusive && (!p.Exclusive || oldPre != newPre) {
		if err := e.pool.ClearExclusive(oldPre, name); err != nil {
			log.Printf("Dial: %v error clearing exclusive %v: %v", name, oldPre, err)
		}
	}

	if p.Master != i.policy.Master {
		e.unlinkSlave(i)
		if master != nil {
			i.master = master.handle
			master.slaves = append(master.slaves, i.handle)
		}
	}

	i.policy = p
	return nil
}

// GetConfig returns the policy of an interface
func (e *Engine) GetConfig(name string) (Policy, error) {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return Policy{}, err
	}
	return i.policy, nil
}

// AddPhone adds a number to one of the phone lists of an interface
func (e *Engine) AddPhone(name, number string, d phonebook.Direction) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}
	return i.book.Add(number, d)
}

// RemovePhone removes a number from a phone list
func (e *Engine) RemovePhone(name, number string, d phonebook.Direction) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}
	return i.book.Remove(number, d)
}

// Phones returns one phone list of an interface
func (e *Engine) Phones(name string, d phonebook.Direction) ([]string, error) {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return i.book.Numbers(d), nil
}

// PeerNumber returns the number of the connected peer
func (e *Engine) PeerNumber(name string) (string, error) {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return "", err
	}
	if i.state != StateActive {
		return "", fmt.Errorf("%w: %v", ErrNotConnected, name)
	}
	return i.peer, nil
}

// ForceDial dials an idle interface now, ignoring a pending dial wait
func (e *Engine) ForceDial(name string) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}

	if err := e.canDial(i); err != nil {
		return err
	}

	if i.state != StateIdle {
		return fmt.Errorf("%w: %v is %v", ErrBusy, name, i.state)
	}

	i.cooldownUntil = 0
	return e.dialOut(i)
}

// ForceHangup disconnects an interface. Hanging up an idle interface does
// nothing.
func (e *Engine) ForceHangup(name string) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}

	if i.state == StateIdle && !i.bound {
		return nil
	}

	log.Println("Dial: hangup requested for ", name)
	e.hangup(i, nil)
	return nil
}

// TransmitRequest hands a frame to an interface. An idle interface in auto
// dial mode starts dialing and holds the frame until connected.
func (e *Engine) TransmitRequest(name string, frame []byte) (TxResult, error) {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return TxUnreachable, err
	}

	// bundle traffic always enters at the master
	if i.master != 0 {
		i = e.ifaces[i.master]
	}

	switch i.state {
	case StateActive:
		return e.transmitActive(i, frame)
	case StateIdle:
		if err := e.canDial(i); err != nil {
			return TxUnreachable, err
		}
		if i.policy.DialMode != DialAuto {
			return TxUnreachable, fmt.Errorf("%w: %v dial mode is %v",
				ErrNotConnected, name, i.policy.DialMode)
		}
		if e.now < i.cooldownUntil {
			return TxUnreachable, fmt.Errorf("%w: %v until tick %v",
				ErrDialFailedCooldown, name, i.cooldownUntil)
		}
		if err := e.dialOut(i); err != nil {
			return TxUnreachable, err
		}
		i.held = slices.Clone(frame)
		return TxAccepted, nil
	default:
		return TxBusy, nil
	}
}

// Receive is called by the link layer for received data. It resets the
// idle time of the interface.
func (e *Engine) Receive(name string, n int) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}
	i.idle = 0
	i.rxBytes += int64(n)
	return nil
}

// ChannelReady is called by the link layer when the connected channel
// can carry frames.
func (e *Engine) ChannelReady(name string) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}
	if i.state != StateActive {
		return fmt.Errorf("%w: %v", ErrNotConnected, name)
	}
	i.ready = true
	e.flushHeld(i)
	return nil
}

// ChannelGone is called by the link layer when it can no longer use the
// channel. The call is dropped.
func (e *Engine) ChannelGone(name string) error {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return err
	}
	if i.state == StateIdle && !i.bound {
		return nil
	}
	e.hangup(i, errLinkGone)
	return nil
}

func (e *Engine) canDial(i *iface) error {
	if e.stopped {
		return ErrAdministrativelyStopped
	}
	if !i.policy.Up {
		return fmt.Errorf("%w: %v", ErrAdministrativelyDown, i.name)
	}
	if i.policy.DialMode == DialOff {
		return fmt.Errorf("%w: %v", ErrDialModeOff, i.name)
	}
	return nil
}

// Tick advances time by one unit: fires expired timers, counts idle time
// of active links and samples bundle load.
func (e *Engine) Tick() {
	e.lock.Lock()
	defer e.unlock()

	e.now++

	for _, h := range slices.Clone(e.order) {
		i, ok := e.ifaces[h]
		if !ok {
			continue
		}

		if i.timer.fire(e.now) {
			e.fire(i, inputTimer, phys.Event{})
		}

		if i.state != StateActive {
			continue
		}

		i.idle++
		if i.account.RecommendHangup(e.now, i.idle, i.outgoing, i.policy.charge()) {
			if e.config.Debug > 0 {
				log.Printf("Dial: %v idle for %v, hanging up", i.name, i.idle)
			}
			e.hangup(i, nil)
			continue
		}

		e.sample(i)
	}
}

// HandleEvent processes a physical layer event
func (e *Engine) HandleEvent(ev phys.Event) {
	if ev.Type == phys.EventIncomingCall {
		e.IncomingCall(ev)
		return
	}

	e.lock.Lock()
	defer e.unlock()

	if e.config.Debug > 1 {
		log.Println("Dial: event ", ev)
	}

	h, ok := e.bySlot[chanpool.SlotID{Driver: ev.Driver, Channel: ev.Channel}]
	if !ok {
		if e.config.Debug > 0 {
			log.Println("Dial: no interface for event ", ev)
		}
		return
	}

	e.fire(e.ifaces[h], inputFor(ev.Type), ev)
}

// CheckInvariants verifies the binding between interfaces and channels
func (e *Engine) CheckInvariants() error {
	e.lock.Lock()
	defer e.unlock()

	bound := 0
	for _, h := range e.order {
		i := e.ifaces[h]
		if (i.state == StateIdle) == i.bound {
			return fmt.Errorf("%v is %v with bound=%v", i.name, i.state, i.bound)
		}
		if !i.bound {
			continue
		}
		bound++
		if e.bySlot[i.slot] != h {
			return fmt.Errorf("%v bound to %v which maps to handle %v", i.name,
				i.slot, e.bySlot[i.slot])
		}
		s, ok := e.pool.Slot(i.slot)
		if !ok {
			return fmt.Errorf("%v bound to unknown slot %v", i.name, i.slot)
		}
		if s.Holder != i.name || s.Usage&chanpool.UsageNet == 0 {
			return fmt.Errorf("%v bound to %v held by %q usage %v", i.name,
				i.slot, s.Holder, s.Usage)
		}
	}

	if bound != len(e.bySlot) {
		return fmt.Errorf("%v interfaces bound, %v slots mapped", bound, len(e.bySlot))
	}

	// reservations in the pool match the bindings of their owners
	for _, s := range e.pool.Slots() {
		if s.Usage&chanpool.UsageExclusive == 0 {
			continue
		}
		h, ok := e.byName[s.Owner]
		if !ok {
			return fmt.Errorf("%v reserved for unknown interface %q", s.ID, s.Owner)
		}
		p := e.ifaces[h].policy
		if !p.Exclusive || p.PreDriver != s.ID.Driver || p.PreChannel != s.ID.Channel {
			return fmt.Errorf("%v reserved for %v which is bound to %v/%v", s.ID,
				s.Owner, p.PreDriver, p.PreChannel)
		}
	}

	return nil
}
