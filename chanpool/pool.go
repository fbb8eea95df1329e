// Package chanpool arbitrates the physical B channels shared by all network
// interfaces. Every mutation of a slot happens under the pool lock, so two
// interfaces racing for the same slot see exactly one winner.
package chanpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/simpleiot/dialnet/phys"
)

// SlotID identifies a channel of a driver
type SlotID struct {
	Driver  int `json:"driver"`
	Channel int `json:"channel"`
}

func (id SlotID) String() string {
	return fmt.Sprintf("%v/%v", id.Driver, id.Channel)
}

// Usage bits of a slot. Net and Other are the consumer kinds, Outgoing marks
// a call we placed, Exclusive marks a slot reserved for one interface.
type Usage uint8

// usage bits
const (
	UsageNet Usage = 1 << iota
	UsageOther
	UsageOutgoing
	UsageExclusive
)

const usageKind = UsageNet | UsageOther

// Free returns true if no consumer uses the slot
func (u Usage) Free() bool {
	return u&usageKind == 0
}

func (u Usage) String() string {
	s := "none"
	switch {
	case u&UsageNet != 0:
		s = "net"
	case u&UsageOther != 0:
		s = "other"
	}
	if u&UsageOutgoing != 0 {
		s += ",out"
	}
	if u&UsageExclusive != 0 {
		s += ",excl"
	}
	return s
}

// Slot is a snapshot of one channel
type Slot struct {
	ID       SlotID        `json:"id"`
	Features phys.Features `json:"features"`
	Usage    Usage         `json:"usage"`
	// Owner holds the exclusive reservation, Holder the current user
	Owner  string `json:"owner,omitempty"`
	Holder string `json:"holder,omitempty"`
}

// Request describes the channel an interface needs. PreDriver and
// PreChannel < 0 mean any slot.
type Request struct {
	L2         phys.L2Proto
	L3         phys.L3Proto
	PreDriver  int
	PreChannel int
	MSN        string
	Kind       Usage
	Holder     string
}

// errors returned by pool operations
var (
	ErrDriverExists  = errors.New("driver already registered")
	ErrUnknownDriver = errors.New("unknown driver")
	ErrUnknownSlot   = errors.New("unknown slot")
	ErrSlotBusy      = errors.New("slot busy")
	ErrNotOwner      = errors.New("slot reserved by another interface")
)

type driverEntry struct {
	id     int
	msnMap map[string]string
}

// Pool holds all slots in registration order
type Pool struct {
	lock    sync.Mutex
	slots   []*Slot
	drivers []driverEntry
}

// New returns an empty pool
func New() *Pool {
	return &Pool{}
}

// AddDriver registers the channels of a driver. features holds one entry
// per channel. msnMap maps an interface EAZ to the MSN used on this driver;
// a mapping to "-" excludes the driver for that EAZ.
func (p *Pool) AddDriver(driver int, features []phys.Features, msnMap map[string]string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, d := range p.drivers {
		if d.id == driver {
			return fmt.Errorf("%w: %v", ErrDriverExists, driver)
		}
	}

	m := make(map[string]string, len(msnMap))
	for k, v := range msnMap {
		m[k] = v
	}
	p.drivers = append(p.drivers, driverEntry{id: driver, msnMap: m})

	for ch, f := range features {
		p.slots = append(p.slots, &Slot{
			ID:       SlotID{Driver: driver, Channel: ch},
			Features: f,
		})
	}

	return nil
}

// RemoveDriver drops all slots of a driver and returns the ones that were
// held by a consumer.
func (p *Pool) RemoveDriver(driver int) ([]Slot, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	found := false
	for i, d := range p.drivers {
		if d.id == driver {
			p.drivers = append(p.drivers[:i], p.drivers[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %v", ErrUnknownDriver, driver)
	}

	var held []Slot
	keep := p.slots[:0]
	for _, s := range p.slots {
		if s.ID.Driver != driver {
			keep = append(keep, s)
			continue
		}
		if !s.Usage.Free() {
			held = append(held, *s)
		}
	}
	p.slots = keep

	return held, nil
}

// MapMSN returns the MSN a driver uses for eaz. Unmapped EAZs are returned
// unchanged.
func (p *Pool) MapMSN(driver int, eaz string) string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.mapMSN(driver, eaz)
}

func (p *Pool) mapMSN(driver int, eaz string) string {
	for _, d := range p.drivers {
		if d.id == driver {
			if m, ok := d.msnMap[eaz]; ok {
				return m
			}
		}
	}
	return eaz
}

func (p *Pool) find(id SlotID) *Slot {
	for _, s := range p.slots {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// featuresMatch implements the capability test. A V.110 layer 2 request is
// also satisfied by a transparent channel: the requester then does the rate
// adaption in software.
func featuresMatch(have phys.Features, l2 phys.L2Proto, l3 phys.L3Proto) bool {
	want := phys.FeatureL2(l2) | phys.FeatureL3(l3)
	if have.Has(want) {
		return true
	}
	if !l2.V110() {
		return false
	}
	vwant := phys.FeatureL3(l3)
	return have.Has(vwant) && have.Has(phys.FeatureL2(phys.L2Trans))
}

// Acquire finds a free slot for req and marks it used. If PreDriver and
// PreChannel are set only that slot is considered. ok is false if no slot
// matches; this is a normal outcome, not an error.
func (p *Pool) Acquire(req Request) (SlotID, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	kind := req.Kind & usageKind
	if kind == 0 {
		kind = UsageNet
	}
	pre := req.PreDriver >= 0 && req.PreChannel >= 0

	for _, s := range p.slots {
		if !s.Usage.Free() {
			continue
		}
		if pre && (s.ID.Driver != req.PreDriver || s.ID.Channel != req.PreChannel) {
			continue
		}
		if s.Usage&UsageExclusive != 0 && (!pre || s.Owner != req.Holder) {
			continue
		}
		if p.mapMSN(s.ID.Driver, req.MSN) == "-" {
			continue
		}
		if !featuresMatch(s.Features, req.L2, req.L3) {
			continue
		}
		s.Usage = s.Usage&UsageExclusive | kind
		s.Holder = req.Holder
		return s.ID, true
	}

	return SlotID{}, false
}

// CanClaim returns the error Claim would return without changing the slot
func (p *Pool) CanClaim(id SlotID, holder string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	_, err := p.claimable(id, holder)
	return err
}

func (p *Pool) claimable(id SlotID, holder string) (*Slot, error) {
	s := p.find(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSlot, id)
	}
	if !s.Usage.Free() {
		return nil, fmt.Errorf("%w: %v", ErrSlotBusy, id)
	}
	if s.Usage&UsageExclusive != 0 && s.Owner != holder {
		return nil, fmt.Errorf("%w: %v", ErrNotOwner, id)
	}
	return s, nil
}

// Claim marks a specific slot used, for example the slot an incoming call
// was signaled on. An exclusive slot can only be claimed by its owner.
func (p *Pool) Claim(id SlotID, kind Usage, holder string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	s, err := p.claimable(id, holder)
	if err != nil {
		return err
	}
	kind &= usageKind
	if kind == 0 {
		kind = UsageNet
	}
	s.Usage = s.Usage&UsageExclusive | kind
	s.Holder = holder
	return nil
}

// Release frees a slot if it is used by a consumer of the given kind. The
// exclusive reservation is kept; use ClearExclusive to drop it. Returns
// false if the slot was not held by kind.
func (p *Pool) Release(id SlotID, kind Usage) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	s := p.find(id)
	if s == nil || s.Usage&usageKind != kind&usageKind {
		return false
	}
	s.Usage &= UsageExclusive
	s.Holder = ""
	return true
}

// MarkOutgoing flags a used slot as carrying an outgoing call
func (p *Pool) MarkOutgoing(id SlotID) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if s := p.find(id); s != nil && !s.Usage.Free() {
		s.Usage |= UsageOutgoing
	}
}

// SetExclusive reserves a slot for owner
func (p *Pool) SetExclusive(id SlotID, owner string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	s := p.find(id)
	if s == nil {
		return fmt.Errorf("%w: %v", ErrUnknownSlot, id)
	}
	if s.Usage&UsageExclusive != 0 {
		if s.Owner == owner {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrNotOwner, id)
	}
	if !s.Usage.Free() && s.Holder != owner {
		return fmt.Errorf("%w: %v", ErrSlotBusy, id)
	}
	s.Usage |= UsageExclusive
	s.Owner = owner
	return nil
}

// ClearExclusive drops the reservation if owner holds it
func (p *Pool) ClearExclusive(id SlotID, owner string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	s := p.find(id)
	if s == nil {
		return fmt.Errorf("%w: %v", ErrUnknownSlot, id)
	}
	if s.Usage&UsageExclusive == 0 {
		return nil
	}
	if s.Owner != owner {
		return fmt.Errorf("%w: %v", ErrNotOwner, id)
	}
	s.Usage &^= UsageExclusive
	s.Owner = ""
	return nil
}

// SwapExclusive exchanges the exclusive reservations of channels 0 and 1 of
// a driver.
func (p *Pool) SwapExclusive(driver int) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	a := p.find(SlotID{driver, 0})
	b := p.find(SlotID{driver, 1})
	if a == nil || b == nil {
		return fmt.Errorf("%w: %v has less than 2 channels", ErrUnknownSlot, driver)
	}
	ae, be := a.Usage&UsageExclusive, b.Usage&UsageExclusive
	a.Usage = a.Usage&^UsageExclusive | be
	b.Usage = b.Usage&^UsageExclusive | ae
	a.Owner, b.Owner = b.Owner, a.Owner
	return nil
}

// Slot returns a snapshot of one slot
func (p *Pool) Slot(id SlotID) (Slot, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	s := p.find(id)
	if s == nil {
		return Slot{}, false
	}
	return *s, true
}

// Slots returns a snapshot of all slots
func (p *Pool) Slots() []Slot {
	p.lock.Lock()
	defer p.lock.Unlock()

	ret := make([]Slot, len(p.slots))
	for i, s := range p.slots {
		ret[i] = *s
	}
	return ret
}
