package dial

import (
	"github.com/simpleiot/dialnet/chanpool"
)

// Status is a snapshot of an interface
type Status struct {
	Name     string           `json:"name"`
	State    State            `json:"state"`
	Since    int64            `json:"since"`
	Now      int64            `json:"now"`
	Up       bool             `json:"up"`
	DialMode DialMode         `json:"dialMode"`
	Slot     *chanpool.SlotID `json:"slot,omitempty"`
	Peer     string           `json:"peer,omitempty"`
	Outgoing bool             `json:"outgoing"`
	CallID   string           `json:"callId,omitempty"`

	Units          int   `json:"units"`
	ChargeInterval int64 `json:"chargeInterval"`
	Idle           int64 `json:"idle"`
	TxBytes        int64 `json:"txBytes"`
	RxBytes        int64 `json:"rxBytes"`
	CPS            int64 `json:"cps"`
	Overloaded     bool  `json:"overloaded"`

	Cycles        int    `json:"cycles"`
	CooldownUntil int64  `json:"cooldownUntil,omitempty"`
	LastFailure   string `json:"lastFailure,omitempty"`

	Master string   `json:"master,omitempty"`
	Slaves []string `json:"slaves,omitempty"`
}

// Cooldown returns true while the interface refuses to auto dial
func (s Status) Cooldown() bool {
	return s.Now < s.CooldownUntil
}

func (e *Engine) status(i *iface) Status {
	s := Status{
		Name:           i.name,
		State:          i.state,
		Since:          i.stateStart,
		Now:            e.now,
		Up:             i.policy.Up,
		DialMode:       i.policy.DialMode,
		Peer:           i.peer,
		Outgoing:       i.outgoing,
		CallID:         i.callID,
		Units:          i.account.Units,
		ChargeInterval: i.account.Interval(),
		Idle:           i.idle,
		TxBytes:        i.txBytes,
		RxBytes:        i.rxBytes,
		CPS:            i.cps,
		Overloaded:     i.overloaded,
		Cycles:         i.cursor.Cycles,
		LastFailure:    lastFailure(i.lastErr),
	}

	if i.bound {
		slot := i.slot
		s.Slot = &slot
	}

	if e.now < i.cooldownUntil {
		s.CooldownUntil = i.cooldownUntil
	}

	if m, ok := e.ifaces[i.master]; ok {
		s.Master = m.name
	}

	for _, h := range i.slaves {
		s.Slaves = append(s.Slaves, e.ifaces[h].name)
	}

	return s
}

// Status returns the status of one interface
func (e *Engine) Status(name string) (Status, error) {
	e.lock.Lock()
	defer e.unlock()

	i, err := e.lookup(name)
	if err != nil {
		return Status{}, err
	}
	return e.status(i), nil
}

// List returns the status of all interfaces in creation order
func (e *Engine) List() []Status {
	e.lock.Lock()
	defer e.unlock()

	ret := make([]Status, 0, len(e.order))
	for _, h := range e.order {
		ret = append(ret, e.status(e.ifaces[h]))
	}
	return ret
}
