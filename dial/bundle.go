package dial

import "log"

// sample recomputes the throughput of an active interface once per tick
// and recruits a slave while the master is overloaded.
func (e *Engine) sample(i *iface) {
	elapsed := e.now - i.sampleAt
	if elapsed <= 0 {
		return
	}
	i.cps = i.sampleBytes / elapsed
	i.sampleBytes = 0
	i.sampleAt = e.now

	if i.master != 0 || len(i.slaves) == 0 {
		return
	}

	trigger := i.policy.TriggerCPS
	switch {
	case i.cps > trigger:
		if !i.overloaded {
			log.Printf("Bundle: %v overloaded, %v cps", i.name, i.cps)
			i.overloaded = true
			i.overloadStart = e.now
			return
		}
		if e.now-i.overloadStart > i.policy.SlaveDelay {
			e.recruit(i)
		}
	case i.overloaded && e.now-i.overloadStart > i.policy.SlaveDelay+10:
		log.Printf("Bundle: %v load back to %v cps", i.name, i.cps)
		i.overloaded = false
	}
}

// recruit dials the first slave in the chain that is not connected. A
// slave that is already dialing is left alone so it is dialed only once.
func (e *Engine) recruit(m *iface) {
	for _, h := range m.slaves {
		s := e.ifaces[h]
		if s.state == StateActive {
			continue
		}
		if s.state != StateIdle || e.now < s.cooldownUntil {
			return
		}
		if err := e.canDial(s); err != nil {
			return
		}
		log.Printf("Bundle: %v recruiting slave %v", m.name, s.name)
		if err := e.dialOut(s); err != nil {
			log.Printf("Bundle: error dialing slave %v: %v", s.name, err)
		}
		return
	}
}

// transmitActive sends a frame over a connected bundle. Without overload
// only the master carries traffic, so idle slaves time out.
func (e *Engine) transmitActive(m *iface, frame []byte) (TxResult, error) {
	if !m.overloaded || len(m.slaves) == 0 {
		if !m.ready || e.busy(m) {
			return TxBusy, nil
		}
		m.sampleBytes += int64(len(frame))
		e.send(m, frame)
		return TxAccepted, nil
	}

	members := append([]Handle{m.handle}, m.slaves...)
	for n := 0; n < len(members); n++ {
		idx := (m.rr + n) % len(members)
		t := e.ifaces[members[idx]]
		if t.state != StateActive || !t.ready || e.busy(t) {
			continue
		}
		m.rr = (idx + 1) % len(members)
		m.sampleBytes += int64(len(frame))
		e.send(t, frame)
		return TxAccepted, nil
	}

	return TxBusy, nil
}

func (e *Engine) busy(i *iface) bool {
	return e.encap != nil && e.encap.Busy(i.name)
}
