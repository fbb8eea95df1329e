package dial

import (
	"bytes"
	"strings"
	"testing"

	"github.com/simpleiot/dialnet/phys"
)

func TestBundleRecruitsSlaveOnce(t *testing.T) {
	e, d := newTestEngine(t, 2)
	enc := &fakeEncap{}
	e.SetEncapsulator(enc)

	addIface(t, e, "master", func(p *Policy) {
		p.TriggerCPS = 6000
		p.SlaveDelay = 10
	}, "5551212")
	addIface(t, e, "slave", func(p *Policy) { p.Master = "master" })

	connectOut(t, e, "master", 0)
	if err := e.ChannelReady("master"); err != nil {
		t.Fatal(err)
	}

	frame := bytes.Repeat([]byte{'x'}, 8000)
	load := func(n int) {
		for ; n > 0; n-- {
			if res, err := e.TransmitRequest("master", frame); res != TxAccepted || err != nil {
				t.Fatal("transmit: ", res, err)
			}
			e.Tick()
		}
	}

	load(5)
	s := expectState(t, e, "master", StateActive)
	if !s.Overloaded || s.CPS != 8000 {
		t.Fatal("master should be overloaded: ", s.Overloaded, s.CPS)
	}
	if len(d.calls("dial 1")) != 0 {
		t.Fatal("slave dialed before slave delay")
	}

	load(15)
	expectState(t, e, "slave", StateOutWaitDConn)
	if n := len(d.calls("dial 1 5551212")); n != 1 {
		t.Fatal("slave should be dialed exactly once with the master number: ", n)
	}

	e.HandleEvent(event(phys.EventDChannelUp, 1))
	e.HandleEvent(event(phys.EventBChannelUp, 1))
	expectState(t, e, "slave", StateActive)
	if err := e.ChannelReady("slave"); err != nil {
		t.Fatal(err)
	}

	enc.sends = nil
	load(10)

	if n := len(d.calls("dial 1")); n != 1 {
		t.Fatal("slave dialed again: ", n)
	}

	var toMaster, toSlave int
	for _, s := range enc.sends {
		switch {
		case strings.HasPrefix(s, "master "):
			toMaster++
		case strings.HasPrefix(s, "slave "):
			toSlave++
		}
	}
	if toMaster != 5 || toSlave != 5 {
		t.Fatal("frames should alternate: ", toMaster, toSlave)
	}

	// the master takes its slaves down with it
	if err := e.ForceHangup("master"); err != nil {
		t.Fatal(err)
	}
	expectState(t, e, "master", StateIdle)
	expectState(t, e, "slave", StateIdle)
}

func TestBundleHysteresis(t *testing.T) {
	e, _ := newTestEngine(t, 2)
	addIface(t, e, "master", func(p *Policy) {
		p.TriggerCPS = 6000
		p.SlaveDelay = 2
		p.OnHTime = 0
	}, "5551212")
	addIface(t, e, "slave", func(p *Policy) {
		p.Master = "master"
		p.DialMode = DialOff
	})

	connectOut(t, e, "master", 0)

	frame := bytes.Repeat([]byte{'x'}, 7000)
	if _, err := e.TransmitRequest("master", frame); err != nil {
		t.Fatal(err)
	}
	e.Tick()

	s, _ := e.Status("master")
	if !s.Overloaded {
		t.Fatal("expected overload")
	}

	// quiet, but still within slavedelay + 10 of the overload start
	ticks(e, 12)
	s, _ = e.Status("master")
	if !s.Overloaded {
		t.Fatal("overload cleared too early")
	}

	e.Tick()
	s, _ = e.Status("master")
	if s.Overloaded {
		t.Fatal("overload should be cleared")
	}
}
