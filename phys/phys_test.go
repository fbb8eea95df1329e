package phys

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseFeatures(t *testing.T) {
	f, err := ParseFeatures([]string{"x75i", "HDLC", "trans", "l3trans"})
	if err != nil {
		t.Fatal("parse error: ", err)
	}

	exp := FeatureL2(L2X75I) | FeatureL2(L2HDLC) | FeatureL2(L2Trans) | FeatureL3(L3Trans)
	if f != exp {
		t.Fatalf("expected %x, got %x", exp, f)
	}

	if _, err := ParseFeatures([]string{"x99"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestProtoNames(t *testing.T) {
	for p := L2X75I; p < l2Max; p++ {
		got, err := ParseL2(p.String())
		if err != nil || got != p {
			t.Errorf("round trip of %v failed: %v %v", p, got, err)
		}
	}

	if !L2V11019.V110() || L2HDLC.V110() {
		t.Error("V110 classification is wrong")
	}

	if L3Proto(7).Valid() {
		t.Error("l3(7) should not be valid")
	}
}

func TestATParseResult(t *testing.T) {
	c := &atChannel{index: 1}

	var got []Event
	for _, l := range []string{"CALLER NUMBER: 5550000", "RING/300", "CONNECT 64000",
		"+CAOC: 000001", "NO CARRIER", "BUSY", "OK"} {
		got = append(got, c.parseResult(l)...)
	}

	exp := []Event{
		{Type: EventIncomingCall, Channel: 1, Caller: "5550000", Called: "300", SI: SIData},
		{Type: EventDChannelUp, Channel: 1},
		{Type: EventBChannelUp, Channel: 1},
		{Type: EventChargePulse, Channel: 1},
		{Type: EventBChannelDown, Channel: 1},
		{Type: EventDChannelDown, Channel: 1},
		{Type: EventDChannelDown, Channel: 1},
	}

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatal("events mismatch (-exp +got):\n", diff)
	}
}

type fakeModem struct {
	written []string
	resp    chan []byte
}

func (f *fakeModem) Write(p []byte) (int, error) {
	f.written = append(f.written, string(p))
	f.resp <- []byte("\r\nOK\r\n")
	return len(p), nil
}

func (f *fakeModem) Read(p []byte) (int, error) {
	return copy(p, <-f.resp), nil
}

func TestATCmd(t *testing.T) {
	m := &fakeModem{resp: make(chan []byte, 1)}
	if err := atCmd(m, "ATZ", false); err != nil {
		t.Fatal("atCmd error: ", err)
	}
	if len(m.written) != 1 || m.written[0] != "ATZ\r" {
		t.Fatalf("unexpected writes: %q", m.written)
	}
}

func TestSimDriver(t *testing.T) {
	s := NewSimDriver(SimConfig{Channels: 2, Reachable: []string{"5551212"}})

	events := make(chan Event, 10)
	s.Attach(func(ev Event) { events <- ev })

	go func() {
		_ = s.Start()
	}()
	defer s.Stop(nil)

	next := func() Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
		return Event{}
	}

	if err := s.Dial(0, "5551212", L2X75I, L3Trans, "300"); err != nil {
		t.Fatal("dial error: ", err)
	}
	if ev := next(); ev.Type != EventDChannelUp || ev.Channel != 0 {
		t.Fatal("expected DCONN on 0, got: ", ev)
	}

	if err := s.AcceptB(0); err != nil {
		t.Fatal("acceptb error: ", err)
	}
	if ev := next(); ev.Type != EventBChannelUp {
		t.Fatal("expected BCONN, got: ", ev)
	}

	if err := s.Dial(1, "999", L2X75I, L3Trans, "300"); err != nil {
		t.Fatal("dial error: ", err)
	}
	if ev := next(); ev.Type != EventDChannelDown || ev.Channel != 1 {
		t.Fatal("expected DHUP on 1, got: ", ev)
	}

	if err := s.AcceptB(1); err == nil {
		t.Fatal("AcceptB on an idle channel should fail")
	}

	if err := s.Dial(5, "5551212", L2X75I, L3Trans, ""); err == nil {
		t.Fatal("expected invalid channel error")
	}

	s.Ring(1, "5550000", "300", SIData)
	ev := next()
	if ev.Type != EventIncomingCall || ev.Caller != "5550000" || ev.Called != "300" {
		t.Fatal("unexpected ring event: ", ev)
	}
}
