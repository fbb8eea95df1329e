package charge

import "testing"

func TestPulse(t *testing.T) {
	var a Account
	a.Start(100)

	if a.Info() != InfoNone || a.Interval() != 0 {
		t.Fatal("new account should have no charge info")
	}

	a.Pulse(101)
	if a.Info() != InfoFirst || a.Interval() != 0 {
		t.Fatal("first pulse should only record the time: ", a.Info())
	}

	a.Pulse(131)
	if a.Info() != InfoInterval || a.Interval() != 30 {
		t.Fatal("expected interval 30, got: ", a.Interval())
	}

	a.Pulse(161)
	if a.Interval() != 30 || a.Units != 3 {
		t.Fatal("later pulses must not change the interval: ", a.Interval(), a.Units)
	}

	a.Reset()
	if a.Units != 0 || a.Info() != InfoNone {
		t.Fatal("reset failed")
	}
}

func TestRecommendIdle(t *testing.T) {
	var a Account
	p := Policy{OnHTime: 10, InboundHup: false}

	if a.RecommendHangup(20, 10, true, p) {
		t.Fatal("idle must exceed onhtime")
	}
	if !a.RecommendHangup(20, 11, true, p) {
		t.Fatal("outgoing call idle past onhtime should hang up")
	}
	if a.RecommendHangup(20, 11, false, p) {
		t.Fatal("incoming call without InboundHup should stay up")
	}

	p.InboundHup = true
	if !a.RecommendHangup(20, 11, false, p) {
		t.Fatal("incoming call with InboundHup should hang up")
	}

	p.OnHTime = 0
	if a.RecommendHangup(20, 1000, true, p) {
		t.Fatal("onhtime 0 disables auto hangup")
	}
}

func TestRecommendCharge(t *testing.T) {
	var a Account
	a.Start(0)
	a.Pulse(0)
	a.Pulse(20)

	p := Policy{OnHTime: 5, ChargeHup: true}

	// 20 tick units, last pulse at 20: hang up at 38 and 39 only
	for now := int64(21); now < 60; now++ {
		exp := now%20 >= 18
		if got := a.RecommendHangup(now, 100, true, p); got != exp {
			t.Errorf("now %v: expected %v, got %v", now, exp, got)
		}
	}

	// manual interval overrides the measured one
	p.ChargeInt = 10
	if !a.RecommendHangup(28, 100, true, p) {
		t.Error("expected hangup at end of manual unit")
	}
	if a.RecommendHangup(25, 100, true, p) {
		t.Error("no hangup in the middle of a manual unit")
	}

	// without any interval it falls back to idle hangup
	var b Account
	b.Start(0)
	p.ChargeInt = 0
	if !b.RecommendHangup(50, 100, true, p) {
		t.Error("no charge info should fall back to idle hangup")
	}
}
