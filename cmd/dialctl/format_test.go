package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/dial"
)

func TestPrintStatus(t *testing.T) {
	slot := chanpool.SlotID{Driver: 0, Channel: 1}
	list := []dial.Status{
		{Name: "isdn0", State: dial.StateActive, Since: 10, Now: 70, Slot: &slot,
			Peer: "5551212", TxBytes: 2_000_000, RxBytes: 1500, CPS: 12345},
		{Name: "isdn1", State: dial.StateIdle, Now: 70, CooldownUntil: 75},
	}

	var b bytes.Buffer
	printStatus(&b, list, time.Second)
	out := b.String()

	for _, exp := range []string{"isdn0", "active", "0/1", "5551212", "2.0 MB",
		"1.5 kB", "12,345", "1 minute ago", "idle (wait)"} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected %q in:\n%v", exp, out)
		}
	}
}

func TestFormatChange(t *testing.T) {
	s := formatChange(dial.StateChange{Name: "isdn0", From: dial.StateActive,
		To: dial.StateIdle, Reason: "remote hangup"})
	if s != "isdn0: active -> idle (remote hangup)" {
		t.Fatal("unexpected: ", s)
	}
}

func TestParseOnOff(t *testing.T) {
	for in, exp := range map[string]bool{"on": true, "off": false, "true": true} {
		v, err := parseOnOff(in)
		if err != nil || v != exp {
			t.Errorf("%v: got %v %v", in, v, err)
		}
	}
	if _, err := parseOnOff("maybe"); err == nil {
		t.Error("expected error")
	}
}
