package phys

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/simpleiot/dialnet/test"
)

// fakeAdapter answers AT commands on port. Commands missing from script are
// answered with OK.
func fakeAdapter(port io.ReadWriter, script map[string]string, cmds chan<- string) {
	r := bufio.NewReader(port)
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		cmds <- cmd
		resp, ok := script[cmd]
		if !ok {
			resp = "OK"
		}
		if _, err := port.Write([]byte("\r\n" + resp + "\r\n")); err != nil {
			return
		}
	}
}

func TestATDriver(t *testing.T) {
	a, b := test.NewPortPair()

	cmds := make(chan string, 20)
	go fakeAdapter(b, map[string]string{
		"ATD5551212": "CONNECT 64000",
	}, cmds)

	d := NewATDriver(ATConfig{
		Ports: []string{"ta0"},
		Open: func(port string) (io.ReadWriteCloser, error) {
			if port != "ta0" {
				t.Error("unexpected port: ", port)
			}
			return a, nil
		},
	})

	events := make(chan Event, 10)
	d.Attach(func(ev Event) { events <- ev })

	done := make(chan error)
	go func() {
		done <- d.Start()
	}()

	next := func() Event {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for event")
		}
		return Event{}
	}

	nextCmd := func() string {
		t.Helper()
		select {
		case c := <-cmds:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for command")
		}
		return ""
	}

	var init []string
	for i := 0; i < 4; i++ {
		init = append(init, nextCmd())
	}
	if diff := cmp.Diff([]string{"ATZ", "ATE0", "ATS0=0", "ATS13.1=1"}, init); diff != "" {
		t.Fatal("init (-exp +got):\n", diff)
	}

	if err := d.Dial(0, "5551212", L2X75I, L3Trans, "300"); err != nil {
		t.Fatal(err)
	}
	if c := nextCmd(); c != "ATD5551212" {
		t.Fatal("unexpected command: ", c)
	}

	got := []Event{next(), next()}
	exp := []Event{{Type: EventDChannelUp}, {Type: EventBChannelUp}}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatal("connect (-exp +got):\n", diff)
	}

	if _, err := b.Write([]byte("\r\n+CAOC: 1\r\n")); err != nil {
		t.Fatal(err)
	}
	if ev := next(); ev.Type != EventChargePulse {
		t.Fatal("expected charge pulse, got: ", ev)
	}

	if _, err := b.Write([]byte("\r\nNO CARRIER\r\n")); err != nil {
		t.Fatal(err)
	}
	got = []Event{next(), next()}
	exp = []Event{{Type: EventBChannelDown}, {Type: EventDChannelDown}}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatal("hangup (-exp +got):\n", diff)
	}

	if _, err := b.Write([]byte("\r\nCALLER NUMBER: 5550000\r\nRING/300\r\n")); err != nil {
		t.Fatal(err)
	}
	ev := next()
	expRing := Event{Type: EventIncomingCall, Caller: "5550000", Called: "300", SI: SIData}
	if diff := cmp.Diff(expRing, ev); diff != "" {
		t.Fatal("ring (-exp +got):\n", diff)
	}

	if err := d.Hangup(0); err != nil {
		t.Fatal(err)
	}
	if c := nextCmd(); c != "ATH" {
		t.Fatal("unexpected command: ", c)
	}

	if err := d.Dial(3, "1", L2X75I, L3Trans, ""); err == nil {
		t.Fatal("expected error for invalid channel")
	}

	d.Stop(nil)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
	}
}
