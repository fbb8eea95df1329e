package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/phonebook"
	"github.com/simpleiot/dialnet/phys"
)

var testYAML = `
engine:
  tick: 500ms
  debug: 1
nats:
  server: nats://localhost:4222
  embedded: true
  port: 4222
drivers:
  - id: 0
    name: card0
    type: sim
    channels: 2
    features: [x75i, hdlc, trans, l3trans]
  - id: 1
    name: ta0
    type: at
    ports: [/dev/ttyUSB0]
    features: [x75i, l3trans]
    msnMap: {"300": "5551300"}
interfaces:
  - name: isdn0
    msn: "300"
    l2: hdlc
    dialMode: auto
    callback: hangup
    cbdelay: 3
    outgoing: ["5551212", "5551313"]
    incoming: ["555*"]
  - name: isdn1
    msn: "b301"
    master: isdn0
    up: false
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal("parse: ", err)
	}

	tick, err := c.Engine.TickPeriod()
	if err != nil || tick != 500*time.Millisecond {
		t.Fatal("tick: ", tick, err)
	}

	if len(c.Drivers) != 2 || c.Drivers[1].MSNMap["300"] != "5551300" {
		t.Fatal("unexpected drivers: ", c.Drivers)
	}

	f, err := c.Drivers[0].FeatureMask()
	if err != nil {
		t.Fatal(err)
	}
	expF := phys.FeatureL2(phys.L2X75I) | phys.FeatureL2(phys.L2HDLC) |
		phys.FeatureL2(phys.L2Trans) | phys.FeatureL3(phys.L3Trans)
	if f != expF {
		t.Fatalf("features: expected %x, got %x", expF, f)
	}

	p, err := c.Interfaces[0].Policy()
	if err != nil {
		t.Fatal(err)
	}

	exp := dial.DefaultPolicy()
	exp.MSN = "300"
	exp.L2 = phys.L2HDLC
	exp.Callback = dial.CallbackHangup
	exp.CBDelay = 3
	if diff := cmp.Diff(exp, p); diff != "" {
		t.Fatal("policy (-exp +got):\n", diff)
	}

	p, err = c.Interfaces[1].Policy()
	if err != nil {
		t.Fatal(err)
	}
	if p.Up || p.Master != "isdn0" || p.OnHTime != dial.DefaultPolicy().OnHTime {
		t.Fatal("unexpected slave policy: ", p)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		err    error
		substr string
	}{
		{"bad l2", `
interfaces:
  - name: a
    l2: v34`, dial.ErrInvalidProtocol, ""},
		{"bad dial mode", `
interfaces:
  - name: a
    dialMode: sometimes`, dial.ErrInvalidConfig, ""},
		{"duplicate interface", `
interfaces:
  - name: a
  - name: a`, dial.ErrInterfaceExists, ""},
		{"unknown master", `
interfaces:
  - name: a
    master: b`, dial.ErrUnknownInterface, ""},
		{"slave as master", `
interfaces:
  - name: a
  - name: b
    master: a
  - name: c
    master: b`, dial.ErrInvalidConfig, ""},
		{"wildcard outgoing", `
interfaces:
  - name: a
    outgoing: ["555*"]`, dial.ErrInvalidNumber, ""},
		{"unknown pre driver", `
interfaces:
  - name: a
    preDriver: 3
    preChannel: 0`, dial.ErrUnknownDriver, ""},
		{"bad driver type", `
drivers:
  - id: 0
    name: x
    type: modem`, nil, "unknown type"},
		{"at without ports", `
drivers:
  - id: 0
    name: x
    type: at`, nil, "needs ports"},
		{"bad feature", `
drivers:
  - id: 0
    name: x
    type: sim
    features: [v34]`, nil, "unknown layer 2"},
		{"bad tick", `
engine:
  tick: soon`, nil, "engine tick"},
	}

	for _, test := range tests {
		_, err := Parse([]byte(test.yaml))
		if err == nil {
			t.Errorf("%v: expected error", test.name)
			continue
		}
		if test.err != nil && !errors.Is(err, test.err) {
			t.Errorf("%v: expected %v, got %v", test.name, test.err, err)
		}
		if test.substr != "" && !strings.Contains(err.Error(), test.substr) {
			t.Errorf("%v: expected %q in %v", test.name, test.substr, err)
		}
	}
}

func newEngine(t *testing.T) *dial.Engine {
	t.Helper()
	e := dial.NewEngine(dial.Config{})
	sim := phys.NewSimDriver(phys.SimConfig{Channels: 2,
		Features: phys.FeatureL2(phys.L2X75I) | phys.FeatureL2(phys.L2HDLC) |
			phys.FeatureL3(phys.L3Trans)})
	if err := e.AddDriver(0, "card0", sim, nil); err != nil {
		t.Fatal(err)
	}
	return e
}

func names(e *dial.Engine) []string {
	var ret []string
	for _, s := range e.List() {
		ret = append(ret, s.Name)
	}
	return ret
}

func TestApply(t *testing.T) {
	e := newEngine(t)

	c, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := Apply(e, c); err != nil {
		t.Fatal("apply: ", err)
	}

	if diff := cmp.Diff([]string{"isdn0", "isdn1"}, names(e)); diff != "" {
		t.Fatal("interfaces (-exp +got):\n", diff)
	}

	s, err := e.Status("isdn0")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"isdn1"}, s.Slaves); diff != "" {
		t.Fatal("slaves (-exp +got):\n", diff)
	}

	in, _ := e.Phones("isdn0", phonebook.In)
	if diff := cmp.Diff([]string{"555*"}, in); diff != "" {
		t.Fatal("incoming (-exp +got):\n", diff)
	}

	// drop the slave, reorder the numbers and stop dialing
	c.Interfaces = c.Interfaces[:1]
	c.Interfaces[0].Outgoing = []string{"5551313", "5551212"}
	c.Interfaces[0].OnHTime = 30
	c.Engine.Stopped = true
	if err := Apply(e, c); err != nil {
		t.Fatal("apply: ", err)
	}

	if diff := cmp.Diff([]string{"isdn0"}, names(e)); diff != "" {
		t.Fatal("interfaces (-exp +got):\n", diff)
	}

	out, _ := e.Phones("isdn0", phonebook.Out)
	if diff := cmp.Diff([]string{"5551313", "5551212"}, out); diff != "" {
		t.Fatal("outgoing (-exp +got):\n", diff)
	}

	p, _ := e.GetConfig("isdn0")
	if p.OnHTime != 30 {
		t.Fatal("policy not updated: ", p.OnHTime)
	}

	if err := e.ForceDial("isdn0"); !errors.Is(err, dial.ErrAdministrativelyStopped) {
		t.Fatal("engine should be stopped: ", err)
	}
}

func TestApplyBusy(t *testing.T) {
	e := newEngine(t)

	c, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := Apply(e, c); err != nil {
		t.Fatal(err)
	}

	// the sim driver is not running, the call stays in progress
	if err := e.ForceDial("isdn0"); err != nil {
		t.Fatal(err)
	}

	c.Interfaces[0].OnHTime = 30
	err = Apply(e, c)
	if !errors.Is(err, dial.ErrConfigBusy) {
		t.Fatal("expected ErrConfigBusy, got: ", err)
	}

	if err := e.ForceHangup("isdn0"); err != nil {
		t.Fatal(err)
	}
	if err := Apply(e, c); err != nil {
		t.Fatal("apply after hangup: ", err)
	}
	p, _ := e.GetConfig("isdn0")
	if p.OnHTime != 30 {
		t.Fatal("policy not updated: ", p.OnHTime)
	}
}

func TestWatch(t *testing.T) {
	e := newEngine(t)

	path := filepath.Join(t.TempDir(), "dialnet.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Apply(e, c); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, e)
	w.delay = 20 * time.Millisecond
	reloaded := make(chan error, 10)
	w.OnReload(func(_ Config, err error) {
		select {
		case reloaded <- err:
		default:
		}
	})

	done := make(chan error)
	go func() {
		done <- w.Start()
	}()
	defer func() {
		w.Stop(nil)
		if err := <-done; err != nil {
			t.Error("watcher: ", err)
		}
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	update := strings.Replace(testYAML, `name: isdn1`, `name: isdn2`, 1)
	if err := os.WriteFile(path, []byte(update), 0644); err != nil {
		t.Fatal(err)
	}

	// a write can show up as several events, wait for the final state
	exp := []string{"isdn0", "isdn2"}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case err := <-reloaded:
			if err != nil {
				t.Log("reload: ", err)
			}
			if cmp.Equal(exp, names(e)) {
				return
			}
		case <-timeout:
			t.Fatal("config not reloaded, interfaces: ", names(e))
		}
	}
}

func TestExampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "cmd", "dialnetd", "dialnet.yaml"))
	if err != nil {
		t.Fatal("load example: ", err)
	}

	e := dial.NewEngine(dial.Config{})
	f, err := c.Drivers[0].FeatureMask()
	if err != nil {
		t.Fatal(err)
	}
	sim := phys.NewSimDriver(phys.SimConfig{Channels: 2, Features: f})
	if err := e.AddDriver(0, "sim0", sim, nil); err != nil {
		t.Fatal(err)
	}

	if err := Apply(e, c); err != nil {
		t.Fatal("apply example: ", err)
	}

	s, err := e.Status("isdn1")
	if err != nil || s.Master != "isdn0" {
		t.Fatal("isdn1 should be a slave of isdn0: ", s.Master, err)
	}
}
