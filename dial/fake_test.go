package dial

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/phonebook"
	"github.com/simpleiot/dialnet/phys"
)

var testFeatures = phys.FeatureL2(phys.L2X75I) | phys.FeatureL2(phys.L2HDLC) |
	phys.FeatureL2(phys.L2Trans) | phys.FeatureL3(phys.L3Trans)

// fakeDriver records commands. Events are injected by the test.
type fakeDriver struct {
	channels int
	lock     sync.Mutex
	cmds     []string
	handler  phys.Handler
}

func (f *fakeDriver) record(format string, args ...any) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cmds = append(f.cmds, fmt.Sprintf(format, args...))
	return nil
}

// calls returns the recorded commands starting with prefix
func (f *fakeDriver) calls(prefix string) []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	var ret []string
	for _, c := range f.cmds {
		if strings.HasPrefix(c, prefix) {
			ret = append(ret, c)
		}
	}
	return ret
}

func (f *fakeDriver) Desc() string                     { return "fake" }
func (f *fakeDriver) Channels() int                    { return f.channels }
func (f *fakeDriver) Capabilities(_ int) phys.Features { return testFeatures }

func (f *fakeDriver) Dial(ch int, number string, _ phys.L2Proto, _ phys.L3Proto, _ string) error {
	return f.record("dial %v %v", ch, number)
}

func (f *fakeDriver) AcceptD(ch int) error { return f.record("acceptd %v", ch) }
func (f *fakeDriver) AcceptB(ch int) error { return f.record("acceptb %v", ch) }
func (f *fakeDriver) Hangup(ch int) error  { return f.record("hangup %v", ch) }

func (f *fakeDriver) SetL2(ch int, p phys.L2Proto) error { return f.record("l2 %v %v", ch, p) }
func (f *fakeDriver) SetL3(ch int, p phys.L3Proto) error { return f.record("l3 %v %v", ch, p) }
func (f *fakeDriver) SetEAZ(ch int, eaz string) error    { return f.record("eaz %v %q", ch, eaz) }

func (f *fakeDriver) Attach(h phys.Handler) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.handler = h
}

func (f *fakeDriver) Start() error { return nil }
func (f *fakeDriver) Stop(error)   {}

// fakeEncap records link layer calls
type fakeEncap struct {
	lock  sync.Mutex
	opens []string
	sends []string
	close []string
	busy  map[string]bool
}

func (f *fakeEncap) Open(name string, slot chanpool.SlotID) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.opens = append(f.opens, name+" "+slot.String())
}

func (f *fakeEncap) Close(name string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.close = append(f.close, name)
}

func (f *fakeEncap) Busy(name string) bool {
	return f.busy[name]
}

func (f *fakeEncap) Send(name string, frame []byte) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sends = append(f.sends, name+" "+string(frame))
}

func newTestEngine(t *testing.T, channels int) (*Engine, *fakeDriver) {
	t.Helper()
	e := NewEngine(Config{})
	d := &fakeDriver{channels: channels}
	if err := e.AddDriver(0, "card0", d, nil); err != nil {
		t.Fatal("add driver: ", err)
	}
	return e, d
}

func addIface(t *testing.T, e *Engine, name string, mod func(p *Policy), out ...string) {
	t.Helper()
	if err := e.CreateInterface(name); err != nil {
		t.Fatal("create: ", err)
	}
	p := DefaultPolicy()
	p.MSN = "300"
	if mod != nil {
		mod(&p)
	}
	if err := e.SetConfig(name, p); err != nil {
		t.Fatal("set config: ", err)
	}
	for _, n := range out {
		if err := e.AddPhone(name, n, phonebook.Out); err != nil {
			t.Fatal("add phone: ", err)
		}
	}
}

func checkInvariants(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.CheckInvariants(); err != nil {
		t.Fatal("invariant violated: ", err)
	}
}

func expectState(t *testing.T, e *Engine, name string, exp State) Status {
	t.Helper()
	s, err := e.Status(name)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != exp {
		t.Fatalf("%v: expected state %v, got %v", name, exp, s.State)
	}
	checkInvariants(t, e)
	return s
}

func ticks(e *Engine, n int) {
	for ; n > 0; n-- {
		e.Tick()
	}
}

func event(t phys.EventType, ch int) phys.Event {
	return phys.Event{Type: t, Driver: 0, Channel: ch}
}

func ring(ch int, caller, called string, si phys.ServiceIndicator) phys.Event {
	return phys.Event{Type: phys.EventIncomingCall, Driver: 0, Channel: ch,
		Caller: caller, Called: called, SI: si}
}

// connectOut dials name and answers the call on ch
func connectOut(t *testing.T, e *Engine, name string, ch int) {
	t.Helper()
	if res, err := e.TransmitRequest(name, []byte("first")); res != TxAccepted || err != nil {
		t.Fatal("transmit: ", res, err)
	}
	e.HandleEvent(event(phys.EventDChannelUp, ch))
	e.HandleEvent(event(phys.EventBChannelUp, ch))
	expectState(t, e, name, StateActive)
}
