package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/simpleiot/dialnet/phys"
)

// physical driver commands
const (
	physDial    = "dial"
	physAcceptD = "acceptd"
	physAcceptB = "acceptb"
	physHangup  = "hangup"
	physL2      = "l2"
	physL3      = "l3"
	physEAZ     = "eaz"
)

type physCmd struct {
	Op      string       `json:"op"`
	Channel int          `json:"channel"`
	Number  string       `json:"number,omitempty"`
	L2      phys.L2Proto `json:"l2"`
	L3      phys.L3Proto `json:"l3"`
	MSN     string       `json:"msn,omitempty"`
}

type physInfo struct {
	Desc     string          `json:"desc"`
	Features []phys.Features `json:"features"`
}

// PhysDriver is a phys.Driver whose hardware lives in another process,
// served there by DriverServer. Commands are published without waiting for
// the remote side; events arrive on the driver event subject.
type PhysDriver struct {
	nc       *natsgo.Conn
	name     string
	info     physInfo
	lock     sync.Mutex
	handler  phys.Handler
	sub      *natsgo.Subscription
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPhysDriver asks the remote driver name for its channels and subscribes
// to its events
func NewPhysDriver(nc *natsgo.Conn, name string, timeout time.Duration) (*PhysDriver, error) {
	msg, err := nc.Request(SubjectPhysInfo(name), nil, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "remote driver "+name)
	}

	d := &PhysDriver{
		nc:   nc,
		name: name,
		stop: make(chan struct{}),
	}

	if err := json.Unmarshal(msg.Data, &d.info); err != nil {
		return nil, errors.Wrap(err, "decode driver info")
	}

	d.sub, err = nc.Subscribe(SubjectPhysEvent(name), d.event)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe driver events")
	}

	return d, nil
}

func (d *PhysDriver) event(msg *natsgo.Msg) {
	var ev phys.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Printf("NATS: driver %v: bad event: %v", d.name, err)
		return
	}

	d.lock.Lock()
	h := d.handler
	d.lock.Unlock()

	if h != nil {
		h(ev)
	}
}

func (d *PhysDriver) send(c physCmd) error {
	if c.Channel < 0 || c.Channel >= len(d.info.Features) {
		return fmt.Errorf("driver %v: invalid channel %v", d.name, c.Channel)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return d.nc.Publish(SubjectPhysCmd(d.name), data)
}

// Desc returns description
func (d *PhysDriver) Desc() string {
	return "nats:" + d.info.Desc
}

// Channels returns the number of remote channels
func (d *PhysDriver) Channels() int {
	return len(d.info.Features)
}

// Capabilities returns the features of a remote channel
func (d *PhysDriver) Capabilities(ch int) phys.Features {
	if ch < 0 || ch >= len(d.info.Features) {
		return 0
	}
	return d.info.Features[ch]
}

// Dial implements phys.Driver
func (d *PhysDriver) Dial(ch int, number string, l2 phys.L2Proto, l3 phys.L3Proto, msn string) error {
	return d.send(physCmd{Op: physDial, Channel: ch, Number: number, L2: l2, L3: l3, MSN: msn})
}

// AcceptD implements phys.Driver
func (d *PhysDriver) AcceptD(ch int) error {
	return d.send(physCmd{Op: physAcceptD, Channel: ch})
}

// AcceptB implements phys.Driver
func (d *PhysDriver) AcceptB(ch int) error {
	return d.send(physCmd{Op: physAcceptB, Channel: ch})
}

// Hangup implements phys.Driver
func (d *PhysDriver) Hangup(ch int) error {
	return d.send(physCmd{Op: physHangup, Channel: ch})
}

// SetL2 implements phys.Driver
func (d *PhysDriver) SetL2(ch int, p phys.L2Proto) error {
	return d.send(physCmd{Op: physL2, Channel: ch, L2: p})
}

// SetL3 implements phys.Driver
func (d *PhysDriver) SetL3(ch int, p phys.L3Proto) error {
	return d.send(physCmd{Op: physL3, Channel: ch, L3: p})
}

// SetEAZ implements phys.Driver
func (d *PhysDriver) SetEAZ(ch int, eaz string) error {
	return d.send(physCmd{Op: physEAZ, Channel: ch, MSN: eaz})
}

// Attach implements phys.Driver
func (d *PhysDriver) Attach(h phys.Handler) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.handler = h
}

// Start blocks until Stop is called
func (d *PhysDriver) Start() error {
	<-d.stop
	return nil
}

// Stop unsubscribes from the remote driver
func (d *PhysDriver) Stop(_ error) {
	d.stopOnce.Do(func() {
		close(d.stop)
		if err := d.sub.Unsubscribe(); err != nil {
			log.Println("NATS: unsubscribe: ", err)
		}
	})
}

// DriverServer exports a local phys.Driver over NATS for a PhysDriver in
// another process
type DriverServer struct {
	nc       *natsgo.Conn
	name     string
	drv      phys.Driver
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDriverServer constructor
func NewDriverServer(nc *natsgo.Conn, name string, drv phys.Driver) *DriverServer {
	return &DriverServer{
		nc:   nc,
		name: name,
		drv:  drv,
		stop: make(chan struct{}),
	}
}

func (s *DriverServer) info() physInfo {
	info := physInfo{Desc: s.drv.Desc()}
	for ch := 0; ch < s.drv.Channels(); ch++ {
		info.Features = append(info.Features, s.drv.Capabilities(ch))
	}
	return info
}

func (s *DriverServer) command(msg *natsgo.Msg) {
	var c physCmd
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		log.Printf("NATS: driver %v: bad command: %v", s.name, err)
		return
	}

	var err error
	switch c.Op {
	case physDial:
		err = s.drv.Dial(c.Channel, c.Number, c.L2, c.L3, c.MSN)
	case physAcceptD:
		err = s.drv.AcceptD(c.Channel)
	case physAcceptB:
		err = s.drv.AcceptB(c.Channel)
	case physHangup:
		err = s.drv.Hangup(c.Channel)
	case physL2:
		err = s.drv.SetL2(c.Channel, c.L2)
	case physL3:
		err = s.drv.SetL3(c.Channel, c.L3)
	case physEAZ:
		err = s.drv.SetEAZ(c.Channel, c.MSN)
	default:
		err = fmt.Errorf("unknown command %v", c.Op)
	}

	if err != nil {
		log.Printf("NATS: driver %v: %v %v: %v", s.name, c.Op, c.Channel, err)
	}
}

// Start serves the driver until Stop is called
func (s *DriverServer) Start() error {
	s.drv.Attach(func(ev phys.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Println("NATS: encode event: ", err)
			return
		}
		if err := s.nc.Publish(SubjectPhysEvent(s.name), data); err != nil {
			log.Println("NATS: publish event: ", err)
		}
	})
	defer s.drv.Attach(nil)

	cmdSub, err := s.nc.Subscribe(SubjectPhysCmd(s.name), s.command)
	if err != nil {
		return errors.Wrap(err, "subscribe driver commands")
	}
	defer cmdSub.Unsubscribe()

	infoSub, err := s.nc.Subscribe(SubjectPhysInfo(s.name), func(msg *natsgo.Msg) {
		data, err := json.Marshal(s.info())
		if err != nil {
			log.Println("NATS: encode driver info: ", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Println("NATS: respond driver info: ", err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "subscribe driver info")
	}
	defer infoSub.Unsubscribe()

	log.Printf("NATS: serving driver %v (%v)", s.name, s.drv.Desc())
	<-s.stop
	return nil
}

// Stop serving
func (s *DriverServer) Stop(_ error) {
	s.stopOnce.Do(func() { close(s.stop) })
}
