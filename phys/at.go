package phys

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/simpleiot/dialnet/respreader"
	"go.bug.st/serial"
)

// ATConfig describes a set of ISDN terminal adapters, one B channel per
// serial port, driven with isdn4linux style AT commands.
type ATConfig struct {
	Ports    []string
	Baud     int
	Features Features
	Debug    bool
	// Open is used to open a port. Defaults to opening a serial port.
	Open func(port string) (io.ReadWriteCloser, error)
}

type atChannel struct {
	index     int
	name      string
	port      io.ReadWriteCloser
	rw        *respreader.ReadWriter
	cmds      chan string
	caller    string
	connected bool
}

// ATDriver talks to terminal adapters. Commands are queued and written by
// one goroutine per port; result codes are parsed into events.
type ATDriver struct {
	config   ATConfig
	lock     sync.Mutex
	handler  Handler
	channels []*atChannel
	stop     chan struct{}
	stopOnce sync.Once
}

// NewATDriver constructor
func NewATDriver(config ATConfig) *ATDriver {
	if config.Baud == 0 {
		config.Baud = 115200
	}
	if config.Open == nil {
		baud := config.Baud
		config.Open = func(port string) (io.ReadWriteCloser, error) {
			return serial.Open(port, &serial.Mode{
				BaudRate: baud,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			})
		}
	}

	d := &ATDriver{
		config: config,
		stop:   make(chan struct{}),
	}

	for i, p := range config.Ports {
		d.channels = append(d.channels, &atChannel{
			index: i,
			name:  p,
			cmds:  make(chan string, 16),
		})
	}

	return d
}

// Desc returns description
func (d *ATDriver) Desc() string {
	return "at:" + strings.Join(d.config.Ports, ",")
}

// Channels returns the number of ports
func (d *ATDriver) Channels() int {
	return len(d.channels)
}

// Capabilities returns the configured features
func (d *ATDriver) Capabilities(_ int) Features {
	return d.config.Features
}

// Attach sets the event handler
func (d *ATDriver) Attach(h Handler) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.handler = h
}

func (d *ATDriver) send(ch int, cmd string) error {
	if ch < 0 || ch >= len(d.channels) {
		return fmt.Errorf("at: invalid channel %v", ch)
	}
	c := d.channels[ch]
	select {
	case c.cmds <- cmd:
		return nil
	default:
		return fmt.Errorf("at: %v command queue full", c.name)
	}
}

// Dial sends ATD
func (d *ATDriver) Dial(ch int, number string, _ L2Proto, _ L3Proto, _ string) error {
	return d.send(ch, "ATD"+number)
}

// AcceptD answers a ringing port
func (d *ATDriver) AcceptD(ch int) error {
	return d.send(ch, "ATA")
}

// AcceptB is a no-op: the adapter connects the B channel itself and
// reports both with CONNECT.
func (d *ATDriver) AcceptB(ch int) error {
	if ch < 0 || ch >= len(d.channels) {
		return fmt.Errorf("at: invalid channel %v", ch)
	}
	return nil
}

// Hangup drops the connection
func (d *ATDriver) Hangup(ch int) error {
	return d.send(ch, "ATH")
}

// SetL2 selects the layer 2 protocol with register S14
func (d *ATDriver) SetL2(ch int, p L2Proto) error {
	return d.send(ch, fmt.Sprintf("ATS14=%d", int(p)))
}

// SetL3 only supports transparent layer 3
func (d *ATDriver) SetL3(ch int, p L3Proto) error {
	if p != L3Trans {
		return fmt.Errorf("at: layer 3 %v not supported", p)
	}
	return nil
}

// SetEAZ sets the MSN the adapter listens on
func (d *ATDriver) SetEAZ(ch int, eaz string) error {
	return d.send(ch, "AT&E"+eaz)
}

func (d *ATDriver) emit(ev Event) {
	d.lock.Lock()
	h := d.handler
	d.lock.Unlock()
	if h != nil {
		h(ev)
	}
}

// atCmd writes a command and waits for OK, retrying 3 times
func atCmd(rw io.ReadWriter, cmd string, debug bool) error {
	var err error
	for try := 0; try < 3; try++ {
		if debug {
			log.Println("AT Tx: ", cmd)
		}
		if _, err = rw.Write([]byte(cmd + "\r")); err != nil {
			continue
		}
		buf := make([]byte, 256)
		var n int
		n, err = rw.Read(buf)
		if err != nil {
			continue
		}
		lines := respreader.Lines(buf[:n])
		if debug {
			log.Println("AT Rx: ", lines)
		}
		for _, l := range lines {
			if l == "OK" {
				return nil
			}
		}
		err = fmt.Errorf("%v did not return OK: %q", cmd, lines)
	}
	return err
}

func (d *ATDriver) open(c *atChannel) error {
	port, err := d.config.Open(c.name)
	if err != nil {
		return perrors.Wrap(err, "at: error opening "+c.name)
	}
	c.port = port
	c.rw = respreader.NewReadWriter(port, 2*time.Second, 50*time.Millisecond)

	// reset, no echo (echo confuses response framing), no auto answer,
	// report caller number
	for _, cmd := range []string{"ATZ", "ATE0", "ATS0=0", "ATS13.1=1"} {
		if err := atCmd(c.rw, cmd, d.config.Debug); err != nil {
			port.Close()
			return perrors.Wrap(err, "at: error configuring "+c.name)
		}
	}
	return nil
}

// parseResult converts one result line into events. It updates the
// channel caller and connected fields.
func (c *atChannel) parseResult(line string) []Event {
	ev := func(t EventType) Event { return Event{Type: t, Channel: c.index} }

	switch {
	case strings.HasPrefix(line, "CALLER NUMBER:"):
		c.caller = strings.TrimSpace(strings.TrimPrefix(line, "CALLER NUMBER:"))
	case line == "RING" || strings.HasPrefix(line, "RING/"):
		e := ev(EventIncomingCall)
		e.Caller = c.caller
		e.SI = SIData
		if i := strings.IndexByte(line, '/'); i >= 0 {
			e.Called = line[i+1:]
		}
		c.caller = ""
		return []Event{e}
	case line == "CONNECT" || strings.HasPrefix(line, "CONNECT "):
		c.connected = true
		return []Event{ev(EventDChannelUp), ev(EventBChannelUp)}
	case line == "NO CARRIER":
		if c.connected {
			c.connected = false
			return []Event{ev(EventBChannelDown), ev(EventDChannelDown)}
		}
		return []Event{ev(EventDChannelDown)}
	case line == "BUSY" || line == "NO DIALTONE" || line == "NO ANSWER":
		c.connected = false
		return []Event{ev(EventDChannelDown)}
	case strings.HasPrefix(line, "+CAOC"):
		return []Event{ev(EventChargePulse)}
	}
	return nil
}

func (d *ATDriver) readLoop(c *atChannel) {
	buf := make([]byte, 512)
	for {
		n, err := c.rw.Read(buf)
		if err == respreader.ErrorTimeout {
			continue
		}
		if err != nil {
			select {
			case <-d.stop:
			default:
				log.Printf("AT: %v read error: %v", c.name, err)
			}
			return
		}
		for _, l := range respreader.Lines(buf[:n]) {
			if d.config.Debug {
				log.Printf("AT %v Rx: %v", c.name, l)
			}
			for _, ev := range c.parseResult(l) {
				d.emit(ev)
			}
		}
	}
}

type dtrSetter interface {
	SetDTR(bool) error
}

func (d *ATDriver) writeLoop(c *atChannel) {
	port := c.port
	for {
		select {
		case <-d.stop:
			return
		case cmd := <-c.cmds:
			if d.config.Debug {
				log.Printf("AT %v Tx: %v", c.name, cmd)
			}
			// dropping DTR hangs up even while in data mode
			if cmd == "ATH" {
				if p, ok := port.(dtrSetter); ok {
					if err := p.SetDTR(false); err == nil {
						time.Sleep(200 * time.Millisecond)
						_ = p.SetDTR(true)
						continue
					}
				}
			}
			if _, err := port.Write([]byte(cmd + "\r")); err != nil {
				log.Printf("AT: %v write error: %v", c.name, err)
			}
		}
	}
}

// Start opens all ports and processes commands and result codes until
// Stop is called.
func (d *ATDriver) Start() error {
	for _, c := range d.channels {
		if err := d.open(c); err != nil {
			d.closePorts()
			return err
		}
	}

	for _, c := range d.channels {
		go d.readLoop(c)
		go d.writeLoop(c)
	}

	<-d.stop
	d.closePorts()
	return nil
}

func (d *ATDriver) closePorts() {
	for _, c := range d.channels {
		if c.port != nil {
			c.port.Close()
		}
	}
}

// Stop the driver
func (d *ATDriver) Stop(_ error) {
	d.stopOnce.Do(func() { close(d.stop) })
}
