package phys

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// SimConfig describes a simulated ISDN card
type SimConfig struct {
	Channels int
	Features Features
	// Reachable lists the numbers that answer. If empty, every number answers.
	Reachable []string
	// Delay is applied before each event is delivered
	Delay time.Duration
}

type simChannel struct {
	offHook bool
	number  string
}

// SimDriver is a physical layer that answers calls in memory. It is useful
// for testing and for running the daemon without hardware.
type SimDriver struct {
	config   SimConfig
	lock     sync.Mutex
	handler  Handler
	channels []simChannel
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSimDriver constructor
func NewSimDriver(config SimConfig) *SimDriver {
	if config.Channels <= 0 {
		config.Channels = 2
	}
	return &SimDriver{
		config:   config,
		channels: make([]simChannel, config.Channels),
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
	}
}

// Desc returns description
func (s *SimDriver) Desc() string {
	return "sim"
}

// Channels returns the number of B channels
func (s *SimDriver) Channels() int {
	return s.config.Channels
}

// Capabilities returns the features of all channels
func (s *SimDriver) Capabilities(_ int) Features {
	return s.config.Features
}

// Attach sets the event handler
func (s *SimDriver) Attach(h Handler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handler = h
}

var errSimChannel = errors.New("sim: invalid channel")

func (s *SimDriver) channel(ch int) (*simChannel, error) {
	if ch < 0 || ch >= len(s.channels) {
		return nil, fmt.Errorf("%w: %v", errSimChannel, ch)
	}
	return &s.channels[ch], nil
}

func (s *SimDriver) reachable(number string) bool {
	if len(s.config.Reachable) == 0 {
		return true
	}
	for _, n := range s.config.Reachable {
		if n == number {
			return true
		}
	}
	return false
}

func (s *SimDriver) queue(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Println("Sim: event queue full, dropping ", ev)
	}
}

// Dial starts an outgoing call. Reachable numbers report D channel up.
func (s *SimDriver) Dial(ch int, number string, _ L2Proto, _ L3Proto, _ string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	c.offHook = true
	c.number = number
	if s.reachable(number) {
		s.queue(Event{Type: EventDChannelUp, Channel: ch})
	} else {
		s.queue(Event{Type: EventDChannelDown, Channel: ch})
	}
	return nil
}

// AcceptD answers an incoming call
func (s *SimDriver) AcceptD(ch int) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	c.offHook = true
	s.queue(Event{Type: EventDChannelUp, Channel: ch})
	return nil
}

// AcceptB connects the B channel
func (s *SimDriver) AcceptB(ch int) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	if !c.offHook {
		return fmt.Errorf("sim: channel %v is on hook", ch)
	}
	s.queue(Event{Type: EventBChannelUp, Channel: ch})
	return nil
}

// Hangup puts the channel on hook. No event is reported.
func (s *SimDriver) Hangup(ch int) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	*c = simChannel{}
	return nil
}

// SetL2 stub
func (s *SimDriver) SetL2(ch int, _ L2Proto) error {
	_, err := s.channel(ch)
	return err
}

// SetL3 stub
func (s *SimDriver) SetL3(ch int, _ L3Proto) error {
	_, err := s.channel(ch)
	return err
}

// SetEAZ stub
func (s *SimDriver) SetEAZ(ch int, _ string) error {
	_, err := s.channel(ch)
	return err
}

// Ring simulates an incoming call
func (s *SimDriver) Ring(ch int, caller, called string, si ServiceIndicator) {
	s.queue(Event{Type: EventIncomingCall, Channel: ch, Caller: caller,
		Called: called, SI: si})
}

// RemoteHangup simulates the far end hanging up
func (s *SimDriver) RemoteHangup(ch int) {
	s.lock.Lock()
	if c, err := s.channel(ch); err == nil {
		*c = simChannel{}
	}
	s.lock.Unlock()
	s.queue(Event{Type: EventBChannelDown, Channel: ch})
	s.queue(Event{Type: EventDChannelDown, Channel: ch})
}

// Charge simulates a charge pulse from the network
func (s *SimDriver) Charge(ch int) {
	s.queue(Event{Type: EventChargePulse, Channel: ch})
}

// Start delivers queued events until Stop is called
func (s *SimDriver) Start() error {
	for {
		select {
		case <-s.stop:
			return nil
		case ev := <-s.events:
			if s.config.Delay > 0 {
				time.Sleep(s.config.Delay)
			}
			s.lock.Lock()
			h := s.handler
			s.lock.Unlock()
			if h != nil {
				h(ev)
			}
		}
	}
}

// Stop the driver
func (s *SimDriver) Stop(_ error) {
	s.stopOnce.Do(func() { close(s.stop) })
}
