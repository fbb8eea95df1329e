package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	natsgo "github.com/nats-io/nats.go"
	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/dial"
)

// LinkOpened is published on SubjectLink(name, LinkOpen) when a channel
// comes up
type LinkOpened struct {
	Slot chanpool.SlotID `json:"slot"`
}

// Link is a dial.Encapsulator that hands connected channels to an
// encapsulation process over NATS. Frames go out on the frame subject; the
// encapsulation process reports ready, gone and received bytes back.
type Link struct {
	nc       *natsgo.Conn
	engine   *dial.Engine
	maxBuf   int
	subs     []*natsgo.Subscription
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLink constructor. maxBuffered is the number of bytes the connection may
// buffer before the link reports busy, 0 selects 64KiB.
func NewLink(nc *natsgo.Conn, engine *dial.Engine, maxBuffered int) *Link {
	if maxBuffered <= 0 {
		maxBuffered = 64 * 1024
	}
	return &Link{
		nc:     nc,
		engine: engine,
		maxBuf: maxBuffered,
		stop:   make(chan struct{}),
	}
}

// Open implements dial.Encapsulator
func (l *Link) Open(name string, slot chanpool.SlotID) {
	data, err := json.Marshal(LinkOpened{Slot: slot})
	if err != nil {
		log.Println("NATS: encode link open: ", err)
		return
	}
	l.publish(SubjectLink(name, LinkOpen), data)
}

// Close implements dial.Encapsulator
func (l *Link) Close(name string) {
	l.publish(SubjectLink(name, LinkClose), nil)
}

// Busy implements dial.Encapsulator
func (l *Link) Busy(_ string) bool {
	if !l.nc.IsConnected() {
		return true
	}
	n, err := l.nc.Buffered()
	return err != nil || n > l.maxBuf
}

// Send implements dial.Encapsulator
func (l *Link) Send(name string, frame []byte) {
	l.publish(SubjectLink(name, LinkFrame), frame)
}

func (l *Link) publish(subject string, data []byte) {
	if err := l.nc.Publish(subject, data); err != nil {
		log.Printf("NATS: publish %v: %v", subject, err)
	}
}

// Start installs the link as the engine encapsulator and forwards link
// events until Stop is called
func (l *Link) Start() error {
	handlers := map[string]func(name string, msg *natsgo.Msg) error{
		LinkReady: func(name string, _ *natsgo.Msg) error {
			return l.engine.ChannelReady(name)
		},
		LinkGone: func(name string, _ *natsgo.Msg) error {
			return l.engine.ChannelGone(name)
		},
		LinkRx: func(name string, msg *natsgo.Msg) error {
			return l.engine.Receive(name, len(msg.Data))
		},
	}

	for ev, h := range handlers {
		ev, h := ev, h
		sub, err := l.nc.Subscribe(SubjectLinkAll(ev), func(msg *natsgo.Msg) {
			name := subjectToken(msg.Subject, 2)
			if err := h(name, msg); err != nil {
				log.Printf("NATS: link %v %v: %v", name, ev, err)
			}
		})
		if err != nil {
			l.unsubscribe()
			return fmt.Errorf("subscribe link %v: %w", ev, err)
		}
		l.subs = append(l.subs, sub)
	}

	l.engine.SetEncapsulator(l)
	<-l.stop
	l.engine.SetEncapsulator(nil)
	l.unsubscribe()
	return nil
}

// Stop the link
func (l *Link) Stop(_ error) {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Link) unsubscribe() {
	for _, s := range l.subs {
		if err := s.Unsubscribe(); err != nil {
			log.Println("NATS: unsubscribe: ", err)
		}
	}
	l.subs = nil
}
