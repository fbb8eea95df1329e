// Package test holds helpers for testing device drivers without hardware
package test

import (
	"bytes"
	"io"
	"sync"
)

type pipe struct {
	lock   sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.lock)
	return p
}

func (p *pipe) write(d []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := p.buf.Write(d)
	p.cond.Broadcast()
	return n, err
}

func (p *pipe) read(d []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.buf.Read(d)
}

func (p *pipe) close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// Port is one end of an in-memory serial line. Writes never block, reads
// block until the other end writes or either end is closed.
type Port struct {
	rx *pipe
	tx *pipe
}

// NewPortPair returns both ends of a line
func NewPortPair() (*Port, *Port) {
	a2b, b2a := newPipe(), newPipe()
	return &Port{rx: b2a, tx: a2b}, &Port{rx: a2b, tx: b2a}
}

func (p *Port) Write(d []byte) (int, error) {
	return p.tx.write(d)
}

func (p *Port) Read(d []byte) (int, error) {
	return p.rx.read(d)
}

// Close hangs up the line for both ends
func (p *Port) Close() error {
	p.rx.close()
	p.tx.close()
	return nil
}
