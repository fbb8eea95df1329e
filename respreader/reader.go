// Package respreader frames data coming from devices that answer prompts
// with bursts of text, such as ISDN terminal adapters speaking AT commands.
// A burst is considered complete once no data has arrived for chunkTimeout.
// Unsolicited result codes (RING, NO CARRIER, ...) arrive the same way, so
// the same reader is used for command responses and for the event loop.
package respreader

import (
	"errors"
	"io"
	"strings"
	"time"
)

// ErrorTimeout indicates no data arrived before the overall timeout
var ErrorTimeout = errors.New("timeout")

// Reader returns one burst of data per Read. There are two delays: an
// overall timeout waiting for the first byte, and an inter chunk timeout
// that ends the burst once data has started.
type Reader struct {
	reader       io.Reader
	timeout      time.Duration
	chunkTimeout time.Duration
	dataChan     chan []byte
}

// NewReader creates a reader and starts the goroutine that drains the
// underlying io.Reader. The goroutine exits when the io.Reader returns an
// error, typically because the port was closed.
func NewReader(reader io.Reader, timeout, chunkTimeout time.Duration) *Reader {
	r := &Reader{
		reader:       reader,
		timeout:      timeout,
		chunkTimeout: chunkTimeout,
		dataChan:     make(chan []byte),
	}
	go r.readInput()
	return r
}

// Read blocks until a burst is complete or the timeout expires
func (r *Reader) Read(buffer []byte) (int, error) {
	if len(buffer) <= 0 {
		return 0, errors.New("must supply non-zero length buffer")
	}

	timeout := time.NewTimer(r.timeout)
	defer timeout.Stop()
	count := 0

	for {
		select {
		case newData, ok := <-r.dataChan:
			count += copy(buffer[count:], newData)
			if !ok {
				return count, io.EOF
			}
			timeout.Reset(r.chunkTimeout)

		case <-timeout.C:
			if count > 0 {
				return count, nil
			}
			return count, ErrorTimeout
		}
	}
}

// Flush discards pending input
func (r *Reader) Flush() (int, error) {
	timeout := time.NewTimer(r.chunkTimeout)
	defer timeout.Stop()
	count := 0

	for {
		select {
		case newData, ok := <-r.dataChan:
			count += len(newData)
			if !ok {
				return count, io.EOF
			}
			timeout.Reset(r.chunkTimeout)

		case <-timeout.C:
			return count, nil
		}
	}
}

func (r *Reader) readInput() {
	for {
		tmp := make([]byte, 128)
		n, err := r.reader.Read(tmp)
		if err != nil {
			break
		}
		r.dataChan <- tmp[:n]
	}
	close(r.dataChan)
}

// ReadWriter flushes stale input before every prompt so the next Read
// returns only the response to that prompt. Do not use Write while another
// goroutine is waiting in Read.
type ReadWriter struct {
	writer io.Writer
	*Reader
}

// NewReadWriter wraps a port
func NewReadWriter(rw io.ReadWriter, timeout, chunkTimeout time.Duration) *ReadWriter {
	return &ReadWriter{
		writer: rw,
		Reader: NewReader(rw, timeout, chunkTimeout),
	}
}

// Write flushes the reader and then writes the prompt
func (rw *ReadWriter) Write(buffer []byte) (int, error) {
	if n, err := rw.Reader.Flush(); err != nil {
		return n, err
	}
	return rw.writer.Write(buffer)
}

// Lines splits a burst into trimmed, non empty lines
func Lines(burst []byte) []string {
	var ret []string
	for _, l := range strings.FieldsFunc(string(burst), func(r rune) bool {
		return r == '\r' || r == '\n'
	}) {
		l = strings.TrimSpace(l)
		if l != "" {
			ret = append(ret, l)
		}
	}
	return ret
}
