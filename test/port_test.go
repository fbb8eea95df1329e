package test

import (
	"io"
	"testing"
	"time"
)

func TestPortPair(t *testing.T) {
	a, b := NewPortPair()

	if _, err := a.Write([]byte("ATZ\r")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil || string(buf[:n]) != "ATZ\r" {
		t.Fatalf("read %q, %v", buf[:n], err)
	}

	done := make(chan error)
	go func() {
		_, err := a.Read(buf)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("read should block until data arrives")
	case <-time.After(20 * time.Millisecond):
	}

	b.Close()

	select {
	case err := <-done:
		if err != io.EOF {
			t.Fatal("expected EOF, got: ", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock read")
	}

	if _, err := a.Write([]byte("x")); err == nil {
		t.Fatal("write to closed line should fail")
	}
}
