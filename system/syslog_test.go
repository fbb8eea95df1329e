//go:build linux

package system

import (
	"log"
	"os"
	"testing"
)

func TestEnableSyslog(t *testing.T) {
	if _, err := os.Stat("/dev/log"); err != nil {
		t.Skip("no syslog daemon")
	}

	defer log.SetOutput(os.Stderr)
	defer log.SetFlags(log.LstdFlags)

	if err := EnableSyslog("dialnet-test"); err != nil {
		t.Fatal(err)
	}
	if log.Flags() != 0 {
		t.Fatal("expected log flags to be cleared")
	}
}
