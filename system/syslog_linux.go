//go:build linux

// Package system holds platform specific helpers
package system

import (
	"log"
	"log/syslog"
)

// EnableSyslog sends the standard logger to syslog, tagged with the program
// name
func EnableSyslog(tag string) error {
	lgr, err := syslog.New(syslog.LOG_NOTICE|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}

	log.SetOutput(lgr)
	// syslog adds its own timestamp
	log.SetFlags(0)

	return nil
}
