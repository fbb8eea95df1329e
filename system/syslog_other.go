//go:build !linux

// Package system holds platform specific helpers
package system

import "errors"

// EnableSyslog is only supported on linux
func EnableSyslog(_ string) error {
	return errors.New("syslog is only supported on linux")
}
