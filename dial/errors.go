package dial

import (
	"errors"

	"github.com/simpleiot/dialnet/phonebook"
)

// Errors returned by the engine. Callers test them with errors.Is.
var (
	ErrNoChannel               = errors.New("no channel available")
	ErrDialTimeout             = errors.New("dial timeout")
	ErrDialFailedCooldown      = errors.New("dial failed, waiting before next attempt")
	ErrAdministrativelyDown    = errors.New("interface is down")
	ErrAdministrativelyStopped = errors.New("dialing is stopped")
	ErrConfigBusy              = errors.New("interface is busy")
	ErrUnknownInterface        = errors.New("unknown interface")
	ErrInterfaceExists         = errors.New("interface already exists")
	ErrNotConnected            = errors.New("not connected")
	ErrBusy                    = errors.New("interface busy")
	ErrInvalidProtocol         = errors.New("invalid protocol")
	ErrInvalidNumber           = phonebook.ErrInvalidNumber
	ErrUnknownDriver           = errors.New("unknown driver")
	ErrDialModeOff             = errors.New("dial mode is off")
	ErrInvalidConfig           = errors.New("invalid interface configuration")

	errRemoteHangup = errors.New("remote hangup")
	errLinkGone     = errors.New("link layer gone")
	errMasterDown   = errors.New("bundle master disconnected")
)
