package nats

import (
	"encoding/json"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/phonebook"
)

// DefaultTimeout is used by the client helpers
var DefaultTimeout = 5 * time.Second

func request(nc *natsgo.Conn, op string, req Request, timeout time.Duration) (Response, error) {
	var resp Response

	data, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}

	msg, err := nc.Request(SubjectAdmin(op), data, timeout)
	if err != nil {
		return resp, errors.Wrap(err, "admin "+op)
	}

	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return resp, errors.Wrap(err, "decode response")
	}

	return resp, decodeError(resp.Error, resp.Code)
}

// List returns the status of all interfaces
func List(nc *natsgo.Conn) ([]dial.Status, error) {
	resp, err := request(nc, OpList, Request{}, DefaultTimeout)
	return resp.List, err
}

// GetStatus returns the status of one interface
func GetStatus(nc *natsgo.Conn, name string) (dial.Status, error) {
	resp, err := request(nc, OpStatus, Request{Name: name}, DefaultTimeout)
	if err != nil || resp.Status == nil {
		return dial.Status{}, err
	}
	return *resp.Status, nil
}

// CreateInterface creates an interface with the default policy
func CreateInterface(nc *natsgo.Conn, name string) error {
	_, err := request(nc, OpCreate, Request{Name: name}, DefaultTimeout)
	return err
}

// RemoveInterface removes an idle interface
func RemoveInterface(nc *natsgo.Conn, name string) error {
	_, err := request(nc, OpRemove, Request{Name: name}, DefaultTimeout)
	return err
}

// GetConfig returns the policy of an interface
func GetConfig(nc *natsgo.Conn, name string) (dial.Policy, error) {
	resp, err := request(nc, OpGetConfig, Request{Name: name}, DefaultTimeout)
	if err != nil || resp.Policy == nil {
		return dial.Policy{}, err
	}
	return *resp.Policy, nil
}

// SetConfig replaces the policy of an idle interface
func SetConfig(nc *natsgo.Conn, name string, p dial.Policy) error {
	_, err := request(nc, OpSetConfig, Request{Name: name, Policy: &p}, DefaultTimeout)
	return err
}

// AddPhone adds a number to an interface
func AddPhone(nc *natsgo.Conn, name, number string, d phonebook.Direction) error {
	_, err := request(nc, OpAddPhone, Request{Name: name, Number: number,
		Direction: d.String()}, DefaultTimeout)
	return err
}

// RemovePhone removes a number from an interface
func RemovePhone(nc *natsgo.Conn, name, number string, d phonebook.Direction) error {
	_, err := request(nc, OpRemovePhone, Request{Name: name, Number: number,
		Direction: d.String()}, DefaultTimeout)
	return err
}

// Phones lists the numbers of an interface
func Phones(nc *natsgo.Conn, name string, d phonebook.Direction) ([]string, error) {
	resp, err := request(nc, OpPhones, Request{Name: name, Direction: d.String()},
		DefaultTimeout)
	return resp.Phones, err
}

// Dial forces an interface to dial
func Dial(nc *natsgo.Conn, name string) error {
	_, err := request(nc, OpDial, Request{Name: name}, DefaultTimeout)
	return err
}

// Hangup forces an interface to hang up
func Hangup(nc *natsgo.Conn, name string) error {
	_, err := request(nc, OpHangup, Request{Name: name}, DefaultTimeout)
	return err
}

// Peer returns the number of the connected peer
func Peer(nc *natsgo.Conn, name string) (string, error) {
	resp, err := request(nc, OpPeer, Request{Name: name}, DefaultTimeout)
	return resp.Peer, err
}

// SetStopped stops or resumes all dialing
func SetStopped(nc *natsgo.Conn, stopped bool) error {
	_, err := request(nc, OpStop, Request{Stopped: stopped}, DefaultTimeout)
	return err
}

// Drivers lists the registered physical drivers
func Drivers(nc *natsgo.Conn) ([]dial.DriverInfo, error) {
	resp, err := request(nc, OpDrivers, Request{}, DefaultTimeout)
	return resp.Drivers, err
}

// Slots lists all channels
func Slots(nc *natsgo.Conn) ([]chanpool.Slot, error) {
	resp, err := request(nc, OpSlots, Request{}, DefaultTimeout)
	return resp.Slots, err
}

// Send asks the engine to transmit a frame on an interface
func Send(nc *natsgo.Conn, name string, frame []byte) (string, error) {
	msg, err := nc.Request(SubjectIfaceSend(name), frame, DefaultTimeout)
	if err != nil {
		return "", errors.Wrap(err, "send")
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	return resp.Result, decodeError(resp.Error, resp.Code)
}

// SubscribeState calls f for every state change of any interface
func SubscribeState(nc *natsgo.Conn, f func(dial.StateChange)) (*natsgo.Subscription, error) {
	return nc.Subscribe(SubjectIfaceAllState(), func(msg *natsgo.Msg) {
		var sc dial.StateChange
		if err := json.Unmarshal(msg.Data, &sc); err != nil {
			return
		}
		f(sc)
	})
}
