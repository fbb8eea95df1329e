package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	natsgo "github.com/nats-io/nats.go"
	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/phonebook"
)

// admin operations, appended to SubjectAdmin
const (
	OpList        = "list"
	OpStatus      = "status"
	OpCreate      = "create"
	OpRemove      = "remove"
	OpGetConfig   = "config.get"
	OpSetConfig   = "config.set"
	OpAddPhone    = "phone.add"
	OpRemovePhone = "phone.remove"
	OpPhones      = "phones"
	OpDial        = "dial"
	OpHangup      = "hangup"
	OpPeer        = "peer"
	OpStop        = "stop"
	OpSlots       = "slots"
	OpDrivers     = "drivers"
	OpVersion     = "version"
)

// Request is the payload of an admin request
type Request struct {
	Name      string       `json:"name,omitempty"`
	Number    string       `json:"number,omitempty"`
	Direction string       `json:"direction,omitempty"`
	Policy    *dial.Policy `json:"policy,omitempty"`
	Stopped   bool         `json:"stopped,omitempty"`
}

// Response is the reply to an admin request. Error is empty on success.
// Code names the error for clients that test errors with errors.Is.
type Response struct {
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Status  *dial.Status      `json:"status,omitempty"`
	List    []dial.Status     `json:"list,omitempty"`
	Policy  *dial.Policy      `json:"policy,omitempty"`
	Phones  []string          `json:"phones,omitempty"`
	Peer    string            `json:"peer,omitempty"`
	Slots   []chanpool.Slot   `json:"slots,omitempty"`
	Drivers []dial.DriverInfo `json:"drivers,omitempty"`
	Version string            `json:"version,omitempty"`
	Result  string            `json:"result,omitempty"`
}

// API serves the admin operations of an engine over NATS and publishes
// interface state changes.
type API struct {
	nc       *natsgo.Conn
	engine   *dial.Engine
	debug    bool
	subs     []*natsgo.Subscription
	stop     chan struct{}
	stopOnce sync.Once
}

// NewAPI constructor
func NewAPI(nc *natsgo.Conn, engine *dial.Engine, debug bool) *API {
	return &API{
		nc:     nc,
		engine: engine,
		debug:  debug,
		stop:   make(chan struct{}),
	}
}

// Start subscribes to the admin subjects and blocks until Stop is called
func (a *API) Start() error {
	a.engine.OnStateChange(a.publishState)

	sub, err := a.nc.Subscribe(SubjectAdminAll(), a.handleAdmin)
	if err != nil {
		return fmt.Errorf("subscribe admin: %w", err)
	}
	a.subs = append(a.subs, sub)

	sub, err = a.nc.Subscribe(SubjectIfaceAllSend(), a.handleSend)
	if err != nil {
		a.unsubscribe()
		return fmt.Errorf("subscribe send: %w", err)
	}
	a.subs = append(a.subs, sub)

	log.Println("NATS: admin API started")
	<-a.stop

	a.engine.OnStateChange(nil)
	a.unsubscribe()
	return nil
}

// Stop the API
func (a *API) Stop(_ error) {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *API) unsubscribe() {
	for _, s := range a.subs {
		if err := s.Unsubscribe(); err != nil {
			log.Println("NATS: unsubscribe: ", err)
		}
	}
	a.subs = nil
}

func (a *API) publishState(sc dial.StateChange) {
	data, err := json.Marshal(sc)
	if err != nil {
		log.Println("NATS: encode state change: ", err)
		return
	}
	if err := a.nc.Publish(SubjectIfaceState(sc.Name), data); err != nil {
		log.Println("NATS: publish state change: ", err)
	}
}

func (a *API) handleSend(msg *natsgo.Msg) {
	name := subjectToken(msg.Subject, 2)
	res, err := a.engine.TransmitRequest(name, msg.Data)
	if a.debug {
		log.Printf("NATS: send %v, %v bytes: %v %v", name, len(msg.Data), res, err)
	}
	if msg.Reply == "" {
		return
	}
	resp := Response{Result: res.String()}
	if err != nil {
		resp.Error, resp.Code = err.Error(), errorCode(err)
	}
	a.respond(msg, resp)
}

func (a *API) handleAdmin(msg *natsgo.Msg) {
	op := strings.TrimPrefix(msg.Subject, SubjectAdmin(""))

	var req Request
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			a.respond(msg, Response{Error: "decode request: " + err.Error()})
			return
		}
	}

	if a.debug {
		log.Printf("NATS: admin %v %+v", op, req)
	}

	resp, err := a.dispatch(op, req)
	if err != nil {
		resp.Error, resp.Code = err.Error(), errorCode(err)
	}
	a.respond(msg, resp)
}

func (a *API) dispatch(op string, req Request) (Response, error) {
	var resp Response
	e := a.engine

	switch op {
	case OpList:
		resp.List = e.List()
		return resp, nil
	case OpStatus:
		s, err := e.Status(req.Name)
		resp.Status = &s
		return resp, err
	case OpCreate:
		return resp, e.CreateInterface(req.Name)
	case OpRemove:
		return resp, e.RemoveInterface(req.Name)
	case OpGetConfig:
		p, err := e.GetConfig(req.Name)
		resp.Policy = &p
		return resp, err
	case OpSetConfig:
		if req.Policy == nil {
			return resp, fmt.Errorf("%w: missing policy", dial.ErrInvalidConfig)
		}
		return resp, e.SetConfig(req.Name, *req.Policy)
	case OpAddPhone, OpRemovePhone, OpPhones:
		d, err := phonebook.ParseDirection(req.Direction)
		if err != nil {
			return resp, err
		}
		switch op {
		case OpAddPhone:
			return resp, e.AddPhone(req.Name, req.Number, d)
		case OpRemovePhone:
			return resp, e.RemovePhone(req.Name, req.Number, d)
		default:
			resp.Phones, err = e.Phones(req.Name, d)
			return resp, err
		}
	case OpDial:
		return resp, e.ForceDial(req.Name)
	case OpHangup:
		return resp, e.ForceHangup(req.Name)
	case OpPeer:
		var err error
		resp.Peer, err = e.PeerNumber(req.Name)
		return resp, err
	case OpStop:
		e.SetStopped(req.Stopped)
		return resp, nil
	case OpSlots:
		resp.Slots = e.Slots()
		return resp, nil
	case OpDrivers:
		resp.Drivers = e.Drivers()
		return resp, nil
	case OpVersion:
		resp.Version = APIVersion
		return resp, nil
	default:
		return resp, fmt.Errorf("unknown admin operation: %v", op)
	}
}

func (a *API) respond(msg *natsgo.Msg, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Println("NATS: encode response: ", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Println("NATS: respond: ", err)
	}
}

// errs lists the errors a client can test for with errors.Is
var errs = []struct {
	code string
	err  error
}{
	{"no-channel", dial.ErrNoChannel},
	{"dial-timeout", dial.ErrDialTimeout},
	{"dial-cooldown", dial.ErrDialFailedCooldown},
	{"down", dial.ErrAdministrativelyDown},
	{"stopped", dial.ErrAdministrativelyStopped},
	{"config-busy", dial.ErrConfigBusy},
	{"unknown-interface", dial.ErrUnknownInterface},
	{"interface-exists", dial.ErrInterfaceExists},
	{"not-connected", dial.ErrNotConnected},
	{"busy", dial.ErrBusy},
	{"invalid-protocol", dial.ErrInvalidProtocol},
	{"invalid-number", dial.ErrInvalidNumber},
	{"unknown-driver", dial.ErrUnknownDriver},
	{"dial-mode-off", dial.ErrDialModeOff},
	{"invalid-config", dial.ErrInvalidConfig},
	{"phone-not-found", phonebook.ErrNotFound},
	{"phonebook-empty", phonebook.ErrEmpty},
}

func errorCode(err error) string {
	for _, e := range errs {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ""
}

// remoteError carries the message of an engine error and the sentinel it
// wrapped
type remoteError struct {
	msg string
	err error
}

func (r *remoteError) Error() string { return r.msg }
func (r *remoteError) Unwrap() error { return r.err }

// decodeError turns a response error back into an error that matches the
// engine's sentinel with errors.Is
func decodeError(msg, code string) error {
	if msg == "" {
		return nil
	}
	for _, e := range errs {
		if e.code == code {
			return &remoteError{msg: msg, err: e.err}
		}
	}
	return errors.New(msg)
}
