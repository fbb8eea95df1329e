// Package config reads the dialnet YAML configuration and applies it to a
// running engine.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/phonebook"
	"github.com/simpleiot/dialnet/phys"
)

// Config is the configuration file
type Config struct {
	Engine     Engine      `yaml:"engine"`
	NATS       NATS        `yaml:"nats"`
	Drivers    []Driver    `yaml:"drivers"`
	Interfaces []Interface `yaml:"interfaces"`
}

// Engine tuning
type Engine struct {
	// Tick is the length of one time unit, default 1s
	Tick    string `yaml:"tick"`
	Debug   int    `yaml:"debug"`
	Verbose bool   `yaml:"verbose"`
	Stopped bool   `yaml:"stopped"`
}

// NATS describes the broker and whether the daemon embeds it
type NATS struct {
	Server    string `yaml:"server"`
	AuthToken string `yaml:"authToken"`
	Embedded  bool   `yaml:"embedded"`
	Port      int    `yaml:"port"`
	HTTPPort  int    `yaml:"httpPort"`
	TLSCert   string `yaml:"tlsCert"`
	TLSKey    string `yaml:"tlsKey"`
	Debug     bool   `yaml:"debug"`
}

// driver types
const (
	DriverSim  = "sim"
	DriverAT   = "at"
	DriverNATS = "nats"
)

// Driver is a physical layer driver
type Driver struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Features lists protocol names, layer 3 names with an l3 prefix
	Features []string          `yaml:"features"`
	MSNMap   map[string]string `yaml:"msnMap"`
	Debug    bool              `yaml:"debug"`

	// sim
	Channels  int      `yaml:"channels"`
	Reachable []string `yaml:"reachable"`

	// at
	Ports []string `yaml:"ports"`
	Baud  int      `yaml:"baud"`

	// nats, the name the remote driver is served under
	Remote string `yaml:"remote"`
}

// Interface is a network interface with its policy and phone lists. Fields
// that are not in the file keep the defaults of dial.DefaultPolicy.
type Interface struct {
	Name        string   `yaml:"name"`
	MSN         string   `yaml:"msn"`
	L2          string   `yaml:"l2"`
	L3          string   `yaml:"l3"`
	DialMode    string   `yaml:"dialMode"`
	Callback    string   `yaml:"callback"`
	Secure      bool     `yaml:"secure"`
	Up          bool     `yaml:"up"`
	OnHTime     int64    `yaml:"onhtime"`
	DialMax     int      `yaml:"dialmax"`
	DialWait    int64    `yaml:"dialwait"`
	DialTimeout int64    `yaml:"dialtimeout"`
	ChargeHup   bool     `yaml:"chargehup"`
	ChargeInt   int64    `yaml:"chargeint"`
	InboundHup  bool     `yaml:"inboundhup"`
	CBDelay     int64    `yaml:"cbdelay"`
	TriggerCPS  int64    `yaml:"triggercps"`
	SlaveDelay  int64    `yaml:"slavedelay"`
	Master      string   `yaml:"master"`
	PreDriver   int      `yaml:"preDriver"`
	PreChannel  int      `yaml:"preChannel"`
	Exclusive   bool     `yaml:"exclusive"`
	Outgoing    []string `yaml:"outgoing"`
	Incoming    []string `yaml:"incoming"`
}

func defaultInterface() Interface {
	p := dial.DefaultPolicy()
	return Interface{
		MSN:         p.MSN,
		L2:          p.L2.String(),
		L3:          p.L3.String(),
		DialMode:    p.DialMode.String(),
		Callback:    p.Callback.String(),
		Secure:      p.Secure,
		Up:          p.Up,
		OnHTime:     p.OnHTime,
		DialMax:     p.DialMax,
		DialWait:    p.DialWait,
		DialTimeout: p.DialTimeout,
		ChargeHup:   p.ChargeHup,
		ChargeInt:   p.ChargeInt,
		InboundHup:  p.InboundHup,
		CBDelay:     p.CBDelay,
		TriggerCPS:  p.TriggerCPS,
		SlaveDelay:  p.SlaveDelay,
		PreDriver:   p.PreDriver,
		PreChannel:  p.PreChannel,
		Exclusive:   p.Exclusive,
	}
}

// UnmarshalYAML fills in defaults before decoding
func (i *Interface) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Interface
	p := plain(defaultInterface())
	if err := unmarshal(&p); err != nil {
		return err
	}
	*i = Interface(p)
	return nil
}

// Policy converts the interface settings to an engine policy
func (i Interface) Policy() (dial.Policy, error) {
	p := dial.Policy{
		MSN:         i.MSN,
		Secure:      i.Secure,
		Up:          i.Up,
		OnHTime:     i.OnHTime,
		DialMax:     i.DialMax,
		DialWait:    i.DialWait,
		DialTimeout: i.DialTimeout,
		ChargeHup:   i.ChargeHup,
		ChargeInt:   i.ChargeInt,
		InboundHup:  i.InboundHup,
		CBDelay:     i.CBDelay,
		TriggerCPS:  i.TriggerCPS,
		SlaveDelay:  i.SlaveDelay,
		Master:      i.Master,
		PreDriver:   i.PreDriver,
		PreChannel:  i.PreChannel,
		Exclusive:   i.Exclusive,
	}

	var err error
	if p.L2, err = phys.ParseL2(i.L2); err != nil {
		return p, fmt.Errorf("%w: %v", dial.ErrInvalidProtocol, err)
	}
	if p.L3, err = phys.ParseL3(i.L3); err != nil {
		return p, fmt.Errorf("%w: %v", dial.ErrInvalidProtocol, err)
	}
	if err := p.DialMode.UnmarshalText([]byte(i.DialMode)); err != nil {
		return p, fmt.Errorf("%w: %v", dial.ErrInvalidConfig, err)
	}
	if err := p.Callback.UnmarshalText([]byte(i.Callback)); err != nil {
		return p, fmt.Errorf("%w: %v", dial.ErrInvalidConfig, err)
	}

	return p, nil
}

// FeatureMask parses the driver features
func (d Driver) FeatureMask() (phys.Features, error) {
	return phys.ParseFeatures(d.Features)
}

// TickPeriod returns the engine tick length
func (e Engine) TickPeriod() (time.Duration, error) {
	if e.Tick == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(e.Tick)
	if err != nil {
		return 0, fmt.Errorf("engine tick: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine tick must be positive: %v", d)
	}
	return d, nil
}

// Load reads and validates a configuration file
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	c, err := Parse(data)
	if err != nil {
		return c, errors.Wrap(err, path)
	}
	return c, nil
}

// Parse decodes and validates configuration data
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrap(err, "decode config")
	}
	return c, c.Validate()
}

// Validate checks the configuration without touching an engine
func (c Config) Validate() error {
	if _, err := c.Engine.TickPeriod(); err != nil {
		return err
	}

	drivers := make(map[int]bool)
	names := make(map[string]bool)
	for _, d := range c.Drivers {
		if drivers[d.ID] {
			return fmt.Errorf("duplicate driver id %v", d.ID)
		}
		drivers[d.ID] = true

		if d.Name == "" || names[d.Name] {
			return fmt.Errorf("driver %v: missing or duplicate name %q", d.ID, d.Name)
		}
		names[d.Name] = true

		if _, err := d.FeatureMask(); err != nil {
			return fmt.Errorf("driver %v: %w", d.Name, err)
		}

		switch d.Type {
		case DriverSim:
		case DriverAT:
			if len(d.Ports) == 0 {
				return fmt.Errorf("driver %v: at driver needs ports", d.Name)
			}
		case DriverNATS:
			if d.Remote == "" {
				return fmt.Errorf("driver %v: nats driver needs remote", d.Name)
			}
		default:
			return fmt.Errorf("driver %v: unknown type %q", d.Name, d.Type)
		}
	}

	ifaces := make(map[string]Interface)
	for _, i := range c.Interfaces {
		if i.Name == "" {
			return fmt.Errorf("%w: interface without name", dial.ErrInvalidConfig)
		}
		if _, ok := ifaces[i.Name]; ok {
			return fmt.Errorf("%w: %v", dial.ErrInterfaceExists, i.Name)
		}
		ifaces[i.Name] = i

		p, err := i.Policy()
		if err != nil {
			return fmt.Errorf("interface %v: %w", i.Name, err)
		}

		if p.PreDriver >= 0 && !drivers[p.PreDriver] {
			return fmt.Errorf("interface %v: %w: %v", i.Name, dial.ErrUnknownDriver,
				p.PreDriver)
		}

		for _, n := range i.Outgoing {
			if err := phonebook.Validate(n, phonebook.Out); err != nil {
				return fmt.Errorf("interface %v: %w", i.Name, err)
			}
		}
		for _, n := range i.Incoming {
			if err := phonebook.Validate(n, phonebook.In); err != nil {
				return fmt.Errorf("interface %v: %w", i.Name, err)
			}
		}
	}

	for _, i := range c.Interfaces {
		if i.Master == "" {
			continue
		}
		m, ok := ifaces[i.Master]
		if !ok {
			return fmt.Errorf("interface %v: %w: master %v", i.Name,
				dial.ErrUnknownInterface, i.Master)
		}
		if m.Master != "" || m.Name == i.Name {
			return fmt.Errorf("interface %v: %w: %v can not be a master", i.Name,
				dial.ErrInvalidConfig, i.Master)
		}
	}

	return nil
}
