package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/phonebook"
	"golang.org/x/exp/slices"
)

// Apply makes the interfaces of the engine match c: missing interfaces are
// created, unlisted ones removed and changed policies and phone lists set.
// Interfaces that are busy keep their settings and are reported in the
// returned error; applying again later picks them up. Drivers are only read
// at startup.
func Apply(e *dial.Engine, c Config) error {
	var errs []error

	want := make(map[string]Interface, len(c.Interfaces))
	for _, i := range c.Interfaces {
		want[i.Name] = i
	}

	// slaves go first so a removed master has no bundle left
	existing := e.List()
	for _, slaves := range []bool{true, false} {
		for _, s := range existing {
			if (s.Master != "") != slaves {
				continue
			}
			if _, ok := want[s.Name]; ok {
				continue
			}
			if err := e.RemoveInterface(s.Name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	// masters are configured before the slaves that refer to them
	for _, slaves := range []bool{false, true} {
		for _, i := range c.Interfaces {
			if (i.Master != "") != slaves {
				continue
			}
			if err := applyInterface(e, i); err != nil {
				errs = append(errs, fmt.Errorf("interface %v: %w", i.Name, err))
			}
		}
	}

	e.SetStopped(c.Engine.Stopped)

	return errors.Join(errs...)
}

func applyInterface(e *dial.Engine, i Interface) error {
	p, err := i.Policy()
	if err != nil {
		return err
	}

	cur, err := e.GetConfig(i.Name)
	if errors.Is(err, dial.ErrUnknownInterface) {
		if err := e.CreateInterface(i.Name); err != nil {
			return err
		}
		cur, err = e.GetConfig(i.Name)
	}
	if err != nil {
		return err
	}

	if cur != p {
		if err := e.SetConfig(i.Name, p); err != nil {
			return err
		}
		log.Println("Config: updated interface ", i.Name)
	}

	if err := syncPhones(e, i.Name, phonebook.Out, i.Outgoing); err != nil {
		return err
	}
	return syncPhones(e, i.Name, phonebook.In, i.Incoming)
}

func syncPhones(e *dial.Engine, name string, d phonebook.Direction, want []string) error {
	have, err := e.Phones(name, d)
	if err != nil {
		return err
	}
	if slices.Equal(have, want) {
		return nil
	}

	// the list order is the dial order, so rebuild it
	for _, n := range have {
		if err := e.RemovePhone(name, n, d); err != nil {
			return err
		}
	}
	for _, n := range want {
		if err := e.AddPhone(name, n, d); err != nil {
			return err
		}
	}
	return nil
}
