package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/nats"
	"github.com/simpleiot/dialnet/phonebook"
)

var version = "Development"

func usage(flags *flag.FlagSet) func() {
	return func() {
		fmt.Println("usage: dialctl [OPTION]... COMMAND [ARG]...")
		fmt.Println("Global options:")
		flags.PrintDefaults()
		fmt.Println()
		fmt.Println("Available commands:")
		fmt.Println("  - status [NAME]               (interface status)")
		fmt.Println("  - config NAME                 (print interface policy)")
		fmt.Println("  - dial NAME                   (dial now)")
		fmt.Println("  - hangup NAME                 (hang up)")
		fmt.Println("  - peer NAME                   (connected peer number)")
		fmt.Println("  - create NAME | remove NAME   (add or delete an interface)")
		fmt.Println("  - phone add|remove NAME in|out NUMBER")
		fmt.Println("  - phone list NAME in|out")
		fmt.Println("  - stop on|off                 (stop or resume all dialing)")
		fmt.Println("  - slots | drivers")
		fmt.Println("  - watch                       (print state changes)")
	}
}

func main() {
	defaultNatsServer := "nats://127.0.0.1:4222"

	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagVersion := flags.Bool("version", false, "Print app version")
	flagNatsServer := flags.String("natsServer", defaultNatsServer, "NATS Server")
	flagAuthToken := flags.String("token", "", "auth token")
	flagTick := flags.Duration("tick", time.Second, "engine tick period, used to show times")
	flags.Usage = usage(flags)

	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal("error: ", err)
	}

	if *flagVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	args := flags.Args()
	if len(args) < 1 {
		args = []string{"status"}
	}

	natsServer := *flagNatsServer
	if natsServer == defaultNatsServer {
		if s := os.Getenv("DIALNET_NATS_SERVER"); s != "" {
			natsServer = s
		}
	}
	authToken := *flagAuthToken
	if authToken == "" {
		authToken = os.Getenv("DIALNET_AUTH_TOKEN")
	}

	opts := []natsgo.Option{natsgo.Name("dialctl"), natsgo.Timeout(5 * time.Second)}
	if authToken != "" {
		opts = append(opts, natsgo.Token(authToken))
	}
	nc, err := natsgo.Connect(natsServer, opts...)
	if err != nil {
		log.Fatal("Error connecting to NATS server: ", err)
	}
	defer nc.Close()

	if _, err := nats.CheckVersion(nc, 5*time.Second); err != nil {
		log.Fatal("Error: ", err)
	}

	if err := runCommand(nc, args, *flagTick); err != nil {
		fmt.Fprintln(os.Stderr, "Error: ", err)
		nc.Close()
		os.Exit(1)
	}
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("%v: expected %v arguments", args[0], n-1)
	}
	return nil
}

func runCommand(nc *natsgo.Conn, args []string, tick time.Duration) error {
	w := os.Stdout

	switch args[0] {
	case "status":
		if len(args) > 1 {
			s, err := nats.GetStatus(nc, args[1])
			if err != nil {
				return err
			}
			printStatusDetail(w, s, tick)
			return nil
		}
		list, err := nats.List(nc)
		if err != nil {
			return err
		}
		printStatus(w, list, tick)
		return nil

	case "config":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		p, err := nats.GetConfig(nc, args[1])
		if err != nil {
			return err
		}
		printPolicy(w, p)
		return nil

	case "dial":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return nats.Dial(nc, args[1])

	case "hangup":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return nats.Hangup(nc, args[1])

	case "peer":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		peer, err := nats.Peer(nc, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, peer)
		return nil

	case "create":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return nats.CreateInterface(nc, args[1])

	case "remove":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return nats.RemoveInterface(nc, args[1])

	case "phone":
		return runPhone(nc, args)

	case "stop":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		stopped, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		return nats.SetStopped(nc, stopped)

	case "slots":
		slots, err := nats.Slots(nc)
		if err != nil {
			return err
		}
		printSlots(w, slots)
		return nil

	case "drivers":
		drivers, err := nats.Drivers(nc)
		if err != nil {
			return err
		}
		for _, d := range drivers {
			fmt.Fprintf(w, "%v\t%v\t%v\t%v channels\n", d.ID, d.Name, d.Desc, d.Channels)
		}
		return nil

	case "watch":
		sub, err := nats.SubscribeState(nc, func(sc dial.StateChange) {
			fmt.Fprintln(w, formatChange(sc))
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		select {}

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runPhone(nc *natsgo.Conn, args []string) error {
	if err := needArgs(args, 4); err != nil {
		return err
	}
	op, name := args[1], args[2]
	d, err := phonebook.ParseDirection(args[3])
	if err != nil {
		return err
	}

	switch op {
	case "list":
		phones, err := nats.Phones(nc, name, d)
		if err != nil {
			return err
		}
		for _, p := range phones {
			fmt.Println(p)
		}
		return nil
	case "add", "remove":
		if err := needArgs(args, 5); err != nil {
			return err
		}
		if op == "add" {
			return nats.AddPhone(nc, name, args[4], d)
		}
		return nats.RemovePhone(nc, name, args[4], d)
	default:
		return fmt.Errorf("unknown phone command %q", op)
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}
