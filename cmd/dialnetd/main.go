package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/oklog/run"
	"github.com/simpleiot/dialnet/config"
	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/nats"
	"github.com/simpleiot/dialnet/natsserver"
	"github.com/simpleiot/dialnet/phys"
	"github.com/simpleiot/dialnet/system"
)

// goreleaser will replace version with Git version. You can also pass the
// version into the go build:
//
//	go build -ldflags="-X main.version=1.2.3"
var version = "Development"

type options struct {
	configFile  string
	natsServer  string
	authToken   string
	watch       bool
	driversOnly bool
	debugNats   bool
}

func main() {
	defaultConfig := "dialnet.yaml"
	defaultNatsServer := "nats://127.0.0.1:4222"

	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagVersion := flags.Bool("version", false, "Print app version")
	flagConfig := flags.String("config", defaultConfig, "configuration file")
	flagNatsServer := flags.String("natsServer", defaultNatsServer, "NATS Server")
	flagAuthToken := flags.String("token", "", "auth token")
	flagSyslog := flags.Bool("syslog", false, "log to syslog instead of stdout")
	flagWatch := flags.Bool("watch", true, "reload the configuration file when it changes")
	flagDriversOnly := flags.Bool("driversOnly", false,
		"only serve the local drivers over NATS, for an engine in another process")
	flagDebugNats := flags.Bool("debugNats", false, "log admin requests")

	flags.Usage = func() {
		fmt.Println("usage: dialnetd [OPTION]...")
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal("error: ", err)
	}

	if *flagVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *flagSyslog {
		if err := system.EnableSyslog("dialnet"); err != nil {
			log.Println("Error enabling syslog: ", err)
		}
	}

	log.Printf("dialnet %v, API %v", version, nats.APIVersion)

	o := options{
		configFile:  *flagConfig,
		natsServer:  *flagNatsServer,
		authToken:   *flagAuthToken,
		watch:       *flagWatch,
		driversOnly: *flagDriversOnly,
		debugNats:   *flagDebugNats,
	}

	// only consider env if command line option is something different
	// that default
	if o.configFile == defaultConfig {
		if c := os.Getenv("DIALNET_CONFIG"); c != "" {
			o.configFile = c
		}
	}
	if o.natsServer == defaultNatsServer {
		if s := os.Getenv("DIALNET_NATS_SERVER"); s != "" {
			o.natsServer = s
		} else {
			o.natsServer = ""
		}
	}
	if o.authToken == "" {
		o.authToken = os.Getenv("DIALNET_AUTH_TOKEN")
	}

	if err := runDaemon(o, defaultNatsServer); err != nil {
		log.Println("dialnet stopped, reason: ", err)
		os.Exit(-1)
	}
}

func runDaemon(o options, defaultNatsServer string) error {
	c, err := config.Load(o.configFile)
	if err != nil {
		return err
	}

	// the command line wins over the file
	natsServer := o.natsServer
	if natsServer == "" {
		natsServer = c.NATS.Server
	}
	if natsServer == "" {
		natsServer = defaultNatsServer
	}
	authToken := o.authToken
	if authToken == "" {
		authToken = c.NATS.AuthToken
	}

	var g run.Group

	if c.NATS.Embedded {
		srv, err := natsserver.New(natsserver.Options{
			Port:       c.NATS.Port,
			HTTPPort:   c.NATS.HTTPPort,
			Auth:       authToken,
			TLSCert:    c.NATS.TLSCert,
			TLSKey:     c.NATS.TLSKey,
			TLSTimeout: 0.5,
			Debug:      c.NATS.Debug,
		})
		if err != nil {
			return err
		}
		// remote drivers are queried at startup, so the broker has to be up
		if err := srv.Run(); err != nil {
			return err
		}
		g.Add(srv.Start, srv.Stop)
	}

	nc, err := nats.Connect(nats.Options{
		Server:    natsServer,
		AuthToken: authToken,
		Name:      "dialnetd",
	})
	if err != nil {
		return err
	}
	defer nc.Close()

	drivers, err := newDrivers(c, o.driversOnly)
	if err != nil {
		return err
	}

	if o.driversOnly {
		for _, d := range drivers {
			srv := nats.NewDriverServer(nc, d.name, d.drv)
			g.Add(d.drv.Start, d.drv.Stop)
			g.Add(srv.Start, srv.Stop)
		}
	} else {
		if err := addEngine(&g, c, o, nc, drivers); err != nil {
			return err
		}
	}

	g.Add(run.SignalHandler(context.Background(),
		syscall.SIGINT, syscall.SIGTERM))

	return g.Run()
}

type namedDriver struct {
	id   int
	name string
	drv  phys.Driver
	msn  map[string]string
}

// newDrivers creates the local drivers. Remote drivers are created with the
// engine.
func newDrivers(c config.Config, localOnly bool) ([]namedDriver, error) {
	var ret []namedDriver
	for _, d := range c.Drivers {
		features, err := d.FeatureMask()
		if err != nil {
			return nil, err
		}

		var drv phys.Driver
		switch d.Type {
		case config.DriverSim:
			drv = phys.NewSimDriver(phys.SimConfig{
				Channels:  d.Channels,
				Features:  features,
				Reachable: d.Reachable,
			})
		case config.DriverAT:
			drv = phys.NewATDriver(phys.ATConfig{
				Ports:    d.Ports,
				Baud:     d.Baud,
				Features: features,
				Debug:    d.Debug,
			})
		case config.DriverNATS:
			if localOnly {
				log.Printf("Skipping remote driver %v in drivers only mode", d.Name)
			}
			continue
		}

		ret = append(ret, namedDriver{id: d.ID, name: d.Name, drv: drv, msn: d.MSNMap})
	}
	return ret, nil
}

func addEngine(g *run.Group, c config.Config, o options, nc *natsgo.Conn,
	drivers []namedDriver) error {
	tick, err := c.Engine.TickPeriod()
	if err != nil {
		return err
	}

	engine := dial.NewEngine(dial.Config{
		Debug:      c.Engine.Debug,
		Verbose:    c.Engine.Verbose,
		TickPeriod: tick,
	})

	for _, d := range c.Drivers {
		if d.Type != config.DriverNATS {
			continue
		}
		drv, err := nats.NewPhysDriver(nc, d.Remote, 10*time.Second)
		if err != nil {
			return err
		}
		drivers = append(drivers, namedDriver{id: d.ID, name: d.Name, drv: drv,
			msn: d.MSNMap})
	}

	for _, d := range drivers {
		if err := engine.AddDriver(d.id, d.name, d.drv, d.msn); err != nil {
			return err
		}
		g.Add(d.drv.Start, d.drv.Stop)
	}

	if err := config.Apply(engine, c); err != nil {
		// busy or invalid interfaces are reported, the rest is running
		log.Println("Error applying config: ", err)
	}

	g.Add(engine.Start, engine.Stop)

	api := nats.NewAPI(nc, engine, o.debugNats)
	g.Add(api.Start, api.Stop)

	link := nats.NewLink(nc, engine, 0)
	g.Add(link.Start, link.Stop)

	if o.watch {
		w := config.NewWatcher(o.configFile, engine)
		g.Add(w.Start, w.Stop)
	}

	return nil
}
