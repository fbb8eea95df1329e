// Package natsserver embeds a NATS broker in the daemon so a single box
// needs no external server.
package natsserver

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Options for starting the nats server. Port -1 picks a random port.
type Options struct {
	Port       int
	HTTPPort   int
	Auth       string
	TLSCert    string
	TLSKey     string
	TLSTimeout float64
	// Debug enables the server log
	Debug bool
}

// Server is an embedded nats server
type Server struct {
	opts     Options
	srv      *server.Server
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
}

// New configures a server. It is not started.
func New(o Options) (*Server, error) {
	opts := server.Options{
		Port:          o.Port,
		HTTPPort:      o.HTTPPort,
		Authorization: o.Auth,
		NoSigs:        true,
		NoLog:         !o.Debug,
	}

	if o.TLSCert != "" && o.TLSKey != "" {
		log.Println("NATS server: setting up TLS ...")
		opts.TLS = true
		opts.TLSCert = o.TLSCert
		opts.TLSKey = o.TLSKey
		opts.TLSTimeout = o.TLSTimeout

		var err error
		opts.TLSConfig, err = server.GenTLSConfig(&server.TLSConfigOpts{
			CertFile: o.TLSCert,
			KeyFile:  o.TLSKey,
		})
		if err != nil {
			return nil, fmt.Errorf("NATS server TLS: %w", err)
		}
	}

	srv, err := server.NewServer(&opts)
	if err != nil {
		return nil, fmt.Errorf("NATS server: %w", err)
	}

	if o.Debug {
		srv.ConfigureLogger()
	}

	return &Server{
		opts: o,
		srv:  srv,
		stop: make(chan struct{}),
	}, nil
}

// Run starts the server and waits until it accepts connections
func (s *Server) Run() error {
	authEnabled := "no"
	if s.opts.Auth != "" {
		authEnabled = "yes"
	}

	log.Printf("NATS server: starting, port: %v, http port: %v, auth enabled: %v",
		s.opts.Port, s.opts.HTTPPort, authEnabled)

	s.srv.Start()

	if !s.srv.ReadyForConnections(10 * time.Second) {
		s.srv.Shutdown()
		return errors.New("NATS server not ready for connections")
	}

	s.running = true
	return nil
}

// ClientURL returns the URL clients connect to
func (s *Server) ClientURL() string {
	return s.srv.ClientURL()
}

// Shutdown stops the server and waits for it to exit
func (s *Server) Shutdown() {
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
}

// Start runs the server until Stop is called. A server already started
// with Run is only waited on.
func (s *Server) Start() error {
	if !s.running {
		if err := s.Run(); err != nil {
			return err
		}
	}
	<-s.stop
	s.Shutdown()
	log.Println("NATS server: stopped")
	return nil
}

// Stop the server
func (s *Server) Stop(_ error) {
	s.stopOnce.Do(func() { close(s.stop) })
}
