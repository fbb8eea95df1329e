// Package nats carries the dialnet admin API, state events, link events and
// remote physical drivers over a NATS connection.
package nats

import (
	"log"
	"net"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Options describes how to reach the NATS server
type Options struct {
	Server       string
	AuthToken    string
	Name         string
	MaxBackoff   time.Duration
	Disconnected func()
	Reconnected  func()
	Closed       func()
}

// Connect opens a NATS connection that keeps reconnecting with an exponential
// back-off. The dial engine keeps running while the broker is away; admin
// requests and link events resume once the connection is back.
func Connect(o Options) (*natsgo.Conn, error) {
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}

	authEnabled := "no"
	if o.AuthToken != "" {
		authEnabled = "yes"
	}
	log.Printf("NATS: connect to: %v, auth enabled: %v", o.Server, authEnabled)

	opts := []natsgo.Option{
		natsgo.Name(o.Name),
		natsgo.Timeout(10 * time.Second),
		natsgo.DrainTimeout(10 * time.Second),
		natsgo.PingInterval(time.Minute),
		natsgo.MaxPingsOutstanding(3),
		natsgo.RetryOnFailedConnect(true),
		natsgo.ReconnectBufSize(128 * 1024),
		natsgo.MaxReconnects(-1),
		natsgo.SetCustomDialer(&net.Dialer{
			KeepAlive: -1,
		}),
		natsgo.CustomReconnectDelay(func(attempts int) time.Duration {
			delay := ExpBackoff(attempts, o.MaxBackoff)
			log.Printf("NATS: reconnect attempts: %v, delay: %v", attempts, delay)
			return delay
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
			log.Println("NATS: error: ", err)
		}),
		natsgo.ReconnectHandler(func(_ *natsgo.Conn) {
			log.Println("NATS: reconnected")
			if o.Reconnected != nil {
				o.Reconnected()
			}
		}),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Println("NATS: disconnected: ", err)
			}
			if o.Disconnected != nil {
				o.Disconnected()
			}
		}),
		natsgo.ClosedHandler(func(_ *natsgo.Conn) {
			if o.Closed != nil {
				o.Closed()
			}
		}),
	}

	if o.AuthToken != "" {
		opts = append(opts, natsgo.Token(o.AuthToken))
	}

	nc, err := natsgo.Connect(o.Server, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "NATS connect")
	}

	return nc, nil
}
