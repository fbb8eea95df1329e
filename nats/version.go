package nats

import (
	"fmt"
	"time"

	"github.com/blang/semver/v4"
	natsgo "github.com/nats-io/nats.go"
)

// APIVersion is the version of the admin API. Clients accept a server with
// the same major version.
const APIVersion = "1.1.0"

var apiVersion = semver.MustParse(APIVersion)

// Compatible returns an error if a server reporting version v cannot be
// used by this client
func Compatible(v string) (semver.Version, error) {
	sv, err := semver.ParseTolerant(v)
	if err != nil {
		return sv, fmt.Errorf("invalid API version %q: %w", v, err)
	}
	if sv.Major != apiVersion.Major {
		return sv, fmt.Errorf("server API version %v is not compatible with %v",
			sv, apiVersion)
	}
	return sv, nil
}

// CheckVersion asks the server for its API version and verifies it
func CheckVersion(nc *natsgo.Conn, timeout time.Duration) (semver.Version, error) {
	resp, err := request(nc, OpVersion, Request{}, timeout)
	if err != nil {
		return semver.Version{}, err
	}
	return Compatible(resp.Version)
}
