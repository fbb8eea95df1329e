package nats

import (
	"math"
	"math/rand"
	"time"
)

// ExpBackoff returns 2^attempts seconds, limited to max, plus a random
// fraction of a second so reconnecting daemons spread out.
func ExpBackoff(attempts int, max time.Duration) time.Duration {
	// larger exponents overflow Duration
	exp := math.Min(float64(attempts), 30)
	delay := time.Duration(math.Exp2(exp)) * time.Second
	if delay > max {
		delay = max
	}
	return delay + time.Duration(rand.Int63n(int64(time.Second)))
}
