package rrdcached

import (
	"time"

	"github.com/pior/rrdcached/protocol"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards the sessions of one daemon.
type CircuitBreaker = gobreaker.CircuitBreaker[bool]

// NewCircuitBreakerConfig returns a factory for Config.NewCircuitBreaker.
//
// The breaker trips when at least 3 requests were seen in the interval and
// 60% of them failed. Only transport and parse errors count as failures:
// an error status from the daemon, like a missing file, proves it is up.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(addr string) *CircuitBreaker {
	return func(addr string) *CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return !protocol.ShouldCloseConnection(err)
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
