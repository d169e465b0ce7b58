package rrdcached

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// Config holds the configuration of a Client.
type Config struct {
	// MaxSize is the maximum number of sessions per daemon.
	// Zero means 4.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a session can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a session can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle sessions are checked with STATS.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Timeout bounds each operation that has no context deadline.
	// Zero means no timeout.
	Timeout time.Duration

	// Dialer is used to create new connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Pool is the session pool factory.
	// If nil, NewPuddlePool is used. NewChannelPool is the alternative.
	Pool PoolFactory

	// SelectServer picks the daemon for a file.
	// If nil, DefaultServerSelector is used.
	SelectServer ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a daemon.
	// Called once per daemon address when its pool is created.
	// If nil, no circuit breaker is used. See NewCircuitBreakerConfig.
	NewCircuitBreaker func(addr string) *CircuitBreaker

	// DefaultCreateDefs are the data source and archive definitions used to
	// create missing files, e.g.
	//   []string{"DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:1440"}
	DefaultCreateDefs []string

	// DefaultStep is sent as "-s <seconds>" with DefaultCreateDefs.
	// Zero leaves the daemon's default (300s).
	DefaultStep time.Duration

	// DisableAutoCreate returns missing-file update errors instead of
	// creating the file and retrying the update.
	DisableAutoCreate bool

	// Logger receives the client logs. If nil, nothing is logged.
	Logger *zap.Logger

	// for testing purposes only
	constructor func(ctx context.Context, addr string) (*Session, error)
}

const defaultMaxSize = 4

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Pool == nil {
		c.Pool = NewPuddlePool
	}
	if c.SelectServer == nil {
		c.SelectServer = DefaultServerSelector
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) sessionConfig(onAutoCreate func(string)) SessionConfig {
	return SessionConfig{
		DefaultCreateDefs: c.DefaultCreateDefs,
		DefaultStep:       c.DefaultStep,
		DisableAutoCreate: c.DisableAutoCreate,
		OnAutoCreate:      onAutoCreate,
		Logger:            c.Logger,
	}
}
