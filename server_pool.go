package rrdcached

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ServerPool wraps the session pool and the circuit breaker of one daemon.
type ServerPool struct {
	addr           string
	pool           Pool
	circuitBreaker *CircuitBreaker
	logger         *zap.Logger
}

func newServerPool(addr string, config Config, sessionConfig SessionConfig) (*ServerPool, error) {
	constructor := func(ctx context.Context) (*Session, error) {
		if config.constructor != nil {
			return config.constructor(ctx, addr)
		}
		return dialSession(ctx, config.Dialer, addr, sessionConfig)
	}

	pool, err := config.Pool(constructor, config.MaxSize)
	if err != nil {
		return nil, err
	}

	sp := &ServerPool{
		addr:   addr,
		pool:   pool,
		logger: config.Logger,
	}
	if config.NewCircuitBreaker != nil {
		sp.circuitBreaker = config.NewCircuitBreaker(addr)
	}
	return sp, nil
}

// Address returns the daemon address.
func (sp *ServerPool) Address() string {
	return sp.addr
}

// ServerPoolStats contains the stats of one daemon.
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	stats := ServerPoolStats{
		Addr:      sp.addr,
		PoolStats: sp.pool.Stats(),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Do runs fn with a session of this daemon, through the circuit breaker.
//
// The session goes back to the pool unless fn left it broken or inside a
// batch, in which case it is destroyed.
func (sp *ServerPool) Do(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if sp.circuitBreaker == nil {
		return sp.do(ctx, fn)
	}

	_, err := sp.circuitBreaker.Execute(func() (bool, error) {
		return true, sp.do(ctx, fn)
	})
	return err
}

func (sp *ServerPool) do(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	s := resource.Value()
	err = fn(ctx, s)

	if !s.IsConnected() || s.InBatch() {
		sp.logger.Warn("discarding session", zap.String("addr", sp.addr), zap.Error(err))
		resource.Destroy()
	} else {
		resource.Release()
	}
	return err
}

// checkIdle destroys idle sessions that are too old, idle for too long or
// that fail a STATS round trip.
func (sp *ServerPool) checkIdle(ctx context.Context, config Config) {
	for _, res := range sp.pool.AcquireAllIdle() {
		if config.MaxConnLifetime > 0 && time.Since(res.CreationTime()) > config.MaxConnLifetime {
			res.Destroy()
			continue
		}

		if config.MaxConnIdleTime > 0 && res.IdleDuration() > config.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		if _, err := res.Value().Stats(ctx); err != nil {
			sp.logger.Debug("health check failed", zap.String("addr", sp.addr), zap.Error(err))
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

func (sp *ServerPool) close() {
	sp.pool.Close()
}
