package rrdcached

import (
	"context"
	"errors"
	"time"
)

// Pool manages the sessions to one daemon.
//
// Two implementations are provided: NewPuddlePool (default) and
// NewChannelPool.
type Pool interface {
	// Acquire returns an idle session, dials a new one, or waits for one to
	// be released when the pool is full.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle takes every idle session, for health checks.
	AcquireAllIdle() []Resource

	// Stats returns a snapshot of the pool counters.
	Stats() PoolStats

	// Close destroys idle sessions and refuses new acquires.
	Close()
}

// Resource is a session checked out of a Pool. Exactly one of Release,
// ReleaseUnused or Destroy must be called.
type Resource interface {
	Value() *Session
	Release()
	ReleaseUnused()
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// PoolFactory builds a Pool of at most maxSize sessions from a constructor.
type PoolFactory func(constructor func(ctx context.Context) (*Session, error), maxSize int32) (Pool, error)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("rrdcached: pool closed")
