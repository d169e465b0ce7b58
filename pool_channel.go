package rrdcached

import (
	"context"
	"sync"
	"time"

	"github.com/pior/rrdcached/internal/coarsetime"
)

// NewChannelPool creates a session pool built on a buffered channel.
// Idle sessions are reused in FIFO order.
func NewChannelPool(constructor func(ctx context.Context) (*Session, error), maxSize int32) (Pool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		resources:   make(chan *channelResource, maxSize),
		slotFreed:   make(chan struct{}, maxSize),
		stats:       newPoolStatsCollector(),
	}, nil
}

type channelResource struct {
	session      *Session
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *Session {
	return r.session
}

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

func (r *channelResource) ReleaseUnused() {
	// Health checks don't count as use
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	_ = r.session.Close()
	r.pool.removeResource()
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Now().Sub(r.lastUsedTime)
}

type channelPool struct {
	constructor func(ctx context.Context) (*Session, error)
	maxSize     int32

	mu        sync.Mutex
	resources chan *channelResource
	slotFreed chan struct{} // one token per freed slot, wakes a waiter
	size      int32
	closed    bool

	stats *poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	var waitStart time.Time
	for {
		select {
		case res, ok := <-p.resources:
			if ok {
				p.acquiredIdle(waitStart)
				return res, nil
			}
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, ErrPoolClosed
		}

		if p.size < p.maxSize {
			p.size++
			p.mu.Unlock()
			return p.create(ctx)
		}
		p.mu.Unlock()

		// Full, wait for a release or a destroyed session
		if waitStart.IsZero() {
			waitStart = time.Now()
		}
		select {
		case res, ok := <-p.resources:
			if !ok {
				p.stats.recordAcquireError()
				return nil, ErrPoolClosed
			}
			p.acquiredIdle(waitStart)
			return res, nil
		case <-p.slotFreed:
		case <-ctx.Done():
			p.stats.recordAcquireError()
			return nil, ctx.Err()
		}
	}
}

func (p *channelPool) acquiredIdle(waitStart time.Time) {
	if !waitStart.IsZero() {
		p.stats.recordAcquireWait(time.Since(waitStart))
	}
	p.stats.recordAcquireFromIdle()
}

func (p *channelPool) create(ctx context.Context) (Resource, error) {
	s, err := p.constructor(ctx)
	if err != nil {
		p.mu.Lock()
		p.freeSlot()
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, err
	}

	p.stats.recordCreate()
	p.stats.recordActivate()

	now := coarsetime.Now()
	return &channelResource{
		session:      s,
		pool:         p,
		creationTime: now,
		lastUsedTime: now,
	}, nil
}

// freeSlot must be called with the lock held.
func (p *channelPool) freeSlot() {
	p.size--
	select {
	case p.slotFreed <- struct{}{}:
	default:
	}
}

func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = res.session.Close()
		p.size--
		p.stats.recordDestroy()
		return
	}

	select {
	case p.resources <- res:
		p.stats.recordRelease()
	default:
		// Cannot happen while size <= maxSize, drop the session anyway
		_ = res.session.Close()
		p.freeSlot()
		p.stats.recordDestroy()
	}
}

func (p *channelPool) removeResource() {
	p.mu.Lock()
	p.freeSlot()
	p.mu.Unlock()
	p.stats.recordDestroy()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res, ok := <-p.resources:
			if !ok {
				return idle
			}
			p.stats.recordAcquireFromIdle()
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	close(p.resources)
	for res := range p.resources {
		_ = res.session.Close()
		p.size--
		p.stats.recordIdleDestroy()
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
