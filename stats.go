package rrdcached

import (
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about a session pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Counter: AcquireWaitTimeNs (seconds once divided by 1e9)
//
// See the promexporter package.
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total sessions created
	DestroyedConns    uint64 // Total sessions destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Sessions in pool (active + idle)
	IdleConns   int32 // Idle sessions available
	ActiveConns int32 // Sessions currently in use
	_           int32
}

// ClientStats contains statistics about client operations.
// All fields are safe for concurrent access.
type ClientStats struct {
	Updates     uint64 // Update operations, batched updates included
	Creates     uint64 // Explicit Create operations
	AutoCreates uint64 // Updates that needed the file to be created
	Batches     uint64 // Committed batches, one per daemon
	Flushes     uint64 // Flush and FlushAll operations
	Wrotes      uint64 // Wrote operations
	Forgets     uint64 // Forget operations
	Reads       uint64 // Pending, Info, First, Last, Fetch, Stats operations
	Errors      uint64 // Operations that returned an error
	_           uint64
}

type poolStatsCollector struct {
	stats PoolStats
}

func newPoolStatsCollector() *poolStatsCollector {
	return &poolStatsCollector{}
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, 1)
}

// recordDestroy accounts for an active session being destroyed.
func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

// recordIdleDestroy accounts for an idle session being destroyed.
func (c *poolStatsCollector) recordIdleDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
	atomic.AddInt32(&c.stats.IdleConns, -1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordActivate() {
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        atomic.LoadInt32(&c.stats.TotalConns),
		IdleConns:         atomic.LoadInt32(&c.stats.IdleConns),
		ActiveConns:       atomic.LoadInt32(&c.stats.ActiveConns),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordUpdate(n int) {
	atomic.AddUint64(&c.stats.Updates, uint64(n))
}

func (c *clientStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.Creates, 1)
}

func (c *clientStatsCollector) recordAutoCreate(n int) {
	atomic.AddUint64(&c.stats.AutoCreates, uint64(n))
}

func (c *clientStatsCollector) recordBatch() {
	atomic.AddUint64(&c.stats.Batches, 1)
}

func (c *clientStatsCollector) recordFlush() {
	atomic.AddUint64(&c.stats.Flushes, 1)
}

func (c *clientStatsCollector) recordWrote() {
	atomic.AddUint64(&c.stats.Wrotes, 1)
}

func (c *clientStatsCollector) recordForget() {
	atomic.AddUint64(&c.stats.Forgets, 1)
}

func (c *clientStatsCollector) recordRead() {
	atomic.AddUint64(&c.stats.Reads, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Updates:     atomic.LoadUint64(&c.stats.Updates),
		Creates:     atomic.LoadUint64(&c.stats.Creates),
		AutoCreates: atomic.LoadUint64(&c.stats.AutoCreates),
		Batches:     atomic.LoadUint64(&c.stats.Batches),
		Flushes:     atomic.LoadUint64(&c.stats.Flushes),
		Wrotes:      atomic.LoadUint64(&c.stats.Wrotes),
		Forgets:     atomic.LoadUint64(&c.stats.Forgets),
		Reads:       atomic.LoadUint64(&c.stats.Reads),
		Errors:      atomic.LoadUint64(&c.stats.Errors),
	}
}
