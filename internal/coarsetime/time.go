// Package coarsetime provides a cheap approximation of time.Now, refreshed
// every 50ms by a background goroutine started on first use.
//
// Used for session idle bookkeeping, where millisecond precision is useless.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

const tick = 50 * time.Millisecond

var (
	now   atomic.Pointer[time.Time]
	start sync.Once
)

func run() {
	t := time.Now()
	now.Store(&t)

	ticker := time.NewTicker(tick)
	go func() {
		for range ticker.C {
			t := time.Now()
			now.Store(&t)
		}
	}()
}

// Now returns the current time, at most 50ms old.
func Now() time.Time {
	start.Do(run)
	return *now.Load()
}
