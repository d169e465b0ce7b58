package rrdcached

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pior/rrdcached/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Client talks to one or more rrdcached daemons through pooled sessions.
//
// Each file is routed to one daemon by Config.SelectServer, so that all the
// updates of a file land in the same cache. A Client is safe for concurrent
// use.
type Client struct {
	servers Servers
	config  Config
	logger  *zap.Logger

	mu    sync.RWMutex
	pools map[string]*ServerPool

	stopHealthCheck chan struct{}
	closeOnce       sync.Once

	stats *clientStatsCollector
}

// NewClient creates a client for the given daemons.
// For a single daemon, use: NewClient(NewStaticServers("unix:///var/run/rrdcached.sock"), config)
func NewClient(servers Servers, config Config) (*Client, error) {
	if len(servers.List()) == 0 {
		return nil, ErrNoServers
	}

	config = config.withDefaults()

	client := &Client{
		servers:         servers,
		config:          config,
		logger:          config.Logger,
		pools:           make(map[string]*ServerPool),
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close stops the health checks and closes every session.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)

		c.mu.Lock()
		defer c.mu.Unlock()

		for _, sp := range c.pools {
			sp.close()
		}
	})
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// AllPoolStats returns the stats of every daemon pool created so far.
func (c *Client) AllPoolStats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		stats = append(stats, sp.Stats())
	}
	return stats
}

func (c *Client) selectServer(file string) (string, error) {
	servers := c.servers.List()
	if len(servers) == 0 {
		return "", ErrNoServers
	}
	return servers[c.config.SelectServer(file, len(servers))], nil
}

// getOrCreatePool returns the pool of addr, creating it on first use.
func (c *Client) getOrCreatePool(addr string) (*ServerPool, error) {
	c.mu.RLock()
	sp, exists := c.pools[addr]
	c.mu.RUnlock()
	if exists {
		return sp, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sp, exists := c.pools[addr]; exists {
		return sp, nil
	}

	sp, err := newServerPool(addr, c.config, c.config.sessionConfig(c.onAutoCreate))
	if err != nil {
		return nil, err
	}
	c.pools[addr] = sp
	return sp, nil
}

func (c *Client) onAutoCreate(file string) {
	c.stats.recordAutoCreate(1)
	c.logger.Info("created missing file", zap.String("file", file))
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// doAddr runs fn with a session of the daemon at addr.
func (c *Client) doAddr(ctx context.Context, addr string, fn func(ctx context.Context, s *Session) error) error {
	sp, err := c.getOrCreatePool(addr)
	if err != nil {
		c.stats.recordError()
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := sp.Do(ctx, fn); err != nil {
		c.stats.recordError()
		return err
	}
	return nil
}

// Do runs fn with a session of the daemon that owns file. fn receives ctx
// bounded by Config.Timeout. The session must not be used after fn returns.
func (c *Client) Do(ctx context.Context, file string, fn func(ctx context.Context, s *Session) error) error {
	addr, err := c.selectServer(file)
	if err != nil {
		c.stats.recordError()
		return err
	}
	return c.doAddr(ctx, addr, fn)
}

// defaultAddr returns addr, or the first daemon when addr is empty.
func (c *Client) defaultAddr(addr string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	servers := c.servers.List()
	if len(servers) == 0 {
		return "", ErrNoServers
	}
	return servers[0], nil
}

// Update sends one update for file, e.g. Update(ctx, "cpu.rrd", "1700000000:0.5").
// A missing file is created with Config.DefaultCreateDefs and the update retried.
func (c *Client) Update(ctx context.Context, file string, values ...string) error {
	return c.UpdateWith(ctx, protocol.Update{File: file, Values: values})
}

// UpdateValues sends an update of file at ts. NaN values are sent as unknown.
func (c *Client) UpdateValues(ctx context.Context, file string, ts time.Time, values ...float64) error {
	return c.UpdateWith(ctx, protocol.NewUpdate(file, ts, values...))
}

// UpdateWith sends upd. When the file is missing it is created with
// createDefs, or Config.DefaultCreateDefs when empty, and upd retried once.
func (c *Client) UpdateWith(ctx context.Context, upd protocol.Update, createDefs ...string) error {
	err := c.Do(ctx, upd.File, func(ctx context.Context, s *Session) error {
		return s.UpdateWith(ctx, upd, createDefs)
	})
	if err == nil {
		c.stats.recordUpdate(1)
	}
	return err
}

// Create creates file with defs, or Config.DefaultCreateDefs when empty.
func (c *Client) Create(ctx context.Context, file string, defs ...string) error {
	err := c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		return s.Create(ctx, file, defs...)
	})
	if err == nil {
		c.stats.recordCreate()
	}
	return err
}

// Flush writes the pending updates of file to disk.
func (c *Client) Flush(ctx context.Context, file string) error {
	c.stats.recordFlush()
	return c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		return s.Flush(ctx, file)
	})
}

// Wrote tells the daemon owning file that it was written by someone else.
func (c *Client) Wrote(ctx context.Context, file string) error {
	c.stats.recordWrote()
	return c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		return s.Wrote(ctx, file)
	})
}

// Forget drops the pending updates of file.
func (c *Client) Forget(ctx context.Context, file string) error {
	c.stats.recordForget()
	return c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		return s.Forget(ctx, file)
	})
}

// Pending returns the updates of file not yet written.
func (c *Client) Pending(ctx context.Context, file string) (lines []string, err error) {
	c.stats.recordRead()
	err = c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		lines, err = s.Pending(ctx, file)
		return err
	})
	return lines, err
}

// Info returns the header of file.
func (c *Client) Info(ctx context.Context, file string) (entries []InfoEntry, err error) {
	c.stats.recordRead()
	err = c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		entries, err = s.Info(ctx, file)
		return err
	})
	return entries, err
}

// First returns the first timestamp of archive rra of file.
func (c *Client) First(ctx context.Context, file string, rra int) (ts time.Time, err error) {
	c.stats.recordRead()
	err = c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		ts, err = s.First(ctx, file, rra)
		return err
	})
	return ts, err
}

// Last returns the timestamp of the last update of file.
func (c *Client) Last(ctx context.Context, file string) (ts time.Time, err error) {
	c.stats.recordRead()
	err = c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		ts, err = s.Last(ctx, file)
		return err
	})
	return ts, err
}

// Fetch reads data from file, e.g. Fetch(ctx, "cpu.rrd", "AVERAGE", "-s", "-1h").
func (c *Client) Fetch(ctx context.Context, file string, options ...string) (res *FetchResult, err error) {
	c.stats.recordRead()
	err = c.Do(ctx, file, func(ctx context.Context, s *Session) error {
		res, err = s.Fetch(ctx, file, options...)
		return err
	})
	return res, err
}

// DaemonStats returns the counters of the daemon at addr, or of the first
// daemon when addr is empty.
func (c *Client) DaemonStats(ctx context.Context, addr string) (stats map[string]uint64, err error) {
	addr, err = c.defaultAddr(addr)
	if err != nil {
		return nil, err
	}

	c.stats.recordRead()
	err = c.doAddr(ctx, addr, func(ctx context.Context, s *Session) error {
		stats, err = s.Stats(ctx)
		return err
	})
	return stats, err
}

// Queue returns the write queue of the daemon at addr, or of the first
// daemon when addr is empty.
func (c *Client) Queue(ctx context.Context, addr string) (entries []QueueEntry, err error) {
	addr, err = c.defaultAddr(addr)
	if err != nil {
		return nil, err
	}

	c.stats.recordRead()
	err = c.doAddr(ctx, addr, func(ctx context.Context, s *Session) error {
		entries, err = s.Queue(ctx)
		return err
	})
	return entries, err
}

// Help returns the help text of the daemon at addr, or of the first daemon
// when addr is empty.
func (c *Client) Help(ctx context.Context, addr, topic string) (lines []string, err error) {
	addr, err = c.defaultAddr(addr)
	if err != nil {
		return nil, err
	}

	err = c.doAddr(ctx, addr, func(ctx context.Context, s *Session) error {
		lines, err = s.Help(ctx, topic)
		return err
	})
	return lines, err
}

// FlushAll asks every daemon to write all its pending updates.
// The daemons are flushed concurrently and all errors are returned.
func (c *Client) FlushAll(ctx context.Context) error {
	servers := c.servers.List()
	if len(servers) == 0 {
		return ErrNoServers
	}

	c.stats.recordFlush()

	errs := make([]error, len(servers))
	var g errgroup.Group
	for i, addr := range servers {
		g.Go(func() error {
			err := c.doAddr(ctx, addr, func(ctx context.Context, s *Session) error {
				return s.FlushAll(ctx)
			})
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Batch submits cmds with one batch transaction per daemon, concurrently.
//
// The result has one entry per command, in the order of cmds, and Index is
// the 1-based position in cmds. Reply is nil. Command failures are returned
// as one *BatchError; transport errors and fatal create failures of each
// daemon are joined to it.
func (c *Client) Batch(ctx context.Context, cmds ...protocol.BatchCommand) (*BatchResult, error) {
	result := &BatchResult{Entries: make([]BatchEntry, len(cmds))}
	if len(cmds) == 0 {
		return result, nil
	}

	servers := c.servers.List()
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	type group struct {
		addr    string
		indexes []int
		result  *BatchResult
		err     error
	}

	var groups []*group
	byAddr := make(map[string]*group)
	for i, cmd := range cmds {
		addr := servers[c.config.SelectServer(cmd.Filename(), len(servers))]
		g, ok := byAddr[addr]
		if !ok {
			g = &group{addr: addr}
			byAddr[addr] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
	}

	var eg errgroup.Group
	for _, g := range groups {
		eg.Go(func() error {
			g.err = c.doAddr(ctx, g.addr, func(ctx context.Context, s *Session) error {
				var err error
				g.result, err = s.Batch(ctx, func(b *Batch) error {
					for _, i := range g.indexes {
						if err := b.Enqueue(cmds[i]); err != nil {
							return err
						}
					}
					return nil
				})
				return err
			})
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	var failures []BatchFailure
	for _, g := range groups {
		c.stats.recordBatch()

		var batchErr *BatchError
		if g.err != nil && !errors.As(g.err, &batchErr) {
			errs = append(errs, fmt.Errorf("%s: %w", g.addr, g.err))
		}

		for j, i := range g.indexes {
			entry := BatchEntry{Index: i + 1, Command: cmds[i]}
			switch {
			case g.result != nil:
				entry = g.result.Entries[j]
				entry.Index = i + 1
			case g.err != nil:
				entry.Outcome = OutcomeFailed
				entry.Err = g.err
			}
			result.Entries[i] = entry

			if _, ok := cmds[i].(protocol.Update); ok && entry.Outcome != OutcomeFailed {
				c.stats.recordUpdate(1)
			}
			if g.result != nil && entry.Outcome == OutcomeFailed {
				failures = append(failures, BatchFailure{Index: entry.Index, Command: entry.Command, Err: entry.Err})
			}
		}
	}

	if len(failures) > 0 {
		slices.SortFunc(failures, func(a, b BatchFailure) int { return a.Index - b.Index })
		errs = append(errs, &BatchError{Failures: failures})
	}
	if len(errs) == 1 {
		return result, errs[0]
	}
	return result, errors.Join(errs...)
}

func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

func (c *Client) checkAllPools() {
	c.mu.RLock()
	pools := make([]*ServerPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	c.mu.RUnlock()

	for _, sp := range pools {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
		sp.checkIdle(ctx, c.config)
		cancel()
	}
}
