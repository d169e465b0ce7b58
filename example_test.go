package rrdcached_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pior/rrdcached"
	"github.com/pior/rrdcached/protocol"
)

func Example() {
	client, err := rrdcached.NewClient(
		rrdcached.NewStaticServers("unix:///var/run/rrdcached.sock"),
		rrdcached.Config{
			DefaultCreateDefs: []string{"DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:1440"},
			DefaultStep:       time.Minute,
			Timeout:           5 * time.Second,
		},
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer client.Close()

	ctx := context.Background()

	// Creates /var/lib/rrd/load.rrd on first use
	err = client.UpdateValues(ctx, "/var/lib/rrd/load.rrd", time.Now(), 0.42)
	if err != nil {
		fmt.Println(err)
	}
}

func ExampleClient_Batch() {
	client, err := rrdcached.NewClient(rrdcached.NewStaticServers("localhost:42217"), rrdcached.Config{
		DefaultCreateDefs: []string{"DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:1440"},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer client.Close()

	now := time.Now()
	result, err := client.Batch(context.Background(),
		protocol.NewUpdate("/var/lib/rrd/host1/load.rrd", now, 0.5),
		protocol.NewUpdate("/var/lib/rrd/host2/load.rrd", now, 1.5),
		protocol.Flush{File: "/var/lib/rrd/host1/load.rrd"},
	)

	var batchErr *rrdcached.BatchError
	if errors.As(err, &batchErr) {
		for _, f := range batchErr.Failures {
			fmt.Printf("command %d failed: %v\n", f.Index, f.Err)
		}
	} else if err != nil {
		fmt.Println(err)
		return
	}

	for _, e := range result.Entries {
		fmt.Println(e.Index, e.Outcome)
	}
}

func ExampleSession_Begin() {
	ctx := context.Background()

	s, err := rrdcached.Dial(ctx, "unix:///var/run/rrdcached.sock", rrdcached.SessionConfig{
		DefaultCreateDefs: []string{"DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:1440"},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer s.Quit(ctx)

	b, err := s.Begin(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	_ = b.Create("/var/lib/rrd/a.rrd")
	_ = b.Update("/var/lib/rrd/a.rrd", "N:1")

	// Existing files are ignored, missing ones are created after the batch
	if _, err := b.Commit(ctx); err != nil {
		fmt.Println(err)
	}
}

func ExampleNewCircuitBreakerConfig() {
	client, err := rrdcached.NewClient(rrdcached.NewStaticServers("rrd1:42217", "rrd2:42217"), rrdcached.Config{
		NewCircuitBreaker: rrdcached.NewCircuitBreakerConfig(3, time.Minute, 30*time.Second),
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer client.Close()

	for _, stats := range client.AllPoolStats() {
		fmt.Println(stats.Addr, stats.CircuitBreakerState)
	}
}
