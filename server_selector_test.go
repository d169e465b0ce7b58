package rrdcached

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultServerSelector(t *testing.T) {
	t.Run("consistency", func(t *testing.T) {
		first := DefaultServerSelector("/var/lib/rrd/host1/cpu.rrd", 10)
		for range 4 {
			require.Equal(t, first, DefaultServerSelector("/var/lib/rrd/host1/cpu.rrd", 10))
		}
	})

	t.Run("bounds", func(t *testing.T) {
		files := []string{"a.rrd", "b.rrd", "/var/lib/rrd/host/interface-eth0/if_octets.rrd", ""}
		serverCounts := []int{1, 2, 5, 10, 100}

		for _, file := range files {
			for _, count := range serverCounts {
				result := DefaultServerSelector(file, count)
				require.True(t, result >= 0 && result < count, "out of bounds: file=%s, serverCount=%d, result=%d", file, count, result)
			}
		}
	})

	t.Run("distribution", func(t *testing.T) {
		serverCount := 10
		distribution := make(map[int]int)

		for i := range 100 {
			server := DefaultServerSelector(fmt.Sprintf("/var/lib/rrd/host%d/load.rrd", i), serverCount)
			distribution[server]++
		}

		require.True(t, len(distribution) >= 5, "poor distribution: only %d servers used out of %d", len(distribution), serverCount)
		for server, count := range distribution {
			require.True(t, count <= 30, "unbalanced distribution: server %d has %d%% of files", server, count)
		}
	})
}

func TestStaticSelector(t *testing.T) {
	require.Equal(t, 1, staticSelector(1)("a.rrd", 3))
	require.Equal(t, 0, staticSelector(3)("a.rrd", 3))
}

func TestStaticServers(t *testing.T) {
	servers := NewStaticServers("unix:///tmp/a.sock", "localhost:42217")
	require.Equal(t, []string{"unix:///tmp/a.sock", "localhost:42217"}, servers.List())
}

func BenchmarkDefaultServerSelector(b *testing.B) {
	file := "/var/lib/rrd/host1/cpu.rrd"
	serverCount := 10

	for b.Loop() {
		DefaultServerSelector(file, serverCount)
	}
}
