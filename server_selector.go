package rrdcached

import (
	"github.com/pior/rrdcached/internal"
	"github.com/zeebo/xxh3"
)

// ServerSelector picks the daemon for a file: it returns an index in
// [0, serverCount). serverCount is always at least 1.
//
// Every update, create and read of a file must reach the same daemon, since
// each daemon caches its own pending updates.
type ServerSelector func(file string, serverCount int) int

// DefaultServerSelector hashes the file name with xxh3 and maps it to a
// daemon with Jump Hash, which moves few files when daemons are added.
func DefaultServerSelector(file string, serverCount int) int {
	return internal.JumpHash(xxh3.HashString(file), serverCount)
}

// staticSelector always selects the same daemon, for tests.
func staticSelector(index int) ServerSelector {
	return func(file string, serverCount int) int {
		return index % serverCount
	}
}
