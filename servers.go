package rrdcached

// Servers provides the list of daemon addresses a Client routes to.
// List is called for every routed operation, so an implementation may
// change the list over time. Each address is in a form accepted by
// ParseAddress.
type Servers interface {
	List() []string
}

type staticServers struct {
	addrs []string
}

// NewStaticServers returns a fixed list of daemons.
func NewStaticServers(addrs ...string) Servers {
	return &staticServers{addrs: addrs}
}

func (s *staticServers) List() []string {
	return s.addrs
}
