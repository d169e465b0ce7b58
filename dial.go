package rrdcached

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pior/rrdcached/protocol"
)

// DefaultAddress is the socket rrdcached listens on by default.
const DefaultAddress = protocol.DefaultSocket

// ParseAddress returns the network and address to dial for an rrdcached
// address, in any of the forms accepted by rrdtool:
//
//	unix:///var/run/rrdcached.sock    UNIX socket
//	unix:/var/run/rrdcached.sock      UNIX socket
//	/var/run/rrdcached.sock           UNIX socket
//	tcp://host[:port]                 TCP, port defaults to 42217
//	host[:port]                       TCP, port defaults to 42217
//
// An empty address is the default UNIX socket.
func ParseAddress(addr string) (network, address string, err error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = protocol.DefaultSocket
	}

	switch {
	case strings.HasPrefix(addr, "unix://"):
		address = strings.TrimPrefix(addr, "unix://")
		network = "unix"
	case strings.HasPrefix(addr, "unix:"):
		address = strings.TrimPrefix(addr, "unix:")
		network = "unix"
	case strings.HasPrefix(addr, "/"):
		address = addr
		network = "unix"
	case strings.HasPrefix(addr, "tcp://"):
		address = withDefaultPort(strings.TrimPrefix(addr, "tcp://"))
		network = "tcp"
	case strings.Contains(addr, "://"):
		return "", "", fmt.Errorf("rrdcached: unsupported address scheme: %s", addr)
	default:
		address = withDefaultPort(addr)
		network = "tcp"
	}

	if address == "" || address == ":"+protocol.DefaultPort {
		return "", "", fmt.Errorf("rrdcached: invalid address: %q", addr)
	}
	return network, address, nil
}

func withDefaultPort(hostport string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	host := strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
	return net.JoinHostPort(host, protocol.DefaultPort)
}

// Dial connects to the daemon at addr (see ParseAddress) and returns a
// ready Session. Connection failures are returned as *TransportError.
func Dial(ctx context.Context, addr string, config SessionConfig) (*Session, error) {
	return dialSession(ctx, &net.Dialer{}, addr, config)
}

func dialSession(ctx context.Context, dialer *net.Dialer, addr string, config SessionConfig) (*Session, error) {
	network, address, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	s := NewSession(conn, config)
	s.addr = addr
	return s, nil
}
