// Package testutils provides test doubles for rrdcached connections.
package testutils

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"time"
)

// ConnectionMock is a net.Conn that replays a scripted response stream and
// records everything written to it. Reads return io.EOF once the script is
// consumed.
type ConnectionMock struct {
	mu       sync.Mutex
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	writes   int
	closed   bool

	// WriteErr, when set, is returned by every Write.
	WriteErr error
}

// NewConnectionMock creates a mock connection that will answer with the
// concatenation of responseData.
func NewConnectionMock(responseData ...string) *ConnectionMock {
	return &ConnectionMock{
		readBuf:  bytes.NewBufferString(strings.Join(responseData, "")),
		writeBuf: &bytes.Buffer{},
	}
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.writes++
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.UnixAddr{Name: "@client", Net: "unix"}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.UnixAddr{Name: "/var/run/rrdcached.sock", Net: "unix"}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// GetWrittenRequest returns every byte written to the connection.
func (m *ConnectionMock) GetWrittenRequest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuf.String()
}

// WrittenLines returns the written bytes split in lines, without terminators.
func (m *ConnectionMock) WrittenLines() []string {
	written := strings.TrimSuffix(m.GetWrittenRequest(), "\n")
	if written == "" {
		return nil
	}
	return strings.Split(written, "\n")
}

// WriteCount returns the number of successful Write calls.
func (m *ConnectionMock) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// IsClosed returns whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Unread returns the part of the script not consumed yet.
func (m *ConnectionMock) Unread() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuf.String()
}
