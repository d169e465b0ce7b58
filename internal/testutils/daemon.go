package testutils

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Daemon is an in-process fake rrdcached. It keeps files in memory and
// answers the text protocol, batches included, the way the real daemon
// does: a batch is answered with "<N> errors" followed by one
// "<index> <message>" line per failed command.
type Daemon struct {
	listener net.Listener
	addr     string

	mu     sync.Mutex
	files  map[string]*File
	counts map[string]int
	conns  map[net.Conn]struct{}
	closed bool

	// CreateError, when set, makes every CREATE of a new file fail with
	// this message.
	CreateError string

	wg sync.WaitGroup
}

// File is the state of one file in the fake daemon.
type File struct {
	Defs    []string
	Pending []string
	Last    int64
	Flushed int
}

// NewDaemon starts a fake daemon on a TCP port of the loopback interface.
// It is stopped when the test ends.
func NewDaemon(t testing.TB) *Daemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return startDaemon(t, ln, ln.Addr().String())
}

// NewUnixDaemon starts a fake daemon on a UNIX socket.
// It is stopped when the test ends.
func NewUnixDaemon(t testing.TB) *Daemon {
	t.Helper()

	// t.TempDir can exceed the UNIX socket path limit
	dir, err := os.MkdirTemp("", "rrdc")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "rrdcached.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return startDaemon(t, ln, "unix://"+path)
}

func startDaemon(t testing.TB, ln net.Listener, addr string) *Daemon {
	d := &Daemon{
		listener: ln,
		addr:     addr,
		files:    make(map[string]*File),
		counts:   make(map[string]int),
		conns:    make(map[net.Conn]struct{}),
	}

	d.wg.Add(1)
	go d.serve()

	t.Cleanup(d.Close)
	return d
}

// Addr returns the address to dial the daemon.
func (d *Daemon) Addr() string {
	return d.addr
}

// Close stops the daemon and closes every client connection.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.listener.Close()
	for c := range d.conns {
		c.Close()
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// DropConnections closes every client connection, as a daemon restart
// would, and keeps listening.
func (d *Daemon) DropConnections() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.conns {
		c.Close()
	}
}

// AddFile creates a file as if CREATE had succeeded.
func (d *Daemon) AddFile(name string, defs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = &File{Defs: defs}
}

// File returns a copy of the state of a file, and whether it exists.
func (d *Daemon) File(name string) (File, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[name]
	if !ok {
		return File{}, false
	}
	cp := *f
	cp.Defs = slices.Clone(f.Defs)
	cp.Pending = slices.Clone(f.Pending)
	return cp, true
}

// Count returns how many times verb was received, batch lines included.
func (d *Daemon) Count(verb string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[verb]
}

// Connections returns the number of open client connections.
func (d *Daemon) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *Daemon) serve() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Close()
			return
		}
		d.conns[conn] = struct{}{}
		d.mu.Unlock()

		d.wg.Add(1)
		go d.handle(conn)
	}
}

func (d *Daemon) handle(conn net.Conn) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		verb, _, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "QUIT":
			d.count("QUIT")
			return
		case "BATCH":
			d.count("BATCH")
			if !d.batch(r, w) {
				return
			}
		default:
			code, message, body := d.execute(line)
			writeResponse(w, code, message, body)
		}

		if err := w.Flush(); err != nil {
			return
		}
	}
}

// batch reads batch lines until the terminator and answers once.
func (d *Daemon) batch(r *bufio.Reader, w *bufio.Writer) bool {
	writeResponse(w, 0, "Go ahead.  End with dot '.' on its own line.", nil)
	if err := w.Flush(); err != nil {
		return false
	}

	var failures []string
	for index := 1; ; index++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "." {
			break
		}

		code, message, _ := d.execute(line)
		if code < 0 {
			failures = append(failures, fmt.Sprintf("%d %s", index, message))
		}
	}

	writeResponse(w, len(failures), "errors", failures)
	return true
}

func (d *Daemon) count(verb string) {
	d.mu.Lock()
	d.counts[verb]++
	d.mu.Unlock()
}

func writeResponse(w *bufio.Writer, code int, message string, body []string) {
	fmt.Fprintf(w, "%d %s\n", code, message)
	for _, line := range body {
		w.WriteString(line)
		w.WriteByte('\n')
	}
}

// execute runs one command line and returns the status and body lines.
func (d *Daemon) execute(line string) (int, string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return -1, "Syntax error", nil
	}
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts[verb]++

	switch verb {
	case "UPDATE":
		if len(args) < 2 {
			return -1, "Usage: UPDATE <filename> <values> [<values> ...]", nil
		}
		f, ok := d.files[args[0]]
		if !ok {
			return -1, "No such file: " + args[0], nil
		}
		for _, value := range args[1:] {
			ts, _, _ := strings.Cut(value, ":")
			if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
				if n <= f.Last {
					return -1, fmt.Sprintf("illegal attempt to update using time %d when last update time is %d (minimum one second step)", n, f.Last), nil
				}
				f.Last = n
			}
			f.Pending = append(f.Pending, value)
		}
		return 0, fmt.Sprintf("errors, enqueued %d value(s).", len(args)-1), nil

	case "CREATE":
		if len(args) < 2 {
			return -1, "Usage: CREATE <filename> [-b start] [-s step] [-O] <DS definitions> <RRA definitions>", nil
		}
		if _, ok := d.files[args[0]]; ok {
			return -1, "RRD Error: creating '" + args[0] + "': File exists", nil
		}
		if d.CreateError != "" {
			return -1, d.CreateError, nil
		}
		d.files[args[0]] = &File{Defs: slices.Clone(args[1:])}
		return 0, "RRD created OK", nil

	case "FLUSH", "WROTE", "FORGET", "PENDING", "INFO", "LAST", "FIRST", "FETCH", "FETCHBIN":
		if len(args) < 1 {
			return -1, "Usage: " + verb + " <filename>", nil
		}
		f, ok := d.files[args[0]]
		if !ok {
			return -1, "No such file: " + args[0], nil
		}
		return d.fileCommand(verb, args, f)

	case "FLUSHALL":
		for _, f := range d.files {
			f.Flushed += len(f.Pending)
			f.Pending = nil
		}
		return 0, "Started flush.", nil

	case "STATS":
		var queued, updates int
		for _, f := range d.files {
			if len(f.Pending) > 0 {
				queued++
			}
			updates += len(f.Pending) + f.Flushed
		}
		body := []string{
			fmt.Sprintf("QueueLength: %d", queued),
			fmt.Sprintf("UpdatesReceived: %d", d.counts["UPDATE"]),
			fmt.Sprintf("FlushesReceived: %d", d.counts["FLUSH"]),
			fmt.Sprintf("UpdatesWritten: %d", updates),
			fmt.Sprintf("TreeNodesNumber: %d", len(d.files)),
		}
		return len(body), "Statistics follow", body

	case "QUEUE":
		var body []string
		names := make([]string, 0, len(d.files))
		for name := range d.files {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if n := len(d.files[name].Pending); n > 0 {
				body = append(body, fmt.Sprintf("%d %s", n, name))
			}
		}
		return len(body), "in queue.", body

	case "HELP":
		body := []string{
			"Usage: rrdcached [options]",
			"Valid commands: HELP, STATS, UPDATE, CREATE, FLUSH, FLUSHALL, PENDING, FORGET, QUEUE, BATCH, QUIT",
		}
		return len(body), "Command overview", body

	default:
		return -1, "Unknown command: " + fields[0], nil
	}
}

// fileCommand must be called with the lock held.
func (d *Daemon) fileCommand(verb string, args []string, f *File) (int, string, []string) {
	switch verb {
	case "FLUSH":
		f.Flushed += len(f.Pending)
		f.Pending = nil
		return 0, "Successfully flushed " + args[0] + ".", nil
	case "WROTE":
		return 0, "Gotcha.", nil
	case "FORGET":
		f.Pending = nil
		return 0, "Gone!", nil
	case "PENDING":
		return len(f.Pending), "updates pending", slices.Clone(f.Pending)
	case "INFO":
		body := []string{
			"filename 2 " + args[0],
			"rrd_version 2 0003",
			"step 1 300",
			fmt.Sprintf("last_update 1 %d", f.Last),
		}
		return len(body), "Info for " + args[0] + " follows", body
	case "LAST":
		return 0, strconv.FormatInt(f.Last, 10), nil
	case "FIRST":
		return 0, strconv.FormatInt(f.Last-86400, 10), nil
	default: // FETCH, FETCHBIN
		start := f.Last - 600
		body := []string{
			"FlushVersion: 1",
			fmt.Sprintf("Start: %d", start),
			fmt.Sprintf("End: %d", f.Last),
			"Step: 300",
			"DSCount: 1",
			"DSName: value",
			fmt.Sprintf("%d: %0.10e", start+300, 1.0),
			fmt.Sprintf("%d: %0.10e", start+600, 2.0),
		}
		return len(body), "Success", body
	}
}

// WaitConnections waits until the daemon has exactly n open connections.
func (d *Daemon) WaitConnections(t testing.TB, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.Connections() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connections, got %d", n, d.Connections())
}
