package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"
)

func TestWriteCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected string
	}{
		{
			name:     "update with joined values",
			cmd:      Update{File: "a.rrd", Values: []string{"123:4"}},
			expected: "UPDATE a.rrd 123:4\n",
		},
		{
			name:     "update with separate values",
			cmd:      Update{File: "a.rrd", Values: []string{"123", "4", "U"}},
			expected: "UPDATE a.rrd 123:4:U\n",
		},
		{
			name:     "create",
			cmd:      Create{File: "a.rrd", Defs: []string{"-s", "300", "DS:v:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:288"}},
			expected: "CREATE a.rrd -s 300 DS:v:GAUGE:600:U:U RRA:AVERAGE:0.5:1:288\n",
		},
		{
			name:     "create without defs",
			cmd:      Create{File: "a.rrd"},
			expected: "CREATE a.rrd\n",
		},
		{name: "flush", cmd: Flush{File: "a.rrd"}, expected: "FLUSH a.rrd\n"},
		{name: "wrote", cmd: Wrote{File: "a.rrd"}, expected: "WROTE a.rrd\n"},
		{name: "forget", cmd: Forget{File: "a.rrd"}, expected: "FORGET a.rrd\n"},
		{name: "pending", cmd: Pending{File: "a.rrd"}, expected: "PENDING a.rrd\n"},
		{name: "info", cmd: Info{File: "a.rrd"}, expected: "INFO a.rrd\n"},
		{name: "first default archive", cmd: First{File: "a.rrd"}, expected: "FIRST a.rrd 0\n"},
		{name: "first archive", cmd: First{File: "a.rrd", RRA: 2}, expected: "FIRST a.rrd 2\n"},
		{name: "last", cmd: Last{File: "a.rrd"}, expected: "LAST a.rrd\n"},
		{
			name:     "fetch",
			cmd:      Fetch{File: "a.rrd", Options: []string{"AVERAGE", "1700000000", "1700003600"}},
			expected: "FETCH a.rrd AVERAGE 1700000000 1700003600\n",
		},
		{
			name:     "fetchbin",
			cmd:      FetchBin{File: "a.rrd", Options: []string{"MAX"}},
			expected: "FETCHBIN a.rrd MAX\n",
		},
		{name: "help", cmd: Help{}, expected: "HELP\n"},
		{name: "help topic", cmd: Help{Topic: "UPDATE"}, expected: "HELP UPDATE\n"},
		{name: "stats", cmd: Stats{}, expected: "STATS\n"},
		{name: "queue", cmd: Queue{}, expected: "QUEUE\n"},
		{name: "flushall", cmd: FlushAll{}, expected: "FLUSHALL\n"},
		{name: "quit", cmd: Quit{}, expected: "QUIT\n"},
		{
			name:     "no escaping of whitespace",
			cmd:      Flush{File: "my file.rrd"},
			expected: "FLUSH my file.rrd\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteCommand(&buf, tt.cmd); err != nil {
				t.Fatalf("WriteCommand failed: %v", err)
			}
			if got := buf.String(); got != tt.expected {
				t.Errorf("WriteCommand() = %q, want %q", got, tt.expected)
			}

			if got := string(AppendCommand(nil, tt.cmd)); got != tt.expected {
				t.Errorf("AppendCommand() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWriteBatch(t *testing.T) {
	t.Run("commands then terminator", func(t *testing.T) {
		var buf bytes.Buffer
		err := WriteBatch(&buf, []BatchCommand{
			Create{File: "a.rrd", Defs: []string{"DS:v:GAUGE:600:U:U"}},
			Update{File: "a.rrd", Values: []string{"123:4"}},
			Flush{File: "a.rrd"},
		})
		if err != nil {
			t.Fatalf("WriteBatch failed: %v", err)
		}

		expected := "CREATE a.rrd DS:v:GAUGE:600:U:U\nUPDATE a.rrd 123:4\nFLUSH a.rrd\n.\n"
		if got := buf.String(); got != expected {
			t.Errorf("WriteBatch() = %q, want %q", got, expected)
		}
	})

	t.Run("empty batch sends only the terminator", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteBatch(&buf, nil); err != nil {
			t.Fatalf("WriteBatch failed: %v", err)
		}
		if got := buf.String(); got != ".\n" {
			t.Errorf("WriteBatch() = %q, want %q", got, ".\n")
		}
	})

	t.Run("begin", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteBatchBegin(&buf); err != nil {
			t.Fatalf("WriteBatchBegin failed: %v", err)
		}
		if got := buf.String(); got != "BATCH\n" {
			t.Errorf("WriteBatchBegin() = %q, want %q", got, "BATCH\n")
		}
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteCommandError(t *testing.T) {
	err := WriteCommand(failingWriter{}, Stats{})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if connErr.Op != "write" {
		t.Errorf("Op = %q, want %q", connErr.Op, "write")
	}
	if !ShouldCloseConnection(err) {
		t.Error("write errors must close the connection")
	}
}

func TestNewUpdate(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	upd := NewUpdate("cpu.rrd", ts, 0.5, 12, math.NaN())

	got := string(AppendCommand(nil, upd))
	expected := "UPDATE cpu.rrd 1700000000:0.5:12:U\n"
	if got != expected {
		t.Errorf("NewUpdate encoded = %q, want %q", got, expected)
	}
}

func TestBatchCommandFilename(t *testing.T) {
	cmds := []BatchCommand{
		Update{File: "u.rrd"},
		Create{File: "c.rrd"},
		Flush{File: "f.rrd"},
		Wrote{File: "w.rrd"},
		Forget{File: "g.rrd"},
	}
	expected := []string{"u.rrd", "c.rrd", "f.rrd", "w.rrd", "g.rrd"}

	for i, cmd := range cmds {
		if got := cmd.Filename(); got != expected[i] {
			t.Errorf("%s Filename() = %q, want %q", cmd.Verb(), got, expected[i])
		}
	}
}
