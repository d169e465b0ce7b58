package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"
)

func BenchmarkReadResponse(b *testing.B) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "Status",
			input: "0 errors, enqueued 1 value(s).\n",
		},
		{
			name:  "Error",
			input: "-1 No such file: /var/lib/rrd/a.rrd\n",
		},
		{
			name:  "SmallBody",
			input: "2 Statistics follow\nQueueLength: 0\nUpdatesReceived: 42\n",
		},
		{
			name:  "LargeBody",
			input: "1000 updates pending\n" + strings.Repeat("1700000000:1:2:3\n", 1000),
		},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			for b.Loop() {
				reader := bufio.NewReader(strings.NewReader(tt.input))
				ReadResponse(reader)
			}
		})
	}
}

func BenchmarkReadBatchReply(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("100 errors\n")
	for i := 1; i <= 100; i++ {
		sb.WriteString(strconv.Itoa(i) + " No such file: f" + strconv.Itoa(i) + ".rrd\n")
	}
	input := sb.String()

	for b.Loop() {
		reader := bufio.NewReader(strings.NewReader(input))
		ReadBatchReply(reader, 100)
	}
}

func BenchmarkWriteCommand(b *testing.B) {
	ts := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		cmd  Command
	}{
		{
			name: "Update",
			cmd:  NewUpdate("/var/lib/rrd/host/cpu.rrd", ts, 1.5, 2.25, 3),
		},
		{
			name: "Create",
			cmd:  Create{File: "/var/lib/rrd/host/cpu.rrd", Defs: []string{"-s", "60", "DS:v:GAUGE:120:U:U", "RRA:AVERAGE:0.5:1:1440"}},
		},
		{
			name: "Flush",
			cmd:  Flush{File: "/var/lib/rrd/host/cpu.rrd"},
		},
		{
			name: "Stats",
			cmd:  Stats{},
		},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			w := bufio.NewWriter(io.Discard)
			for b.Loop() {
				WriteCommand(w, tt.cmd)
			}
		})
	}
}

func BenchmarkWriteBatch(b *testing.B) {
	ts := time.Unix(1700000000, 0)
	cmds := make([]BatchCommand, 100)
	for i := range cmds {
		cmds[i] = NewUpdate("/var/lib/rrd/f"+strconv.Itoa(i)+".rrd", ts, float64(i))
	}

	w := bufio.NewWriter(io.Discard)
	for b.Loop() {
		WriteBatch(w, cmds)
	}
}
