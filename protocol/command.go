package protocol

import (
	"math"
	"strconv"
	"time"
)

// Command is a single rrdcached command.
//
// The set of commands is closed: Update, Create, Flush, Wrote, Forget,
// Pending, Info, First, Last, Fetch, FetchBin, Help, Stats, Queue, FlushAll
// and Quit. Commands are plain values without behaviour; serialization is
// done by WriteCommand and AppendCommand.
type Command interface {
	// Verb returns the leading keyword of the command line.
	Verb() Verb

	// appendArgs appends the space-prefixed arguments of the command.
	appendArgs(dst []byte) []byte
}

// BatchCommand is a Command that may be queued inside a BATCH block:
// Update, Create, Flush, Wrote and Forget.
type BatchCommand interface {
	Command

	// Filename returns the file the command targets.
	Filename() string

	batchable()
}

// Update appends values to the cache of File.
//
// Values are joined with ':' on the wire, so both
// Update{File: "a.rrd", Values: []string{"123:4"}} and
// Update{File: "a.rrd", Values: []string{"123", "4"}} encode to
// "UPDATE a.rrd 123:4".
type Update struct {
	File   string
	Values []string
}

// NewUpdate builds an Update from a timestamp and numeric values.
// NaN values are sent as "U" (unknown).
func NewUpdate(file string, ts time.Time, values ...float64) Update {
	tokens := make([]string, 0, len(values)+1)
	tokens = append(tokens, strconv.FormatInt(ts.Unix(), 10))
	for _, v := range values {
		tokens = append(tokens, FormatValue(v))
	}
	return Update{File: file, Values: tokens}
}

// FormatValue formats a sample value for an update.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return "U"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (Update) Verb() Verb { return VerbUpdate }

func (c Update) Filename() string { return c.File }

func (c Update) appendArgs(dst []byte) []byte {
	dst = appendToken(dst, c.File)
	for i, v := range c.Values {
		if i == 0 {
			dst = append(dst, Space...)
		} else {
			dst = append(dst, ValueSeparator...)
		}
		dst = append(dst, v...)
	}
	return dst
}

func (Update) batchable() {}

// Create creates File with the given definition tokens
// (e.g. "-s", "300", "DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:288").
type Create struct {
	File string
	Defs []string
}

func (Create) Verb() Verb { return VerbCreate }

func (c Create) Filename() string { return c.File }

func (c Create) appendArgs(dst []byte) []byte {
	dst = appendToken(dst, c.File)
	for _, d := range c.Defs {
		dst = appendToken(dst, d)
	}
	return dst
}

func (Create) batchable() {}

// Flush writes the pending updates of File to disk.
type Flush struct{ File string }

func (Flush) Verb() Verb { return VerbFlush }
func (c Flush) Filename() string { return c.File }
func (c Flush) appendArgs(dst []byte) []byte { return appendToken(dst, c.File) }
func (Flush) batchable() {}

// Wrote signals that File was written to disk by another process.
type Wrote struct{ File string }

func (Wrote) Verb() Verb { return VerbWrote }
func (c Wrote) Filename() string { return c.File }
func (c Wrote) appendArgs(dst []byte) []byte { return appendToken(dst, c.File) }
func (Wrote) batchable() {}

// Forget drops File from the cache, discarding its pending updates.
type Forget struct{ File string }

func (Forget) Verb() Verb { return VerbForget }
func (c Forget) Filename() string { return c.File }
func (c Forget) appendArgs(dst []byte) []byte { return appendToken(dst, c.File) }
func (Forget) batchable() {}

// Pending lists the updates cached for File.
type Pending struct{ File string }

func (Pending) Verb() Verb { return VerbPending }
func (c Pending) appendArgs(dst []byte) []byte { return appendToken(dst, c.File) }

// Info requests the header information of File.
type Info struct{ File string }

func (Info) Verb() Verb { return VerbInfo }
func (c Info) appendArgs(dst []byte) []byte { return appendToken(dst, c.File) }

// First requests the first timestamp of archive RRA (0-based) of File.
type First struct {
	File string
	RRA  int
}

func (First) Verb() Verb { return VerbFirst }

func (c First) appendArgs(dst []byte) []byte {
	dst = appendToken(dst, c.File)
	dst = append(dst, Space...)
	return strconv.AppendInt(dst, int64(c.RRA), 10)
}

// Last requests the timestamp of the last update of File.
type Last struct{ File string }

func (Last) Verb() Verb { return VerbLast }
func (c Last) appendArgs(dst []byte) []byte { return appendToken(dst, c.File) }

// Fetch reads File. Options are passed verbatim: the consolidation
// function first, then optional start and end times.
type Fetch struct {
	File    string
	Options []string
}

func (Fetch) Verb() Verb { return VerbFetch }

func (c Fetch) appendArgs(dst []byte) []byte {
	dst = appendToken(dst, c.File)
	for _, o := range c.Options {
		dst = appendToken(dst, o)
	}
	return dst
}

// FetchBin is Fetch with binary encoded values.
type FetchBin struct {
	File    string
	Options []string
}

func (FetchBin) Verb() Verb { return VerbFetchBin }

func (c FetchBin) appendArgs(dst []byte) []byte {
	return Fetch(c).appendArgs(dst)
}

// Help requests usage information. An empty Topic requests the command list.
type Help struct{ Topic string }

func (Help) Verb() Verb { return VerbHelp }

func (c Help) appendArgs(dst []byte) []byte {
	if c.Topic == "" {
		return dst
	}
	return appendToken(dst, c.Topic)
}

// Stats requests the daemon counters.
type Stats struct{}

func (Stats) Verb() Verb { return VerbStats }
func (Stats) appendArgs(dst []byte) []byte { return dst }

// Queue lists the files waiting to be written.
type Queue struct{}

func (Queue) Verb() Verb { return VerbQueue }
func (Queue) appendArgs(dst []byte) []byte { return dst }

// FlushAll flushes every cached file.
type FlushAll struct{}

func (FlushAll) Verb() Verb { return VerbFlushAll }
func (FlushAll) appendArgs(dst []byte) []byte { return dst }

// Quit ends the connection.
type Quit struct{}

func (Quit) Verb() Verb { return VerbQuit }
func (Quit) appendArgs(dst []byte) []byte { return dst }

func appendToken(dst []byte, token string) []byte {
	dst = append(dst, Space...)
	return append(dst, token...)
}

var (
	_ BatchCommand = Update{}
	_ BatchCommand = Create{}
	_ BatchCommand = Flush{}
	_ BatchCommand = Wrote{}
	_ BatchCommand = Forget{}

	_ Command = Pending{}
	_ Command = Info{}
	_ Command = First{}
	_ Command = Last{}
	_ Command = Fetch{}
	_ Command = FetchBin{}
	_ Command = Help{}
	_ Command = Stats{}
	_ Command = Queue{}
	_ Command = FlushAll{}
	_ Command = Quit{}
)
