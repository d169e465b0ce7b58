package protocol

// Verb is the leading keyword of a command line.
type Verb string

// Protocol delimiters
const (
	// LF terminates every command and response line.
	// Responses terminated by CRLF are accepted as well.
	LF = "\n"

	// Space separates command tokens
	Space = " "

	// ValueSeparator joins the timestamp and values of an update
	ValueSeparator = ":"
)

// Command verbs
const (
	// VerbUpdate appends values to the cache of a file.
	//
	// Wire format: UPDATE <file> <timestamp>:<value>[:<value>...]\n
	// Response: 0 errors, enqueued N value(s).
	// Missing file: -1 No such file: <file>
	VerbUpdate Verb = "UPDATE"

	// VerbCreate creates a new RRD file.
	//
	// Wire format: CREATE <file> [-s <step>] [-b <begin>] [-O] <DS:...> <RRA:...>\n
	// Existing file: -1 ... File exists
	VerbCreate Verb = "CREATE"

	// VerbFlush writes all pending updates of a file to disk.
	//
	// Wire format: FLUSH <file>\n
	VerbFlush Verb = "FLUSH"

	// VerbWrote tells the daemon that a file was written to disk by someone
	// else, so the cached values can be dropped.
	//
	// Wire format: WROTE <file>\n
	VerbWrote Verb = "WROTE"

	// VerbForget removes a file from the cache without writing pending values.
	//
	// Wire format: FORGET <file>\n
	VerbForget Verb = "FORGET"

	// VerbPending lists the updates pending for a file.
	//
	// Wire format: PENDING <file>\n
	// Response: <N> updates pending, followed by N lines
	VerbPending Verb = "PENDING"

	// VerbInfo returns the header information of a file.
	//
	// Wire format: INFO <file>\n
	// Response: <N> Info for <file> follows, followed by N "<key> <type> <value>" lines
	VerbInfo Verb = "INFO"

	// VerbFirst returns the timestamp of the first value of an archive.
	//
	// Wire format: FIRST <file> [<rra-index>]\n
	// Response: 0 <timestamp>
	VerbFirst Verb = "FIRST"

	// VerbLast returns the timestamp of the last update.
	//
	// Wire format: LAST <file>\n
	// Response: 0 <timestamp>
	VerbLast Verb = "LAST"

	// VerbFetch reads data from a file.
	//
	// Wire format: FETCH <file> <CF> [<start> [<end>]]\n
	VerbFetch Verb = "FETCH"

	// VerbFetchBin reads data from a file, values encoded in binary.
	//
	// Wire format: FETCHBIN <file> <CF> [<start> [<end>]]\n
	VerbFetchBin Verb = "FETCHBIN"

	// VerbHelp returns usage information, optionally for a single command.
	//
	// Wire format: HELP [<command>]\n
	VerbHelp Verb = "HELP"

	// VerbStats returns daemon counters, one "Name: value" per body line.
	VerbStats Verb = "STATS"

	// VerbQueue lists the files in the write queue.
	VerbQueue Verb = "QUEUE"

	// VerbFlushAll flushes every cached file.
	VerbFlushAll Verb = "FLUSHALL"

	// VerbQuit ends the connection. The daemon closes without a reply.
	VerbQuit Verb = "QUIT"

	// VerbBatch opens a batch block. Commands up to the terminator line are
	// answered as a whole once the terminator is received.
	VerbBatch Verb = "BATCH"

	// BatchTerminator closes a batch block.
	BatchTerminator = "."
)

// Result codes
const (
	// CodeOK is the status code of a successful command without body.
	CodeOK = 0

	// CodeError is the status code used by the daemon for every failure.
	CodeError = -1
)

// Message fragments the daemon uses in free-text error messages.
// The daemon's messages are not a stable contract, matching is a
// case-insensitive substring test.
const (
	// MessageNoSuchFile is reported when an update targets a missing file.
	MessageNoSuchFile = "no such file"

	// MessageFileExists is reported when a create targets an existing file.
	MessageFileExists = "file exists"

	// MessageErrors is the message of the summary line sent at the end
	// of a batch: "<N> errors".
	MessageErrors = "errors"
)

// Network defaults
const (
	// DefaultPort is the TCP port rrdcached listens on.
	DefaultPort = "42217"

	// DefaultSocket is the conventional UNIX socket address.
	DefaultSocket = "unix:///var/run/rrdcached.sock"
)
