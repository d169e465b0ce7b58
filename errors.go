package rrdcached

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pior/rrdcached/protocol"
)

// ProtocolError is a failure reported by the daemon (negative status code).
// Code and Message are preserved verbatim; Subject names the file when known.
type ProtocolError = protocol.ServerError

// TransportError is a failure of the underlying connection: refused, closed,
// timed out, or a response cut short. The session is unusable afterwards.
type TransportError = protocol.ConnectionError

var (
	// ErrSessionClosed is returned by operations on a session that was
	// closed, quit, or broken by a transport error.
	ErrSessionClosed = errors.New("rrdcached: session closed")

	// ErrNoServers is returned when the client has no daemon to route to.
	ErrNoServers = errors.New("rrdcached: no servers available")
)

// ModeError is returned when a command is issued in the wrong mode: any
// immediate command while a batch is open, a second BATCH, or queueing on a
// batch that is not open.
type ModeError struct {
	Op     string // Operation attempted, e.g. "STATS" or "enqueue"
	Reason string
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("rrdcached: %s not allowed: %s", e.Op, e.Reason)
}

// ShouldCloseConnection returns false - rejected before touching the transport
func (e *ModeError) ShouldCloseConnection() bool {
	return false
}

// MissingCreateParametersError is returned when a file must be created but
// neither explicit definitions nor session defaults are available. Nothing
// is sent to the daemon.
type MissingCreateParametersError struct {
	File string
}

func (e *MissingCreateParametersError) Error() string {
	return "rrdcached: missing definitions to create " + e.File +
		": set Config.DefaultCreateDefs or pass definitions explicitly"
}

// ShouldCloseConnection returns false - rejected before touching the transport
func (e *MissingCreateParametersError) ShouldCloseConnection() bool {
	return false
}

// ResultError is returned when a complete response carries a body or
// message that cannot be decoded, e.g. a STATS line without separator. The
// response was fully read, so the session stays usable.
type ResultError struct {
	Message string
	Line    string // Offending line
	Err     error  // Underlying error, if any
}

func (e *ResultError) Error() string {
	msg := fmt.Sprintf("rrdcached: %s (line %q)", e.Message, e.Line)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResultError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns false - the stream is still in sync
func (e *ResultError) ShouldCloseConnection() bool {
	return false
}

// CreateFailedError is returned when a create needed by a batch or by the
// auto-create recovery fails for a reason other than "file exists".
type CreateFailedError struct {
	File string
	Err  error
}

func (e *CreateFailedError) Error() string {
	return fmt.Sprintf("rrdcached: error creating file %s: %v", e.File, e.Err)
}

func (e *CreateFailedError) Unwrap() error {
	return e.Err
}

// RecoveryExhaustedError is returned when an update still fails after the
// single create-then-retry cycle. Err is the ProtocolError of the retry.
type RecoveryExhaustedError struct {
	File string
	Err  error
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("rrdcached: update of %s failed after auto-create: %v", e.File, e.Err)
}

func (e *RecoveryExhaustedError) Unwrap() error {
	return e.Err
}

// BatchFailure is one queued command that failed and was not recovered.
type BatchFailure struct {
	Index   int // 1-based position in the batch
	Command protocol.BatchCommand
	Err     error
}

// BatchError is returned by Commit when some queued commands failed.
// Every command was submitted; the failures are listed in queue order.
type BatchError struct {
	Failures []BatchFailure
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rrdcached: %d batch command(s) failed", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; #%d %s %s: %v", f.Index, f.Command.Verb(), f.Command.Filename(), f.Err)
	}
	return b.String()
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// IsFileExists reports whether err is a ProtocolError for an existing file.
func IsFileExists(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.IsFileExists()
}

// IsMissingFile reports whether err is a ProtocolError for a missing file.
func IsMissingFile(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.IsMissingFile()
}
