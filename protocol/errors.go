package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

// Error types for rrdcached protocol operations.
// Each type tells the caller whether the connection is still usable.

// ServerError is a failure reported by the daemon: a negative status code.
// The protocol state is intact, the connection can be REUSED.
//
// Code and Message are the daemon's values, unmodified. Subject is an
// optional client-side annotation, usually the file name.
type ServerError struct {
	Code    int
	Message string
	Subject string
}

func (e *ServerError) Error() string {
	msg := "rrdcached: " + e.Message
	if e.Subject != "" {
		msg += ": " + e.Subject
	}
	return msg + " (code " + strconv.Itoa(e.Code) + ")"
}

// ShouldCloseConnection returns false - server errors don't corrupt protocol state
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// IsMissingFile reports whether the daemon rejected the command because
// the file does not exist.
func (e *ServerError) IsMissingFile() bool {
	return IsMissingFile(e.Message)
}

// IsFileExists reports whether the daemon rejected a create because the
// file already exists.
func (e *ServerError) IsFileExists() bool {
	return IsFileExists(e.Message)
}

// NewServerError builds a ServerError from a status line.
func NewServerError(status Status, subject string) *ServerError {
	return &ServerError{Code: status.Code, Message: status.Message, Subject: subject}
}

// ParseError represents a client-side parsing failure: the daemon sent
// something that is not a valid status line or batch reply.
//
// Connection handling: Connection should be CLOSED as state is uncertain
type ParseError struct {
	Message string
	Line    string // Offending line, if any
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	msg := "parse error: " + e.Message
	if e.Line != "" {
		msg += fmt.Sprintf(" (line %q)", e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - parse errors indicate corrupted state
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps I/O errors of the underlying byte stream: refused
// or closed connections, deadlines, and short reads (a response that ends
// before its announced body lines arrived).
//
// Connection handling: Connection is already broken, CLOSE and potentially RECONNECT
type ConnectionError struct {
	Op  string // Operation that failed (dial, read, write)
	Err error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is an interface for errors that indicate
// whether the connection should be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection is a helper function to determine if an error
// requires closing the connection.
//
// Returns false for nil and for errors reporting a usable connection
// (ServerError and client-side validation errors). Unknown errors are
// treated conservatively and return true.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	// Unknown error type - be conservative and close connection
	return true
}
