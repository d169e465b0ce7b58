package protocol

import (
	"strconv"
	"strings"
)

// Status is the first line of every response: "<code> <message>".
//
// A positive Code announces that many body lines. Zero means success
// without body, a negative code is an error described by Message.
type Status struct {
	Code    int
	Message string
}

// String formats the status as it appears on the wire, without terminator.
func (s Status) String() string {
	if s.Message == "" {
		return strconv.Itoa(s.Code)
	}
	return strconv.Itoa(s.Code) + Space + s.Message
}

// IsError returns true for negative status codes.
func (s Status) IsError() bool {
	return s.Code < 0
}

// Failed returns true for any non-zero code. Used for the per-command
// lines of a batch reply, where zero is the only success value.
func (s Status) Failed() bool {
	return s.Code != 0
}

// Response is a parsed response: status line plus Status.Code body lines
// when the code is positive.
type Response struct {
	Status Status

	// Body holds the body lines in receipt order, without terminators.
	// Empty when Status.Code <= 0.
	Body []string
}

// Text returns the body lines joined with LF, each line terminated.
// When there is no body, the status message is returned instead.
func (r *Response) Text() string {
	if len(r.Body) == 0 {
		return r.Status.Message
	}

	var b strings.Builder
	for _, line := range r.Body {
		b.WriteString(line)
		b.WriteString(LF)
	}
	return b.String()
}

// IsMissingFile reports whether a daemon message signals that the
// targeted file does not exist.
func IsMissingFile(message string) bool {
	return containsFold(message, MessageNoSuchFile)
}

// IsFileExists reports whether a daemon message signals that the
// targeted file already exists. The match is case-insensitive.
func IsFileExists(message string) bool {
	return containsFold(message, MessageFileExists)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
