package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// BatchReply is the aggregate answer to a batch block.
type BatchReply struct {
	// Status is the first line of the reply.
	Status Status

	// Results holds one status per queued command, Results[i] belongs to
	// command i+1. Nil when the whole batch succeeded.
	Results []Status
}

// Success reports whether the daemon answered the batch with a single
// zero status line: every queued command succeeded.
func (b *BatchReply) Success() bool {
	return b.Results == nil
}

// ReadBatchReply reads the reply to a batch block of queued commands.
//
// Three reply shapes are accepted:
//
//	0 <message>                  whole batch succeeded, nothing else is read
//	<N> errors                   summary: N lines "<index> <message>" follow,
//	<index> <message>            one per failed command (index is 1-based)
//	...
//	<code> <message>             per-command: exactly one status line per
//	<code> <message>             queued command, in submission order
//	...
//
// In the summary form, commands without a line succeeded and failed ones get
// CodeError. In the per-command form, the leading integer of line i is the
// result of command i.
func ReadBatchReply(r *bufio.Reader, queued int) (*BatchReply, error) {
	first, err := ReadStatus(r)
	if err != nil {
		return nil, err
	}

	reply := &BatchReply{Status: first}
	if first.Code == 0 {
		return reply, nil
	}

	if isErrorSummary(first) {
		return readErrorSummary(r, reply, queued)
	}

	if queued == 0 {
		return nil, &ParseError{Message: "batch reply for an empty batch", Line: first.String()}
	}

	reply.Results = make([]Status, 0, queued)
	reply.Results = append(reply.Results, first)
	for len(reply.Results) < queued {
		st, err := ReadStatus(r)
		if err != nil {
			return nil, shortBatch(err, len(reply.Results), queued)
		}
		reply.Results = append(reply.Results, st)
	}

	return reply, nil
}

func isErrorSummary(st Status) bool {
	return st.Code > 0 && strings.EqualFold(st.Message, MessageErrors)
}

func readErrorSummary(r *bufio.Reader, reply *BatchReply, queued int) (*BatchReply, error) {
	count := reply.Status.Code

	reply.Results = make([]Status, queued)
	for i := 0; i < count; i++ {
		line, err := readLine(r)
		if err != nil {
			return nil, shortBatch(err, i, count)
		}

		indexText, message, _ := strings.Cut(line, Space)
		index, err := strconv.Atoi(indexText)
		if err != nil {
			return nil, &ParseError{Message: "invalid command index in batch reply", Line: line, Err: err}
		}
		if index < 1 || index > queued {
			return nil, &ParseError{Message: fmt.Sprintf("batch reply index out of range 1..%d", queued), Line: line}
		}

		reply.Results[index-1] = Status{Code: CodeError, Message: strings.TrimSpace(message)}
	}

	return reply, nil
}

// shortBatch turns an EOF in the middle of a batch reply into a short read.
func shortBatch(err error, got, want int) error {
	var connErr *ConnectionError
	if errors.As(err, &connErr) && errors.Is(connErr.Err, io.EOF) {
		return &ConnectionError{
			Op:  "read",
			Err: fmt.Errorf("%w: got %d of %d batch reply lines", io.ErrUnexpectedEOF, got, want),
		}
	}
	return err
}
