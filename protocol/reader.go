package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxBodyPrealloc caps the body slice preallocation, the announced line
// count comes from the network.
const maxBodyPrealloc = 256

// ReadResponse reads a single response from r.
// Response format: <code> <message>\n[<line>\n]*code
//
// The status line is always read. When the code is positive, exactly that
// many body lines are read; nothing beyond the announced lines is consumed,
// so the next response on r stays aligned.
//
// A negative code is NOT returned as a Go error: the daemon's answer is in
// Response.Status and the caller decides (see NewServerError).
//
// Go errors returned:
//   - *ConnectionError: I/O failure, or the stream ended before the
//     announced body lines (wraps io.ErrUnexpectedEOF)
//   - *ParseError: the status line is not "<integer> <message>"
func ReadResponse(r *bufio.Reader) (*Response, error) {
	status, err := ReadStatus(r)
	if err != nil {
		return nil, err
	}

	resp := &Response{Status: status}
	if status.Code <= 0 {
		return resp, nil
	}

	resp.Body = make([]string, 0, min(status.Code, maxBodyPrealloc))
	for i := 0; i < status.Code; i++ {
		line, err := readLine(r)
		if err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) && errors.Is(connErr.Err, io.EOF) {
				// EOF before the announced count is a short read
				return nil, &ConnectionError{
					Op:  "read",
					Err: fmt.Errorf("%w: got %d of %d body lines", io.ErrUnexpectedEOF, i, status.Code),
				}
			}
			return nil, err
		}
		resp.Body = append(resp.Body, line)
	}

	return resp, nil
}

// ReadStatus reads and parses one status line.
func ReadStatus(r *bufio.Reader) (Status, error) {
	line, err := readLine(r)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(line)
}

// ParseStatus parses "<code> <message>". The message is trimmed; a line
// holding only the code yields an empty message.
func ParseStatus(line string) (Status, error) {
	line = strings.TrimRight(line, "\r\n")

	codeText, message, _ := strings.Cut(line, Space)
	if codeText == "" {
		return Status{}, &ParseError{Message: "empty status line", Line: line}
	}

	code, err := strconv.Atoi(codeText)
	if err != nil {
		return Status{}, &ParseError{Message: "invalid status code", Line: line, Err: err}
	}

	return Status{Code: code, Message: strings.TrimSpace(message)}, nil
}

// readLine reads one LF terminated line and strips the terminator
// (and a preceding CR). A line cut short by EOF is a short read.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", &ConnectionError{Op: "read", Err: io.ErrUnexpectedEOF}
		}
		return "", &ConnectionError{Op: "read", Err: err}
	}

	line = line[:len(line)-1]
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}
