package protocol

import (
	"bytes"
	"io"
	"sync"
)

// Buffer pool for building command lines
var bufferPool = sync.Pool{
	New: func() any {
		// Typical update line is well under 128 bytes
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}

func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 64*1024 {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// AppendCommand appends the wire form of cmd, LF terminated, to dst.
//
// Arguments are written verbatim: whitespace or newlines inside file names
// or values are not escaped and produce a malformed line.
func AppendCommand(dst []byte, cmd Command) []byte {
	dst = append(dst, cmd.Verb()...)
	dst = cmd.appendArgs(dst)
	return append(dst, LF...)
}

// AppendBatch appends a complete batch body: one line per command in
// order, followed by the terminator line. The opening BATCH line is not
// included, it is acknowledged separately by the daemon.
func AppendBatch(dst []byte, cmds []BatchCommand) []byte {
	for _, cmd := range cmds {
		dst = AppendCommand(dst, cmd)
	}
	dst = append(dst, BatchTerminator...)
	return append(dst, LF...)
}

// WriteCommand serializes cmd and writes it to w as a single write.
//
// A *bufio.Writer is not flushed, the caller decides when the line
// leaves the process. Write failures are returned as *ConnectionError.
func WriteCommand(w io.Writer, cmd Command) error {
	buf := getBuffer()
	defer putBuffer(buf)

	buf.Write(AppendCommand(buf.AvailableBuffer(), cmd))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// WriteBatch writes the batch body for cmds (see AppendBatch) as a single write.
func WriteBatch(w io.Writer, cmds []BatchCommand) error {
	buf := getBuffer()
	defer putBuffer(buf)

	buf.Write(AppendBatch(buf.AvailableBuffer(), cmds))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// WriteBatchBegin writes the line opening a batch block.
func WriteBatchBegin(w io.Writer) error {
	if _, err := io.WriteString(w, string(VerbBatch)+LF); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}
