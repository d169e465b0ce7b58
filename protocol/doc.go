// Package protocol provides a low-level wire implementation of the
// rrdcached control protocol.
//
// This package serves as a foundation for rrdcached clients. It covers
// command serialization and response parsing only; connection management,
// batch state and recovery policies live in the parent package.
//
// # Core Types
//
//   - Command: a closed set of command values (Update, Create, Flush, ...)
//   - BatchCommand: the commands allowed inside a BATCH block
//   - Status: a "<code> <message>" status line
//   - Response: a status line plus its body lines
//   - BatchReply: the aggregate answer to a batch block
//
// # Serialization and Parsing
//
// WriteCommand serializes a command to wire format:
//
//	err := protocol.WriteCommand(conn, protocol.Update{File: "cpu.rrd", Values: []string{"1700000000", "0.5"}})
//	// UPDATE cpu.rrd 1700000000:0.5\n
//
// ReadResponse parses a response. It reads exactly as many body lines as
// the status code announces and never more:
//
//	resp, err := protocol.ReadResponse(bufio.NewReader(conn))
//	if err != nil {
//	    if protocol.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//	if resp.Status.IsError() {
//	    return protocol.NewServerError(resp.Status, "cpu.rrd")
//	}
//
// # Batch Operations
//
//	protocol.WriteBatchBegin(conn)
//	protocol.ReadResponse(r) // 0 Go ahead.  End with dot '.' on its own line.
//	protocol.WriteBatch(conn, []protocol.BatchCommand{upd1, upd2})
//	reply, err := protocol.ReadBatchReply(r, 2)
//	if !reply.Success() {
//	    for i, st := range reply.Results {
//	        if st.Failed() { ... } // command i+1 failed
//	    }
//	}
//
// # Error Handling
//
//   - ServerError: negative status from the daemon, connection can be REUSED
//   - ParseError: malformed status line, CLOSE connection
//   - ConnectionError: I/O error or short read, connection already broken
//
// Use ShouldCloseConnection to determine error handling strategy.
//
// # Thread Safety
//
// Commands and responses are plain values. WriteCommand and ReadResponse
// are safe for concurrent use as long as each goroutine uses its own
// io.Writer/bufio.Reader. The protocol has no pipelining: a second command
// must not be written before the previous response was fully read.
package protocol
