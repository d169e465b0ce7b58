package rrdcached

import (
	"context"
	"fmt"

	"github.com/pior/rrdcached/protocol"
	"go.uber.org/zap"
)

// BatchState is the state of a batch transaction.
type BatchState int

const (
	BatchIdle       BatchState = iota // not open, or closed by Commit
	BatchOpen                         // accepting queued commands
	BatchCommitting                   // block written, reply being read
)

func (s BatchState) String() string {
	switch s {
	case BatchIdle:
		return "idle"
	case BatchOpen:
		return "open"
	case BatchCommitting:
		return "committing"
	default:
		return fmt.Sprintf("BatchState(%d)", int(s))
	}
}

// Outcome is the resolved result of one queued command.
type Outcome int

const (
	OutcomeOK        Outcome = iota // accepted by the daemon
	OutcomeExists                   // create of an existing file, ignored
	OutcomeRecovered                // update of a missing file, created and retried
	OutcomeFailed                   // failed, see BatchEntry.Err
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeExists:
		return "exists"
	case OutcomeRecovered:
		return "recovered"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// BatchEntry is the result of one queued command.
type BatchEntry struct {
	Index   int // 1-based position in the batch
	Command protocol.BatchCommand
	Status  protocol.Status // correlated reply line, zero when the batch succeeded as a whole
	Outcome Outcome
	Err     error
}

// BatchResult is the outcome of a commit, one entry per queued command.
type BatchResult struct {
	Reply   *protocol.BatchReply
	Entries []BatchEntry
}

type queuedCommand struct {
	cmd        protocol.BatchCommand
	createDefs []string // used to recover an Update of a missing file
}

// Batch queues commands client-side and submits them as one BATCH block.
//
// States go Idle -> Open -> Committing -> Idle. While the batch is open the
// session refuses every other command: the daemon reads the connection as
// batch lines until the terminator.
type Batch struct {
	session *Session
	state   BatchState
	queue   []queuedCommand
}

// Begin opens a batch: BATCH is sent and its acceptance line read. A second
// Begin before Commit fails with *ModeError.
func (s *Session) Begin(ctx context.Context) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.batch != nil {
		return nil, &ModeError{Op: string(protocol.VerbBatch), Reason: "a batch is already open"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.setDeadline(ctx)

	if err := protocol.WriteBatchBegin(s.writer); err != nil {
		s.breakOn(err)
		return nil, err
	}
	if err := s.writer.Flush(); err != nil {
		err = &protocol.ConnectionError{Op: "write", Err: err}
		s.breakOn(err)
		return nil, err
	}

	st, err := protocol.ReadStatus(s.reader)
	if err != nil {
		s.breakOn(err)
		return nil, err
	}
	s.lastStatus = st
	if st.IsError() {
		return nil, protocol.NewServerError(st, "")
	}

	s.logger.Debug("batch open", zap.String("addr", s.addr))

	b := &Batch{session: s, state: BatchOpen}
	s.batch = b
	return b, nil
}

// Batch opens a batch, lets fn queue commands and commits them. When fn
// fails the queue is discarded and fn's error returned.
func (s *Session) Batch(ctx context.Context, fn func(b *Batch) error) (*BatchResult, error) {
	b, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}

	if err := fn(b); err != nil {
		_ = b.Discard(ctx)
		return nil, err
	}
	return b.Commit(ctx)
}

// State returns the current state of the batch.
func (b *Batch) State() BatchState {
	b.session.mu.Lock()
	defer b.session.mu.Unlock()
	return b.state
}

// Len returns the number of queued commands.
func (b *Batch) Len() int {
	b.session.mu.Lock()
	defer b.session.mu.Unlock()
	return len(b.queue)
}

// Enqueue appends cmd to the batch without touching the connection.
func (b *Batch) Enqueue(cmd protocol.BatchCommand) error {
	return b.enqueue(queuedCommand{cmd: cmd})
}

func (b *Batch) enqueue(q queuedCommand) error {
	b.session.mu.Lock()
	defer b.session.mu.Unlock()

	if b.state != BatchOpen {
		return &ModeError{Op: "enqueue " + string(q.cmd.Verb()), Reason: "batch is " + b.state.String()}
	}
	b.queue = append(b.queue, q)
	return nil
}

// Update queues "UPDATE file values". A missing file is created with the
// session defaults after the batch completes.
func (b *Batch) Update(file string, values ...string) error {
	return b.Enqueue(protocol.Update{File: file, Values: values})
}

// UpdateOrCreate queues upd. A missing file is created with createDefs, or
// the session defaults when empty, after the batch completes.
func (b *Batch) UpdateOrCreate(upd protocol.Update, createDefs ...string) error {
	return b.enqueue(queuedCommand{cmd: upd, createDefs: createDefs})
}

// Create queues "CREATE file defs". The definitions are resolved now, so a
// missing definition fails here with *MissingCreateParametersError.
func (b *Batch) Create(file string, defs ...string) error {
	defs, err := b.session.recovery.CreateDefs(file, defs)
	if err != nil {
		return err
	}
	return b.Enqueue(protocol.Create{File: file, Defs: defs})
}

// Flush queues "FLUSH file".
func (b *Batch) Flush(file string) error {
	return b.Enqueue(protocol.Flush{File: file})
}

// Wrote queues "WROTE file".
func (b *Batch) Wrote(file string) error {
	return b.Enqueue(protocol.Wrote{File: file})
}

// Forget queues "FORGET file".
func (b *Batch) Forget(file string) error {
	return b.Enqueue(protocol.Forget{File: file})
}

// Discard drops the queued commands and closes the batch on the wire by
// sending an empty block.
func (b *Batch) Discard(ctx context.Context) error {
	b.session.mu.Lock()
	b.queue = nil
	b.session.mu.Unlock()

	_, err := b.Commit(ctx)
	return err
}

// Commit writes every queued command followed by the terminator line and
// correlates the reply with the queue.
//
// A create of an existing file is ignored. An update of a missing file is
// recovered once the batch is closed: the file is created and the update
// sent again, in immediate mode. Any other create failure aborts with
// *CreateFailedError and no recovery. Remaining failures are returned
// together as *BatchError, alongside the full result.
func (b *Batch) Commit(ctx context.Context) (*BatchResult, error) {
	s := b.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if b.state != BatchOpen {
		return nil, &ModeError{Op: "commit", Reason: "batch is " + b.state.String()}
	}

	b.state = BatchCommitting
	queue := b.queue
	b.queue = nil

	reply, err := b.submit(ctx, queue)

	// The terminator was sent: the connection is out of batch mode.
	b.state = BatchIdle
	s.batch = nil

	if err != nil {
		s.breakOn(err)
		return nil, err
	}
	s.lastStatus = reply.Status

	s.logger.Debug("batch committed",
		zap.String("addr", s.addr),
		zap.Int("commands", len(queue)),
		zap.Int("code", reply.Status.Code),
	)

	result, missing, err := b.correlate(queue, reply)
	if err != nil {
		return result, err
	}

	for _, i := range missing {
		entry := &result.Entries[i]
		upd := entry.Command.(protocol.Update)

		err := s.recovery.recover(ctx, s, upd, queue[i].createDefs, s.logger)
		if err != nil {
			if protocol.ShouldCloseConnection(err) {
				return result, err
			}
			entry.Err = err
			continue
		}
		entry.Outcome = OutcomeRecovered
		entry.Err = nil
	}

	var failures []BatchFailure
	for _, entry := range result.Entries {
		if entry.Outcome == OutcomeFailed {
			failures = append(failures, BatchFailure{Index: entry.Index, Command: entry.Command, Err: entry.Err})
		}
	}
	if len(failures) > 0 {
		return result, &BatchError{Failures: failures}
	}
	return result, nil
}

func (b *Batch) submit(ctx context.Context, queue []queuedCommand) (*protocol.BatchReply, error) {
	s := b.session
	if err := ctx.Err(); err != nil {
		// Still in batch mode on the wire, the connection cannot be reused.
		return nil, &protocol.ConnectionError{Op: "write", Err: err}
	}
	s.setDeadline(ctx)

	cmds := make([]protocol.BatchCommand, len(queue))
	for i, q := range queue {
		cmds[i] = q.cmd
	}

	if err := protocol.WriteBatch(s.writer, cmds); err != nil {
		return nil, err
	}
	if err := s.writer.Flush(); err != nil {
		return nil, &protocol.ConnectionError{Op: "write", Err: err}
	}

	return protocol.ReadBatchReply(s.reader, len(cmds))
}

// correlate maps reply line i onto queued command i. Updates to recover are
// marked failed until recovery succeeds; their indexes are returned. A
// create that failed for another reason than an existing file is fatal:
// the first *CreateFailedError is returned and nothing is recovered.
func (b *Batch) correlate(queue []queuedCommand, reply *protocol.BatchReply) (*BatchResult, []int, error) {
	s := b.session
	result := &BatchResult{Reply: reply, Entries: make([]BatchEntry, len(queue))}

	var missing []int
	var fatal error
	for i, q := range queue {
		entry := &result.Entries[i]
		entry.Index = i + 1
		entry.Command = q.cmd

		if reply.Success() {
			continue
		}

		st := reply.Results[i]
		entry.Status = st
		if !st.Failed() {
			continue
		}

		switch cmd := q.cmd.(type) {
		case protocol.Create:
			if protocol.IsFileExists(st.Message) {
				s.logger.Debug("ignoring create of existing file", zap.String("file", cmd.File))
				entry.Outcome = OutcomeExists
				continue
			}
			entry.Outcome = OutcomeFailed
			entry.Err = &CreateFailedError{File: cmd.File, Err: batchLineError(st, cmd.File)}
			if fatal == nil {
				fatal = entry.Err
			}

		case protocol.Update:
			entry.Outcome = OutcomeFailed
			entry.Err = batchLineError(st, cmd.File)
			if s.recovery.Applies(st) {
				missing = append(missing, i)
			}

		case protocol.Flush, protocol.Wrote, protocol.Forget:
			entry.Outcome = OutcomeFailed
			entry.Err = batchLineError(st, q.cmd.Filename())

		default:
			panic(fmt.Sprintf("rrdcached: unhandled batch command %T", cmd))
		}
	}

	if fatal != nil {
		return result, nil, fatal
	}
	return result, missing, nil
}

// batchLineError converts a failed batch line into a *ProtocolError. Lines
// of the per-command form may carry a positive code, it is kept verbatim.
func batchLineError(st protocol.Status, file string) error {
	return protocol.NewServerError(st, file)
}
