package rrdcached

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pior/rrdcached/protocol"
	"go.uber.org/zap"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// DefaultCreateDefs are used to create files when no explicit definitions
	// are given, by Create and by the auto-create recovery.
	DefaultCreateDefs []string

	// DefaultStep is prepended as "-s <seconds>" to create definitions that
	// carry no step option. Zero leaves the daemon's default.
	DefaultStep time.Duration

	// DisableAutoCreate returns missing-file update errors instead of
	// creating the file and retrying.
	DisableAutoCreate bool

	// OnAutoCreate is called each time the recovery created a missing file.
	OnAutoCreate func(file string)

	// Logger receives debug logs for every command. Nil disables logging.
	Logger *zap.Logger
}

// Session owns one connection to rrdcached and runs strict
// request-then-response cycles on it.
//
// Exactly one cycle is in flight at a time: the session mutex is held from
// the first byte written to the last body line read, so a response is
// always fully consumed before the next command is sent. Concurrent callers
// are serialized.
//
// A transport or parse error breaks the session: the connection is closed
// and every following call returns ErrSessionClosed.
type Session struct {
	addr     string
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	recovery RecoveryPolicy
	logger   *zap.Logger

	mu         sync.Mutex
	closed     bool
	batch      *Batch
	lastStatus protocol.Status
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn, config SessionConfig) *Session {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var addr string
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}

	return &Session{
		addr:   addr,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		recovery: RecoveryPolicy{
			DefaultCreateDefs: config.DefaultCreateDefs,
			DefaultStep:       config.DefaultStep,
			Disabled:          config.DisableAutoCreate,
			OnAutoCreate:      config.OnAutoCreate,
		},
		logger: logger,
	}
}

// Addr returns the daemon address the session is connected to.
func (s *Session) Addr() string {
	return s.addr
}

// IsConnected returns false once the session was closed, quit or broken.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// InBatch returns true while a batch is open or committing.
func (s *Session) InBatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch != nil
}

// LastStatus returns the status line of the last response read.
func (s *Session) LastStatus() protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// CheckStatus returns a *ProtocolError when the last status code is
// negative. The subject, usually a file name, annotates the error.
func (s *Session) CheckStatus(subject string) error {
	st := s.LastStatus()
	if st.IsError() {
		return protocol.NewServerError(st, subject)
	}
	return nil
}

// Send runs one raw command/response cycle. A negative status is not an
// error here, it is returned in the response and in LastStatus.
// QUIT gets no reply and is rejected with *ModeError, use Quit.
func (s *Session) Send(ctx context.Context, cmd protocol.Command) (*protocol.Response, error) {
	if cmd.Verb() == protocol.VerbQuit {
		return nil, &ModeError{Op: string(protocol.VerbQuit), Reason: "the daemon does not reply, use Session.Quit"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIdle(string(cmd.Verb())); err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, cmd)
}

// checkIdle must be called with the lock held.
func (s *Session) checkIdle(op string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.batch != nil {
		return &ModeError{Op: op, Reason: "a batch is open on this session"}
	}
	return nil
}

// roundTrip writes cmd and reads its full response. Must be called with the
// lock held.
func (s *Session) roundTrip(ctx context.Context, cmd protocol.Command) (*protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, ErrSessionClosed
	}

	s.setDeadline(ctx)

	if err := protocol.WriteCommand(s.writer, cmd); err != nil {
		s.breakOn(err)
		return nil, err
	}
	if err := s.writer.Flush(); err != nil {
		err = &protocol.ConnectionError{Op: "write", Err: err}
		s.breakOn(err)
		return nil, err
	}

	resp, err := protocol.ReadResponse(s.reader)
	if err != nil {
		s.breakOn(err)
		return nil, err
	}

	s.lastStatus = resp.Status
	if ce := s.logger.Check(zap.DebugLevel, "rrdcached command"); ce != nil {
		ce.Write(
			zap.String("verb", string(cmd.Verb())),
			zap.Int("code", resp.Status.Code),
			zap.String("message", resp.Status.Message),
		)
	}
	return resp, nil
}

// exec runs an immediate command and turns a negative status into a
// *ProtocolError annotated with subject.
func (s *Session) exec(ctx context.Context, cmd protocol.Command, subject string) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIdle(string(cmd.Verb())); err != nil {
		return nil, err
	}

	resp, err := s.roundTrip(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if resp.Status.IsError() {
		return nil, protocol.NewServerError(resp.Status, subject)
	}
	return resp, nil
}

func (s *Session) setDeadline(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetDeadline(deadline)
	} else {
		s.conn.SetDeadline(time.Time{})
	}
}

// breakOn closes the connection when err leaves the stream in an unknown
// state. Must be called with the lock held.
func (s *Session) breakOn(err error) {
	if !protocol.ShouldCloseConnection(err) {
		return
	}
	s.logger.Debug("closing broken session", zap.String("addr", s.addr), zap.Error(err))
	s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.batch != nil {
		s.batch.state = BatchIdle
		s.batch.queue = nil
		s.batch = nil
	}
	return s.conn.Close()
}

// Update sends "UPDATE file values" and creates the file when the daemon
// reports it missing (see RecoveryPolicy).
func (s *Session) Update(ctx context.Context, file string, values ...string) error {
	return s.UpdateWith(ctx, protocol.Update{File: file, Values: values}, nil)
}

// UpdateWith sends upd. When the file is missing it is created with
// createDefs, or the session defaults when createDefs is empty, and upd is
// sent once more.
func (s *Session) UpdateWith(ctx context.Context, upd protocol.Update, createDefs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIdle(string(protocol.VerbUpdate)); err != nil {
		return err
	}

	resp, err := s.roundTrip(ctx, upd)
	if err != nil {
		return err
	}
	if !resp.Status.IsError() {
		return nil
	}

	if s.recovery.Applies(resp.Status) {
		return s.recovery.recover(ctx, s, upd, createDefs, s.logger)
	}
	return protocol.NewServerError(resp.Status, upd.File)
}

// Create sends "CREATE file defs". Without defs the session defaults are
// used; when there are none either, *MissingCreateParametersError is
// returned and nothing is written. An existing file is reported as a
// *ProtocolError, see IsFileExists.
func (s *Session) Create(ctx context.Context, file string, defs ...string) error {
	defs, err := s.recovery.CreateDefs(file, defs)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, protocol.Create{File: file, Defs: defs}, file)
	return err
}

// Flush asks the daemon to write the pending updates of file to disk.
func (s *Session) Flush(ctx context.Context, file string) error {
	_, err := s.exec(ctx, protocol.Flush{File: file}, file)
	return err
}

// Wrote tells the daemon that file was written by someone else.
func (s *Session) Wrote(ctx context.Context, file string) error {
	_, err := s.exec(ctx, protocol.Wrote{File: file}, file)
	return err
}

// Forget drops the pending updates of file.
func (s *Session) Forget(ctx context.Context, file string) error {
	_, err := s.exec(ctx, protocol.Forget{File: file}, file)
	return err
}

// FlushAll asks the daemon to write every pending update.
func (s *Session) FlushAll(ctx context.Context) error {
	_, err := s.exec(ctx, protocol.FlushAll{}, "")
	return err
}

// Pending returns the updates of file not yet written to disk.
func (s *Session) Pending(ctx context.Context, file string) ([]string, error) {
	resp, err := s.exec(ctx, protocol.Pending{File: file}, file)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Queue returns the files waiting in the daemon's write queue.
func (s *Session) Queue(ctx context.Context) ([]QueueEntry, error) {
	resp, err := s.exec(ctx, protocol.Queue{}, "")
	if err != nil {
		return nil, err
	}
	return parseQueue(resp.Body)
}

// Info returns the header of file, as rrdtool info does.
func (s *Session) Info(ctx context.Context, file string) ([]InfoEntry, error) {
	resp, err := s.exec(ctx, protocol.Info{File: file}, file)
	if err != nil {
		return nil, err
	}
	return parseInfo(resp.Body)
}

// First returns the timestamp of the first row of archive rra in file.
func (s *Session) First(ctx context.Context, file string, rra int) (time.Time, error) {
	resp, err := s.exec(ctx, protocol.First{File: file, RRA: rra}, file)
	if err != nil {
		return time.Time{}, err
	}
	return parseTimestamp(resp.Status.Message)
}

// Last returns the timestamp of the last update of file.
func (s *Session) Last(ctx context.Context, file string) (time.Time, error) {
	resp, err := s.exec(ctx, protocol.Last{File: file}, file)
	if err != nil {
		return time.Time{}, err
	}
	return parseTimestamp(resp.Status.Message)
}

// Fetch reads data from file. Options follow the file name on the wire,
// e.g. "AVERAGE", "-s", "-1h".
func (s *Session) Fetch(ctx context.Context, file string, options ...string) (*FetchResult, error) {
	resp, err := s.exec(ctx, protocol.Fetch{File: file, Options: options}, file)
	if err != nil {
		return nil, err
	}
	return parseFetch(resp.Body)
}

// FetchBin sends FETCHBIN and returns the raw response. The payload is
// decoded as text lines.
func (s *Session) FetchBin(ctx context.Context, file string, options ...string) (*protocol.Response, error) {
	return s.exec(ctx, protocol.FetchBin{File: file, Options: options}, file)
}

// Help returns the daemon's help text, for topic when not empty.
func (s *Session) Help(ctx context.Context, topic string) ([]string, error) {
	resp, err := s.exec(ctx, protocol.Help{Topic: topic}, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Stats returns the daemon's counters, e.g. "QueueLength" or "UpdatesReceived".
func (s *Session) Stats(ctx context.Context) (map[string]uint64, error) {
	resp, err := s.exec(ctx, protocol.Stats{}, "")
	if err != nil {
		return nil, err
	}
	return parseStats(resp.Body)
}

// Quit sends QUIT and closes the connection without waiting for a reply.
// The session is always disconnected afterwards. Inside a batch the
// connection is closed without sending anything, abandoning the batch.
func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.batch == nil {
		s.setDeadline(ctx)
		if err := protocol.WriteCommand(s.writer, protocol.Quit{}); err == nil {
			_ = s.writer.Flush()
		}
	}

	_ = s.closeLocked()
	return nil
}

// Close closes the connection. An open batch is abandoned.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}
