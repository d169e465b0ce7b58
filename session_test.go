package rrdcached

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pior/rrdcached/internal/testutils"
	"github.com/pior/rrdcached/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefs = []string{"DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:288"}

func newMockSession(config SessionConfig, responses ...string) (*Session, *testutils.ConnectionMock) {
	conn := testutils.NewConnectionMock(responses...)
	return NewSession(conn, config), conn
}

func TestSession_Update(t *testing.T) {
	s, conn := newMockSession(SessionConfig{}, "0 errors, enqueued 1 value(s).\n")

	err := s.Update(context.Background(), "a.rrd", "1700000000:1")
	require.NoError(t, err)

	assert.Equal(t, "UPDATE a.rrd 1700000000:1\n", conn.GetWrittenRequest())
	assert.Equal(t, protocol.Status{Code: 0, Message: "errors, enqueued 1 value(s)."}, s.LastStatus())
	assert.NoError(t, s.CheckStatus("a.rrd"))
	assert.True(t, s.IsConnected())
}

func TestSession_Send(t *testing.T) {
	s, conn := newMockSession(SessionConfig{}, "-1 Unknown command: FOO\n", "2 updates pending\n1:1\n2:2\n")

	resp, err := s.Send(context.Background(), protocol.Stats{})
	require.NoError(t, err, "a negative status is not a Go error")
	assert.Equal(t, -1, resp.Status.Code)

	err = s.CheckStatus("x")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, -1, perr.Code)
	assert.Equal(t, "Unknown command: FOO", perr.Message)
	assert.Equal(t, "x", perr.Subject)

	resp, err = s.Send(context.Background(), protocol.Pending{File: "a.rrd"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1:1", "2:2"}, resp.Body)
	assert.NoError(t, s.CheckStatus(""))

	assert.Equal(t, []string{"STATS", "PENDING a.rrd"}, conn.WrittenLines())
}

func TestSession_SendRejectsQuit(t *testing.T) {
	s, conn := newMockSession(SessionConfig{})

	_, err := s.Send(context.Background(), protocol.Quit{})
	var merr *ModeError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "QUIT", merr.Op)
	assert.Equal(t, 0, conn.WriteCount())
	assert.True(t, s.IsConnected())
}

func TestSession_ServerErrorKeepsSession(t *testing.T) {
	s, _ := newMockSession(SessionConfig{}, "-1 No such file: a.rrd\n", "0 Successfully flushed a.rrd.\n")

	err := s.Flush(context.Background(), "a.rrd")
	require.Error(t, err)
	assert.True(t, IsMissingFile(err))
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Flush(context.Background(), "a.rrd"))
}

func TestSession_ShortRead(t *testing.T) {
	// Announces 3 body lines, delivers 1
	s, conn := newMockSession(SessionConfig{}, "3 updates pending\n1:1\n")

	_, err := s.Pending(context.Background(), "a.rrd")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	assert.False(t, s.IsConnected())
	assert.True(t, conn.IsClosed())

	_, err = s.Stats(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_ParseErrorBreaksSession(t *testing.T) {
	s, conn := newMockSession(SessionConfig{}, "garbage\n")

	err := s.Flush(context.Background(), "a.rrd")
	var perr *protocol.ParseError
	require.ErrorAs(t, err, &perr)
	assert.True(t, conn.IsClosed())
}

func TestSession_UndecodableBodyKeepsSession(t *testing.T) {
	s, conn := newMockSession(SessionConfig{}, "1 Statistics follow\nno separator\n", "0 Successfully flushed a.rrd.\n")

	_, err := s.Stats(context.Background())
	var rerr *ResultError
	require.ErrorAs(t, err, &rerr)
	assert.False(t, conn.IsClosed())
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Flush(context.Background(), "a.rrd"))
}

func TestSession_WriteError(t *testing.T) {
	s, conn := newMockSession(SessionConfig{})
	conn.WriteErr = errors.New("broken pipe")

	err := s.Flush(context.Background(), "a.rrd")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.False(t, s.IsConnected())
}

func TestSession_CanceledContext(t *testing.T) {
	s, conn := newMockSession(SessionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Flush(ctx, "a.rrd")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, conn.WriteCount())
	assert.True(t, s.IsConnected())
}

func TestSession_Create(t *testing.T) {
	t.Run("explicit definitions", func(t *testing.T) {
		s, conn := newMockSession(SessionConfig{DefaultCreateDefs: []string{"unused"}}, "0 RRD created OK\n")

		require.NoError(t, s.Create(context.Background(), "a.rrd", testDefs...))
		assert.Equal(t, "CREATE a.rrd DS:value:GAUGE:600:U:U RRA:AVERAGE:0.5:1:288\n", conn.GetWrittenRequest())
	})

	t.Run("default definitions with step", func(t *testing.T) {
		s, conn := newMockSession(SessionConfig{DefaultCreateDefs: testDefs, DefaultStep: time.Minute}, "0 RRD created OK\n")

		require.NoError(t, s.Create(context.Background(), "a.rrd"))
		assert.Equal(t, "CREATE a.rrd -s 60 DS:value:GAUGE:600:U:U RRA:AVERAGE:0.5:1:288\n", conn.GetWrittenRequest())
	})

	t.Run("no definitions", func(t *testing.T) {
		s, conn := newMockSession(SessionConfig{})

		err := s.Create(context.Background(), "a.rrd")
		var merr *MissingCreateParametersError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "a.rrd", merr.File)
		assert.Equal(t, 0, conn.WriteCount())
		assert.True(t, s.IsConnected())
	})

	t.Run("file exists", func(t *testing.T) {
		s, _ := newMockSession(SessionConfig{}, "-1 RRD Error: creating 'a.rrd': File exists\n")

		err := s.Create(context.Background(), "a.rrd", testDefs...)
		assert.True(t, IsFileExists(err))
	})
}

func TestSession_UpdateRecovery(t *testing.T) {
	t.Run("creates and retries once", func(t *testing.T) {
		var created []string
		s, conn := newMockSession(
			SessionConfig{DefaultCreateDefs: testDefs, OnAutoCreate: func(file string) { created = append(created, file) }},
			"-1 No such file: a.rrd\n",
			"0 RRD created OK\n",
			"0 errors, enqueued 1 value(s).\n",
		)

		require.NoError(t, s.Update(context.Background(), "a.rrd", "1700000000:1"))

		assert.Equal(t, []string{
			"UPDATE a.rrd 1700000000:1",
			"CREATE a.rrd DS:value:GAUGE:600:U:U RRA:AVERAGE:0.5:1:288",
			"UPDATE a.rrd 1700000000:1",
		}, conn.WrittenLines())
		assert.Equal(t, []string{"a.rrd"}, created)
	})

	t.Run("retry fails", func(t *testing.T) {
		s, conn := newMockSession(
			SessionConfig{DefaultCreateDefs: testDefs},
			"-1 No such file: a.rrd\n",
			"0 RRD created OK\n",
			"-1 No such file: a.rrd\n",
		)

		err := s.Update(context.Background(), "a.rrd", "1700000000:1")

		var rerr *RecoveryExhaustedError
		require.ErrorAs(t, err, &rerr)
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, -1, perr.Code)

		// Exactly one create and one retry
		assert.Len(t, conn.WrittenLines(), 3)
		assert.True(t, s.IsConnected())
	})

	t.Run("file created concurrently", func(t *testing.T) {
		s, conn := newMockSession(
			SessionConfig{DefaultCreateDefs: testDefs},
			"-1 No such file: a.rrd\n",
			"-1 RRD Error: creating 'a.rrd': File exists\n",
			"0 errors, enqueued 1 value(s).\n",
		)

		require.NoError(t, s.Update(context.Background(), "a.rrd", "1700000000:1"))
		assert.Len(t, conn.WrittenLines(), 3)
	})

	t.Run("create fails", func(t *testing.T) {
		s, conn := newMockSession(
			SessionConfig{DefaultCreateDefs: testDefs},
			"-1 No such file: a.rrd\n",
			"-1 RRD Error: creating 'a.rrd': Permission denied\n",
		)

		err := s.Update(context.Background(), "a.rrd", "1700000000:1")
		var cerr *CreateFailedError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "a.rrd", cerr.File)
		assert.Len(t, conn.WrittenLines(), 2)
	})

	t.Run("no definitions", func(t *testing.T) {
		s, conn := newMockSession(SessionConfig{}, "-1 No such file: a.rrd\n")

		err := s.Update(context.Background(), "a.rrd", "1700000000:1")
		var merr *MissingCreateParametersError
		require.ErrorAs(t, err, &merr)
		assert.Len(t, conn.WrittenLines(), 1, "nothing sent after the failed update")
	})

	t.Run("explicit definitions win", func(t *testing.T) {
		s, conn := newMockSession(
			SessionConfig{DefaultCreateDefs: testDefs},
			"-1 No such file: a.rrd\n",
			"0 RRD created OK\n",
			"0 errors, enqueued 1 value(s).\n",
		)

		err := s.UpdateWith(context.Background(), protocol.Update{File: "a.rrd", Values: []string{"1700000000:1"}}, []string{"DS:x:COUNTER:600:U:U"})
		require.NoError(t, err)
		assert.Equal(t, "CREATE a.rrd DS:x:COUNTER:600:U:U", conn.WrittenLines()[1])
	})

	t.Run("disabled", func(t *testing.T) {
		s, conn := newMockSession(SessionConfig{DefaultCreateDefs: testDefs, DisableAutoCreate: true}, "-1 No such file: a.rrd\n")

		err := s.Update(context.Background(), "a.rrd", "1700000000:1")
		assert.True(t, IsMissingFile(err))
		assert.Len(t, conn.WrittenLines(), 1)
	})

	t.Run("other error", func(t *testing.T) {
		s, conn := newMockSession(SessionConfig{DefaultCreateDefs: testDefs}, "-1 illegal attempt to update using time 1 when last update time is 2\n")

		err := s.Update(context.Background(), "a.rrd", "1:1")
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Len(t, conn.WrittenLines(), 1)
	})
}

func TestSession_Reads(t *testing.T) {
	s, conn := newMockSession(SessionConfig{},
		"2 Statistics follow\nQueueLength: 3\nUpdatesReceived: 42\n",
		"2 in queue.\n4 /a.rrd\n1 /b.rrd\n",
		"0 1700000000\n",
		"0 1699913600\n",
		"2 Info for a.rrd follows\nfilename 2 a.rrd\nstep 1 300\n",
		"1 Help for FLUSH\nUsage: FLUSH <filename>\n",
	)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"QueueLength": 3, "UpdatesReceived": 42}, stats)

	queue, err := s.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []QueueEntry{{File: "/a.rrd", Updates: 4}, {File: "/b.rrd", Updates: 1}}, queue)

	last, err := s.Last(ctx, "a.rrd")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), last)

	first, err := s.First(ctx, "a.rrd", 1)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1699913600, 0), first)

	info, err := s.Info(ctx, "a.rrd")
	require.NoError(t, err)
	assert.Equal(t, []InfoEntry{{Key: "filename", Type: 2, Value: "a.rrd"}, {Key: "step", Type: 1, Value: "300"}}, info)

	help, err := s.Help(ctx, "FLUSH")
	require.NoError(t, err)
	assert.Equal(t, []string{"Usage: FLUSH <filename>"}, help)

	assert.Equal(t, []string{"STATS", "QUEUE", "LAST a.rrd", "FIRST a.rrd 1", "INFO a.rrd", "HELP FLUSH"}, conn.WrittenLines())
}

func TestSession_Quit(t *testing.T) {
	s, conn := newMockSession(SessionConfig{})

	require.NoError(t, s.Quit(context.Background()))
	assert.Equal(t, "QUIT\n", conn.GetWrittenRequest())
	assert.True(t, conn.IsClosed())
	assert.False(t, s.IsConnected())

	// Idempotent
	require.NoError(t, s.Quit(context.Background()))
	assert.Equal(t, "QUIT\n", conn.GetWrittenRequest())

	err := s.Flush(context.Background(), "a.rrd")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_QuitIgnoresWriteError(t *testing.T) {
	s, conn := newMockSession(SessionConfig{})
	conn.WriteErr = errors.New("broken pipe")

	require.NoError(t, s.Quit(context.Background()))
	assert.True(t, conn.IsClosed())
}
