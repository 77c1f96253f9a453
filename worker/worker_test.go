package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/replication"
	"github.com/sqlmodule/sqlmodule/router"
	"github.com/sqlmodule/sqlmodule/sqlengine"
	"github.com/sqlmodule/sqlmodule/statementcache"
	"github.com/sqlmodule/sqlmodule/stats"
)

type recordingClient struct {
	replied router.ReplyValue
	errored error
	calls   int
}

func (c *recordingClient) Reply(v router.ReplyValue) { c.replied = v; c.calls++ }
func (c *recordingClient) Error(err error)            { c.errored = err; c.calls++ }

func newTestWorker(t *testing.T) (*Worker, *Queue) {
	t.Helper()

	conn, err := sqlengine.Open(sqlengine.MemoryURI(t.Name()), sqlengine.ConnModeNoMutex)
	require.NoError(t, err)
	require.NoError(t, sqlengine.EnsureMetadataTable(context.Background(), conn))

	logger := logging.NewLogger(zaptest.NewLogger(t).Sugar(), time.Hour)
	cache := statementcache.New(conn, logger)
	sender := replication.NewSender(nil, logger)

	w := New(conn, cache, stats.New(), logger, nil, sender)
	queue := NewQueue()

	go w.Run(context.Background(), queue)

	return w, queue
}

func sendAndWait(t *testing.T, queue *Queue, cmd *Command) *recordingClient {
	t.Helper()

	client := &recordingClient{}
	cmd.Client = client

	done := make(chan struct{})
	wrapped := &blockingClient{inner: client, done: done}
	cmd.Client = wrapped

	require.NoError(t, queue.Send(cmd))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker reply")
	}

	return client
}

// blockingClient signals done after exactly one Reply/Error call, letting tests synchronize with the
// asynchronous worker goroutine without sleeping.
type blockingClient struct {
	inner *recordingClient
	done  chan struct{}
}

func (b *blockingClient) Reply(v router.ReplyValue) {
	b.inner.Reply(v)
	close(b.done)
}

func (b *blockingClient) Error(err error) {
	b.inner.Error(err)
	close(b.done)
}

func TestWorker_Ping(t *testing.T) {
	_, queue := newTestWorker(t)

	client := sendAndWait(t, queue, &Command{Kind: KindPing, ReturnMethod: router.Reply{}})
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, router.SimpleString("OK"), client.replied)
}

func TestWorker_ExecCreatesTableAndInserts(t *testing.T) {
	_, queue := newTestWorker(t)

	client := sendAndWait(t, queue, &Command{
		Kind: KindExec, SQL: "CREATE TABLE t(a INT, b TEXT);", ReturnMethod: router.Reply{},
	})
	require.Equal(t, 1, client.calls)
	assert.Equal(t, router.Array{router.SimpleString("DONE"), router.Integer(0)}, client.replied)

	client = sendAndWait(t, queue, &Command{
		Kind: KindExec, SQL: "INSERT INTO t VALUES (1,'x'),(2,'y');", ReturnMethod: router.Reply{},
	})
	assert.Equal(t, router.Array{router.SimpleString("DONE"), router.Integer(2)}, client.replied)

	client = sendAndWait(t, queue, &Command{
		Kind: KindQuery, SQL: "SELECT a,b FROM t ORDER BY a;", ReturnMethod: router.Reply{},
	})
	array, ok := client.replied.(router.Array)
	require.True(t, ok)
	require.Len(t, array, 2)
}

func TestWorker_StatementLifecycle(t *testing.T) {
	_, queue := newTestWorker(t)

	sendAndWait(t, queue, &Command{Kind: KindExec, SQL: "CREATE TABLE t(a INT, b TEXT);", ReturnMethod: router.Reply{}})

	client := sendAndWait(t, queue, &Command{
		Kind: KindCompileStatement, StatementID: "ins", SQL: "INSERT INTO t VALUES (?1, ?2);",
		ReturnMethod: router.Reply{},
	})
	assert.Equal(t, router.SimpleString("OK"), client.replied)

	client = sendAndWait(t, queue, &Command{
		Kind: KindExecStatement, StatementID: "ins",
		Args: []cursor.Entity{cursor.Integer(3), cursor.Text("z")}, ReturnMethod: router.Reply{},
	})
	assert.Equal(t, router.Array{router.SimpleString("DONE"), router.Integer(1)}, client.replied)

	client = sendAndWait(t, queue, &Command{Kind: KindShowStatement, StatementID: "ins", ReturnMethod: router.Reply{}})
	_, ok := client.replied.(router.Array)
	assert.True(t, ok)
}

func TestWorker_StopTerminates(t *testing.T) {
	w, queue := newTestWorker(t)

	client := sendAndWait(t, queue, &Command{Kind: KindStop, ReturnMethod: router.Reply{}})
	assert.Equal(t, router.SimpleString("OK"), client.replied)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate after Stop")
	}

	err := queue.Send(&Command{Kind: KindPing, Client: &recordingClient{}, ReturnMethod: router.Reply{}})
	assert.ErrorIs(t, err, ErrQueueStopped)
}
