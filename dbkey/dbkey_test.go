package dbkey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/replication"
	"github.com/sqlmodule/sqlmodule/router"
	"github.com/sqlmodule/sqlmodule/stats"
	"github.com/sqlmodule/sqlmodule/worker"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	logger := logging.NewLogger(zaptest.NewLogger(t).Sugar(), time.Hour)
	return Deps{
		Logger:  logger,
		Stats:   stats.New(),
		Keys:    nil,
		Replica: replication.NewSender(nil, logger),
	}
}

func TestCreateDB_DefaultInMemory(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	require.NoError(t, CreateDB(ctx, registry, testDeps(t), "mydb", "", Default))

	key, ok := registry.Get("mydb")
	require.True(t, ok)
	assert.NotNil(t, key.Conn)
	assert.NotNil(t, key.Queue)
	assert.NotNil(t, key.Worker)
}

func TestCreateDB_MustCreateFailsIfExists(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()
	deps := testDeps(t)

	require.NoError(t, CreateDB(ctx, registry, deps, "mydb", "", Default))
	err := CreateDB(ctx, registry, deps, "mydb", "", MustCreate)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateDB_CanExistSucceedsIdempotently(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()
	deps := testDeps(t)

	require.NoError(t, CreateDB(ctx, registry, deps, "mydb", "", Default))
	assert.NoError(t, CreateDB(ctx, registry, deps, "mydb", "", CanExist))
}

func TestAddConnection_UpgradesAndOpensAlias(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()
	deps := testDeps(t)

	require.NoError(t, CreateDB(ctx, registry, deps, "mydb", "", Default))

	key, _ := registry.Get("mydb")
	sendAndWaitExec := func(queue *worker.Queue) {
		done := make(chan struct{})
		client := &syncClient{done: done}
		require.NoError(t, queue.Send(&worker.Command{Kind: worker.KindExec, SQL: "CREATE TABLE t(a INT);", Client: client, ReturnMethod: router.Reply{}}))
		<-done
	}
	sendAndWaitExec(key.Queue)

	require.NoError(t, AddConnection(ctx, registry, deps, "mydb", "replica"))

	key, _ = registry.Get("mydb")
	assert.NotNil(t, key.auxs["replica"])
}

func TestFree_StopsAndRemoves(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()
	deps := testDeps(t)

	require.NoError(t, CreateDB(ctx, registry, deps, "mydb", "", Default))
	require.NoError(t, Free(ctx, registry, "mydb"))

	_, ok := registry.Get("mydb")
	assert.False(t, ok)
}

func TestFree_NotFound(t *testing.T) {
	registry := NewRegistry()
	err := Free(context.Background(), registry, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
