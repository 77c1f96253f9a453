package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlmodule/sqlmodule/sqlengine"
)

type fakeTransport struct {
	calls []string
}

func (f *fakeTransport) Replicate(ctx context.Context, verb string, args []string) error {
	f.calls = append(f.calls, verb)
	return nil
}

func TestSender_ReplicateNow_AppendsNowSuffix(t *testing.T) {
	transport := &fakeTransport{}
	sender := NewSender(transport, nil)

	require.NoError(t, sender.ReplicateNow(context.Background(), "EXEC", "mydb"))
	assert.Equal(t, []string{"EXEC.NOW"}, transport.calls)
}

func TestSender_NilTransport_NoOp(t *testing.T) {
	sender := NewSender(nil, nil)
	require.NoError(t, sender.ReplicateNow(context.Background(), "EXEC"))
}

type fakeRDBSink struct {
	header struct{ blockSize, numBlocks int }
	blocks [][]byte
}

func (f *fakeRDBSink) WriteHeader(ctx context.Context, blockSize, numBlocks int) error {
	f.header.blockSize = blockSize
	f.header.numBlocks = numBlocks
	return nil
}

func (f *fakeRDBSink) WriteBlock(ctx context.Context, block []byte) error {
	f.blocks = append(f.blocks, block)
	return nil
}

func (f *fakeRDBSink) ReadHeader(ctx context.Context) (int, int, error) {
	return f.header.blockSize, f.header.numBlocks, nil
}

func (f *fakeRDBSink) ReadBlock(ctx context.Context) ([]byte, error) {
	block := f.blocks[0]
	f.blocks = f.blocks[1:]
	return block, nil
}

func TestSaveAndLoadRDB_MemoryDatabase(t *testing.T) {
	ctx := context.Background()

	src, err := sqlengine.Open(sqlengine.MemoryURI(t.Name()+"-src"), sqlengine.ConnModeNoMutex)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	_, err = src.DB.Exec("CREATE TABLE t(a INT, b TEXT)")
	require.NoError(t, err)
	_, err = src.DB.Exec("INSERT INTO t VALUES (1, 'x')")
	require.NoError(t, err)

	sink := &fakeRDBSink{}
	require.NoError(t, SaveRDB(ctx, src, sink))
	assert.Greater(t, len(sink.blocks), 0)

	dst, err := sqlengine.Open(sqlengine.MemoryURI(t.Name()+"-dst"), sqlengine.ConnModeFullMutex)
	require.NoError(t, err)
	t.Cleanup(func() { dst.Close() })

	require.NoError(t, LoadRDB(ctx, dst, sink))

	var count int
	require.NoError(t, dst.DB.QueryRowContext(ctx, "SELECT count(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

type fakeAOFWriter struct {
	lines []string
}

func (f *fakeAOFWriter) WriteLine(ctx context.Context, line string) error {
	f.lines = append(f.lines, line)
	return nil
}

func TestRewriteAOF(t *testing.T) {
	ctx := context.Background()

	conn, err := sqlengine.Open(sqlengine.MemoryURI(t.Name()), sqlengine.ConnModeNoMutex)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.DB.Exec("CREATE TABLE t(a INT, b TEXT)")
	require.NoError(t, err)
	_, err = conn.DB.Exec("INSERT INTO t VALUES (1, 'x')")
	require.NoError(t, err)

	writer := &fakeAOFWriter{}
	require.NoError(t, RewriteAOF(ctx, "mydb", conn, writer))

	require.NotEmpty(t, writer.lines)
	assert.Equal(t, "CREATE_DB mydb", writer.lines[0])
}
