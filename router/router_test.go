package router

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlmodule/sqlmodule/cursor"
)

type fakeClient struct {
	replied ReplyValue
	errored error
	calls   int
}

func (f *fakeClient) Reply(v ReplyValue) { f.replied = v; f.calls++ }
func (f *fakeClient) Error(err error)    { f.errored = err; f.calls++ }

type fakeKeyStore struct {
	nextID int
	yields int
	added  []map[string]string
}

func (f *fakeKeyStore) StreamAdd(ctx context.Context, stream string, fields map[string]string) (string, error) {
	f.nextID++
	f.added = append(f.added, fields)
	return strconv.Itoa(f.nextID), nil
}

func (f *fakeKeyStore) Yield(ctx context.Context) { f.yields++ }

func TestRoute_OK(t *testing.T) {
	client := &fakeClient{}
	Route(context.Background(), Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}, Reply{}, time.Time{}, client, nil)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, SimpleString("OK"), client.replied)
}

func TestRoute_Done(t *testing.T) {
	client := &fakeClient{}
	Route(context.Background(), Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultDone, ModifiedRows: 2}}, Reply{}, time.Time{}, client, nil)

	assert.Equal(t, Array{SimpleString("DONE"), Integer(2)}, client.replied)
}

func TestRoute_Error(t *testing.T) {
	client := &fakeClient{}
	Route(context.Background(), Outcome{Err: cursor.ErrTimeout}, Reply{}, time.Time{}, client, nil)

	require.Error(t, client.errored)
	assert.Equal(t, 1, client.calls)
}

func TestRoute_ArrayWithHeader(t *testing.T) {
	client := &fakeClient{}
	result := &cursor.QueryResult{
		Kind:        cursor.ResultArray,
		ColumnNames: []string{"a"},
		ColumnTypes: []string{"INT"},
		Rows:        [][]cursor.Entity{{cursor.Integer(1)}},
	}

	Route(context.Background(), Outcome{Result: result}, ReplyWithHeader{}, time.Time{}, client, nil)

	array := client.replied.(Array)
	require.Len(t, array, 3)
	assert.Equal(t, Array{BulkString("a")}, array[0])
	assert.Equal(t, Array{BulkString("INT")}, array[1])
	assert.Equal(t, Array{Integer(1)}, array[2])
}

func TestRoute_Stream(t *testing.T) {
	client := &fakeClient{}
	keys := &fakeKeyStore{}

	result := &cursor.QueryResult{
		Kind:        cursor.ResultArray,
		ColumnNames: []string{"a"},
		Rows:        [][]cursor.Entity{{cursor.Integer(1)}, {cursor.Integer(2)}},
	}

	Route(context.Background(), Outcome{Result: result}, Stream{Name: "s"}, time.Time{}, client, keys)

	array := client.replied.(Array)
	require.Len(t, array, 4)
	assert.Equal(t, BulkString("s"), array[0])
	assert.Equal(t, Integer(2), array[3])
	assert.Equal(t, map[string]string{"int:a": "1"}, keys.added[0])
}

func TestRoute_StreamYieldsEveryBatch(t *testing.T) {
	client := &fakeClient{}
	keys := &fakeKeyStore{}

	rows := make([][]cursor.Entity, streamYieldBatch+1)
	for i := range rows {
		rows[i] = []cursor.Entity{cursor.Integer(int64(i))}
	}
	result := &cursor.QueryResult{Kind: cursor.ResultArray, ColumnNames: []string{"a"}, Rows: rows}

	Route(context.Background(), Outcome{Result: result}, Stream{Name: "s"}, time.Time{}, client, keys)

	assert.Equal(t, 1, keys.yields)
}
