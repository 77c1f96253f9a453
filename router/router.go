// Package router converts a worker's result into either a reply on the blocked client or a series of
// appends to a stream key, per spec.md §4.G.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/sqlmodule/sqlmodule/cursor"
)

// ReplyValue is the small closed interface standing in for the host protocol's native reply shapes,
// the "pinned interface" for the reply layer spec.md §1/§6 names as out of scope.
type ReplyValue interface{ isReplyValue() }

type SimpleString string
type Integer int64
type BulkString []byte
type Array []ReplyValue
type Null struct{}
type RESPError struct {
	Code    int
	Message string
}

func (SimpleString) isReplyValue() {}
func (Integer) isReplyValue()      {}
func (BulkString) isReplyValue()   {}
func (Array) isReplyValue()        {}
func (Null) isReplyValue()         {}
func (RESPError) isReplyValue()    {}

func (e RESPError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ERR %d %s", e.Code, e.Message)
	}
	return "ERR " + e.Message
}

// BlockedClient is a handle to a paused client, unblocked exactly once with a reply or an error.
type BlockedClient interface {
	Reply(ReplyValue)
	Error(error)
}

// KeyStore is the scoped surface Route needs to append to a stream key and to yield the host's global
// lock, the "pinned interface" for the key-space layer.
type KeyStore interface {
	StreamAdd(ctx context.Context, stream string, fields map[string]string) (id string, err error)
	Yield(ctx context.Context)
}

// ReturnMethod is a small closed interface mirroring the teacher's Option/Stopper pattern: three
// concrete types instead of an enum.
type ReturnMethod interface{ isReturnMethod() }

type Reply struct{}
type ReplyWithHeader struct{}
type Stream struct{ Name string }

func (Reply) isReturnMethod()           {}
func (ReplyWithHeader) isReturnMethod() {}
func (Stream) isReturnMethod()          {}

// Outcome is what a worker hands to Route: either a drained QueryResult or the error that aborted
// command execution before a result could be produced.
type Outcome struct {
	Result *cursor.QueryResult
	Err    error
}

// streamYieldBatch is how many appended stream entries trigger a KeyStore.Yield call.
const streamYieldBatch = 256

// Route materialises outcome into exactly one client.Reply or client.Error call, per method.
func Route(ctx context.Context, outcome Outcome, method ReturnMethod, deadline time.Time, client BlockedClient, keys KeyStore) {
	if outcome.Err != nil {
		client.Error(translateRouteError(outcome.Err))
		return
	}

	switch m := method.(type) {
	case Reply:
		client.Reply(toReplyValue(outcome.Result, false))
	case ReplyWithHeader:
		client.Reply(toReplyValue(outcome.Result, true))
	case Stream:
		summary, err := appendToStream(ctx, outcome.Result, m.Name, keys, deadline)
		if err != nil {
			client.Error(translateRouteError(err))
			return
		}
		client.Reply(Array{
			BulkString(summary.Stream),
			BulkString(summary.FirstID),
			BulkString(summary.LastID),
			Integer(summary.Size),
		})
	default:
		client.Error(RESPError{Message: "unknown return method"})
	}
}

func translateRouteError(err error) error {
	if err == cursor.ErrTimeout {
		return RESPError{Message: "Timeout"}
	}
	if err == cursor.ErrInterrupted {
		return RESPError{Message: "Query Interrupted"}
	}
	return RESPError{Message: err.Error()}
}

// toReplyValue materialises a QueryResult into the host protocol's reply shapes: "OK" for an empty
// result, ["DONE", n] for a completed write, or a nested array of typed cells (optionally with header
// rows) for a row result.
func toReplyValue(result *cursor.QueryResult, withHeader bool) ReplyValue {
	switch result.Kind {
	case cursor.ResultOK:
		return SimpleString("OK")
	case cursor.ResultDone:
		return Array{SimpleString("DONE"), Integer(result.ModifiedRows)}
	case cursor.ResultArray:
		rows := result.Rows
		if withHeader {
			rows = result.WithHeader()
		}

		array := make(Array, len(rows))
		for i, row := range rows {
			array[i] = entityRow(row)
		}

		return array
	default:
		return SimpleString("OK")
	}
}

func entityRow(row []cursor.Entity) Array {
	out := make(Array, len(row))
	for i, cell := range row {
		out[i] = entityReply(cell)
	}
	return out
}

func entityReply(e cursor.Entity) ReplyValue {
	switch e.Kind {
	case cursor.KindInteger:
		return Integer(e.Integer)
	case cursor.KindFloat:
		return BulkString(e.AsText())
	case cursor.KindText:
		return BulkString(e.Text)
	case cursor.KindBlob:
		return BulkString(e.Blob)
	default:
		return Null{}
	}
}

// appendToStream iterates the result's rows and appends one stream entry per row, yielding the host's
// global lock every streamYieldBatch entries.
func appendToStream(ctx context.Context, result *cursor.QueryResult, name string, keys KeyStore, deadline time.Time) (*cursor.StreamSummary, error) {
	summary := &cursor.StreamSummary{Stream: name}

	for i, row := range result.Rows {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, cursor.ErrTimeout
		}

		fields := make(map[string]string, len(row))
		for col, cell := range row {
			name := fmt.Sprintf("%s:%s", cell.TypeTag(), columnName(result, col))
			fields[name] = cell.AsText()
		}

		id, err := keys.StreamAdd(ctx, name, fields)
		if err != nil {
			return nil, err
		}

		if summary.FirstID == "" {
			summary.FirstID = id
		}
		summary.LastID = id
		summary.Size++

		if (i+1)%streamYieldBatch == 0 {
			keys.Yield(ctx)
		}
	}

	return summary, nil
}

func columnName(result *cursor.QueryResult, idx int) string {
	if idx < len(result.ColumnNames) {
		return result.ColumnNames[idx]
	}
	return fmt.Sprintf("%d", idx)
}
