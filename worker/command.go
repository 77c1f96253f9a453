// Package worker implements the per-database command queue and worker goroutine from spec.md §4.E: one
// FIFO inbox and one worker per database, draining commands, executing against the connection, and
// dispatching replies.
package worker

import (
	"time"

	"context"

	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/router"
	"github.com/sqlmodule/sqlmodule/sqlengine"
)

// Kind identifies which operation a Command carries.
type Kind uint8

const (
	KindPing Kind = iota
	KindStop
	KindExec
	KindQuery
	KindCompileStatement
	KindUpdateStatement
	KindDeleteStatement
	KindExecStatement
	KindQueryStatement
	KindShowStatement
	KindListStatements
	KindMakeCopy
)

// CopyTarget is the scoped surface a MakeCopy command needs from the destination Database Key, kept
// independent of package dbkey to avoid an import cycle (dbkey depends on worker, not the reverse).
type CopyTarget interface {
	// Connection returns the destination's connection, held exclusively for the duration of the
	// backup loop, mirroring spec.md §4.E's "lock both source and destination connections".
	Connection() *sqlengine.Connection
	// RestoreCacheFromMetadata re-reads the destination's metadata table and rebuilds its statement
	// cache, once the backup loop has populated the destination's tables.
	RestoreCacheFromMetadata(ctx context.Context) (restored, failed int, err error)
	// RecordPath updates the destination's stored path metadata row.
	RecordPath(ctx context.Context) error
}

// Command is a tagged message pushed into a Database Key's inbox. Every variant carries the blocked-
// client handle that must be unblocked exactly once.
type Command struct {
	Kind         Kind
	Client       router.BlockedClient
	Deadline     time.Time
	ReturnMethod router.ReturnMethod

	// Exec / Query
	SQL  string
	Args []cursor.Entity

	// Statement-cache commands
	StatementID string
	CanUpdate   bool
	CanCreate   bool

	// MakeCopy. DestinationTarget's ownership is transferred to the worker: per spec.md §9 "Copy and
	// leak", the caller must not free it afterward; the worker is responsible for forgetting it once
	// its lifecycle is handed back to the host.
	DestinationName   string
	DestinationTarget CopyTarget
}

// deadlineFunc returns a function that reports whether cmd's deadline has already passed, the shape
// cursor.FromCursor and statementcache expect.
func (c *Command) deadlineFunc() func() bool {
	if c.Deadline.IsZero() {
		return func() bool { return false }
	}
	return func() bool { return time.Now().After(c.Deadline) }
}
