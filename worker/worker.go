package worker

import (
	"context"
	"sync"

	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/multistatement"
	"github.com/sqlmodule/sqlmodule/replication"
	"github.com/sqlmodule/sqlmodule/router"
	"github.com/sqlmodule/sqlmodule/sqlengine"
	"github.com/sqlmodule/sqlmodule/statementcache"
	"github.com/sqlmodule/sqlmodule/stats"
)

// State is the worker's position in the state machine from spec.md §4.E:
// Starting -> RestoringStatements -> Idle <-> ExecutingOne -> ... -> Stopping -> Terminated.
type State uint8

const (
	StateStarting State = iota
	StateRestoringStatements
	StateIdle
	StateExecutingOne
	StateStopping
	StateTerminated
)

// Worker owns the shared connection, the statement cache, and everything needed to execute commands
// drained from one Database Key's Queue.
type Worker struct {
	Conn    *sqlengine.Connection
	Cache   *statementcache.Cache
	Stats   *stats.Counters
	Logger  *logging.Logger
	Keys    router.KeyStore
	Replica *replication.Sender

	mu    sync.Mutex
	state State

	done chan struct{}
}

// New returns a Worker ready to run.
func New(conn *sqlengine.Connection, cache *statementcache.Cache, counters *stats.Counters, logger *logging.Logger, keys router.KeyStore, replica *replication.Sender) *Worker {
	return &Worker{
		Conn:    conn,
		Cache:   cache,
		Stats:   counters,
		Logger:  logger,
		Keys:    keys,
		Replica: replica,
		done:    make(chan struct{}),
	}
}

// State reports the worker's current position in its state machine.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Done returns a channel closed once Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Handle is the "worker_state" handle a Database Key keeps for the worker goroutine it spawned: a
// cancel function to ask it to stop and a channel that closes once it has actually terminated.
type Handle struct {
	Cancel context.CancelFunc
	Done   <-chan struct{}
}

// Spawn runs w in a new goroutine under a context derived from ctx and returns the Handle a Database
// Key uses to stop it later.
func Spawn(ctx context.Context, w *Worker, queue *Queue) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	go w.Run(runCtx, queue)
	return &Handle{Cancel: cancel, Done: w.Done()}
}

// Run drains queue until it receives a Stop command, a channel-closed condition (treated as fatal), or
// ctx is cancelled. It always finalizes the cache and the connection before returning, per spec.md §9's
// "the worker terminates and drops its shared references; the connection finalises".
func (w *Worker) Run(ctx context.Context, queue *Queue) {
	defer close(w.done)
	defer w.Cache.Close()
	defer w.Conn.Close()

	w.setState(StateRestoringStatements)
	restored, failed, err := w.Cache.RestoreFromMetadata(ctx)
	if err != nil && w.Logger != nil {
		w.Logger.Errorw("failed to query statement metadata on worker start", "error", err)
	} else if w.Logger != nil {
		w.Logger.Debugw("restored cached statements", "restored", restored, "failed", failed)
	}

	w.setState(StateIdle)

	for {
		select {
		case cmd, ok := <-queue.ch:
			if !ok {
				w.setState(StateTerminated)
				if w.Logger != nil {
					w.Logger.Errorw("worker inbox closed unexpectedly")
				}
				return
			}

			w.setState(StateExecutingOne)
			stop := w.handleOne(ctx, cmd)
			w.setState(StateIdle)

			if stop {
				queue.markStopped()
				w.setState(StateTerminated)
				return
			}
		case <-ctx.Done():
			w.setState(StateTerminated)
			return
		}
	}
}

// handleOne executes cmd and unblocks its client exactly once via a single deferred call to
// router.Route, so no branch below can both early-return and skip the unblock call. It reports whether
// the worker should stop after this command.
func (w *Worker) handleOne(ctx context.Context, cmd *Command) (stop bool) {
	var outcome router.Outcome

	defer func() {
		router.Route(ctx, outcome, cmd.ReturnMethod, cmd.Deadline, cmd.Client, w.Keys)
		w.recordStats(cmd, outcome)
	}()

	switch cmd.Kind {
	case KindPing:
		outcome = router.Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}

	case KindStop:
		outcome = router.Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}
		stop = true

	case KindExec, KindQuery:
		outcome = w.execAdhoc(ctx, cmd)

	case KindExecStatement, KindQueryStatement:
		outcome = w.execCached(ctx, cmd)

	case KindCompileStatement:
		outcome = w.compileStatement(ctx, cmd)

	case KindUpdateStatement:
		outcome = w.updateStatement(ctx, cmd)

	case KindDeleteStatement:
		outcome = w.deleteStatement(ctx, cmd)

	case KindShowStatement:
		result, err := w.Cache.Show(cmd.StatementID)
		outcome = router.Outcome{Result: result, Err: err}

	case KindListStatements:
		outcome = router.Outcome{Result: w.Cache.List()}

	case KindMakeCopy:
		outcome = w.makeCopy(ctx, cmd)

	default:
		outcome = router.Outcome{Err: errUnknownCommand}
	}

	return stop
}

// recordStats attributes cmd's outcome to its STATISTICS counter, splitting QUERY/QUERY_STATEMENT
// between their plain and INTO STREAM variants per SPEC_FULL.md §4.K. Commands with no counter of
// their own (PING, STOP, SHOW_STATEMENT, LIST_STATEMENTS) are left untouched.
func (w *Worker) recordStats(cmd *Command, outcome router.Outcome) {
	if w.Stats == nil {
		return
	}

	success := outcome.Err == nil
	_, intoStream := cmd.ReturnMethod.(router.Stream)

	switch cmd.Kind {
	case KindExec:
		w.Stats.Exec.Record(success)
	case KindQuery:
		if intoStream {
			w.Stats.QueryInto.Record(success)
		} else {
			w.Stats.Query.Record(success)
		}
	case KindExecStatement:
		w.Stats.ExecStatement.Record(success)
	case KindQueryStatement:
		if intoStream {
			w.Stats.QueryStatementInto.Record(success)
		} else {
			w.Stats.QueryStatement.Record(success)
		}
	case KindCompileStatement:
		w.Stats.CreateStatement.Record(success)
	case KindUpdateStatement:
		w.Stats.UpdateStatement.Record(success)
	case KindDeleteStatement:
		w.Stats.DeleteStatement.Record(success)
	case KindMakeCopy:
		w.Stats.Copy.Record(success)
	}
}

var errUnknownCommand = unknownCommandError{}

type unknownCommandError struct{}

func (unknownCommandError) Error() string { return "unknown worker command" }

func (w *Worker) execAdhoc(ctx context.Context, cmd *Command) router.Outcome {
	ms, err := multistatement.Compile(ctx, w.Conn, cmd.SQL)
	if err != nil {
		return router.Outcome{Err: err}
	}
	defer ms.Close()

	if cmd.Kind == KindQuery && !ms.IsReadOnly() {
		return router.Outcome{Err: errNotReadOnly}
	}

	if err := ms.BindArgs(cmd.Args); err != nil {
		return router.Outcome{Err: err}
	}

	cur, err := ms.Execute(ctx)
	if err != nil {
		return router.Outcome{Err: err}
	}

	result, err := cursor.FromCursor(ctx, cur, cmd.deadlineFunc())
	if err != nil {
		return router.Outcome{Err: err}
	}

	if cmd.Kind == KindExec && !ms.IsReadOnly() {
		_ = w.Replica.ReplicateNow(ctx, "EXEC", cmd.SQL)
	}

	return router.Outcome{Result: result}
}

var errNotReadOnly = notReadOnlyError{}

type notReadOnlyError struct{}

func (notReadOnlyError) Error() string { return "statement is not read only" }

func (w *Worker) execCached(ctx context.Context, cmd *Command) router.Outcome {
	var (
		result *cursor.QueryResult
		err    error
	)

	if cmd.Kind == KindQueryStatement {
		result, err = w.Cache.Query(ctx, cmd.StatementID, cmd.Args, cmd.deadlineFunc())
	} else {
		result, err = w.Cache.Exec(ctx, cmd.StatementID, cmd.Args, cmd.deadlineFunc())
		if err == nil {
			_ = w.Replica.ReplicateNow(ctx, "EXEC_STATEMENT", cmd.StatementID)
		}
	}

	return router.Outcome{Result: result, Err: err}
}

func (w *Worker) compileStatement(ctx context.Context, cmd *Command) router.Outcome {
	err := w.Cache.InsertNew(ctx, cmd.StatementID, cmd.SQL, cmd.CanUpdate)
	if err != nil {
		return router.Outcome{Err: err}
	}

	_ = w.Replica.ReplicateNow(ctx, "CREATE_STATEMENT", cmd.StatementID, cmd.SQL)

	return router.Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}
}

func (w *Worker) updateStatement(ctx context.Context, cmd *Command) router.Outcome {
	err := w.Cache.Update(ctx, cmd.StatementID, cmd.SQL, cmd.CanCreate)
	if err != nil {
		return router.Outcome{Err: err}
	}

	_ = w.Replica.ReplicateNow(ctx, "UPDATE_STATEMENT", cmd.StatementID, cmd.SQL)

	return router.Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}
}

func (w *Worker) deleteStatement(ctx context.Context, cmd *Command) router.Outcome {
	err := w.Cache.Delete(ctx, cmd.StatementID)
	if err != nil {
		return router.Outcome{Err: err}
	}

	_ = w.Replica.ReplicateNow(ctx, "DELETE_STATEMENT", cmd.StatementID)

	return router.Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}
}

// makeCopy locks both connections implicitly (the destination worker is not running yet when COPY
// spawns it, and the source's own worker goroutine already holds exclusive access by virtue of running
// this very method), runs the backup loop to completion, then restores the destination's statement
// cache from its metadata table and records its path, per spec.md §4.E.
func (w *Worker) makeCopy(ctx context.Context, cmd *Command) router.Outcome {
	target := cmd.DestinationTarget
	if target == nil {
		return router.Outcome{Err: errNoCopyTarget}
	}

	session, err := sqlengine.Init(ctx, w.Conn, target.Connection())
	if err != nil {
		return router.Outcome{Err: err}
	}

	for {
		status, err := session.Step(ctx)
		if err != nil {
			return router.Outcome{Err: err}
		}
		if status == sqlengine.BackupDone {
			break
		}
	}

	if err := target.RecordPath(ctx); err != nil {
		return router.Outcome{Err: err}
	}

	if _, _, err := target.RestoreCacheFromMetadata(ctx); err != nil {
		return router.Outcome{Err: err}
	}

	_ = w.Replica.ReplicateNow(ctx, "COPY", cmd.DestinationName)

	return router.Outcome{Result: &cursor.QueryResult{Kind: cursor.ResultOK}}
}

var errNoCopyTarget = noCopyTargetError{}

type noCopyTargetError struct{}

func (noCopyTargetError) Error() string { return "make copy command missing destination target" }
