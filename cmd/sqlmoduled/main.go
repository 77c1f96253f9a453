// Command sqlmoduled is the process entrypoint: it dials Redis and drains the command inbox, dispatching
// each parsed command to its Database Key. Databases are not reopened from the data directory at start-up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sqlmodule/sqlmodule/config"
	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/dbkey"
	"github.com/sqlmodule/sqlmodule/grammar"
	"github.com/sqlmodule/sqlmodule/hostredis"
	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/replication"
	"github.com/sqlmodule/sqlmodule/router"
	"github.com/sqlmodule/sqlmodule/stats"
	"github.com/sqlmodule/sqlmodule/worker"
)

// cliFlags are sqlmoduled's own process flags, distinct from the command grammar the process parses
// off its Redis inbox at runtime.
type cliFlags struct {
	Config   string `short:"c" long:"config" description:"Path to the YAML configuration file" required:"true"`
	LogLevel string `long:"log-level" description:"Override the configured log level (debug, info, warn, error)"`
}

func main() {
	var flags cliFlags
	if err := config.ParseFlags(&flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var cfg config.ModuleConfig
	if err := config.FromYAMLFile(flags.Config, &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if flags.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(flags.LogLevel)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg.Logging.Level = lvl
	}

	logger, err := logging.NewLoggerFromConfig(&cfg.Logging, "sqlmoduled")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	adapter, err := hostredis.Dial(&cfg.Redis, logger.GetChildLogger("redis"))
	if err != nil {
		logger.Fatalw("can't connect to Redis", zap.Error(err))
	}

	counters := stats.New()
	sender := replication.NewSender(adapter, logger.GetChildLogger("replication"))
	registry := dbkey.NewRegistry()

	deps := dbkey.Deps{
		Logger:  logger.GetChildLogger("worker"),
		Stats:   counters,
		Keys:    adapter,
		Replica: sender,
	}

	logger.Infow("sqlmoduled starting", "redis", adapter.Client.GetAddr(), "data_dir", cfg.DataDir)

	runLoop(ctx, adapter, registry, deps, cfg.DefaultDeadline, logger)

	logger.Infow("sqlmoduled shutting down")
}

// runLoop drains the command inbox until ctx is cancelled, translating each parsed command into a
// worker.Command pushed onto its Database Key's queue. This is the concrete realisation of spec.md §2's
// "parse -> look up Database Key -> register a blocked-client handle -> push a Command".
func runLoop(ctx context.Context, adapter *hostredis.Adapter, registry *dbkey.Registry, deps dbkey.Deps, defaultDeadline time.Duration, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, fields, err := adapter.PopCommand(ctx, time.Second)
		if err != nil {
			if err == hostredis.ErrNoCommand {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warnw("failed to read command inbox", "error", err)
			continue
		}

		cmd, err := grammar.Parse(fields)
		if err != nil {
			client, _ := adapter.RequestClient(id)
			client.Error(err)
			continue
		}

		dispatch(ctx, adapter, registry, deps, defaultDeadline, id, cmd, logger)
	}
}

func dispatch(ctx context.Context, adapter *hostredis.Adapter, registry *dbkey.Registry, deps dbkey.Deps, defaultDeadline time.Duration, id string, cmd grammar.Command, logger *logging.Logger) {
	client, _ := adapter.RequestClient(id)

	if cmd.Kind == grammar.KindCreateDB {
		mode := dbkey.Default
		switch {
		case cmd.MustCreate:
			mode = dbkey.MustCreate
		case cmd.CanExist:
			mode = dbkey.CanExist
		}

		err := dbkey.CreateDB(ctx, registry, deps, cmd.DatabaseName, cmd.Path, mode)
		if deps.Stats != nil {
			deps.Stats.CreateDB.Record(err == nil)
		}
		if err != nil {
			client.Error(err)
			return
		}
		client.Reply(okReply())
		return
	}

	if cmd.Kind == grammar.KindCopy {
		source, ok := registry.Get(cmd.Source)
		if !ok {
			if deps.Stats != nil {
				deps.Stats.Copy.Record(false)
			}
			client.Error(dbkey.ErrNotFound)
			return
		}
		dest, ok := registry.Get(cmd.Destination)
		if !ok {
			if deps.Stats != nil {
				deps.Stats.Copy.Record(false)
			}
			client.Error(dbkey.ErrNotFound)
			return
		}

		wcmd := &worker.Command{
			Kind:              worker.KindMakeCopy,
			Client:            client,
			Deadline:          time.Now().Add(defaultDeadline),
			ReturnMethod:      router.Reply{},
			DestinationName:   cmd.Destination,
			DestinationTarget: dest,
		}
		if err := source.Queue.Send(wcmd); err != nil {
			if deps.Stats != nil {
				deps.Stats.Copy.Record(false)
			}
			client.Error(err)
		}
		return
	}

	if cmd.Kind == grammar.KindStatistics {
		client.Reply(statisticsReply(deps.Stats))
		return
	}

	if cmd.Kind == grammar.KindVersion {
		client.Reply(router.BulkString(moduleVersion))
		return
	}

	key, ok := registry.Get(keyNameFor(cmd))
	if !ok {
		client.Error(dbkey.ErrNotFound)
		return
	}

	wcmd := toWorkerCommand(cmd, client, defaultDeadline)
	if err := key.Queue.Send(wcmd); err != nil {
		client.Error(err)
	}
}

func keyNameFor(cmd grammar.Command) string {
	return cmd.Key
}

func toWorkerCommand(cmd grammar.Command, client *hostredis.RequestClient, defaultDeadline time.Duration) *worker.Command {
	wcmd := &worker.Command{
		Client:       client,
		Deadline:     time.Now().Add(defaultDeadline),
		ReturnMethod: returnMethodFor(cmd),
		SQL:          cmd.SQL,
		Args:         entitiesFor(cmd.Args),
		StatementID:  cmd.StatementID,
		CanUpdate:    cmd.CanUpdate,
		CanCreate:    cmd.CanCreate,
	}

	switch cmd.Kind {
	case grammar.KindExec:
		if cmd.UseStatement {
			wcmd.Kind = worker.KindExecStatement
		} else {
			wcmd.Kind = worker.KindExec
		}
	case grammar.KindQuery:
		if cmd.UseStatement {
			wcmd.Kind = worker.KindQueryStatement
		} else {
			wcmd.Kind = worker.KindQuery
		}
	case grammar.KindStatement:
		switch cmd.StatementOp {
		case grammar.StatementNew:
			wcmd.Kind = worker.KindCompileStatement
		case grammar.StatementUpdate:
			wcmd.Kind = worker.KindUpdateStatement
		case grammar.StatementDelete:
			wcmd.Kind = worker.KindDeleteStatement
		case grammar.StatementShow:
			wcmd.Kind = worker.KindShowStatement
		case grammar.StatementList:
			wcmd.Kind = worker.KindListStatements
		}
	}

	return wcmd
}

func returnMethodFor(cmd grammar.Command) router.ReturnMethod {
	if cmd.IntoStream != "" {
		return router.Stream{Name: cmd.IntoStream}
	}
	if cmd.NoHeader {
		return router.Reply{}
	}
	return router.ReplyWithHeader{}
}

// entitiesFor binds each ARGS token by its literal shape: integers and floats bind as their numeric
// Entity kind, everything else binds as text. This mirrors the host protocol's token-only ARGS syntax,
// which carries no separate type tag, rather than relying on SQLite's text-to-number column affinity.
func entitiesFor(args []string) []cursor.Entity {
	out := make([]cursor.Entity, len(args))
	for i, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			out[i] = cursor.Integer(n)
			continue
		}
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			out[i] = cursor.Float64(f)
			continue
		}
		out[i] = cursor.Text(a)
	}
	return out
}

func okReply() router.ReplyValue { return router.SimpleString("OK") }

// moduleVersion is the string the VERSION command reports.
const moduleVersion = "sqlmodule 1.0"

// statisticsReply flattens the STATISTICS snapshot into "<counter> <value>" pairs, sorted by counter
// name for a deterministic reply.
func statisticsReply(counters *stats.Counters) router.ReplyValue {
	if counters == nil {
		return router.Array{}
	}

	snapshot := counters.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	reply := make(router.Array, 0, len(names)*2)
	for _, name := range names {
		reply = append(reply, router.BulkString(name), router.Integer(snapshot[name]))
	}
	return reply
}
