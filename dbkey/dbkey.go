// Package dbkey implements the Database Key from spec.md §4.F: the host-key payload binding a logical
// SQL database to its worker, plus named auxiliary connections and their own workers.
package dbkey

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/replication"
	"github.com/sqlmodule/sqlmodule/router"
	"github.com/sqlmodule/sqlmodule/sqlengine"
	"github.com/sqlmodule/sqlmodule/statementcache"
	"github.com/sqlmodule/sqlmodule/stats"
	"github.com/sqlmodule/sqlmodule/worker"
)

// CreateMode selects CREATE_DB's idempotency policy.
type CreateMode uint8

const (
	// Default creates the database if the key is absent and fails with ErrAlreadyExists if it exists.
	Default CreateMode = iota
	// MustCreate fails if the key already exists at all.
	MustCreate
	// CanExist succeeds idempotently if the key already exists.
	CanExist
)

var (
	ErrAlreadyExists = errors.New("database already exists")
	ErrNotFound      = errors.New("no such database")
)

// AuxConnection is a named additional connection to the same logical database, with its own worker.
type AuxConnection struct {
	Conn   *sqlengine.Connection
	Cache  *statementcache.Cache
	Queue  *worker.Queue
	Worker *worker.Worker
	Handle *worker.Handle
}

// Key is the server-key payload for one logical SQL database: the inbox sender, the worker's shared
// state, and any named auxiliary connections.
type Key struct {
	Name string
	Path string

	Conn   *sqlengine.Connection
	Cache  *statementcache.Cache
	Queue  *worker.Queue
	Worker *worker.Worker
	Handle *worker.Handle

	mu   sync.Mutex
	auxs map[string]*AuxConnection
}

// Registry is the map from host key name to *Key, the Go stand-in for "the host's key space" (spec.md
// §1 places the real Redis key space out of scope).
type Registry struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]*Key)}
}

// Get returns the Key registered under name, if any.
func (r *Registry) Get(name string) (*Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[name]
	return k, ok
}

// Deps bundles the collaborators every spawned worker needs, so CreateDB/AddConnection don't have to
// take a long, repetitive parameter list.
type Deps struct {
	Logger  *logging.Logger
	Stats   *stats.Counters
	Keys    router.KeyStore
	Replica *replication.Sender
}

// CreateDB implements spec.md §4.F verbatim: MUST_CREATE fails if the key exists, CAN_EXIST succeeds
// idempotently, the default mode creates if absent. path empty means the default in-memory URI with a
// unique suffix, giving the key an isolated in-memory database.
func CreateDB(ctx context.Context, registry *Registry, deps Deps, name, path string, mode CreateMode) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.keys[name]; exists {
		switch mode {
		case MustCreate:
			return ErrAlreadyExists
		case CanExist:
			return nil
		default:
			return ErrAlreadyExists
		}
	}

	if path == "" {
		path = sqlengine.MemoryURI(fmt.Sprintf("%s-%s", name, uuid.NewString()))
	}

	conn, err := sqlengine.Open(path, sqlengine.ConnModeNoMutex)
	if err != nil {
		return err
	}

	if err := sqlengine.EnsureMetadataTable(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	if err := sqlengine.EnableForeignKeys(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	if err := sqlengine.RecordMetadata(ctx, conn, "path", "path", path); err != nil {
		conn.Close()
		return err
	}

	key := &Key{
		Name: name,
		Path: path,
		Conn: conn,
		auxs: make(map[string]*AuxConnection),
	}

	key.spawn(ctx, deps)

	registry.keys[name] = key

	return nil
}

func (k *Key) spawn(ctx context.Context, deps Deps) {
	cache := statementcache.New(k.Conn, deps.Logger)
	w := worker.New(k.Conn, cache, deps.Stats, deps.Logger, deps.Keys, deps.Replica)
	queue := worker.NewQueue()

	k.Cache = cache
	k.Worker = w
	k.Queue = queue
	k.Handle = worker.Spawn(ctx, w, queue)
}

// AddConnection implements the single-threaded -> serialised upgrade from spec.md §4.F/§9: if the
// primary connection is single-threaded, its worker is stopped and replaced by one holding a
// reopened, serialised connection with a re-cloned cache, before the aliased auxiliary connection is
// opened the same way.
func AddConnection(ctx context.Context, registry *Registry, deps Deps, primary, alias string) error {
	registry.mu.RLock()
	key, exists := registry.keys[primary]
	registry.mu.RUnlock()

	if !exists {
		return ErrNotFound
	}

	key.mu.Lock()
	defer key.mu.Unlock()

	if key.Conn.Mode == sqlengine.ConnModeNoMutex {
		if err := key.upgradeToSerialisedLocked(ctx, deps); err != nil {
			return err
		}
	}

	auxConn, err := sqlengine.Duplicate(key.Conn)
	if err != nil {
		return err
	}

	auxCache, failed := key.Cache.Clone(ctx, auxConn)
	if failed > 0 && deps.Logger != nil {
		deps.Logger.Warnw("some statements failed to recompile for auxiliary connection", "alias", alias, "failed", failed)
	}

	w := worker.New(auxConn, auxCache, deps.Stats, deps.Logger, deps.Keys, deps.Replica)
	queue := worker.NewQueue()
	handle := worker.Spawn(ctx, w, queue)

	key.auxs[alias] = &AuxConnection{
		Conn: auxConn, Cache: auxCache, Queue: queue, Worker: w, Handle: handle,
	}

	return nil
}

func (k *Key) upgradeToSerialisedLocked(ctx context.Context, deps Deps) error {
	stopErr := sendStopAndWait(ctx, k.Queue, k.Worker)
	if stopErr != nil && deps.Logger != nil {
		deps.Logger.Warnw("error stopping worker before upgrading connection mode", "key", k.Name, "error", stopErr)
	}

	newConn, err := sqlengine.Duplicate(k.Conn)
	if err != nil {
		return err
	}

	newCache, failed := k.Cache.Clone(ctx, newConn)
	if failed > 0 && deps.Logger != nil {
		deps.Logger.Warnw("some statements failed to recompile while upgrading connection mode", "key", k.Name, "failed", failed)
	}

	k.Conn = newConn
	k.Cache = newCache

	w := worker.New(newConn, newCache, deps.Stats, deps.Logger, deps.Keys, deps.Replica)
	queue := worker.NewQueue()

	k.Worker = w
	k.Queue = queue
	k.Handle = worker.Spawn(ctx, w, queue)

	return nil
}

func sendStopAndWait(ctx context.Context, queue *worker.Queue, w *worker.Worker) error {
	reply := make(chan struct{})
	client := &syncClient{done: reply}

	if err := queue.Send(&worker.Command{Kind: worker.KindStop, Client: client, ReturnMethod: router.Reply{}}); err != nil {
		return err
	}

	select {
	case <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-w.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// syncClient is a minimal router.BlockedClient used internally by dbkey to wait for a Stop command's
// acknowledgement.
type syncClient struct{ done chan struct{} }

func (c *syncClient) Reply(router.ReplyValue) { close(c.done) }
func (c *syncClient) Error(error)             { close(c.done) }

// Connection implements worker.CopyTarget.
func (k *Key) Connection() *sqlengine.Connection { return k.Conn }

// RestoreCacheFromMetadata implements worker.CopyTarget by delegating to the statement cache.
func (k *Key) RestoreCacheFromMetadata(ctx context.Context) (restored, failed int, err error) {
	return k.Cache.RestoreFromMetadata(ctx)
}

// RecordPath implements worker.CopyTarget, persisting the destination's own path in its metadata table.
func (k *Key) RecordPath(ctx context.Context) error {
	return sqlengine.RecordMetadata(ctx, k.Conn, "path", "path", k.Path)
}

// Connection implements worker.CopyTarget.
func (a *AuxConnection) Connection() *sqlengine.Connection { return a.Conn }

// RestoreCacheFromMetadata implements worker.CopyTarget by delegating to the statement cache.
func (a *AuxConnection) RestoreCacheFromMetadata(ctx context.Context) (restored, failed int, err error) {
	return a.Cache.RestoreFromMetadata(ctx)
}

// RecordPath implements worker.CopyTarget. Auxiliary connections share their primary's path, so this
// is a no-op beyond the metadata row their primary already maintains.
func (a *AuxConnection) RecordPath(context.Context) error { return nil }

// Free sends Stop to the primary and to every auxiliary worker, then removes the entry from registry,
// breaking the key/worker reference cycle from spec.md §9.
func Free(ctx context.Context, registry *Registry, name string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	key, exists := registry.keys[name]
	if !exists {
		return ErrNotFound
	}

	stop := func(queue *worker.Queue) {
		_ = queue.Send(&worker.Command{Kind: worker.KindStop, Client: &syncClient{done: make(chan struct{})}, ReturnMethod: router.Reply{}})
	}

	key.mu.Lock()
	for _, aux := range key.auxs {
		stop(aux.Queue)
	}
	stop(key.Queue)
	key.mu.Unlock()

	delete(registry.keys, name)

	return nil
}
