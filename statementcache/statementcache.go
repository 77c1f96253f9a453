// Package statementcache implements the per-database identifier -> compiled-statement cache described
// in spec.md §4.D, persisted in the RediSQLMetadata table alongside the in-memory map it mirrors.
package statementcache

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/multistatement"
	"github.com/sqlmodule/sqlmodule/sqlengine"
)

// Errors returned by cache operations, matching the contracts in spec.md §4.D.
var (
	ErrAlreadyExists = errors.New("statement already exists")
	ErrNotPresent    = errors.New("statement not present")
	ErrNotReadOnly   = errors.New("statement not read only")
)

type entry struct {
	id         string
	sql        string
	compiled   *multistatement.MultiStatement
	numParams  int
	readOnly   bool
}

// Cache is a per-database map from identifier to compiled statement, mirrored into RediSQLMetadata.
type Cache struct {
	conn   *sqlengine.Connection
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Cache bound to conn.
func New(conn *sqlengine.Connection, logger *logging.Logger) *Cache {
	return &Cache{conn: conn, logger: logger, entries: make(map[string]*entry)}
}

// InsertNew compiles sql against the cache's connection and inserts it under id. If id is already
// present, it is replaced only when canUpdate is true; otherwise ErrAlreadyExists.
func (c *Cache) InsertNew(ctx context.Context, id, sql string, canUpdate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; exists && !canUpdate {
		return ErrAlreadyExists
	}

	compiled, err := multistatement.Compile(ctx, c.conn, sql)
	if err != nil {
		return err
	}

	if err := sqlengine.RecordMetadata(ctx, c.conn, "statement", id, sql); err != nil {
		compiled.Close()
		return err
	}

	c.replaceLocked(id, sql, compiled)

	return nil
}

// Update replaces the statement stored under id. If id is absent, it is created only when canCreate is
// true; otherwise ErrNotPresent.
func (c *Cache) Update(ctx context.Context, id, sql string, canCreate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists && !canCreate {
		return ErrNotPresent
	}

	compiled, err := multistatement.Compile(ctx, c.conn, sql)
	if err != nil {
		return err
	}

	if err := sqlengine.RecordMetadata(ctx, c.conn, "statement", id, sql); err != nil {
		compiled.Close()
		return err
	}

	c.replaceLocked(id, sql, compiled)

	return nil
}

func (c *Cache) replaceLocked(id, sql string, compiled *multistatement.MultiStatement) {
	if old, exists := c.entries[id]; exists {
		old.compiled.Close()
	}

	c.entries[id] = &entry{
		id:        id,
		sql:       sql,
		compiled:  compiled,
		numParams: compiled.NumberParameters(),
		readOnly:  compiled.IsReadOnly(),
	}
}

// Delete removes the in-memory entry and the metadata row for id.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.entries[id]
	if !exists {
		return ErrNotPresent
	}

	if err := sqlengine.DeleteMetadata(ctx, c.conn, "statement", id); err != nil {
		return err
	}

	existing.compiled.Close()
	delete(c.entries, id)

	return nil
}

// Exec resets and binds the cached statement under id, executes it, and returns the drained result.
// No read-only check is performed.
func (c *Cache) Exec(ctx context.Context, id string, args []cursor.Entity, deadline func() bool) (*cursor.QueryResult, error) {
	return c.run(ctx, id, args, deadline, false)
}

// Query is identical to Exec but fails with ErrNotReadOnly if the entry is not read-only.
func (c *Cache) Query(ctx context.Context, id string, args []cursor.Entity, deadline func() bool) (*cursor.QueryResult, error) {
	return c.run(ctx, id, args, deadline, true)
}

func (c *Cache) run(ctx context.Context, id string, args []cursor.Entity, deadline func() bool, requireReadOnly bool) (*cursor.QueryResult, error) {
	c.mu.RLock()
	e, exists := c.entries[id]
	c.mu.RUnlock()

	if !exists {
		return nil, ErrNotPresent
	}

	if requireReadOnly && !e.readOnly {
		return nil, ErrNotReadOnly
	}

	if err := e.compiled.BindArgs(args); err != nil {
		return nil, err
	}

	cur, err := e.compiled.Execute(ctx)
	if err != nil {
		return nil, err
	}

	return cursor.FromCursor(ctx, cur, deadline)
}

// Show returns a one-row Array result describing id: identifier, sql, parameters_count, read_only.
func (c *Cache) Show(id string) (*cursor.QueryResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[id]
	if !exists {
		return nil, ErrNotPresent
	}

	return &cursor.QueryResult{
		Kind:        cursor.ResultArray,
		ColumnNames: []string{"identifier", "sql", "parameters_count", "read_only"},
		Rows:        [][]cursor.Entity{describeRow(e)},
	}, nil
}

// List returns one row per cached entry, in the same shape as Show.
func (c *Cache) List() *cursor.QueryResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := &cursor.QueryResult{
		Kind:        cursor.ResultArray,
		ColumnNames: []string{"identifier", "sql", "parameters_count", "read_only"},
	}

	for _, e := range c.entries {
		result.Rows = append(result.Rows, describeRow(e))
	}

	return result
}

func describeRow(e *entry) []cursor.Entity {
	readOnly := int64(0)
	if e.readOnly {
		readOnly = 1
	}

	return []cursor.Entity{
		cursor.Text(e.id),
		cursor.Text(e.sql),
		cursor.Integer(int64(e.numParams)),
		cursor.Integer(readOnly),
	}
}

// RestoreFromMetadata reads every ('statement', *, *) row from RediSQLMetadata and compiles each into
// the cache. Compile failures are logged and counted, not fatal, resolving spec.md §9's open question
// by reporting (rather than silently ignoring) the restoration failure count.
func (c *Cache) RestoreFromMetadata(ctx context.Context) (restored, failed int, err error) {
	rows, err := c.conn.DB.QueryContext(ctx,
		"SELECT key, value FROM RediSQLMetadata WHERE data_type = 'statement'")
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	type pending struct{ id, sql string }
	var all []pending

	for rows.Next() {
		var id, sql string
		if err := rows.Scan(&id, &sql); err != nil {
			return 0, 0, err
		}
		all = append(all, pending{id, sql})
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, p := range all {
		if err := c.InsertNew(ctx, p.id, p.sql, true); err != nil {
			failed++
			if c.logger != nil {
				c.logger.Warnw("failed to restore cached statement", "id", p.id, "error", err)
			}
			continue
		}
		restored++
	}

	return restored, failed, nil
}

// Clone recompiles every entry against newConn, used when dbkey switches a database from
// single-threaded to serialised mode. Recompile failures are logged and the entry skipped, not fatal.
func (c *Cache) Clone(ctx context.Context, newConn *sqlengine.Connection) (*Cache, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := New(newConn, c.logger)
	failed := 0

	for id, e := range c.entries {
		compiled, err := multistatement.Compile(ctx, newConn, e.sql)
		if err != nil {
			failed++
			if c.logger != nil {
				c.logger.Warnw("failed to recompile cached statement while cloning cache", "id", id, "error", err)
			}
			continue
		}

		clone.entries[id] = &entry{
			id:        id,
			sql:       e.sql,
			compiled:  compiled,
			numParams: compiled.NumberParameters(),
			readOnly:  compiled.IsReadOnly(),
		}
	}

	return clone, failed
}

// Close finalizes every cached statement.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.compiled.Close()
	}
}
