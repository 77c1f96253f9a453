// Package sqlengine owns a SQLite connection and its prepared statements, exposing the
// prepare/bind/step/reset/finalize protocol spec.md describes over SQLite's C API, re-derived from
// what database/sql exposes on top of modernc.org/sqlite (a pure-Go SQLite driver, no cgo required).
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// ConnMode selects SQLite's thread-safety discipline for a Connection.
type ConnMode uint8

const (
	// ConnModeNoMutex models SQLite's single-threaded mode: the connection may be used by only one
	// goroutine at a time, enforced here by limiting the database/sql pool to a single connection.
	ConnModeNoMutex ConnMode = iota
	// ConnModeFullMutex models SQLite's serialised mode: concurrent borrows are safe, since
	// modernc.org/sqlite is built with its own internal locking.
	ConnModeFullMutex
)

// Connection is a SQLite database handle plus the URI it was opened with.
type Connection struct {
	DB   *sql.DB
	URI  string
	Mode ConnMode
}

// Open opens path (a plain file path or a "file:" URI) in the given mode.
func Open(path string, mode ConnMode) (*Connection, error) {
	dsn := path

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection %q: %w", path, err)
	}

	if mode == ConnModeNoMutex {
		// A single pooled connection gives us the "only its owner worker touches it" discipline
		// that SQLite's own nomutex build would otherwise provide.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite connection %q: %w", path, err)
	}

	return &Connection{DB: db, URI: path, Mode: mode}, nil
}

// Duplicate reopens conn's URI in ConnModeFullMutex, for use when a database is upgraded from
// single-threaded to serialised mode (see dbkey.AddConnection).
func Duplicate(conn *Connection) (*Connection, error) {
	return Open(conn.URI, ConnModeFullMutex)
}

// Close closes the underlying *sql.DB.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// MemoryURI returns the in-memory connection URI for the given unique suffix, per spec.md §4.F's default
// path: "each key has an isolated in-memory database".
func MemoryURI(suffix string) string {
	v := url.Values{}
	v.Set("mode", "memory")
	v.Set("cache", "shared")

	return fmt.Sprintf("file:%s?%s", suffix, v.Encode())
}

// EnsureMetadataTable creates the RediSQLMetadata table if it is missing.
func EnsureMetadataTable(ctx context.Context, conn *Connection) error {
	_, err := conn.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS RediSQLMetadata (
		data_type TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (data_type, key)
	)`)
	return err
}

// EnableForeignKeys turns PRAGMA foreign_keys on for the connection.
func EnableForeignKeys(ctx context.Context, conn *Connection) error {
	_, err := conn.DB.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return err
}

// RecordMetadata upserts a (dataType, key, value) row into RediSQLMetadata.
func RecordMetadata(ctx context.Context, conn *Connection, dataType, key, value string) error {
	_, err := conn.DB.ExecContext(ctx,
		`INSERT INTO RediSQLMetadata(data_type, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(data_type, key) DO UPDATE SET value = excluded.value`,
		dataType, key, value)
	return err
}

// DeleteMetadata removes a metadata row, if present.
func DeleteMetadata(ctx context.Context, conn *Connection, dataType, key string) error {
	_, err := conn.DB.ExecContext(ctx,
		"DELETE FROM RediSQLMetadata WHERE data_type = ? AND key = ?", dataType, key)
	return err
}

// TotalChanges returns sqlite's running total of rows modified since the connection was opened, used by
// multistatement.Execute to compute a statement's ModifiedRows by differencing two calls.
func TotalChanges(ctx context.Context, conn *Connection) (int64, error) {
	var total int64
	err := conn.DB.QueryRowContext(ctx, "SELECT total_changes();").Scan(&total)
	return total, err
}
