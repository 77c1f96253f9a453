package replication

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/sqlengine"
)

// blockSize is the fixed block size spec.md §4.H mandates for RDB save/load.
const blockSize = 40 * 1024

// RDBWriter is the pinned, host-owned sink for a database's RDB snapshot.
type RDBWriter interface {
	WriteHeader(ctx context.Context, blockSize, numBlocks int) error
	WriteBlock(ctx context.Context, block []byte) error
}

// RDBReader is the pinned, host-owned source streaming a database's RDB snapshot back in.
type RDBReader interface {
	ReadHeader(ctx context.Context) (blockSize, numBlocks int, err error)
	ReadBlock(ctx context.Context) ([]byte, error)
}

// AOFWriter is the pinned, host-owned sink for append-only-log lines.
type AOFWriter interface {
	WriteLine(ctx context.Context, line string) error
}

// SaveRDB writes blockSize header then streams the database file (or, for an in-memory database, a
// temporary backup file produced via sqlengine) in blockSize chunks.
func SaveRDB(ctx context.Context, conn *sqlengine.Connection, w RDBWriter) error {
	sourcePath := strings.TrimPrefix(conn.URI, "file:")

	if isMemoryURI(conn.URI) {
		tmpPath, cleanup, err := snapshotToTempFile(ctx, conn)
		if err != nil {
			return err
		}
		defer cleanup()
		sourcePath = tmpPath
	} else if idx := strings.IndexByte(sourcePath, '?'); idx >= 0 {
		sourcePath = sourcePath[:idx]
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open database file for rdb save: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	numBlocks := int((info.Size() + blockSize - 1) / blockSize)
	if err := w.WriteHeader(ctx, blockSize, numBlocks); err != nil {
		return err
	}

	buf := make([]byte, blockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := w.WriteBlock(ctx, append([]byte(nil), buf[:n]...)); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// LoadRDB reads blocks from r into a temporary file and copies it into destConn via a backup session.
func LoadRDB(ctx context.Context, destConn *sqlengine.Connection, r RDBReader) error {
	_, numBlocks, err := r.ReadHeader(ctx)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "sqlmodule-rdb-load-*.db")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	for i := 0; i < numBlocks; i++ {
		block, err := r.ReadBlock(ctx)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(block); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	srcConn, err := sqlengine.Open(tmpPath, sqlengine.ConnModeFullMutex)
	if err != nil {
		return err
	}
	defer srcConn.Close()

	return runBackupToCompletion(ctx, srcConn, destConn)
}

func snapshotToTempFile(ctx context.Context, conn *sqlengine.Connection) (path string, cleanup func(), err error) {
	tmp, err := os.CreateTemp("", "sqlmodule-rdb-save-*.db")
	if err != nil {
		return "", nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // sqlengine.Open will create it fresh

	tmpConn, err := sqlengine.Open(tmpPath, sqlengine.ConnModeFullMutex)
	if err != nil {
		return "", nil, err
	}

	if err := runBackupToCompletion(ctx, conn, tmpConn); err != nil {
		tmpConn.Close()
		os.Remove(tmpPath)
		return "", nil, err
	}
	tmpConn.Close()

	return tmpPath, func() { os.Remove(tmpPath) }, nil
}

func runBackupToCompletion(ctx context.Context, src, dst *sqlengine.Connection) error {
	session, err := sqlengine.Init(ctx, src, dst)
	if err != nil {
		return err
	}

	for {
		status, err := session.Step(ctx)
		if err != nil {
			return err
		}
		if status == sqlengine.BackupDone {
			return session.Finish()
		}
	}
}

func isMemoryURI(uri string) bool {
	return strings.Contains(uri, "mode=memory")
}

// RewriteAOF emits a CREATE_DB line followed by one EXEC.NOW per non-empty DDL statement, plus a
// from-scratch equivalent of the SQLite CLI's ".dump" meta-command built from row scans, since
// modernc.org/sqlite does not expose ".dump" through database/sql.
func RewriteAOF(ctx context.Context, dbName string, conn *sqlengine.Connection, w AOFWriter) error {
	if err := w.WriteLine(ctx, fmt.Sprintf("CREATE_DB %s", dbName)); err != nil {
		return err
	}

	rows, err := conn.DB.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name != 'RediSQLMetadata' AND sql IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return err
		}

		if err := w.WriteLine(ctx, fmt.Sprintf("EXEC.NOW %s QUERY %q", dbName, ddl)); err != nil {
			return err
		}

		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, table := range tables {
		if err := dumpTableRows(ctx, dbName, conn, table, w); err != nil {
			return err
		}
	}

	return nil
}

func dumpTableRows(ctx context.Context, dbName string, conn *sqlengine.Connection, table string, w AOFWriter) error {
	rows, err := conn.DB.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		values := make([]string, len(raw))
		for i, v := range raw {
			values[i] = sqlLiteral(driverValueToEntity(v))
		}

		line := fmt.Sprintf("EXEC.NOW %s QUERY %q", dbName,
			fmt.Sprintf("INSERT INTO %s VALUES (%s);", table, strings.Join(values, ", ")))

		if err := w.WriteLine(ctx, line); err != nil {
			return err
		}
	}

	return rows.Err()
}

func driverValueToEntity(v any) cursor.Entity {
	switch tv := v.(type) {
	case int64:
		return cursor.Integer(tv)
	case float64:
		return cursor.Float64(tv)
	case string:
		return cursor.Text(tv)
	case []byte:
		return cursor.Blob(tv)
	default:
		return cursor.Null()
	}
}

func sqlLiteral(e cursor.Entity) string {
	switch e.Kind {
	case cursor.KindInteger:
		return e.AsText()
	case cursor.KindFloat:
		return e.AsText()
	case cursor.KindText:
		return "'" + strings.ReplaceAll(e.Text, "'", "''") + "'"
	case cursor.KindBlob:
		return fmt.Sprintf("X'%x'", e.Blob)
	default:
		return "NULL"
	}
}
