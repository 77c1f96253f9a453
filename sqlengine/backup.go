package sqlengine

import (
	"context"
	"fmt"
)

// backupBatchRows is how many rows BackupSession.Step copies per call for a single table.
const backupBatchRows = 1024

// BackupStatus reports the progress of a BackupSession.
type BackupStatus uint8

const (
	BackupMore BackupStatus = iota
	BackupDone
)

// BackupSession is the disclosed, from-scratch substitute for SQLite's native page-level Online Backup
// API, which modernc.org/sqlite does not expose through database/sql. It copies schema then data,
// table by table, in batches, rather than at the page level.
type BackupSession struct {
	src, dst *Connection

	tables    []string
	tableIdx  int
	rowOffset int64
}

// Init reads the schema from src and replays the DDL against dst, skipping RediSQLMetadata, which is
// rebuilt explicitly by the caller (dbkey restores the destination's statement cache from its own
// metadata table after a successful backup, per spec.md §4.E "MakeCopy").
func Init(ctx context.Context, src, dst *Connection) (*BackupSession, error) {
	rows, err := src.DB.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name != 'RediSQLMetadata' AND sql IS NOT NULL`)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	session := &BackupSession{src: src, dst: dst}

	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, translateError(err)
		}

		if _, err := dst.DB.ExecContext(ctx, ddl); err != nil {
			return nil, translateError(err)
		}

		session.tables = append(session.tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}

	return session, nil
}

// Step copies up to backupBatchRows rows of the current table, advancing to the next table once
// exhausted, and reports BackupDone once every table has been drained.
func (b *BackupSession) Step(ctx context.Context) (BackupStatus, error) {
	for b.tableIdx < len(b.tables) {
		table := b.tables[b.tableIdx]

		copied, err := b.copyBatch(ctx, table)
		if err != nil {
			return BackupMore, err
		}

		if copied < backupBatchRows {
			b.tableIdx++
			b.rowOffset = 0
			continue
		}

		b.rowOffset += int64(copied)
		return BackupMore, nil
	}

	return BackupDone, nil
}

func (b *BackupSession) copyBatch(ctx context.Context, table string) (int, error) {
	query := fmt.Sprintf("SELECT * FROM %q ORDER BY rowid LIMIT ? OFFSET ?", table)
	rows, err := b.src.DB.QueryContext(ctx, query, backupBatchRows, b.rowOffset)
	if err != nil {
		return 0, translateError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, translateError(err)
	}

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %q VALUES (%s)", table, joinComma(placeholders))

	count := 0
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return count, translateError(err)
		}

		if _, err := b.dst.DB.ExecContext(ctx, insert, raw...); err != nil {
			return count, translateError(err)
		}

		count++
	}
	if err := rows.Err(); err != nil {
		return count, translateError(err)
	}

	return count, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// Finish is a no-op hook kept for symmetry with spec.md §4.A's init/step/finish triple; Init/Step never
// hold resources across calls beyond the *Connection handles the caller already owns.
func (b *BackupSession) Finish() error { return nil }
