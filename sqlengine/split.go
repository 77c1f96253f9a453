package sqlengine

import (
	"context"
	"strings"
)

// SplitStatements splits a SQL text buffer into individual statements, the Go-native substitute for
// SQLite's iterative sqlite3_prepare_v2 loop that walks the input buffer until the trailing pointer
// reaches the terminator (spec.md §4.A "prepare_all").
//
// Adapted from the teacher's database.MysqlSplitStatements: keeps the "only split on a statement-
// terminating semicolon, skip empty chunks" shape but drops the MySQL DELIMITER handling, which has no
// SQLite analogue, and additionally tracks single/double-quoted string state so a semicolon inside a
// string literal is never mistaken for a statement terminator.
func SplitStatements(sqlText string) []string {
	var result []string
	var current strings.Builder

	var quote rune
	for _, r := range sqlText {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ';':
			if stmt := strings.TrimSpace(current.String()); len(stmt) > 0 {
				result = append(result, stmt)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	if stmt := strings.TrimSpace(current.String()); len(stmt) > 0 {
		result = append(result, stmt)
	}

	return result
}

// PrepareAll splits sqlText into individual statements and prepares each of them against conn.
func PrepareAll(ctx context.Context, conn *Connection, sqlText string) ([]*Statement, error) {
	chunks := SplitStatements(sqlText)

	statements := make([]*Statement, 0, len(chunks))
	for _, chunk := range chunks {
		stmt, err := conn.DB.PrepareContext(ctx, chunk)
		if err != nil {
			for _, prepared := range statements {
				_ = prepared.Finalize()
			}
			return nil, translateError(err)
		}

		statements = append(statements, newStatement(stmt, chunk))
	}

	return statements, nil
}
