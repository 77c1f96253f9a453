// Package multistatement compiles a single text buffer of `;`-separated SQL statements into a
// MultiStatement: an ordered list of compiled statements sharing one parameter namespace.
package multistatement

import (
	"context"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	"github.com/sqlmodule/sqlmodule/cursor"
	"github.com/sqlmodule/sqlmodule/sqlengine"
)

// ErrMixedParameterStyle is returned when a statement buffer mixes anonymous `?` placeholders with
// named `?N` placeholders, which spec.md §4.B forbids.
var ErrMixedParameterStyle = errors.New("cannot mix anonymous and named parameters")

// ErrArgumentCount is returned by BindArgs when the argument count does not match NumberParameters,
// surfaced to command-grammar callers as error code 2021 per spec.md §8.
var ErrArgumentCount = errors.New("argument count does not match declared parameter count")

// paramRe finds every `?` placeholder occurrence, capturing the numeric suffix when present. This is
// the disclosed substitute for SQLite's sqlite3_bind_parameter_name introspection, which database/sql
// does not surface (see DESIGN.md).
var paramRe = regexp.MustCompile(`\?([0-9]*)`)

// MultiStatement is a compiled sequence of SQL statements sharing one parameter namespace.
type MultiStatement struct {
	conn       *sqlengine.Connection
	statements []*sqlengine.Statement
	numParams  int
}

// Compile splits sqlText into individual statements, prepares each against conn, classifies its
// parameters, and returns the resulting MultiStatement.
func Compile(ctx context.Context, conn *sqlengine.Connection, sqlText string) (*MultiStatement, error) {
	statements, err := sqlengine.PrepareAll(ctx, conn, sqlText)
	if err != nil {
		return nil, err
	}

	anyAnonymous := false
	anyNamed := false
	indexSet := make(map[int]struct{})

	perStatementIndices := make([][]int, len(statements))

	for i, stmt := range statements {
		matches := paramRe.FindAllStringSubmatch(stmt.SQLText, -1)

		seen := make(map[int]struct{})
		for _, m := range matches {
			if m[1] == "" {
				anyAnonymous = true
				continue
			}

			anyNamed = true

			idx := atoiMust(m[1])
			seen[idx] = struct{}{}
			indexSet[idx] = struct{}{}
		}

		indices := make([]int, 0, len(seen))
		for idx := range seen {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		perStatementIndices[i] = indices
	}

	if anyAnonymous && anyNamed {
		for _, stmt := range statements {
			_ = stmt.Finalize()
		}
		return nil, ErrMixedParameterStyle
	}

	numParams := 0
	if anyNamed {
		numParams = len(indexSet)
	}

	for i, stmt := range statements {
		stmt.ParamIndices = perStatementIndices[i]
	}

	return &MultiStatement{conn: conn, statements: statements, numParams: numParams}, nil
}

func atoiMust(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// NumberParameters returns the count of distinct named positional indices across all statements, or 0
// if every statement has zero placeholders.
func (m *MultiStatement) NumberParameters() int { return m.numParams }

// IsReadOnly is the conjunction of each statement's read-only classification.
func (m *MultiStatement) IsReadOnly() bool {
	for _, stmt := range m.statements {
		if !stmt.ReadOnly {
			return false
		}
	}
	return true
}

// BindArgs projects args onto every statement's own index list. When NumberParameters() > 0, an argument
// count different from it fails with ErrArgumentCount; with no named parameters, any arguments are
// accepted and none of them is bound.
func (m *MultiStatement) BindArgs(args []cursor.Entity) error {
	if m.numParams > 0 && len(args) != m.numParams {
		return ErrArgumentCount
	}

	for _, stmt := range m.statements {
		if err := stmt.BindArgsFor(args); err != nil {
			return err
		}
	}

	return nil
}

// Execute steps each contained statement in order, returning a Cursor tied to the last statement. If the
// last statement yields a row, the Cursor is positioned on it; otherwise the Cursor is Done and its
// ModifiedRows is the delta of sqlite_total_changes taken before and after, so changes inside
// BEGIN/COMMIT blocks are aggregated.
func (m *MultiStatement) Execute(ctx context.Context) (*cursor.Cursor, error) {
	before, err := sqlengine.TotalChanges(ctx, m.conn)
	if err != nil {
		return nil, err
	}

	for _, stmt := range m.statements {
		if err := stmt.Reset(); err != nil {
			return nil, err
		}
	}

	for i, stmt := range m.statements {
		isLast := i == len(m.statements)-1

		status, err := stmt.Step(ctx)
		if err != nil {
			return nil, err
		}

		if isLast {
			if status == cursor.StepRow {
				return cursor.NewRows(stmt), nil
			}

			after, err := sqlengine.TotalChanges(ctx, m.conn)
			if err != nil {
				return nil, err
			}

			return cursor.NewDone(after - before), nil
		}

		// Drain non-terminal statements to completion before moving on.
		for status == cursor.StepRow {
			status, err = stmt.Step(ctx)
			if err != nil {
				return nil, err
			}
		}
	}

	after, err := sqlengine.TotalChanges(ctx, m.conn)
	if err != nil {
		return nil, err
	}

	return cursor.NewDone(after - before), nil
}

// Close finalizes every contained statement.
func (m *MultiStatement) Close() error {
	var firstErr error
	for _, stmt := range m.statements {
		if err := stmt.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
