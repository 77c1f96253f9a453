package sqlengine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/sqlmodule/sqlmodule/cursor"
)

// readOnlyVerbRe matches the leading keyword of statements SQLite executes without mutating the
// database, the set spec.md §4.A lists: SELECT, PRAGMA, EXPLAIN, WITH ... SELECT, VALUES.
var readOnlyVerbRe = regexp.MustCompile(`(?i)^\s*(SELECT|PRAGMA|EXPLAIN|WITH|VALUES)\b`)

// IsReadOnlySQL reports whether a single SQL statement is read-only by inspecting its leading keyword.
func IsReadOnlySQL(sqlText string) bool {
	return readOnlyVerbRe.MatchString(sqlText)
}

// Statement is a shared handle to one compiled SQLite prepared statement, finalised exactly once when
// the last handle is dropped.
type Statement struct {
	stmt     *sql.Stmt
	SQLText  string
	ReadOnly bool

	// ParamIndices is the sorted list of distinct ?N indices this statement actually references,
	// populated by multistatement.Compile. BindArgsFor uses it to implement the "range-error swallow"
	// from spec.md §4.A/§9 without needing SQLITE_RANGE at all: a statement never receives a bind call
	// for an index it does not declare.
	ParamIndices []int

	mu           sync.Mutex
	rows         *sql.Rows
	boundArgs    []driver.Value
	modifiedRows int64
	started      bool

	refcount *int32
	once     *sync.Once
}

func newStatement(stmt *sql.Stmt, sqlText string) *Statement {
	refcount := int32(1)
	return &Statement{
		stmt:     stmt,
		SQLText:  sqlText,
		ReadOnly: IsReadOnlySQL(sqlText),
		refcount: &refcount,
		once:     new(sync.Once),
	}
}

// Clone returns a new handle to the same prepared statement, incrementing its refcount, mirroring
// spec.md §3's "a Statement is a shared handle ... finalised exactly once when the last handle is
// dropped".
func (s *Statement) Clone() *Statement {
	atomic.AddInt32(s.refcount, 1)
	clone := *s
	clone.mu = sync.Mutex{}
	return &clone
}

// BindArgsFor projects the Multi-Statement's full argument vector down to the subset this statement
// declares and stages it for the next Step call. The driver's NumInput reports the highest ?N index
// referenced in the SQL text, not len(ParamIndices), so gapped placeholders (?1,?3) need a
// NumInput-sized positional vector with the unreferenced slots left as NULL — a shorter vector makes
// database/sql reject the call with "expected N arguments, got M" before the range-error swallow ever
// gets a chance to run.
func (s *Statement) BindArgsFor(args []cursor.Entity) error {
	width := 0
	for _, idx := range s.ParamIndices {
		if idx > width {
			width = idx
		}
	}

	projected := make([]driver.Value, width)

	for _, idx := range s.ParamIndices {
		// ParamIndices is 1-based (as written in SQL, e.g. ?1); args is 0-based.
		pos := idx - 1
		if pos < 0 || pos >= len(args) {
			// Out-of-range for this statement's own declared count but within the Multi-Statement's
			// total: swallowed as success per spec.md §9, "do not fix this". The slot stays nil (NULL).
			continue
		}

		projected[idx-1] = entityToDriverValue(args[pos])
	}

	s.mu.Lock()
	s.boundArgs = projected
	s.mu.Unlock()

	return nil
}

func entityToDriverValue(e cursor.Entity) driver.Value {
	switch e.Kind {
	case cursor.KindInteger:
		return e.Integer
	case cursor.KindFloat:
		return e.Float
	case cursor.KindText:
		return e.Text
	case cursor.KindBlob:
		return e.Blob
	default:
		return nil
	}
}

// Reset clears the statement's row position and bindings, preparing it for reuse. Each Step call
// reopens rows fresh, which is database/sql's natural reset point, so Reset only needs to drop the
// previous *sql.Rows and the started flag.
func (s *Statement) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rows != nil {
		err := s.rows.Close()
		s.rows = nil
		if err != nil {
			return translateError(err)
		}
	}

	s.started = false
	s.modifiedRows = 0

	return nil
}

// Step advances the statement by one row, or (for a non-read-only statement) runs it to completion.
func (s *Statement) Step(ctx context.Context) (cursor.StepStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := make([]any, len(s.boundArgs))
	for i, v := range s.boundArgs {
		args[i] = v
	}

	if !s.started {
		s.started = true

		if s.ReadOnly {
			rows, err := s.stmt.QueryContext(ctx, args...)
			if err != nil {
				return cursor.StepDone, translateError(err)
			}
			s.rows = rows
		} else {
			result, err := s.stmt.ExecContext(ctx, args...)
			if err != nil {
				return cursor.StepDone, translateError(err)
			}

			affected, err := result.RowsAffected()
			if err != nil {
				affected = 0
			}
			s.modifiedRows = affected

			return cursor.StepDone, nil
		}
	}

	if s.rows == nil {
		return cursor.StepDone, nil
	}

	if s.rows.Next() {
		return cursor.StepRow, nil
	}

	if err := s.rows.Err(); err != nil {
		return cursor.StepDone, translateError(err)
	}

	return cursor.StepDone, nil
}

// Columns returns the current row source's column names.
func (s *Statement) Columns() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rows == nil {
		return nil, nil
	}

	return s.rows.Columns()
}

// Scan reads the row made current by the last Step call into typed Entities.
func (s *Statement) Scan() ([]cursor.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols, err := s.rows.Columns()
	if err != nil {
		return nil, err
	}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, translateError(err)
	}

	entities := make([]cursor.Entity, len(cols))
	for i, v := range raw {
		entities[i] = driverValueToEntity(v)
	}

	return entities, nil
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
	case bool:
		if tv {
			return cursor.Integer(1)
		}
		return cursor.Integer(0)
	case nil:
		return cursor.Null()
	default:
		return cursor.Null()
	}
}

// ModifiedRows reports rows affected by a write; meaningful once Step has returned StepDone for a
// non-read-only statement.
func (s *Statement) ModifiedRows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modifiedRows
}

// Finalize releases the underlying prepared statement. Safe to call more than once, and safe to call on
// any clone: the last dropped clone performs the actual close.
func (s *Statement) Finalize() error {
	if atomic.AddInt32(s.refcount, -1) > 0 {
		return nil
	}

	var err error
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.rows != nil {
			_ = s.rows.Close()
		}

		err = s.stmt.Close()
	})

	return err
}

// Assert interface compliance.
var _ cursor.RowSource = (*Statement)(nil)
