package cursor

import (
	"context"
	"github.com/pkg/errors"
)

// ErrTimeout is returned when row production crosses its deadline.
var ErrTimeout = errors.New("deadline exceeded during row production")

// ErrInterrupted is returned when the underlying engine reports an interrupted step.
var ErrInterrupted = errors.New("query interrupted")

// StepStatus is the outcome of advancing a RowSource by one step.
type StepStatus uint8

const (
	StepRow StepStatus = iota
	StepDone
	StepInterrupted
)

// RowSource is the minimal pull-model interface a compiled statement must expose for a Cursor to drain it.
// sqlengine.Statement implements this without cursor needing to import sqlengine, keeping the dependency
// one-directional (sqlengine -> cursor).
type RowSource interface {
	// Columns returns the result set's column names. Valid only once at least one Step call has happened.
	Columns() ([]string, error)
	// Step advances the source by one row and reports what happened.
	Step(ctx context.Context) (StepStatus, error)
	// Scan reads the entities of the row made current by the last Step call.
	Scan() ([]Entity, error)
	// ModifiedRows reports rows affected by a write; meaningful once Step has returned StepDone.
	ModifiedRows() int64
}

// Cursor is the live step-state of an executing Multi-Statement.
type Cursor struct {
	Status       CursorStatus
	Source       RowSource
	ModifiedRows int64 // meaningful when Status == StatusDone
}

// CursorStatus classifies what kind of outcome a Cursor represents.
type CursorStatus uint8

const (
	// StatusOK means there is nothing to report: no rows, no modification count.
	StatusOK CursorStatus = iota
	// StatusDone means a write completed; ModifiedRows on the terminal QueryResult carries the count.
	StatusDone
	// StatusRows means the cursor still has (or had) rows to pull.
	StatusRows
)

// NewOK returns a Cursor representing an empty, successful result.
func NewOK() *Cursor { return &Cursor{Status: StatusOK} }

// NewDone returns a Cursor representing a completed write.
func NewDone(modifiedRows int64) *Cursor {
	return &Cursor{Status: StatusDone, ModifiedRows: modifiedRows}
}

// NewRows returns a Cursor over a live RowSource whose last Step call returned StepRow, i.e. one
// positioned at its first row.
func NewRows(source RowSource) *Cursor {
	return &Cursor{Status: StatusRows, Source: source}
}

// QueryResult is the materialised outcome of draining a Cursor.
type QueryResult struct {
	Kind         ResultKind
	ModifiedRows int64
	ColumnNames  []string
	ColumnTypes  []string
	Rows         [][]Entity // row-major; header rows, if requested, are NOT included here
	Stream       *StreamSummary
}

type ResultKind uint8

const (
	ResultOK ResultKind = iota
	ResultDone
	ResultArray
	ResultStream
)

// StreamSummary describes a completed stream append operation.
type StreamSummary struct {
	Stream  string
	FirstID string
	LastID  string
	Size    int64
}

// FromCursor drains c, honouring deadline, and returns the materialised QueryResult.
//
// A StatusRows cursor's source is already positioned on its first row (see NewRows), so that row is
// scanned before the source is stepped again. FromCursor never folds header rows into Rows: the column
// names and SQLite-style type strings are exposed via ColumnNames/ColumnTypes, and callers building a
// reply with literal header rows prepend them via WithHeader -- this keeps the "idempotent w.r.t.
// adding a header" property trivial to verify, since Rows is identical in both cases.
func FromCursor(ctx context.Context, c *Cursor, deadline func() bool) (*QueryResult, error) {
	switch c.Status {
	case StatusOK:
		return &QueryResult{Kind: ResultOK}, nil
	case StatusDone:
		return &QueryResult{Kind: ResultDone, ModifiedRows: c.ModifiedRows}, nil
	}

	if deadline() {
		return nil, ErrTimeout
	}

	names, err := c.Source.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Kind: ResultArray, ColumnNames: names}

	status := StepRow

	var types []string
	for status == StepRow {
		if deadline() {
			return nil, ErrTimeout
		}

		row, err := c.Source.Scan()
		if err != nil {
			return nil, err
		}

		if types == nil {
			types = make([]string, len(row))
			for i, cell := range row {
				types[i] = cell.TypeName()
			}
		}

		result.Rows = append(result.Rows, row)

		status, err = c.Source.Step(ctx)
		if err != nil {
			return nil, err
		}
	}

	if status == StepInterrupted {
		return nil, ErrInterrupted
	}

	result.ColumnTypes = types
	result.ModifiedRows = c.Source.ModifiedRows()

	return result, nil
}

// WithHeader returns the header rows (names, then type strings) that callers prepend to QueryResult.Rows
// when a command requested a header, per spec: first row names, second row type strings.
func (r *QueryResult) WithHeader() [][]Entity {
	if r.Kind != ResultArray {
		return nil
	}

	nameRow := make([]Entity, len(r.ColumnNames))
	for i, n := range r.ColumnNames {
		nameRow[i] = Text(n)
	}

	typeRow := make([]Entity, len(r.ColumnTypes))
	for i, t := range r.ColumnTypes {
		typeRow[i] = Text(t)
	}

	header := make([][]Entity, 0, len(r.Rows)+2)
	header = append(header, nameRow, typeRow)
	header = append(header, r.Rows...)

	return header
}
