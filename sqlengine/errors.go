package sqlengine

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
)

// SQLiteError carries the numeric SQLite result code and message for a non-OK/DONE/ROW return,
// per spec.md §4.A's failure model.
type SQLiteError struct {
	Code    int
	Message string
}

func (e *SQLiteError) Error() string {
	return fmt.Sprintf("sqlite error %d: %s", e.Code, e.Message)
}

// translateError converts an error coming back from modernc.org/sqlite into a *SQLiteError, pulling the
// numeric code and message straight through. Errors of any other origin are returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return &SQLiteError{Code: sqliteErr.Code(), Message: sqliteErr.Error()}
	}

	return err
}
