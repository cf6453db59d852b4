package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for common database conditions.
var (
	// ErrNotFound indicates the requested hash was not found in the
	// expected table.
	ErrNotFound = errors.New("not found")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound for consistent handling up the stack.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
