package ledger

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStorageFailure marks any failure of the underlying database. The
	// enclosing transaction has been rolled back when it is returned.
	ErrStorageFailure = errors.New("ledger storage failure")

	// ErrPeriodNotFound is returned when no invoice period exists for a
	// period/company pair, neither by exact name nor by identity match.
	ErrPeriodNotFound = errors.New("invoice period not found")

	// ErrNoteNotFound is returned when a note id does not exist.
	ErrNoteNotFound = errors.New("note not found")

	// ErrDuplicateSubmission is logged when a request token has already been
	// recorded. It is reported to callers as a skip, never returned.
	ErrDuplicateSubmission = errors.New("request token already processed")

	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// StorageError wraps a database error with the store operation that failed.
type StorageError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ledger: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports ErrStorageFailure for every StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure || errors.Is(e.Err, target)
}

// NewStorageError creates a StorageError.
func NewStorageError(op string, err error, details string) *StorageError {
	return &StorageError{Op: op, Err: err, Details: details}
}

// WrapStorageError wraps err as a StorageError unless it already is one or
// is one of the package's lookup sentinels.
func WrapStorageError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	if errors.Is(err, ErrPeriodNotFound) || errors.Is(err, ErrNoteNotFound) {
		return err
	}

	return NewStorageError(op, err, details)
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint violation from either supported driver.
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	return false
}
