package mirror

import (
	"errors"
	"fmt"

	"ledgersync/pkg/models"
)

var (
	// ErrMirrorSync marks every failure of the external ledger. It never
	// undoes a committed ledger store write.
	ErrMirrorSync = errors.New("mirror sync failed")

	// ErrCompanyNotFound is returned when no row of the company column
	// matches and open-ended registration is disabled.
	ErrCompanyNotFound = errors.New("company not found in mirror")

	// ErrPeriodColumnNotFound is returned when no header cell carries the
	// period's label.
	ErrPeriodColumnNotFound = errors.New("period column not found in mirror")

	// ErrInvalidCell is returned when an amount cell holds something that is
	// not a number.
	ErrInvalidCell = errors.New("invalid amount cell")
)

// SyncError carries the context needed to repeat a failed mirror write by hand.
type SyncError struct {
	Op      string
	Company string
	Period  models.Period
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Company != "" {
		return fmt.Sprintf("mirror: %s failed for %q %s: %v", e.Op, e.Company, e.Period, e.Err)
	}
	return fmt.Sprintf("mirror: %s failed for %s: %v", e.Op, e.Period, e.Err)
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports ErrMirrorSync for every SyncError.
func (e *SyncError) Is(target error) bool {
	return target == ErrMirrorSync || errors.Is(e.Err, target)
}

func newSyncError(op, company string, period models.Period, err error) error {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return &SyncError{Op: op, Company: company, Period: period, Err: err}
}
