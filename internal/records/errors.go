package records

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed indicates a failure to reach the record store.
	ErrConnectionFailed = errors.New("records: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("records: query failed")

	// ErrNoRecords indicates the store holds no records for the predicate.
	ErrNoRecords = errors.New("records: no records")
)

// StoreError wraps record-store failures with operation context.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("records.%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapConnectionError wraps an error as a connection failure.
func WrapConnectionError(op string, err error) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err)}
}

// WrapQueryError wraps an error as a query failure.
func WrapQueryError(op string, err error) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%w: %v", ErrQueryFailed, err)}
}

// IsUnavailable reports whether err means the store could not serve the
// query at all, as opposed to serving it with an empty result.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrQueryFailed)
}
