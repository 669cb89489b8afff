package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFallbackCredential means a request resolved to guest but no shared
	// credential is configured. Retrying cannot fix it.
	ErrNoFallbackCredential = errors.New("no guest fallback credential configured")

	// ErrInvalidSettlement is returned for malformed settlement requests
	ErrInvalidSettlement = errors.New("invalid settlement")
)

// StoreError wraps a transient failure of a backing store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func invalidSettlement(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettlement, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether err is worth retrying later
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsFatal reports whether err is a misconfiguration no retry can fix
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoFallbackCredential)
}
