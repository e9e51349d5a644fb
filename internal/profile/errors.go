package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteLocked is returned by AcquireWrite when another writer holds
	// the master lock. It is returned at once; acquisition never waits.
	ErrWriteLocked = errors.New("profile master is locked by another writer")

	// ErrCloneFailed matches every *CloneError via errors.Is.
	ErrCloneFailed = errors.New("failed to clone profile master")
)

// CloneError reports a failed read clone. The partial clone has already
// been removed and the master is untouched.
type CloneError struct {
	Clone string
	Err   error
}

// Error implements error.
func (e *CloneError) Error() string {
	return fmt.Sprintf("%v into %s: %v", ErrCloneFailed, e.Clone, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *CloneError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCloneFailed) true.
func (e *CloneError) Is(target error) bool {
	return target == ErrCloneFailed
}
