package queue

import (
	"errors"
	"fmt"
)

// ErrStore matches every StoreError via errors.Is.
var ErrStore = errors.New("queue store failure")

// Store operations reported in StoreError.Op.
const (
	OpInsert  = "insert"
	OpList    = "list"
	OpDelete  = "delete"
	OpCount   = "count"
	OpMigrate = "migrate"
)

// StoreError wraps a backend failure with the operation and backend that produced it.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

// NewStoreError creates a StoreError.
func NewStoreError(op, backend string, err error) *StoreError {
	return &StoreError{Op: op, Backend: backend, Err: err}
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("queue %s: %s failed", e.Backend, e.Op)
	}
	return fmt.Sprintf("queue %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStore) true for any StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// IsStoreError reports whether err is or wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
