package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("scheduler: shutting down")
	// ErrAlreadyRunning is returned by TriggerNow while a drain pass is in flight.
	ErrAlreadyRunning = errors.New("scheduler: drain pass already running")
)

// ValidationError represents an invalid scheduler setting.
// Error messages follow the format "scheduler: <field> <message>".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scheduler: %s %s", e.Field, e.Message)
}
