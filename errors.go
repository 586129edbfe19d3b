package dispatcher

import (
	"errors"
	"fmt"
)

// dispatcher public errors
var (
	ErrRejected         = errors.New("dispatch submission rejected")
	ErrActionFailed     = errors.New("dispatch action failed")
	ErrWorkerFatal      = errors.New("dispatch worker exit unexpectedly")
	ErrCanceled         = errors.New("dispatch unit canceled")
	ErrOverflow         = errors.New("overflow of dispatch queue")
	ErrInvalidUnit      = errors.New("invalid dispatch unit")
	ErrDrainTimeout     = errors.New("executor drain timeout")
	ErrWaitOnDispatcher = errors.New("wait executor stopped on its own dispatcher")
)

// RejectedError returned by Submit when the executor doesn't accept work
type RejectedError struct {
	Executor string // executor name
	State    State  // executor state when rejected
	Cause    error  // ErrCanceled or ErrOverflow
}

func (err *RejectedError) Error() string {
	return fmt.Sprintf("executor(%s) reject submission in state %s: %s", err.Executor, err.State, err.Cause)
}

// Is .
func (err *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Unwrap .
func (err *RejectedError) Unwrap() error {
	return err.Cause
}

// ActionError delivered to the completion sink when the unit action
// returned an error or panicked
type ActionError struct {
	Unit  uint64 // unit sequence id
	Name  string // unit name
	Cause error  // original error
}

func (err *ActionError) Error() string {
	if err.Name != "" {
		return fmt.Sprintf("dispatch unit(%d:%s) failed: %s", err.Unit, err.Name, err.Cause)
	}

	return fmt.Sprintf("dispatch unit(%d) failed: %s", err.Unit, err.Cause)
}

// Is .
func (err *ActionError) Is(target error) bool {
	return target == ErrActionFailed
}

// Unwrap .
func (err *ActionError) Unwrap() error {
	return err.Cause
}

// WorkerFatalError reports a worker which terminated without returning from
// the unit it was running
type WorkerFatalError struct {
	Executor string // executor name
	Worker   string // worker token id
	Unit     uint64 // interrupted unit, 0 if none
}

func (err *WorkerFatalError) Error() string {
	return fmt.Sprintf("executor(%s) worker(%s) exit unexpectedly while running unit(%d)", err.Executor, err.Worker, err.Unit)
}

// Is .
func (err *WorkerFatalError) Is(target error) bool {
	return target == ErrWorkerFatal
}
