package manager

import (
	"errors"
	"fmt"
	"time"
)

// spawnTimeoutError signals a kernel that never wrote its connection file
// (or never opened its ports) within the spawn bound.
type spawnTimeoutError struct {
	id    string
	after time.Duration
}

func (e spawnTimeoutError) Error() string {
	return fmt.Sprintf("kernel %s not ready after %s", e.id, e.after)
}

// IsSpawnTimeout reports whether err is a spawn timeout (return 504).
func IsSpawnTimeout(err error) bool {
	var e spawnTimeoutError
	return errors.As(err, &e)
}

// invalidStateError signals an operation the kernel's status forbids.
type invalidStateError struct {
	id     string
	op     string
	status string
}

func (e invalidStateError) Error() string {
	return fmt.Sprintf("%s: kernel %s is %s", e.op, e.id, e.status)
}

// IsInvalidState reports whether err rejects an operation by status (return 409).
func IsInvalidState(err error) bool {
	var e invalidStateError
	return errors.As(err, &e)
}

// processKillError reports that the process sweep found nothing to kill.
// It is logged, never returned from Shutdown.
type processKillError struct{ id string }

func (e processKillError) Error() string { return "no process matched kernel " + e.id }

// IsProcessKillFailure reports whether err is a failed process sweep.
func IsProcessKillFailure(err error) bool {
	var e processKillError
	return errors.As(err, &e)
}

// kernelNotFoundError is returned when an id has no connection file.
type kernelNotFoundError struct{ id string }

func (e kernelNotFoundError) Error() string { return "kernel not found: " + e.id }

// ErrKernelNotFound returns an error for an unknown kernel id.
func ErrKernelNotFound(id string) error { return kernelNotFoundError{id: id} }

// IsKernelNotFound reports whether the error indicates an unknown kernel id.
func IsKernelNotFound(err error) bool {
	var e kernelNotFoundError
	return errors.As(err, &e)
}

// unknownVersionError is returned by Spawn for a version with no interpreter.
type unknownVersionError struct{ version string }

func (e unknownVersionError) Error() string { return "no interpreter for kernel version " + e.version }
