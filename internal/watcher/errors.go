package watcher

import (
	"errors"
	"fmt"
)

// drainError wraps a failure inside one tick step. The tick degrades to no
// change; the loop continues.
type drainError struct {
	op    string
	cause error
}

func (e drainError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.cause) }

func (e drainError) Unwrap() error { return e.cause }

// IsDrainFailure reports whether err is a degraded tick step.
func IsDrainFailure(err error) bool {
	var e drainError
	return errors.As(err, &e)
}
