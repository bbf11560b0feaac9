package inspector

import (
	"errors"
	"fmt"
)

type kernelBusyError struct {
	name  string
	cause error
}

func (e kernelBusyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("kernel busy inspecting %q: %v", e.name, e.cause)
	}
	return fmt.Sprintf("kernel busy inspecting %q", e.name)
}

func (e kernelBusyError) Unwrap() error { return e.cause }

// IsKernelBusy reports whether an inspection went unanswered. The caller
// may retry.
func IsKernelBusy(err error) bool {
	var e kernelBusyError
	return errors.As(err, &e)
}

type invalidNameError struct{ name string }

func (e invalidNameError) Error() string { return fmt.Sprintf("invalid variable name %q", e.name) }

// IsInvalidName reports whether a name was refused before submission.
func IsInvalidName(err error) bool {
	var e invalidNameError
	return errors.As(err, &e)
}

// remoteError carries the message the helper wrote after failing.
type remoteError struct {
	name  string
	query Query
	msg   string
}

func (e remoteError) Error() string {
	return fmt.Sprintf("%s %q failed in kernel: %s", e.query, e.name, e.msg)
}

// IsRemoteFailure reports whether the kernel answered with an error.
func IsRemoteFailure(err error) bool {
	var e remoteError
	return errors.As(err, &e)
}
