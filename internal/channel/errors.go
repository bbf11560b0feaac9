package channel

import "errors"

// busyError signals that the single request slot is taken.
type busyError struct{ pending string }

func (e busyError) Error() string { return "kernel busy: request " + e.pending + " outstanding" }

// ErrBusy returns the error reported while request pending is outstanding.
func ErrBusy(pending string) error { return busyError{pending: pending} }

// IsBusy reports whether err is a rejected submission (return 429).
func IsBusy(err error) bool {
	var e busyError
	return errors.As(err, &e)
}

type closedError struct{}

func (closedError) Error() string { return "request channel closed" }

// IsClosed reports whether err comes from a closed channel.
func IsClosed(err error) bool {
	var e closedError
	return errors.As(err, &e)
}
