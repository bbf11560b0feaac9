package jupyter

import (
	"errors"
	"strings"
)

// ExecError reports an exception raised by code executed in the kernel.
type ExecError struct {
	EName     string
	EValue    string
	Traceback []string
}

func (e *ExecError) Error() string {
	if e.EValue == "" {
		return "kernel error: " + e.EName
	}
	return "kernel error: " + e.EName + ": " + e.EValue
}

// IsExecError reports whether err carries a kernel-side exception.
func IsExecError(err error) bool {
	var e *ExecError
	return errors.As(err, &e)
}

// signatureMismatchError signals a message whose HMAC did not verify.
type signatureMismatchError struct{}

func (signatureMismatchError) Error() string { return "message signature mismatch" }

// IsSignatureMismatch reports whether err is a failed signature check.
func IsSignatureMismatch(err error) bool {
	var e signatureMismatchError
	return errors.As(err, &e)
}

// closedError signals use of a client after Close.
type closedError struct{}

func (closedError) Error() string { return "kernel client closed" }

// IsClosed reports whether err comes from a closed client.
func IsClosed(err error) bool {
	var e closedError
	return errors.As(err, &e)
}

// unsupportedSchemeError is returned for connection files signed with
// anything but hmac-sha256.
type unsupportedSchemeError struct{ scheme string }

func (e unsupportedSchemeError) Error() string {
	return "unsupported signature scheme: " + e.scheme
}

func checkScheme(scheme string) error {
	switch strings.ToLower(scheme) {
	case "", "hmac-sha256":
		return nil
	}
	return unsupportedSchemeError{scheme: scheme}
}
