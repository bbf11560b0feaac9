package channel

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is one evaluation request. ID correlates the request with its
// result and with any artifact the code writes.
type Request struct {
	ID   string
	Code string
	// Reset marks code that clears the namespace.
	Reset bool
	// LongRunning lifts the execution deadline.
	LongRunning bool
	// ReadOnly code does not change the namespace; serving it does not
	// trigger a re-list.
	ReadOnly  bool
	Submitted time.Time
}

// NewRequest returns a request for code with a fresh correlation id.
func NewRequest(code string) Request {
	return Request{ID: uuid.NewString(), Code: code}
}

// IsResetCode reports whether code is exactly one of the namespace reset
// magics.
func IsResetCode(code string) bool {
	switch strings.TrimSpace(code) {
	case "reset", "%reset", "%reset -f", "reset -f":
		return true
	}
	return false
}
