package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"kd5/internal/channel"
	"kd5/internal/manager"
	"kd5/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to response codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case channel.IsBusy(err):
		return http.StatusTooManyRequests
	case manager.IsKernelNotFound(err):
		return http.StatusNotFound
	case manager.IsInvalidState(err):
		return http.StatusConflict
	case manager.IsSpawnTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case channel.IsClosed(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("request_slot")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
