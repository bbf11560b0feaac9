package httpapi

import "time"

// maxBodyBytes caps JSON request bodies.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes configures the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// opTimeout bounds kernel management calls (spawn, connect, restart,
// shutdown). Zero leaves them to the manager's own timeouts.
var opTimeout time.Duration

// SetOpTimeout sets the per-request bound on kernel management calls.
func SetOpTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	opTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
