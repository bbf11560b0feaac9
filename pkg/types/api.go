package types

// KernelsResponse wraps the list of kernels returned by GET /kernels.
type KernelsResponse struct {
	// Kernels discovered in the runtime directories.
	Kernels []Kernel `json:"kernels"`
}

// SpawnRequest is the optional body of POST /kernels.
type SpawnRequest struct {
	// Interpreter version key from the kernel_versions config map.
	// example: 3
	Version string `json:"version,omitempty" example:"3"`
	// Ids that must not be assigned to the new kernel.
	Exclude []string `json:"exclude,omitempty"`
}

// SpawnResponse is returned by POST /kernels.
type SpawnResponse struct {
	// The newly started kernel.
	Kernel Kernel `json:"kernel"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: kernel busy
	Error string `json:"error" example:"kernel busy"`
	// HTTP status code.
	// example: 429
	Code int `json:"code" example:"429"`
}

// EvalResult reports the outcome of one evaluation request.
type EvalResult struct {
	// Correlation id of the request.
	// example: 2b1f4c7e-8a4e-4d7b-9a43-3e1d5f0c2a11
	ID string `json:"id" example:"2b1f4c7e-8a4e-4d7b-9a43-3e1d5f0c2a11"`
	// Last textual payload produced by the execution.
	Text string `json:"text,omitempty"`
	// Error text when the execution raised or could not run.
	Error string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Watcher loop state (polling, draining, updating, idle, swapping, stopped).
	// example: polling
	State string `json:"state" example:"polling"`
	// Id of the kernel the watcher currently owns.
	// example: 27146
	KernelID string `json:"kernel_id,omitempty" example:"27146"`
	// Connection file of the current kernel.
	ConnectionFile string `json:"connection_file,omitempty"`
	// Sequence number of the last published snapshot.
	// example: 12
	Seq uint64 `json:"seq" example:"12"`
	// Number of variables in the last snapshot.
	// example: 8
	Variables int `json:"variables" example:"8"`
	// Total loop iterations.
	// example: 3400
	Ticks uint64 `json:"ticks" example:"3400"`
	// Whether an evaluation request is outstanding.
	// example: false
	Pending bool `json:"pending" example:"false"`
	// Last error observed by the watcher (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the watcher in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// Envelope types pushed on the WebSocket channel.
const (
	EnvelopeSnapshot = "snapshot"
	EnvelopeResult   = "result"
	EnvelopeError    = "error"
)

// Envelope is one server-to-client message on the WebSocket channel.
type Envelope struct {
	Type     string      `json:"type"`
	Snapshot *Snapshot   `json:"snapshot,omitempty"`
	Result   *EvalResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}
