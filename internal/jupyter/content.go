package jupyter

// Message types used on the shell, control and iopub channels.
const (
	MsgExecuteRequest    = "execute_request"
	MsgExecuteReply      = "execute_reply"
	MsgExecuteInput      = "execute_input"
	MsgExecuteResult     = "execute_result"
	MsgStream            = "stream"
	MsgDisplayData       = "display_data"
	MsgError             = "error"
	MsgStatus            = "status"
	MsgKernelInfoRequest = "kernel_info_request"
	MsgShutdownRequest   = "shutdown_request"
	MsgShutdownReply     = "shutdown_reply"
)

// Execution states carried by status messages.
const (
	StateBusy     = "busy"
	StateIdle     = "idle"
	StateStarting = "starting"
)

type executeRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type shutdownRequest struct {
	Restart bool `json:"restart"`
}

// StreamContent is the content of a stream message.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ExecuteInputContent is the content of an execute_input broadcast.
type ExecuteInputContent struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// ExecuteResultContent is the content of an execute_result broadcast.
type ExecuteResultContent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
}

// ErrorContent is the content of an error broadcast.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// StatusContent is the content of a status broadcast.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// PlainText returns the text/plain representation of a result, if any.
func (r ExecuteResultContent) PlainText() string {
	if s, ok := r.Data["text/plain"].(string); ok {
		return s
	}
	return ""
}
