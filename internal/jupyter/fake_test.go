package jupyter

import (
	"errors"
	"sync"
)

// output is one iopub broadcast a fake kernel emits for an execution.
type output struct {
	typ     string
	content any
}

// fakeKernel implements transport in memory. Every execute_request is
// answered with busy, execute_input, the scripted outputs and idle.
type fakeKernel struct {
	sig    signer
	iopub  chan [][]byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	codes  []string
	script func(code string) []output
}

func newFakeKernel(key string) *fakeKernel {
	return &fakeKernel{
		sig:    signer{key: []byte(key)},
		iopub:  make(chan [][]byte, 512),
		closed: make(chan struct{}),
		script: func(string) []output { return nil },
	}
}

func (f *fakeKernel) child(parent Header, typ string, content any) *Message {
	m, err := newMessage("kernel-session", typ, content)
	if err != nil {
		panic(err)
	}
	m.ParentHeader = parent
	return m
}

func (f *fakeKernel) publish(m *Message) {
	frames, err := f.sig.encode(m)
	if err != nil {
		panic(err)
	}
	f.iopub <- frames
}

// foreign publishes a complete execution from another frontend.
func (f *fakeKernel) foreign(code string, outs ...output) Header {
	parent := Header{MsgID: "other-" + code, Session: "other", MsgType: MsgExecuteRequest}
	f.publish(f.child(parent, MsgStatus, StatusContent{ExecutionState: StateBusy}))
	f.publish(f.child(parent, MsgExecuteInput, ExecuteInputContent{Code: code, ExecutionCount: 1}))
	for _, o := range outs {
		f.publish(f.child(parent, o.typ, o.content))
	}
	f.publish(f.child(parent, MsgStatus, StatusContent{ExecutionState: StateIdle}))
	return parent
}

func (f *fakeKernel) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.codes...)
}

func (f *fakeKernel) sendShell(frames [][]byte) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	m, err := f.sig.decode(frames)
	if err != nil {
		return err
	}
	switch m.Type() {
	case MsgKernelInfoRequest:
		f.publish(f.child(m.Header, MsgStatus, StatusContent{ExecutionState: StateIdle}))
	case MsgExecuteRequest:
		var req executeRequest
		if err := m.Decode(&req); err != nil {
			return err
		}
		f.mu.Lock()
		f.codes = append(f.codes, req.Code)
		script := f.script
		f.mu.Unlock()
		f.publish(f.child(m.Header, MsgStatus, StatusContent{ExecutionState: StateBusy}))
		f.publish(f.child(m.Header, MsgExecuteInput, ExecuteInputContent{Code: req.Code}))
		for _, o := range script(req.Code) {
			if o.typ == "foreign" {
				f.foreign(o.content.(string))
				continue
			}
			f.publish(f.child(m.Header, o.typ, o.content))
		}
		f.publish(f.child(m.Header, MsgStatus, StatusContent{ExecutionState: StateIdle}))
	}
	return nil
}

func (f *fakeKernel) recvShell() ([][]byte, error) {
	<-f.closed
	return nil, errors.New("closed")
}

func (f *fakeKernel) recvIOPub() ([][]byte, error) {
	select {
	case fr := <-f.iopub:
		return fr, nil
	case <-f.closed:
		return nil, errors.New("closed")
	}
}

func (f *fakeKernel) close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func newTestClient(f *fakeKernel, opts ...Option) *Client {
	info := ConnectionInfo{ShellPort: 1, IOPubPort: 2, IP: "127.0.0.1", Transport: "tcp", Key: string(f.sig.key)}
	return newClient("/tmp/kernel-42.json", info, "test-session", f, opts...)
}
