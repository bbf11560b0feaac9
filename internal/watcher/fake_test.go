package watcher

import (
	"context"
	"encoding/json"
	"sync"

	"kd5/internal/jupyter"
)

// fakeKernel is a scripted jupyter.Kernel. Broadcasts pushed with push are
// returned by Poll and Next in order; Exec answers from listing or onExec.
type fakeKernel struct {
	path string

	mu      sync.Mutex
	queue   []*jupyter.Message
	notify  chan struct{}
	listing string
	listErr error
	execs   []jupyter.ExecRequest
	inits   int
	closed  bool
	onExec  func(ctx context.Context, req jupyter.ExecRequest) (jupyter.Result, error)
	onPoll  func()
}

func newFakeKernel(path, listing string) *fakeKernel {
	return &fakeKernel{path: path, listing: listing, notify: make(chan struct{}, 1)}
}

func msg(typ, parent string, content any) *jupyter.Message {
	raw, _ := json.Marshal(content)
	return &jupyter.Message{
		Header:       jupyter.Header{MsgID: typ + "-" + parent, MsgType: typ},
		ParentHeader: jupyter.Header{MsgID: parent},
		Content:      raw,
	}
}

func (k *fakeKernel) push(ms ...*jupyter.Message) {
	k.mu.Lock()
	k.queue = append(k.queue, ms...)
	k.mu.Unlock()
	select {
	case k.notify <- struct{}{}:
	default:
	}
}

// foreign pushes a complete execution by another frontend.
func (k *fakeKernel) foreign(parent, code string) {
	k.push(
		msg(jupyter.MsgStatus, parent, jupyter.StatusContent{ExecutionState: jupyter.StateBusy}),
		msg(jupyter.MsgExecuteInput, parent, jupyter.ExecuteInputContent{Code: code}),
		msg(jupyter.MsgStatus, parent, jupyter.StatusContent{ExecutionState: jupyter.StateIdle}),
	)
}

func (k *fakeKernel) pop() (*jupyter.Message, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.queue) == 0 {
		return nil, false
	}
	m := k.queue[0]
	k.queue = k.queue[1:]
	return m, true
}

func (k *fakeKernel) Poll() (*jupyter.Message, bool) {
	if k.onPoll != nil {
		k.onPoll()
	}
	return k.pop()
}

func (k *fakeKernel) Next(ctx context.Context) (*jupyter.Message, error) {
	for {
		if m, ok := k.pop(); ok {
			return m, nil
		}
		select {
		case <-k.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (k *fakeKernel) Exec(ctx context.Context, req jupyter.ExecRequest) (jupyter.Result, error) {
	k.mu.Lock()
	k.execs = append(k.execs, req)
	listing, listErr, onExec := k.listing, k.listErr, k.onExec
	k.mu.Unlock()
	if req.Listing {
		return jupyter.Result{Text: listing}, listErr
	}
	if onExec != nil {
		return onExec(ctx, req)
	}
	return jupyter.Result{Text: "done"}, nil
}

func (k *fakeKernel) Init(context.Context) error {
	k.mu.Lock()
	k.inits++
	k.mu.Unlock()
	return nil
}

func (k *fakeKernel) ConnectionFile() string { return k.path }

func (k *fakeKernel) Close() error {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	return nil
}

func (k *fakeKernel) setListing(s string) {
	k.mu.Lock()
	k.listing = s
	k.mu.Unlock()
}

func (k *fakeKernel) initCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.inits
}

func (k *fakeKernel) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

func (k *fakeKernel) codes() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for _, r := range k.execs {
		if !r.Listing {
			out = append(out, r.Code)
		}
	}
	return out
}

func listingOf(rows ...string) string {
	s := "Variable   Type    Data/Info\n----------------------------\n"
	for _, r := range rows {
		s += r + "\n"
	}
	return s
}
