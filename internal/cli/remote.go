package cli

import (
	"context"
	"sync"
	"time"

	"kd5/internal/channel"
	"kd5/pkg/types"
)

// serialSubmitter submits over a daemon connection one request at a time:
// a new request goes out only after the daemon resolved the previous one,
// so the daemon never sees it while its slot is still taken.
type serialSubmitter struct {
	r    *channel.Remote
	wait time.Duration

	mu       sync.Mutex
	prev     string
	resolved map[string]bool
	signal   chan struct{}
}

func newSerialSubmitter(r *channel.Remote, wait time.Duration) *serialSubmitter {
	s := &serialSubmitter{r: r, wait: wait, resolved: make(map[string]bool), signal: make(chan struct{}, 1)}
	go s.pump()
	return s
}

func (s *serialSubmitter) pump() {
	for env := range s.r.Envelopes() {
		if env.Result == nil {
			continue
		}
		s.mark(*env.Result)
	}
}

func (s *serialSubmitter) mark(res types.EvalResult) {
	s.mu.Lock()
	s.resolved[res.ID] = true
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *serialSubmitter) done(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id == "" || s.resolved[id]
}

// Submit waits up to the configured bound for the previous request to be
// resolved. A request still unresolved after that is reported as busy.
func (s *serialSubmitter) Submit(ctx context.Context, req channel.Request) error {
	s.mu.Lock()
	prev := s.prev
	s.mu.Unlock()
	if !s.done(prev) {
		timer := time.NewTimer(s.wait)
		defer timer.Stop()
		for !s.done(prev) {
			select {
			case <-s.signal:
			case <-timer.C:
				return channel.ErrBusy(prev)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := s.r.Submit(ctx, req); err != nil {
		return err
	}
	s.mu.Lock()
	s.prev = req.ID
	s.mu.Unlock()
	return nil
}
