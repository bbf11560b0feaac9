package channel

import (
	"sync"

	"kd5/pkg/types"
)

// Subscription is one consumer's view of the channel: its own latest-only
// snapshot mailbox and a buffer of evaluation results.
type Subscription struct {
	c         *Channel
	snapshots chan types.Snapshot
	results   chan types.EvalResult
	done      chan struct{}
	once      sync.Once
}

// Subscribe registers a consumer. The current snapshot, if any, is already
// waiting in the new mailbox.
func (c *Channel) Subscribe() *Subscription {
	s := &Subscription{
		c:         c,
		snapshots: make(chan types.Snapshot, 1),
		results:   make(chan types.EvalResult, resultBuffer),
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		s.stop()
		return s
	default:
	}
	c.subs[s] = struct{}{}
	if c.latest != nil {
		s.snapshots <- *c.latest
	}
	c.mu.Unlock()
	return s
}

// Snapshots delivers the latest snapshot whenever one is published.
func (s *Subscription) Snapshots() <-chan types.Snapshot { return s.snapshots }

// Results delivers resolved evaluation results.
func (s *Subscription) Results() <-chan types.EvalResult { return s.results }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.c.mu.Lock()
	delete(s.c.subs, s)
	s.c.mu.Unlock()
	s.stop()
}

func (s *Subscription) stop() { s.once.Do(func() { close(s.done) }) }
