// Package channel is the request channel shared by the watcher and its
// consumers: a single-slot evaluation request queue, kernel switch
// announcements and a latest-only snapshot mailbox.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"kd5/pkg/types"
)

var (
	submitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kd5",
			Subsystem: "channel",
			Name:      "submissions_total",
			Help:      "Evaluation request submissions by outcome",
		},
		[]string{"outcome"},
	)
	publishesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kd5",
			Subsystem: "channel",
			Name:      "snapshots_published_total",
			Help:      "Snapshots published to the mailbox",
		},
	)
)

func init() {
	prometheus.MustRegister(submitsTotal, publishesTotal)
}

const resultBuffer = 16

// Config tunes a Channel.
type Config struct {
	// SubmitWait is how long Submit waits for the slot to free up. Zero
	// rejects a second submission at once.
	SubmitWait time.Duration
	Logger     zerolog.Logger
}

// Channel connects request producers to the watcher. At most one request is
// outstanding: Submit takes the inflight token, Resolve releases it.
type Channel struct {
	wait time.Duration
	log  zerolog.Logger

	inflight chan struct{} // size 1: one outstanding request
	slot     chan Request  // size 1: submitted, not yet taken
	kernels  chan string   // size 1: newest announcement wins
	updates  chan types.Snapshot
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending string
	latest  *types.Snapshot
	seq     uint64
	subs    map[*Subscription]struct{}
}

// New constructs a Channel.
func New(cfg Config) *Channel {
	return &Channel{
		wait:     cfg.SubmitWait,
		log:      cfg.Logger.With().Str("component", "channel").Logger(),
		inflight: make(chan struct{}, 1),
		slot:     make(chan Request, 1),
		kernels:  make(chan string, 1),
		updates:  make(chan types.Snapshot, 1),
		closed:   make(chan struct{}),
		subs:     make(map[*Subscription]struct{}),
	}
}

// Submit queues req. While another request is outstanding it waits up to
// the configured SubmitWait and then fails with a busy error; the queued
// request is never replaced.
func (c *Channel) Submit(ctx context.Context, req Request) error {
	select {
	case <-c.closed:
		return closedError{}
	default:
	}
	if req.ID == "" {
		req.ID = NewRequest("").ID
	}
	if req.Submitted.IsZero() {
		req.Submitted = time.Now()
	}
	if err := c.acquire(ctx); err != nil {
		outcome := "rejected"
		if !IsBusy(err) {
			outcome = "aborted"
		}
		submitsTotal.WithLabelValues(outcome).Inc()
		c.log.Debug().Err(err).Str("request_id", req.ID).Msg("submission refused")
		return err
	}
	c.mu.Lock()
	c.pending = req.ID
	c.mu.Unlock()
	c.slot <- req
	submitsTotal.WithLabelValues("accepted").Inc()
	return nil
}

func (c *Channel) acquire(ctx context.Context) error {
	select {
	case c.inflight <- struct{}{}:
		return nil
	default:
	}
	if c.wait <= 0 {
		return busyError{pending: c.Pending()}
	}
	timer := time.NewTimer(c.wait)
	defer timer.Stop()
	select {
	case c.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return busyError{pending: c.Pending()}
	case <-c.closed:
		return closedError{}
	}
}

// Pending returns the id of the outstanding request, or "".
func (c *Channel) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// TryNext takes the queued request without blocking.
func (c *Channel) TryNext() (Request, bool) {
	select {
	case req := <-c.slot:
		return req, true
	default:
		return Request{}, false
	}
}

// Resolve reports the outcome of the outstanding request, frees the slot
// and forwards the result to subscribers. A result for any other id is
// dropped and false is returned.
func (c *Channel) Resolve(res types.EvalResult) bool {
	c.mu.Lock()
	if c.pending == "" || c.pending != res.ID {
		c.mu.Unlock()
		c.log.Warn().Str("request_id", res.ID).Msg("result for unknown request")
		return false
	}
	c.pending = ""
	subs := c.subscribers()
	c.mu.Unlock()
	<-c.inflight
	for _, s := range subs {
		select {
		case s.results <- res:
		default:
			c.log.Warn().Str("request_id", res.ID).Msg("subscriber result buffer full")
		}
	}
	return true
}

// Announce asks the watcher to switch to the kernel at path. An
// announcement not yet taken is replaced.
func (c *Channel) Announce(path string) {
	for {
		select {
		case c.kernels <- path:
			return
		default:
		}
		select {
		case <-c.kernels:
		default:
		}
	}
}

// Announcements delivers kernel switch requests.
func (c *Channel) Announcements() <-chan string { return c.kernels }

// Publish stores s as the current snapshot, assigning the next sequence
// number. The mailbox is cleared before it is set, so a reader finds at
// most one snapshot and it is the latest.
func (c *Channel) Publish(s types.Snapshot) types.Snapshot {
	c.mu.Lock()
	c.seq++
	s.Seq = c.seq
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	c.latest = &s
	subs := c.subscribers()
	c.mu.Unlock()
	latestOnly(c.updates, s)
	for _, sub := range subs {
		latestOnly(sub.snapshots, s)
	}
	publishesTotal.Inc()
	return s
}

// Latest returns the current snapshot.
func (c *Channel) Latest() (types.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return types.Snapshot{}, false
	}
	return *c.latest, true
}

// Updates is the primary snapshot mailbox.
func (c *Channel) Updates() <-chan types.Snapshot { return c.updates }

// Close rejects further submissions and ends subscriptions.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		subs := c.subscribers()
		c.subs = map[*Subscription]struct{}{}
		c.mu.Unlock()
		for _, s := range subs {
			s.stop()
		}
	})
}

// Done is closed by Close.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// subscribers must be called with mu held.
func (c *Channel) subscribers() []*Subscription {
	out := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

// latestOnly clears a single-slot mailbox and sets it to s.
func latestOnly(box chan types.Snapshot, s types.Snapshot) {
	for {
		select {
		case <-box:
		default:
		}
		select {
		case box <- s:
			return
		default:
		}
	}
}
