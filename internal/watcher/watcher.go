// Package watcher runs the loop that keeps one kernel's namespace snapshot
// current and serves evaluation requests from the request channel.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kd5/internal/channel"
	"kd5/internal/jupyter"
	"kd5/pkg/types"
)

// State is the loop state reported by Status.
type State string

const (
	StatePolling  State = "polling"
	StateSwapping State = "swapping"
	StateDraining State = "draining"
	StateUpdating State = "updating"
	StateIdle     State = "idle"
	StateStopped  State = "stopped"
)

const defaultDelay = 500 * time.Millisecond

// Config tunes a Watcher.
type Config struct {
	// Delay between ticks.
	Delay time.Duration
	// ExecTimeout bounds the listing and each served request unless the
	// request is long running. Zero means unbounded.
	ExecTimeout time.Duration
	// DrainTimeout bounds waiting for a foreign execution to finish. Zero
	// means unbounded: a hung kernel stalls the tick.
	DrainTimeout time.Duration
	Logger       zerolog.Logger
}

// Watcher owns one kernel client at a time. Swap hands it a new one; Stop
// ends the loop after the current tick.
type Watcher struct {
	cfg Config
	log zerolog.Logger
	ch  *channel.Channel

	swapMu sync.Mutex
	swapCh chan jupyter.Kernel // size 1: newest hand-off wins
	stopCh chan struct{}
	stop   sync.Once
	done   chan struct{}

	// loop-owned
	kc       jupyter.Kernel
	kernelID string
	active   map[string]string // parent msg id -> code of foreign executions
	dirty    bool
	force    bool

	smu     sync.Mutex
	state   State
	ticks   uint64
	lastErr string
	started time.Time
	curID   string
	curFile string
}

// New constructs a Watcher publishing to ch.
func New(ch *channel.Channel, cfg Config) *Watcher {
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	return &Watcher{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "watcher").Logger(),
		ch:      ch,
		swapCh:  make(chan jupyter.Kernel, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		active:  make(map[string]string),
		state:   StatePolling,
		started: time.Now(),
	}
}

// Swap hands kc to the loop. It is adopted at the top of the next tick; a
// client handed off earlier and not yet adopted is closed.
func (w *Watcher) Swap(kc jupyter.Kernel) {
	w.swapMu.Lock()
	defer w.swapMu.Unlock()
	select {
	case old := <-w.swapCh:
		if old != nil && old != kc {
			_ = old.Close()
		}
	default:
	}
	w.swapCh <- kc
}

// Stop asks the loop to exit after the current tick.
func (w *Watcher) Stop() { w.stop.Do(func() { close(w.stopCh) }) }

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Run ticks until Stop is called or ctx is done. The current client is
// closed on exit.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)
	defer func() {
		if w.kc != nil {
			_ = w.kc.Close()
			w.kc = nil
		}
		w.setState(StateStopped)
	}()
	ticker := time.NewTicker(w.cfg.Delay)
	defer ticker.Stop()
	for {
		w.tick(ctx)
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		tickDuration.Observe(time.Since(start).Seconds())
		ticksTotal.Inc()
		w.smu.Lock()
		w.ticks++
		w.smu.Unlock()
	}()

	select {
	case kc := <-w.swapCh:
		w.setState(StateSwapping)
		w.adopt(ctx, kc)
	default:
	}

	if w.kc != nil {
		w.setState(StateDraining)
		w.guard("drain", func() error { return w.drain(ctx) })

		if w.dirty || w.force {
			w.setState(StateUpdating)
			w.guard("list", func() error { return w.relist(ctx) })
		} else {
			w.setState(StateIdle)
		}
	}
	w.guard("serve", func() error { return w.serve(ctx) })
	w.setState(StatePolling)
}

// guard runs one tick step, turning errors and panics into a logged
// drainError.
func (w *Watcher) guard(op string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	if !IsDrainFailure(err) {
		err = drainError{op: op, cause: err}
	}
	failuresTotal.WithLabelValues(op).Inc()
	w.log.Warn().Err(err).Str("op", op).Str("kernel_id", w.kernelID).Msg("tick step failed")
	w.smu.Lock()
	w.lastErr = err.Error()
	w.smu.Unlock()
}

func (w *Watcher) adopt(ctx context.Context, kc jupyter.Kernel) {
	released := w.kc != nil && kc == nil
	if w.kc != nil && w.kc != kc {
		_ = w.kc.Close()
	}
	w.kc = kc
	w.kernelID = ""
	if kc != nil {
		if id, ok := jupyter.KernelIDFromPath(kc.ConnectionFile()); ok {
			w.kernelID = id
		}
	}
	w.active = make(map[string]string)
	w.dirty = false
	w.force = kc != nil
	w.smu.Lock()
	w.curID, w.curFile = w.kernelID, ""
	if kc != nil {
		w.curFile = kc.ConnectionFile()
	}
	w.smu.Unlock()
	swapsTotal.Inc()
	if kc == nil {
		if released {
			// Subscribers must not keep the namespace of a kernel nobody watches.
			w.ch.Publish(types.Snapshot{Variables: map[string]types.Variable{}})
		}
		w.log.Info().Msg("kernel released")
		return
	}
	w.log.Info().Str("kernel_id", w.kernelID).Str("connection_file", kc.ConnectionFile()).Msg("kernel adopted")
	if err := kc.Init(ctx); err != nil {
		w.log.Warn().Err(err).Str("op", "init").Str("kernel_id", w.kernelID).Msg("bootstrap incomplete")
	}
}

// drain consumes every broadcast message ready now. An execution started
// by another frontend is followed until its idle status, blocking if
// needed, before the drain can end.
func (w *Watcher) drain(ctx context.Context) error {
	dctx := ctx
	if w.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, w.cfg.DrainTimeout)
		defer cancel()
	}
	for {
		var m *jupyter.Message
		if len(w.active) == 0 {
			msg, ok := w.kc.Poll()
			if !ok {
				return nil
			}
			m = msg
		} else {
			msg, err := w.kc.Next(dctx)
			if err != nil {
				// give up on the executions we were following
				w.active = make(map[string]string)
				w.dirty = true
				return drainError{op: "drain", cause: err}
			}
			m = msg
		}
		w.observe(ctx, m)
	}
}

func (w *Watcher) observe(ctx context.Context, m *jupyter.Message) {
	parent := m.ParentID()
	switch m.Type() {
	case jupyter.MsgExecuteInput:
		var in jupyter.ExecuteInputContent
		if err := m.Decode(&in); err == nil {
			w.active[parent] = in.Code
		}
	case jupyter.MsgStatus:
		var st jupyter.StatusContent
		if err := m.Decode(&st); err != nil || st.ExecutionState != jupyter.StateIdle {
			return
		}
		code, ok := w.active[parent]
		if !ok {
			return
		}
		delete(w.active, parent)
		w.dirty = true
		if channel.IsResetCode(code) {
			w.log.Info().Str("kernel_id", w.kernelID).Msg("namespace reset by another frontend")
			if err := w.kc.Init(ctx); err != nil {
				w.log.Warn().Err(err).Str("op", "init").Str("kernel_id", w.kernelID).Msg("bootstrap after reset incomplete")
			}
		}
	default:
		if _, ok := w.active[parent]; !ok {
			w.dirty = true
		}
	}
}

func (w *Watcher) execContext(ctx context.Context, longRunning bool) (context.Context, context.CancelFunc) {
	if longRunning || w.cfg.ExecTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.ExecTimeout)
}

func (w *Watcher) relist(ctx context.Context) error {
	ectx, cancel := w.execContext(ctx, false)
	defer cancel()
	res, err := w.kc.Exec(ectx, jupyter.ExecRequest{Code: ListingCommand, Listing: true})
	if err != nil {
		return drainError{op: "list", cause: err}
	}
	snap := w.ch.Publish(types.Snapshot{KernelID: w.kernelID, Variables: ParseListing(res.Text)})
	w.dirty = false
	w.force = false
	relistsTotal.Inc()
	variablesGauge.Set(float64(snap.Len()))
	w.log.Debug().Str("kernel_id", w.kernelID).Uint64("seq", snap.Seq).Int("variables", snap.Len()).Msg("snapshot published")
	return nil
}

// serve executes at most one queued request and resolves it on the channel.
func (w *Watcher) serve(ctx context.Context) error {
	req, ok := w.ch.TryNext()
	if !ok {
		return nil
	}
	res := types.EvalResult{ID: req.ID}
	defer func() {
		outcome := "ok"
		if res.Error != "" {
			outcome = "error"
		}
		requestsTotal.WithLabelValues(outcome).Inc()
		w.ch.Resolve(res)
	}()
	if w.kc == nil {
		res.Error = "no kernel connected"
		return nil
	}
	ectx, cancel := w.execContext(ctx, req.LongRunning)
	defer cancel()
	out, err := w.kc.Exec(ectx, jupyter.ExecRequest{
		Code:        req.Code,
		Reset:       req.Reset,
		LongRunning: req.LongRunning,
	})
	res.Text = out.Text
	if !req.ReadOnly {
		w.dirty = true
	}
	if err != nil {
		res.Error = err.Error()
		if jupyter.IsExecError(err) {
			return nil
		}
		return drainError{op: "serve", cause: err}
	}
	return nil
}

func (w *Watcher) setState(s State) {
	w.smu.Lock()
	w.state = s
	w.smu.Unlock()
}

// Status returns a read-only projection of the loop.
func (w *Watcher) Status() types.StatusResponse {
	w.smu.Lock()
	st := types.StatusResponse{
		State:          string(w.state),
		KernelID:       w.curID,
		ConnectionFile: w.curFile,
		Ticks:          w.ticks,
		LastError:      w.lastErr,
		UptimeSeconds:  int64(time.Since(w.started).Seconds()),
	}
	w.smu.Unlock()
	if snap, ok := w.ch.Latest(); ok {
		st.Seq = snap.Seq
		st.Variables = snap.Len()
	}
	st.Pending = w.ch.Pending() != ""
	return st
}
