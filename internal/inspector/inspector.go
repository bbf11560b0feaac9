// Package inspector materialises single namespace values on demand. Each
// value is fetched by a typed query that the kernel-side helper answers
// with a uniquely named artifact file.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/rs/zerolog"

	"kd5/internal/channel"
	"kd5/internal/common/fsutil"
	"kd5/pkg/types"
)

// BusyMarker is the value shown for an inspection that went unanswered.
const BusyMarker = "[Busy]"

const (
	defaultTimeout = 3 * time.Second
	defaultPoll    = 50 * time.Millisecond
	defaultStale   = time.Minute
	errSuffix      = ".err"
	partSuffix     = ".part"
)

// Submitter queues an evaluation request. *channel.Channel and
// *channel.Remote both satisfy it.
type Submitter interface {
	Submit(ctx context.Context, req channel.Request) error
}

// Progress is called once per poll while waiting for an artifact.
type Progress func(frame string, elapsed time.Duration)

// Config tunes an Inspector.
type Config struct {
	// Dir holds the artifacts. It must be visible to the kernel process.
	Dir string
	// Timeout caps the wait for one artifact.
	Timeout time.Duration
	// Poll is the interval between existence checks.
	Poll time.Duration
	// StaleAfter is the age past which Sweep removes an artifact. It is
	// never below Timeout.
	StaleAfter time.Duration
	Progress   Progress
	Logger     zerolog.Logger
}

// Result is a materialised value.
type Result struct {
	Name string
	Type string
	// Text holds the preview for terminal values, the module name, the
	// source of a function or the string form of a text value.
	Text  string
	Doc   string
	Attrs map[string]types.Variable
	Array *Array
	Table *Table
	// Menu is set when there is a materialised value to drill into.
	Menu bool
	// Busy is set when the kernel did not answer in time; Text is then
	// BusyMarker.
	Busy bool
}

// Inspector submits queries and collects their artifacts.
type Inspector struct {
	sub     Submitter
	cfg     Config
	log     zerolog.Logger
	spinner spinner.Spinner
}

// New returns an Inspector submitting through sub.
func New(sub Submitter, cfg Config) *Inspector {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Poll <= 0 {
		cfg.Poll = defaultPoll
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStale
	}
	if cfg.StaleAfter < cfg.Timeout {
		cfg.StaleAfter = cfg.Timeout
	}
	return &Inspector{
		sub:     sub,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "inspector").Logger(),
		spinner: spinner.Dot,
	}
}

// Inspect materialises v according to its declared type. A terminal value
// comes back with its preview and no remote round trip.
func (in *Inspector) Inspect(ctx context.Context, v types.Variable) (Result, error) {
	res := Result{Name: v.Name, Type: v.Type}
	if !ValidName(v.Name) {
		return res, invalidNameError{name: v.Name}
	}
	queries := QueriesFor(v)
	if len(queries) == 0 {
		res.Text = v.Value
		return res, nil
	}
	for _, q := range queries {
		b, err := in.Query(ctx, q, v.Name)
		if err != nil {
			if IsKernelBusy(err) {
				return Result{Name: v.Name, Type: v.Type, Text: BusyMarker, Busy: true}, err
			}
			// functions defined interactively may have no retrievable
			// source; the docstring still answers
			if q == GetSource && IsRemoteFailure(err) {
				in.log.Debug().Err(err).Str("name", v.Name).Msg("source unavailable")
				continue
			}
			return res, err
		}
		if err := res.fill(q, b); err != nil {
			return res, err
		}
	}
	res.Menu = true
	return res, nil
}

func (r *Result) fill(q Query, b []byte) error {
	var err error
	switch q.Shape() {
	case ShapeAttrs:
		r.Attrs, err = decodeAttrs(b)
	case ShapeArray:
		r.Array, err = decodeArray(b)
	case ShapeTable:
		r.Table, err = decodeTable(b)
	default:
		if q == GetDoc {
			r.Doc = decodeText(b)
		} else {
			r.Text = decodeText(b)
		}
	}
	return err
}

// Query runs one remote query about name and returns the raw artifact.
// The artifact is removed before Query returns, whatever the outcome.
func (in *Inspector) Query(ctx context.Context, q Query, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, invalidNameError{name: name}
	}
	req := channel.NewRequest("")
	req.ReadOnly = true
	path := ArtifactPath(in.cfg.Dir, name, req.ID, q)
	req.Code = Code(q, name, path)
	defer in.cleanup(path)

	log := in.log.With().Str("name", name).Str("query", q.String()).Str("request_id", req.ID).Logger()
	if err := in.sub.Submit(ctx, req); err != nil {
		queriesTotal.WithLabelValues(q.String(), "rejected").Inc()
		if channel.IsBusy(err) {
			return nil, kernelBusyError{name: name, cause: err}
		}
		return nil, fmt.Errorf("submit %s query: %w", q, err)
	}
	log.Debug().Msg("query submitted")

	found, err := in.await(ctx, name, path)
	if err != nil {
		outcome := "error"
		if IsKernelBusy(err) {
			outcome = "busy"
			log.Warn().Dur("timeout", in.cfg.Timeout).Msg("kernel did not answer")
		}
		queriesTotal.WithLabelValues(q.String(), outcome).Inc()
		return nil, err
	}
	b, err := os.ReadFile(found)
	if err != nil {
		queriesTotal.WithLabelValues(q.String(), "error").Inc()
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if found != path {
		queriesTotal.WithLabelValues(q.String(), "failed").Inc()
		return nil, remoteError{name: name, query: q, msg: string(b)}
	}
	queriesTotal.WithLabelValues(q.String(), "ok").Inc()
	return b, nil
}

// await polls for path or its error companion until Timeout. It returns
// no later than one poll interval after the deadline.
func (in *Inspector) await(ctx context.Context, name, path string) (string, error) {
	start := time.Now()
	defer func() { waitSeconds.Observe(time.Since(start).Seconds()) }()
	deadline := time.NewTimer(in.cfg.Timeout)
	defer deadline.Stop()
	poll := time.NewTicker(in.cfg.Poll)
	defer poll.Stop()

	frames := in.spinner.Frames
	for i := 0; ; i++ {
		if found, ok := ready(path); ok {
			return found, nil
		}
		if in.cfg.Progress != nil {
			in.cfg.Progress(frames[i%len(frames)], time.Since(start))
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if found, ok := ready(path); ok {
				return found, nil
			}
			return "", kernelBusyError{name: name}
		case <-poll.C:
		}
	}
}

func ready(path string) (string, bool) {
	if fsutil.PathExists(path) {
		return path, true
	}
	if fsutil.PathExists(path + errSuffix) {
		return path + errSuffix, true
	}
	return "", false
}

func (in *Inspector) cleanup(path string) {
	var errs []error
	for _, p := range []string{path, path + errSuffix, path + partSuffix} {
		errs = append(errs, fsutil.RemoveIfExists(p))
	}
	if err := errors.Join(errs...); err != nil {
		in.log.Warn().Err(err).Str("artifact", path).Msg("artifact not removed")
	}
}
