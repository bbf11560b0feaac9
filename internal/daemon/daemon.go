// Package daemon binds the kernel manager, the request channel and the
// watcher into the service exposed over HTTP.
package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kd5/internal/channel"
	"kd5/internal/manager"
	"kd5/internal/watcher"
	"kd5/pkg/types"
)

// Daemon owns one watcher loop. Kernel announcements arriving on the
// channel are connected through the manager and handed to the watcher.
type Daemon struct {
	mgr *manager.Manager
	ch  *channel.Channel
	w   *watcher.Watcher
	log zerolog.Logger

	attachMu sync.Mutex
	ready    atomic.Bool
}

func New(mgr *manager.Manager, ch *channel.Channel, w *watcher.Watcher, log zerolog.Logger) *Daemon {
	return &Daemon{mgr: mgr, ch: ch, w: w, log: log.With().Str("component", "daemon").Logger()}
}

// Run drives the watcher and the announcement loop until ctx is done or
// Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.w.Run(gctx) })
	g.Go(func() error {
		d.announcements(gctx)
		return nil
	})
	d.ready.Store(true)
	err := g.Wait()
	d.ready.Store(false)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop ends the watcher after its current tick.
func (d *Daemon) Stop() { d.w.Stop() }

// Ready reports whether the loop is running.
func (d *Daemon) Ready() bool { return d.ready.Load() }

func (d *Daemon) announcements(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.w.Done():
			return
		case <-d.ch.Done():
			return
		case path := <-d.ch.Announcements():
			if _, err := d.attach(ctx, path); err != nil {
				d.log.Error().Err(err).Str("op", "attach").Str("connection_file", path).Msg("kernel announcement failed")
			}
		}
	}
}

// attach connects the kernel behind path and hands the client to the
// watcher.
func (d *Daemon) attach(ctx context.Context, path string) (types.Kernel, error) {
	d.attachMu.Lock()
	defer d.attachMu.Unlock()
	k, err := d.mgr.Describe(path)
	if err != nil {
		return k, err
	}
	kc, err := d.mgr.Connect(ctx, k)
	if err != nil {
		return k, err
	}
	d.w.Swap(kc)
	k.Status = types.StatusConnected
	d.log.Info().Str("kernel_id", k.ID).Msg("kernel handed to watcher")
	return k, nil
}

func (d *Daemon) watching(k types.Kernel) bool {
	return d.w.Status().ConnectionFile == k.ConnectionFile
}

// Kernels lists every kernel on disk.
func (d *Daemon) Kernels(ctx context.Context) ([]types.Kernel, error) {
	return d.mgr.Discover(ctx)
}

// Spawn starts a new kernel. It is not connected.
func (d *Daemon) Spawn(ctx context.Context, req types.SpawnRequest) (types.Kernel, error) {
	return d.mgr.Spawn(ctx, req.Version, req.Exclude...)
}

// Connect makes the kernel with id the watched one.
func (d *Daemon) Connect(ctx context.Context, id string) (types.Kernel, error) {
	k, err := d.mgr.Lookup(ctx, id)
	if err != nil {
		return k, err
	}
	return d.attach(ctx, k.ConnectionFile)
}

// Restart restarts the kernel with id on its connection file. A watched
// kernel is re-attached afterwards.
func (d *Daemon) Restart(ctx context.Context, id string) (types.Kernel, error) {
	k, err := d.mgr.Lookup(ctx, id)
	if err != nil {
		return k, err
	}
	watched := d.watching(k)
	if watched {
		d.w.Swap(nil)
	}
	k, err = d.mgr.Restart(ctx, k)
	if err != nil || !watched {
		return k, err
	}
	return d.attach(ctx, k.ConnectionFile)
}

// Shutdown terminates the kernel with id, releasing it first if watched.
func (d *Daemon) Shutdown(ctx context.Context, id string) error {
	k, err := d.mgr.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if d.watching(k) {
		d.w.Swap(nil)
	}
	return d.mgr.Shutdown(ctx, k)
}

// RemoveConnectionFile deletes the connection file of a died kernel.
func (d *Daemon) RemoveConnectionFile(ctx context.Context, id string) error {
	k, err := d.mgr.Lookup(ctx, id)
	if err != nil {
		return err
	}
	return d.mgr.RemoveConnectionFile(k)
}

func (d *Daemon) Status() types.StatusResponse { return d.w.Status() }

func (d *Daemon) Snapshot() (types.Snapshot, bool) { return d.ch.Latest() }

func (d *Daemon) Subscribe() *channel.Subscription { return d.ch.Subscribe() }

func (d *Daemon) Submit(ctx context.Context, req channel.Request) error {
	return d.ch.Submit(ctx, req)
}

func (d *Daemon) Announce(path string) { d.ch.Announce(path) }
