package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kd5/internal/jupyter"
	"kd5/pkg/types"
)

// Shutdown terminates the kernel behind d. It asks the kernel to exit over
// the control channel, stops the process if this Manager started it, and
// kills any leftover process launched on the same connection file.
// Shutting down a died kernel is a no-op; overlapping calls for the same
// kernel share one execution.
func (m *Manager) Shutdown(ctx context.Context, d types.Kernel) error {
	_, err, _ := m.shutdowns.Do(d.ConnectionFile, func() (any, error) {
		return nil, m.shutdown(ctx, d)
	})
	return err
}

func (m *Manager) shutdown(ctx context.Context, d types.Kernel) error {
	log := m.log.With().Str("op", "shutdown").Str("kernel_id", d.ID).Logger()
	tracked := m.takeProc(d.ID)
	alive := m.ProbeLiveness(d) != types.StatusDied
	if !alive && tracked == nil {
		log.Debug().Msg("kernel already died")
		return nil
	}

	if alive {
		if info, err := jupyter.LoadConnectionFile(d.ConnectionFile); err == nil {
			sctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
			err := m.cfg.Shutdowner(sctx, info)
			cancel()
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				log.Warn().Err(err).Msg("shutdown request failed")
			}
		}
	}
	if tracked != nil {
		tracked.stop(m.cfg.ShutdownTimeout)
	}
	killed, err := m.cfg.Killer.KillMatching(ctx, "ipykernel", d.ConnectionFile)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("process sweep failed")
	case killed == 0 && tracked == nil:
		log.Debug().Err(processKillError{id: d.ID}).Msg("process sweep")
	case killed > 0:
		log.Info().Int("killed", killed).Msg("killed leftover kernel processes")
	}

	if err := m.waitDied(ctx, d); err != nil {
		log.Error().Err(err).Msg("kernel still alive")
		return err
	}
	m.mu.Lock()
	if m.active == d.ConnectionFile {
		m.active = ""
	}
	m.mu.Unlock()
	m.emit("shutdown", d.ID, nil)
	return nil
}

// waitDied polls the probe until the kernel stops answering.
func (m *Manager) waitDied(ctx context.Context, d types.Kernel) error {
	deadline := time.Now().Add(m.cfg.ShutdownTimeout)
	for m.ProbeLiveness(d) != types.StatusDied {
		if time.Now().After(deadline) {
			return fmt.Errorf("kernel %s still answering after shutdown", d.ID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(spawnPollInterval):
		}
	}
	return nil
}

// ShutdownAllAlive shuts down every alive or connected kernel on disk and
// returns the ids it stopped.
func (m *Manager) ShutdownAllAlive(ctx context.Context) ([]string, error) {
	kernels, err := m.Discover(ctx)
	if err != nil {
		return nil, err
	}
	var stopped []string
	var errs []error
	for _, k := range kernels {
		if !k.Alive() {
			continue
		}
		if err := m.Shutdown(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		stopped = append(stopped, k.ID)
	}
	return stopped, errors.Join(errs...)
}
