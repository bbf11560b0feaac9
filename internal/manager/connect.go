package manager

import (
	"context"
	"fmt"
	"os"

	"kd5/internal/common/fsutil"
	"kd5/internal/jupyter"
	"kd5/pkg/types"
)

// Connect attaches a client to d and runs the bootstrap. A kernel that is
// not running is started first, bound to its existing connection file.
// Bootstrap cells that raise are logged; the client is still returned.
func (m *Manager) Connect(ctx context.Context, d types.Kernel) (jupyter.Kernel, error) {
	log := m.log.With().Str("op", "connect").Str("kernel_id", d.ID).Logger()
	if m.ProbeLiveness(d) == types.StatusDied {
		if err := m.startBound(ctx, d); err != nil {
			log.Error().Err(err).Msg("could not start kernel")
			return nil, err
		}
	}
	k, err := m.cfg.Dial(ctx, d.ConnectionFile)
	if err != nil {
		log.Error().Err(err).Msg("dial failed")
		return nil, fmt.Errorf("connect %s: %w", d.ID, err)
	}
	if err := k.Init(ctx); err != nil {
		if !jupyter.IsExecError(err) {
			_ = k.Close()
			log.Error().Err(err).Msg("bootstrap failed")
			return nil, fmt.Errorf("init %s: %w", d.ID, err)
		}
		log.Warn().Err(err).Msg("bootstrap incomplete")
	}
	m.SetActive(d.ConnectionFile)
	m.emit("connect", d.ID, map[string]any{"connection_file": d.ConnectionFile})
	return k, nil
}

// startBound launches a kernel on an existing connection file and waits
// until its broadcast port answers.
func (m *Manager) startBound(ctx context.Context, d types.Kernel) error {
	bin, err := m.interpreter("")
	if err != nil {
		return err
	}
	pr, err := startProc(m.cfg.Launcher, d.ID, d.ConnectionFile, LaunchSpec{
		Interpreter: bin,
		Args:        kernelArgs(d.ConnectionFile),
		LogPath:     m.kernelLog(d.ID),
	})
	if err != nil {
		return err
	}
	m.emit("start_bound", d.ID, map[string]any{"pid": pr.p.Pid()})
	alive := func() bool { return m.ProbeLiveness(d) != types.StatusDied }
	if err := m.waitStarted(ctx, pr, alive); err != nil {
		return err
	}
	m.mu.Lock()
	m.procs[d.ID] = pr
	m.mu.Unlock()
	return nil
}

// Restart shuts d down if it is running and starts a fresh kernel on the
// same connection file. A kernel that created its connection file removes
// it on exit, so the file is restored from its contents before shutdown.
func (m *Manager) Restart(ctx context.Context, d types.Kernel) (types.Kernel, error) {
	saved, err := os.ReadFile(d.ConnectionFile)
	if err != nil {
		return d, fmt.Errorf("restart %s: %w", d.ID, err)
	}
	if m.ProbeLiveness(d) != types.StatusDied {
		if err := m.Shutdown(ctx, d); err != nil {
			return d, err
		}
	}
	if !fsutil.PathExists(d.ConnectionFile) {
		if err := fsutil.WriteFileAtomic(d.ConnectionFile, saved, 0o600); err != nil {
			return d, fmt.Errorf("restore connection file: %w", err)
		}
	}
	if err := m.startBound(ctx, d); err != nil {
		return d, err
	}
	m.emit("restart", d.ID, nil)
	d.Status = types.StatusAlive
	return d, nil
}
