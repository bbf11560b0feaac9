package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kd5/internal/common/fsutil"
	"kd5/internal/jupyter"
	"kd5/internal/registry"
	"kd5/pkg/types"
)

// spawnDir is where new connection files are written.
func (m *Manager) spawnDir() (string, error) {
	if len(m.cfg.RuntimeDirs) == 0 {
		return "", fmt.Errorf("no runtime directory configured")
	}
	dir, err := fsutil.ExpandHome(m.cfg.RuntimeDirs[0])
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create runtime dir: %w", err)
	}
	return dir, nil
}

func (m *Manager) interpreter(version string) (string, error) {
	if version == "" {
		version = m.cfg.DefaultVersion
	}
	bin, ok := m.cfg.Interpreters[version]
	if !ok || strings.TrimSpace(bin) == "" {
		return "", unknownVersionError{version: version}
	}
	return bin, nil
}

// allocateID picks an id in 1..999999 that is not on disk, not excluded and
// not handed out earlier by this Manager.
func (m *Manager) allocateID(exclude []string) (string, error) {
	entries, err := registry.LoadDirs(m.cfg.RuntimeDirs)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(entries)+len(exclude))
	for _, e := range entries {
		taken[e.ID] = true
	}
	for _, id := range exclude {
		taken[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for attempt := 0; attempt < maxKernelID; attempt++ {
		id := strconv.Itoa(m.rng.Intn(maxKernelID) + 1)
		if taken[id] || m.chosen[id] {
			continue
		}
		m.chosen[id] = true
		return id, nil
	}
	return "", fmt.Errorf("kernel id space exhausted")
}

// Spawn starts a new kernel with the interpreter registered for version and
// returns once its connection file is readable. Ids in exclude are never
// assigned. The id is recorded in the lock file.
func (m *Manager) Spawn(ctx context.Context, version string, exclude ...string) (types.Kernel, error) {
	bin, err := m.interpreter(version)
	if err != nil {
		return types.Kernel{}, err
	}
	dir, err := m.spawnDir()
	if err != nil {
		return types.Kernel{}, err
	}
	id, err := m.allocateID(exclude)
	if err != nil {
		return types.Kernel{}, err
	}
	path := filepath.Join(dir, jupyter.ConnectionFileName(id))
	log := m.log.With().Str("op", "spawn").Str("kernel_id", id).Logger()

	pr, err := startProc(m.cfg.Launcher, id, path, LaunchSpec{
		Interpreter: bin,
		Args:        kernelArgs(path),
		LogPath:     m.kernelLog(id),
	})
	if err != nil {
		log.Error().Err(err).Msg("launch failed")
		return types.Kernel{}, err
	}
	log.Info().Int("pid", pr.p.Pid()).Str("connection_file", path).Msg("kernel launched")
	m.emit("spawn_start", id, map[string]any{"pid": pr.p.Pid(), "version": version})

	ready := func() bool {
		_, err := jupyter.LoadConnectionFile(path)
		return err == nil
	}
	if err := m.waitStarted(ctx, pr, ready); err != nil {
		log.Error().Err(err).Msg("kernel did not start")
		m.emit("spawn_failed", id, map[string]any{"error": err.Error()})
		return types.Kernel{}, err
	}

	m.mu.Lock()
	m.procs[id] = pr
	m.mu.Unlock()
	if err := m.writeLock(id); err != nil {
		log.Warn().Err(err).Msg("lock record not written")
	}
	m.emit("spawn_ready", id, map[string]any{"pid": pr.p.Pid(), "connection_file": path})
	k := describe(id, path)
	k.Status = types.StatusAlive
	return k, nil
}

// waitStarted polls ready until it holds, the process exits or the spawn
// bound passes. On failure the process is stopped.
func (m *Manager) waitStarted(ctx context.Context, pr *proc, ready func() bool) error {
	deadline := time.NewTimer(m.cfg.SpawnTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(spawnPollInterval)
	defer tick.Stop()
	for {
		if ready() {
			return nil
		}
		select {
		case <-pr.exited:
			if ready() {
				return nil
			}
			if pr.err != nil {
				return fmt.Errorf("kernel %s exited before ready: %w", pr.id, pr.err)
			}
			return fmt.Errorf("kernel %s exited before ready", pr.id)
		case <-deadline.C:
			pr.stop(m.cfg.ShutdownTimeout)
			return spawnTimeoutError{id: pr.id, after: m.cfg.SpawnTimeout}
		case <-ctx.Done():
			pr.stop(m.cfg.ShutdownTimeout)
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (m *Manager) kernelLog(id string) string {
	if m.cfg.LogDir == "" {
		return ""
	}
	dir, err := fsutil.ExpandHome(m.cfg.LogDir)
	if err != nil || os.MkdirAll(dir, 0o755) != nil {
		return ""
	}
	return filepath.Join(dir, "kernel-"+id+".log")
}

func (m *Manager) writeLock(id string) error {
	if m.cfg.LockFile == "" {
		return nil
	}
	path, err := fsutil.ExpandHome(m.cfg.LockFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, []byte(id+"\n"), 0o644)
}

// LastSpawned returns the id stored in the lock record.
func (m *Manager) LastSpawned() (string, error) {
	if m.cfg.LockFile == "" {
		return "", fmt.Errorf("no lock file configured")
	}
	path, err := fsutil.ExpandHome(m.cfg.LockFile)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", fmt.Errorf("lock record %s is empty", path)
	}
	return id, nil
}
