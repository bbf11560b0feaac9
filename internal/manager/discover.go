package manager

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kd5/internal/common/fsutil"
	"kd5/internal/jupyter"
	"kd5/internal/registry"
	"kd5/pkg/types"
)

const probeParallelism = 8

// describe builds a descriptor for a connection file without probing it.
func describe(id, path string) types.Kernel {
	k := types.Kernel{ID: id, ConnectionFile: path, Status: types.StatusDied}
	if info, err := jupyter.LoadConnectionFile(path); err == nil {
		k.Transport = info.Transport
		k.IP = info.IP
		k.IOPubPort = info.IOPubPort
	}
	return k
}

// Describe probes the kernel behind an arbitrary connection file path.
func (m *Manager) Describe(path string) (types.Kernel, error) {
	id, ok := jupyter.KernelIDFromPath(path)
	if !ok {
		return types.Kernel{}, fmt.Errorf("%s is not a kernel connection file", path)
	}
	if !fsutil.PathExists(path) {
		return types.Kernel{}, ErrKernelNotFound(id)
	}
	k := describe(id, path)
	k.Status = m.ProbeLiveness(k)
	if k.Status == types.StatusAlive && path == m.Active() {
		k.Status = types.StatusConnected
	}
	return k, nil
}

// Discover lists the connection files of every runtime directory, probes
// each and marks the active one Connected when it is alive.
func (m *Manager) Discover(ctx context.Context) ([]types.Kernel, error) {
	entries, err := registry.LoadDirs(m.cfg.RuntimeDirs)
	if err != nil {
		return nil, err
	}
	active := m.Active()
	out := make([]types.Kernel, len(entries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(probeParallelism)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			k := describe(e.ID, e.Path)
			k.Status = m.ProbeLiveness(k)
			if k.Status == types.StatusAlive && e.Path == active {
				k.Status = types.StatusConnected
			}
			out[i] = k
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Lookup discovers the kernel with the given id.
func (m *Manager) Lookup(ctx context.Context, id string) (types.Kernel, error) {
	kernels, err := m.Discover(ctx)
	if err != nil {
		return types.Kernel{}, err
	}
	for _, k := range kernels {
		if k.ID == id {
			return k, nil
		}
	}
	return types.Kernel{}, ErrKernelNotFound(id)
}
