package manager

import (
	"context"
	"errors"
	"fmt"

	"kd5/internal/common/fsutil"
	"kd5/pkg/types"
)

// RemoveConnectionFile deletes the connection file of a died kernel. The
// descriptor status and a fresh probe must both say Died.
func (m *Manager) RemoveConnectionFile(d types.Kernel) error {
	if d.Status != types.StatusDied {
		return invalidStateError{id: d.ID, op: "remove connection file", status: string(d.Status)}
	}
	if st := m.ProbeLiveness(d); st != types.StatusDied {
		return invalidStateError{id: d.ID, op: "remove connection file", status: string(st)}
	}
	if err := fsutil.RemoveIfExists(d.ConnectionFile); err != nil {
		return fmt.Errorf("remove %s: %w", d.ConnectionFile, err)
	}
	m.log.Info().Str("op", "remove").Str("kernel_id", d.ID).Msg("connection file removed")
	m.emit("remove", d.ID, map[string]any{"connection_file": d.ConnectionFile})
	return nil
}

// RemoveAllDied removes the connection file of every died kernel on disk.
func (m *Manager) RemoveAllDied(ctx context.Context) ([]string, error) {
	kernels, err := m.Discover(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, k := range kernels {
		if k.Status != types.StatusDied {
			continue
		}
		if err := m.RemoveConnectionFile(k); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, k.ID)
	}
	return removed, errors.Join(errs...)
}
