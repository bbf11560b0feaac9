package manager

import (
	"net"
	"time"

	"kd5/internal/jupyter"
	"kd5/pkg/types"
)

// Probe dials the broadcast port named in the connection file at path and
// closes the connection at once. A refused or timed out dial, or an
// unreadable file, is Died. No socket outlives the call.
func Probe(path string, timeout time.Duration) types.KernelStatus {
	info, err := jupyter.LoadConnectionFile(path)
	if err != nil {
		return types.StatusDied
	}
	network, addr := info.ProbeAddress()
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return types.StatusDied
	}
	_ = conn.Close()
	return types.StatusAlive
}

// ProbeLiveness classifies d as Alive or Died.
func (m *Manager) ProbeLiveness(d types.Kernel) types.KernelStatus {
	return Probe(d.ConnectionFile, m.cfg.ProbeTimeout)
}
