package types

// KernelStatus is the liveness of a kernel as seen by the last probe.
type KernelStatus string

const (
	StatusAlive     KernelStatus = "Alive"
	StatusDied      KernelStatus = "Died"
	StatusConnected KernelStatus = "Connected"
)

// Kernel describes one kernel known through its connection file.
type Kernel struct {
	// Kernel id embedded in the connection file name (kernel-<id>.json).
	// example: 27146
	ID string `json:"id" example:"27146"`
	// Absolute path to the connection file.
	// example: /home/user/.local/share/jupyter/runtime/kernel-27146.json
	ConnectionFile string `json:"connection_file" example:"/home/user/.local/share/jupyter/runtime/kernel-27146.json"`
	// Transport declared by the connection file (tcp or ipc).
	// example: tcp
	Transport string `json:"transport,omitempty" example:"tcp"`
	// Address the kernel binds.
	// example: 127.0.0.1
	IP string `json:"ip,omitempty" example:"127.0.0.1"`
	// Broadcast (iopub) port; probed for liveness.
	// example: 53211
	IOPubPort int `json:"iopub_port,omitempty" example:"53211"`
	// Liveness at the time of the listing: Alive, Died or Connected.
	// example: Alive
	Status KernelStatus `json:"status" example:"Alive"`
}

// Alive reports whether the kernel answered its last probe.
func (k Kernel) Alive() bool { return k.Status == StatusAlive || k.Status == StatusConnected }
