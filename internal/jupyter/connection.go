package jupyter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ConnectionInfo is the content of a kernel connection file.
type ConnectionInfo struct {
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	IP              string `json:"ip"`
	Key             string `json:"key"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name"`
}

var connFileRe = regexp.MustCompile(`^kernel-(.+)\.json$`)

// KernelIDFromPath extracts <id> from a path ending in kernel-<id>.json.
func KernelIDFromPath(path string) (string, bool) {
	m := connFileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ConnectionFileName returns the canonical file name for a kernel id.
func ConnectionFileName(id string) string { return "kernel-" + id + ".json" }

// LoadConnectionFile reads and validates a connection file.
func LoadConnectionFile(path string) (ConnectionInfo, error) {
	var info ConnectionInfo
	b, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("parse %s: %w", path, err)
	}
	if info.Transport == "" {
		info.Transport = "tcp"
	}
	if info.IP == "" {
		info.IP = "127.0.0.1"
	}
	if info.IOPubPort == 0 || info.ShellPort == 0 {
		return info, fmt.Errorf("connection file %s: missing shell/iopub ports", path)
	}
	return info, nil
}

// Endpoint renders the ZMQ endpoint for one of the kernel ports.
func (c ConnectionInfo) Endpoint(port int) string {
	if c.Transport == "ipc" {
		return fmt.Sprintf("ipc://%s-%d", c.IP, port)
	}
	return fmt.Sprintf("tcp://%s:%d", c.IP, port)
}

// ProbeAddress returns the network and address a raw liveness probe dials
// for the broadcast port.
func (c ConnectionInfo) ProbeAddress() (network, addr string) {
	if c.Transport == "ipc" {
		return "unix", fmt.Sprintf("%s-%d", c.IP, c.IOPubPort)
	}
	return "tcp", fmt.Sprintf("%s:%d", c.IP, c.IOPubPort)
}
