package manager

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"kd5/internal/jupyter"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultProbeTimeout    = 100 * time.Millisecond
	defaultSpawnTimeout    = 10 * time.Second
	defaultShutdownTimeout = 2 * time.Second
	spawnPollInterval      = 50 * time.Millisecond
	defaultVersion         = "3"
	maxKernelID            = 999999
)

// DialFunc opens a kernel client for a connection file.
type DialFunc func(ctx context.Context, path string) (jupyter.Kernel, error)

// ShutdownFunc sends a shutdown request over the kernel control channel.
type ShutdownFunc func(ctx context.Context, info jupyter.ConnectionInfo) error

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// RuntimeDirs are scanned by Discover. New connection files go to the
	// first entry.
	RuntimeDirs []string
	// LogDir receives kernel-<id>.log with each spawned kernel's output.
	LogDir string
	// LockFile records the id of the most recently spawned kernel.
	LockFile string
	// Interpreters maps a kernel version key to a Python executable.
	Interpreters   map[string]string
	DefaultVersion string

	ProbeTimeout    time.Duration
	SpawnTimeout    time.Duration
	ShutdownTimeout time.Duration

	Logger    zerolog.Logger
	Publisher EventPublisher

	// Test seams; nil means the real implementation.
	Launcher   Launcher
	Dial       DialFunc
	Shutdowner ShutdownFunc
	Killer     ProcessKiller
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = defaultSpawnTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = defaultVersion
	}
	if len(cfg.Interpreters) == 0 {
		cfg.Interpreters = map[string]string{defaultVersion: "python3"}
	}
	if cfg.LockFile == "" && cfg.LogDir != "" {
		cfg.LockFile = filepath.Join(cfg.LogDir, "kd5.lock")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Launcher == nil {
		cfg.Launcher = execLauncher{}
	}
	if cfg.Dial == nil {
		log := cfg.Logger
		cfg.Dial = func(ctx context.Context, path string) (jupyter.Kernel, error) {
			return jupyter.Dial(ctx, path, jupyter.WithLogger(log))
		}
	}
	if cfg.Shutdowner == nil {
		cfg.Shutdowner = func(ctx context.Context, info jupyter.ConnectionInfo) error {
			return jupyter.RequestShutdown(ctx, info, false)
		}
	}
	if cfg.Killer == nil {
		cfg.Killer = psKiller{}
	}
	return newManager(cfg)
}
