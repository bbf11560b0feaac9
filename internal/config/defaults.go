package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kd5/internal/common/fsutil"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultListen          = "127.0.0.1:8000"
	defaultLogDir          = "~/.cpyvke"
	defaultLogLevel        = "info"
	defaultPythonBin       = "python3"
	defaultKernelVersion   = "3"
	defaultDelay           = 500 * time.Millisecond
	defaultExecTimeout     = 10 * time.Second
	defaultProbeTimeout    = 100 * time.Millisecond
	defaultSpawnTimeout    = 10 * time.Second
	defaultShutdownTimeout = 2 * time.Second
	defaultInspectTimeout  = 3 * time.Second
	defaultInspectPoll     = 50 * time.Millisecond
)

// DefaultPaths lists the config files looked up when --config is not given.
func DefaultPaths() []string {
	dir, err := fsutil.ExpandHome(defaultLogDir)
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(dir, "kd5.yaml"),
		filepath.Join(dir, "kd5.yml"),
		filepath.Join(dir, "kd5.toml"),
		filepath.Join(dir, "kd5.json"),
	}
}

// DefaultRuntimeDirs returns the directories in which kernels drop their
// connection files.
func DefaultRuntimeDirs() []string {
	return []string{
		"~/.local/share/jupyter/runtime",
		fmt.Sprintf("/run/user/%d/jupyter", os.Getuid()),
	}
}

// ApplyEnv overrides fields from KD5_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("KD5_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("KD5_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("KD5_PYTHON"); v != "" {
		c.PythonBin = v
	}
}

// ApplyDefaults fills unset fields and expands '~' in every path.
func (c *Config) ApplyDefaults() error {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.PythonBin == "" {
		c.PythonBin = defaultPythonBin
	}
	if c.KernelVersion == "" {
		c.KernelVersion = defaultKernelVersion
	}
	if c.KernelVersions == nil {
		c.KernelVersions = map[string]string{}
	}
	if _, ok := c.KernelVersions[defaultKernelVersion]; !ok {
		c.KernelVersions[defaultKernelVersion] = c.PythonBin
	}
	if len(c.RuntimeDirs) == 0 {
		c.RuntimeDirs = DefaultRuntimeDirs()
	}
	dirs, err := fsutil.ExpandAll(c.RuntimeDirs)
	if err != nil {
		return err
	}
	c.RuntimeDirs = dirs
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	if c.LogDir, err = fsutil.ExpandHome(c.LogDir); err != nil {
		return err
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(c.LogDir, "kd5.lock")
	}
	if c.LockFile, err = fsutil.ExpandHome(c.LockFile); err != nil {
		return err
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = os.TempDir()
	}
	if c.ArtifactDir, err = fsutil.ExpandHome(c.ArtifactDir); err != nil {
		return err
	}
	return nil
}

func ms(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

// Delay is the fixed pause between two watcher ticks.
func (c Config) Delay() time.Duration { return ms(c.DelayMS, defaultDelay) }

// ExecTimeout bounds a single execution issued by the watcher.
func (c Config) ExecTimeout() time.Duration { return ms(c.ExecTimeoutMS, defaultExecTimeout) }

// DrainTimeout bounds waiting for a foreign execution to finish; zero means
// the drain waits as long as the kernel keeps the execution open.
func (c Config) DrainTimeout() time.Duration { return ms(c.DrainTimeoutMS, 0) }

func (c Config) ProbeTimeout() time.Duration { return ms(c.ProbeTimeoutMS, defaultProbeTimeout) }

func (c Config) SpawnTimeout() time.Duration { return ms(c.SpawnTimeoutMS, defaultSpawnTimeout) }

func (c Config) ShutdownTimeout() time.Duration {
	return ms(c.ShutdownTimeoutMS, defaultShutdownTimeout)
}

// SubmitWait is how long a submission waits for the request slot; zero
// rejects immediately.
func (c Config) SubmitWait() time.Duration { return ms(c.SubmitWaitMS, 0) }

func (c Config) InspectTimeout() time.Duration {
	return ms(c.InspectTimeoutMS, defaultInspectTimeout)
}

func (c Config) InspectPoll() time.Duration { return ms(c.InspectPollMS, defaultInspectPoll) }

// Interpreter resolves a kernel version key to an interpreter binary.
func (c Config) Interpreter(version string) (string, error) {
	if version == "" {
		version = c.KernelVersion
	}
	if bin, ok := c.KernelVersions[version]; ok && bin != "" {
		return bin, nil
	}
	return "", fmt.Errorf("no interpreter configured for kernel version %q", version)
}
