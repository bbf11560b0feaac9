package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the watcher daemon and the CLI.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Listen         string            `json:"listen" yaml:"listen" toml:"listen"`
	RuntimeDirs    []string          `json:"runtime_dirs" yaml:"runtime_dirs" toml:"runtime_dirs"`
	LogDir         string            `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
	LogLevel       string            `json:"log_level" yaml:"log_level" toml:"log_level"`
	LockFile       string            `json:"lock_file" yaml:"lock_file" toml:"lock_file"`
	PythonBin      string            `json:"python_bin" yaml:"python_bin" toml:"python_bin"`
	KernelVersion  string            `json:"kernel_version" yaml:"kernel_version" toml:"kernel_version"`
	KernelVersions map[string]string `json:"kernel_versions" yaml:"kernel_versions" toml:"kernel_versions"`
	ArtifactDir    string            `json:"artifact_dir" yaml:"artifact_dir" toml:"artifact_dir"`
	CORSOrigins    []string          `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	DelayMS           int `json:"delay_ms" yaml:"delay_ms" toml:"delay_ms"`
	ExecTimeoutMS     int `json:"exec_timeout_ms" yaml:"exec_timeout_ms" toml:"exec_timeout_ms"`
	DrainTimeoutMS    int `json:"drain_timeout_ms" yaml:"drain_timeout_ms" toml:"drain_timeout_ms"`
	ProbeTimeoutMS    int `json:"probe_timeout_ms" yaml:"probe_timeout_ms" toml:"probe_timeout_ms"`
	SpawnTimeoutMS    int `json:"spawn_timeout_ms" yaml:"spawn_timeout_ms" toml:"spawn_timeout_ms"`
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
	SubmitWaitMS      int `json:"submit_wait_ms" yaml:"submit_wait_ms" toml:"submit_wait_ms"`
	InspectTimeoutMS  int `json:"inspect_timeout_ms" yaml:"inspect_timeout_ms" toml:"inspect_timeout_ms"`
	InspectPollMS     int `json:"inspect_poll_ms" yaml:"inspect_poll_ms" toml:"inspect_poll_ms"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadOrDefault loads path when non-empty, else the first existing default
// location, and applies defaults and environment overrides either way.
func LoadOrDefault(path string) (Config, error) {
	var cfg Config
	if path == "" {
		for _, p := range DefaultPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		c, err := Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = c
	}
	cfg.ApplyEnv()
	if err := cfg.ApplyDefaults(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
