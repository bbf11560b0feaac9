// Package cli implements the kd5 command tree.
package cli

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kd5/internal/config"
	"kd5/internal/manager"
)

// Options holds the persistent flags.
type Options struct {
	ConfigPath string
	Addr       string
	LogLevel   string
	LogConsole bool
	// Local runs kernel management commands in-process instead of
	// through the watcher daemon.
	Local bool
}

// app is the state shared by all commands of one invocation.
type app struct {
	opts   Options
	cfg    config.Config
	log    zerolog.Logger
	closer io.Closer
	out    io.Writer
	errOut io.Writer
	client *http.Client
}

// Execute runs the command tree with args.
func Execute(args []string) error {
	root := NewRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCmd constructs the kd5 command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, log: zerolog.Nop(), client: &http.Client{Timeout: 30 * time.Second}}
	root := &cobra.Command{
		Use:           "kd5",
		Short:         "Watch a Jupyter kernel namespace and manage local kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.ConfigPath, "config", "", "Config file (.yaml|.yml|.toml|.json); defaults to ~/.cpyvke/kd5.yaml")
	pf.StringVar(&a.opts.Addr, "addr", "", "Daemon listen address (defaults KD5_LISTEN or the config listen key)")
	pf.StringVar(&a.opts.LogLevel, "log-level", "", "Log level: debug|info|warn|error (defaults KD5_LOG_LEVEL or info)")
	pf.BoolVar(&a.opts.LogConsole, "log-console", false, "Also write logs to stderr")
	pf.BoolVar(&a.opts.Local, "local", false, "Manage kernels in-process instead of through the daemon")

	root.AddCommand(
		a.watchCmd(),
		a.kernelsCmd(),
		a.newCmd(),
		a.connectCmd(),
		a.restartCmd(),
		a.shutdownCmd(),
		a.rmCmd(),
		a.lastCmd(),
		a.snapshotCmd(),
		a.statusCmd(),
		a.execCmd(),
		a.inspectCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and opens the log.
func (a *app) setup() error {
	cfg, err := config.LoadOrDefault(a.opts.ConfigPath)
	if err != nil {
		return err
	}
	if a.opts.Addr != "" {
		cfg.Listen = a.opts.Addr
	}
	if a.opts.LogLevel != "" {
		cfg.LogLevel = a.opts.LogLevel
	}
	a.cfg = cfg
	log, closer, err := newLogger(cfg.LogDir, cfg.LogLevel, a.opts.LogConsole, a.errOut)
	if err != nil {
		return err
	}
	a.log, a.closer = log, closer
	return nil
}

// manager builds a kernel manager from the loaded configuration.
func (a *app) manager() *manager.Manager {
	return manager.NewWithConfig(manager.ManagerConfig{
		RuntimeDirs:     a.cfg.RuntimeDirs,
		LogDir:          a.cfg.LogDir,
		LockFile:        a.cfg.LockFile,
		Interpreters:    a.cfg.KernelVersions,
		DefaultVersion:  a.cfg.KernelVersion,
		ProbeTimeout:    a.cfg.ProbeTimeout(),
		SpawnTimeout:    a.cfg.SpawnTimeout(),
		ShutdownTimeout: a.cfg.ShutdownTimeout(),
		Logger:          a.log,
		Publisher:       manager.LogPublisher{Log: a.log},
	})
}

// backend returns the kernel management backend selected by --local.
func (a *app) backend() backend {
	if a.opts.Local {
		return localBackend{m: a.manager()}
	}
	return a.daemon()
}
