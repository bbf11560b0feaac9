package manager

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// LaunchSpec describes one kernel process to start.
type LaunchSpec struct {
	Interpreter string
	Args        []string
	// LogPath receives the process stdout and stderr; empty discards them.
	LogPath string
}

// Process is a started kernel process.
type Process interface {
	Pid() int
	Wait() error
	Signal(os.Signal) error
	Kill() error
}

// Launcher starts kernel processes.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// kernelArgs is the launch command line for a kernel bound to path.
func kernelArgs(path string) []string {
	return []string{"-m", "ipykernel_launcher", "-f", path}
}

type execLauncher struct{}

func (execLauncher) Launch(spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Interpreter, spec.Args...)
	if spec.LogPath != "" {
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open kernel log: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Interpreter, err)
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct{ cmd *exec.Cmd }

func (p execProcess) Pid() int                 { return p.cmd.Process.Pid }
func (p execProcess) Wait() error              { return p.cmd.Wait() }
func (p execProcess) Signal(s os.Signal) error { return p.cmd.Process.Signal(s) }
func (p execProcess) Kill() error              { return p.cmd.Process.Kill() }

// proc tracks a kernel started by this Manager. exited is closed once Wait
// returns; err holds its result.
type proc struct {
	id     string
	path   string
	p      Process
	exited chan struct{}
	err    error
}

func startProc(l Launcher, id, path string, spec LaunchSpec) (*proc, error) {
	p, err := l.Launch(spec)
	if err != nil {
		return nil, err
	}
	pr := &proc{id: id, path: path, p: p, exited: make(chan struct{})}
	go func() {
		pr.err = p.Wait()
		close(pr.exited)
	}()
	return pr, nil
}

// stop terminates the process gracefully first, then falls back to kill.
func (pr *proc) stop(grace time.Duration) {
	select {
	case <-pr.exited:
		return
	default:
	}
	_ = pr.p.Signal(syscall.SIGTERM)
	select {
	case <-pr.exited:
	case <-time.After(grace):
		_ = pr.p.Kill()
		<-pr.exited
	}
}
