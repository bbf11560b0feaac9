package manager

import (
	"context"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessKiller kills OS processes whose command line contains every needle.
type ProcessKiller interface {
	KillMatching(ctx context.Context, needles ...string) (int, error)
}

// psKiller walks the process table with gopsutil.
type psKiller struct{}

func (psKiller) KillMatching(ctx context.Context, needles ...string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}
	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !containsAll(cmdline, needles) {
			continue
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed++
		}
	}
	return killed, nil
}

func containsAll(s string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}
