package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kd5/internal/jupyter"
)

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// writeConnFile writes a minimal connection file pointing at port.
func writeConnFile(t testing.TB, path string, port int) {
	t.Helper()
	b, _ := json.Marshal(map[string]any{
		"shell_port": port, "iopub_port": port, "control_port": port,
		"ip": "127.0.0.1", "transport": "tcp", "key": "k",
	})
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write connection file: %v", err)
	}
}

// listenKernel opens a listener that accepts and drops connections, like a
// kernel broadcast port answering a raw probe.
func listenKernel(t testing.TB, port int) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln
}

// deadPort returns a port nothing listens on.
func deadPort(t testing.TB) int {
	t.Helper()
	ln := listenKernel(t, 0)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// fakeProc is a kernel process backed by a listener.
type fakeProc struct {
	ln      net.Listener
	done    chan struct{}
	once    sync.Once
	err     error
	cleanup func()
}

func (p *fakeProc) exit(err error) {
	p.once.Do(func() {
		p.err = err
		if p.ln != nil {
			_ = p.ln.Close()
		}
		if p.cleanup != nil {
			p.cleanup()
		}
		close(p.done)
	})
}

func (p *fakeProc) Pid() int { return 4242 }
func (p *fakeProc) Wait() error { <-p.done; return p.err }
func (p *fakeProc) Signal(os.Signal) error { p.exit(nil); return nil }
func (p *fakeProc) Kill() error { p.exit(errors.New("killed")); return nil }
func (p *fakeProc) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// fakeLauncher starts fakeProcs. A launched kernel listens on the port in an
// existing connection file, or picks one and writes the file itself.
type fakeLauncher struct {
	t         testing.TB
	noFile    bool
	exitEarly bool

	// removeOnExit deletes connection files the process wrote itself.
	removeOnExit bool

	mu       sync.Mutex
	launched []LaunchSpec
	byPath   map[string]*fakeProc
}

func newFakeLauncher(t testing.TB) *fakeLauncher {
	return &fakeLauncher{t: t, byPath: make(map[string]*fakeProc)}
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (Process, error) {
	path := spec.Args[len(spec.Args)-1]
	p := &fakeProc{done: make(chan struct{})}
	l.mu.Lock()
	l.launched = append(l.launched, spec)
	l.byPath[path] = p
	l.mu.Unlock()
	if l.exitEarly {
		p.exit(errors.New("exit status 1"))
		return p, nil
	}
	port := 0
	if info, err := jupyter.LoadConnectionFile(path); err == nil {
		port = info.IOPubPort
	}
	p.ln = listenKernel(l.t, port)
	if port == 0 && !l.noFile {
		writeConnFile(l.t, path, p.ln.Addr().(*net.TCPAddr).Port)
		if l.removeOnExit {
			p.cleanup = func() { _ = os.Remove(path) }
		}
	}
	return p, nil
}

func (l *fakeLauncher) proc(path string) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byPath[path]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

// fakeKiller records sweeps and kills nothing.
type fakeKiller struct {
	mu    sync.Mutex
	calls [][]string
}

func (k *fakeKiller) KillMatching(_ context.Context, needles ...string) (int, error) {
	k.mu.Lock()
	k.calls = append(k.calls, needles)
	k.mu.Unlock()
	return 0, nil
}

// fakeKernel satisfies jupyter.Kernel for Connect.
type fakeKernel struct {
	path    string
	inits   int
	initErr error
	closed  bool
}

func (k *fakeKernel) Exec(context.Context, jupyter.ExecRequest) (jupyter.Result, error) {
	return jupyter.Result{}, nil
}
func (k *fakeKernel) Init(context.Context) error { k.inits++; return k.initErr }
func (k *fakeKernel) Poll() (*jupyter.Message, bool) { return nil, false }
func (k *fakeKernel) Next(ctx context.Context) (*jupyter.Message, error) { <-ctx.Done(); return nil, ctx.Err() }
func (k *fakeKernel) ConnectionFile() string { return k.path }
func (k *fakeKernel) Close() error { k.closed = true; return nil }

type harness struct {
	m        *Manager
	dir      string
	launcher *fakeLauncher
	killer   *fakeKiller
	events   *MemoryPublisher
	dialed   []*fakeKernel
	// external kernels not started by the manager, by connection file
	external map[string]net.Listener
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:      filepath.Join(dir, "runtime"),
		launcher: newFakeLauncher(t),
		killer:   &fakeKiller{},
		events:   NewMemoryPublisher(),
		external: make(map[string]net.Listener),
	}
	if err := os.MkdirAll(h.dir, 0o700); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	h.m = NewWithConfig(ManagerConfig{
		RuntimeDirs:     []string{h.dir},
		LogDir:          filepath.Join(dir, "log"),
		Interpreters:    map[string]string{"3": "python3", "2": "python2"},
		ProbeTimeout:    50 * time.Millisecond,
		SpawnTimeout:    500 * time.Millisecond,
		ShutdownTimeout: 300 * time.Millisecond,
		Publisher:       h.events,
		Launcher:        h.launcher,
		Killer:          h.killer,
		Dial: func(_ context.Context, path string) (jupyter.Kernel, error) {
			k := &fakeKernel{path: path}
			mu.Lock()
			h.dialed = append(h.dialed, k)
			mu.Unlock()
			return k, nil
		},
		Shutdowner: func(_ context.Context, info jupyter.ConnectionInfo) error {
			mu.Lock()
			defer mu.Unlock()
			for path, ln := range h.external {
				if ln.Addr().(*net.TCPAddr).Port == info.IOPubPort {
					_ = ln.Close()
					delete(h.external, path)
				}
			}
			return nil
		},
	})
	t.Cleanup(h.m.Close)
	return h
}

// externalKernel simulates a kernel started by another frontend.
func (h *harness) externalKernel(t *testing.T, id string) string {
	t.Helper()
	ln := listenKernel(t, 0)
	t.Cleanup(func() { _ = ln.Close() })
	path := filepath.Join(h.dir, jupyter.ConnectionFileName(id))
	writeConnFile(t, path, ln.Addr().(*net.TCPAddr).Port)
	h.external[path] = ln
	return path
}

// diedKernel writes a connection file whose port is closed.
func (h *harness) diedKernel(t *testing.T, id string) string {
	t.Helper()
	path := filepath.Join(h.dir, jupyter.ConnectionFileName(id))
	writeConnFile(t, path, deadPort(t))
	return path
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
