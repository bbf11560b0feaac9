package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"kd5/internal/channel"
	"kd5/internal/daemon"
	"kd5/internal/httpapi"
	"kd5/internal/jupyter"
	"kd5/internal/manager"
	"kd5/internal/watcher"
	"kd5/pkg/types"
)

var (
	assignRe = regexp.MustCompile(`^(\w+)\s*=\s*(.+)$`)
	dumpRe   = regexp.MustCompile(`^_kd5\.dump\(("[^"]*"), ("[^"]*"), ("[^"]*")\)$`)
)

// namespaceKernel is an in-memory kernel understanding assignments, the
// namespace listing and helper dump calls.
type namespaceKernel struct {
	path string

	mu   sync.Mutex
	vars map[string]string
}

func (k *namespaceKernel) Exec(_ context.Context, req jupyter.ExecRequest) (jupyter.Result, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if req.Listing {
		return jupyter.Result{Text: k.listing()}, nil
	}
	code := strings.TrimSpace(req.Code)
	if m := dumpRe.FindStringSubmatch(code); m != nil {
		var kind, name, path string
		_ = json.Unmarshal([]byte(m[1]), &kind)
		_ = json.Unmarshal([]byte(m[2]), &name)
		_ = json.Unmarshal([]byte(m[3]), &path)
		v, ok := k.vars[name]
		if !ok {
			return jupyter.Result{}, os.WriteFile(path+".err", []byte("NameError: "+name), 0o644)
		}
		if err := os.WriteFile(path+".part", []byte(strings.Trim(v, `'`)+"\n"), 0o644); err != nil {
			return jupyter.Result{}, err
		}
		return jupyter.Result{}, os.Rename(path+".part", path)
	}
	if m := assignRe.FindStringSubmatch(code); m != nil {
		k.vars[m[1]] = m[2]
		return jupyter.Result{}, nil
	}
	if v, ok := k.vars[code]; ok {
		return jupyter.Result{Text: v}, nil
	}
	return jupyter.Result{}, &jupyter.ExecError{EName: "NameError", EValue: fmt.Sprintf("name '%s' is not defined", code)}
}

func (k *namespaceKernel) listing() string {
	if len(k.vars) == 0 {
		return "Interactive namespace is empty.\n"
	}
	names := make([]string, 0, len(k.vars))
	for n := range k.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Variable   Type    Data/Info\n")
	b.WriteString("----------------------------\n")
	for _, n := range names {
		v := k.vars[n]
		typ := "int"
		if strings.HasPrefix(v, "'") {
			typ = "str"
		}
		fmt.Fprintf(&b, "%-10s %-7s %s\n", n, typ, v)
	}
	return b.String()
}

func (k *namespaceKernel) Init(context.Context) error { return nil }

func (k *namespaceKernel) Poll() (*jupyter.Message, bool) { return nil, false }

func (k *namespaceKernel) Next(ctx context.Context) (*jupyter.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (k *namespaceKernel) ConnectionFile() string { return k.path }

func (k *namespaceKernel) Close() error { return nil }

type noKill struct{}

func (noKill) KillMatching(context.Context, ...string) (int, error) { return 0, nil }

// stack is the full daemon served over httptest.
type stack struct {
	srv       *httptest.Server
	runtime   string
	artifacts string

	mu        sync.Mutex
	listeners map[int]net.Listener
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{runtime: t.TempDir(), artifacts: t.TempDir(), listeners: make(map[int]net.Listener)}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		RuntimeDirs:     []string{s.runtime},
		LogDir:          t.TempDir(),
		ProbeTimeout:    50 * time.Millisecond,
		ShutdownTimeout: 300 * time.Millisecond,
		Killer:          noKill{},
		Dial: func(_ context.Context, path string) (jupyter.Kernel, error) {
			return &namespaceKernel{path: path, vars: map[string]string{}}, nil
		},
		Shutdowner: func(_ context.Context, info jupyter.ConnectionInfo) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if ln, ok := s.listeners[info.IOPubPort]; ok {
				_ = ln.Close()
				delete(s.listeners, info.IOPubPort)
			}
			return nil
		},
	})
	t.Cleanup(mgr.Close)
	ch := channel.New(channel.Config{})
	t.Cleanup(ch.Close)
	w := watcher.New(ch, watcher.Config{Delay: 10 * time.Millisecond, ExecTimeout: time.Second})
	d := daemon.New(mgr, ch, w, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	s.srv = httptest.NewServer(httpapi.NewMux(d))
	t.Cleanup(s.srv.Close)
	return s
}

// kernel writes a connection file for a kernel answering probes.
func (s *stack) kernel(t *testing.T, id string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
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
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port
	s.mu.Lock()
	s.listeners[port] = ln
	s.mu.Unlock()
	b, _ := json.Marshal(map[string]any{
		"shell_port": port, "iopub_port": port, "control_port": port,
		"ip": "127.0.0.1", "transport": "tcp", "key": "",
	})
	path := filepath.Join(s.runtime, jupyter.ConnectionFileName(id))
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write connection file: %v", err)
	}
	return path
}

func (s *stack) remote(t *testing.T) *channel.Remote {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := channel.DialRemote(ctx, channel.WSURL(strings.TrimPrefix(s.srv.URL, "http://")))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func httpDo(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

// await reads envelopes until match accepts one.
func await(t *testing.T, r *channel.Remote, what string, match func(types.Envelope) bool) types.Envelope {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-r.Envelopes():
			if !ok {
				t.Fatalf("channel closed waiting for %s: %v", what, r.Err())
			}
			if match(env) {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func snapshotWith(kernel string, names ...string) func(types.Envelope) bool {
	return func(env types.Envelope) bool {
		if env.Type != types.EnvelopeSnapshot || env.Snapshot == nil || env.Snapshot.KernelID != kernel {
			return false
		}
		for _, n := range names {
			if _, ok := env.Snapshot.Variables[n]; !ok {
				return false
			}
		}
		return true
	}
}

func resultFor(id string) func(types.Envelope) bool {
	return func(env types.Envelope) bool { return env.Result != nil && env.Result.ID == id }
}
