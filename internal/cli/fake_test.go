package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"kd5/internal/channel"
	"kd5/internal/httpapi"
	"kd5/pkg/types"
)

// stubService is a daemon without a watcher loop. Tests drive the
// request channel directly.
type stubService struct {
	*channel.Channel

	mu      sync.Mutex
	kernels []types.Kernel
	err     error
	spawned types.SpawnRequest
	calls   []string
	status  types.StatusResponse
}

func (s *stubService) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *stubService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubService) Kernels(context.Context) ([]types.Kernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Kernel(nil), s.kernels...), s.err
}

func (s *stubService) Spawn(_ context.Context, req types.SpawnRequest) (types.Kernel, error) {
	s.mu.Lock()
	s.spawned = req
	s.mu.Unlock()
	s.record("spawn")
	return types.Kernel{ID: "4242", Status: types.StatusAlive}, s.err
}

func (s *stubService) Connect(_ context.Context, id string) (types.Kernel, error) {
	s.record("connect " + id)
	return types.Kernel{ID: id, Status: types.StatusConnected}, s.err
}

func (s *stubService) Restart(_ context.Context, id string) (types.Kernel, error) {
	s.record("restart " + id)
	return types.Kernel{ID: id, Status: types.StatusAlive}, s.err
}

func (s *stubService) Shutdown(_ context.Context, id string) error {
	s.record("shutdown " + id)
	return s.err
}

func (s *stubService) RemoveConnectionFile(_ context.Context, id string) error {
	s.record("rm " + id)
	return s.err
}

func (s *stubService) Status() types.StatusResponse { return s.status }

func (s *stubService) Snapshot() (types.Snapshot, bool) { return s.Latest() }

func (s *stubService) Ready() bool { return true }

// harness is a running daemon stub plus a config file pointing at it.
type harness struct {
	t      *testing.T
	svc    *stubService
	srv    *httptest.Server
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ch := channel.New(channel.Config{})
	t.Cleanup(ch.Close)
	svc := &stubService{Channel: ch}
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	for _, d := range []string{"runtime", "artifacts", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	cfg := map[string]any{
		"listen":             strings.TrimPrefix(srv.URL, "http://"),
		"runtime_dirs":       []string{filepath.Join(dir, "runtime")},
		"log_dir":            filepath.Join(dir, "logs"),
		"artifact_dir":       filepath.Join(dir, "artifacts"),
		"probe_timeout_ms":   50,
		"inspect_timeout_ms": 2000,
		"inspect_poll_ms":    10,
		"exec_timeout_ms":    2000,
	}
	b, _ := json.Marshal(cfg)
	path := filepath.Join(dir, "kd5.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KD5_LISTEN", "")
	t.Setenv("KD5_LOG_LEVEL", "")
	return &harness{t: t, svc: svc, srv: srv, dir: dir, config: path}
}

// run executes one kd5 invocation against the harness.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// serve plays the watcher for n requests: it takes each submission, lets
// answer act on it and resolves it with the returned result.
func (h *harness) serve(n int, answer func(channel.Request) types.EvalResult) <-chan channel.Request {
	got := make(chan channel.Request, n)
	go func() {
		defer close(got)
		deadline := time.Now().Add(5 * time.Second)
		for n > 0 && time.Now().Before(deadline) {
			req, ok := h.svc.TryNext()
			if !ok {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			res := answer(req)
			res.ID = req.ID
			h.svc.Resolve(res)
			got <- req
			n--
		}
	}()
	return got
}

var dumpRe = regexp.MustCompile(`^_kd5\.dump\(("[^"]*"), ("[^"]*"), ("[^"]*")\)$`)

// answerDump writes the artifact a helper call names, as the kernel-side
// helper would.
func answerDump(t *testing.T, body func(kind, name string) string) func(channel.Request) types.EvalResult {
	return func(req channel.Request) types.EvalResult {
		m := dumpRe.FindStringSubmatch(req.Code)
		if m == nil {
			t.Errorf("unexpected code %q", req.Code)
			return types.EvalResult{Error: "bad code"}
		}
		var kind, name, path string
		_ = json.Unmarshal([]byte(m[1]), &kind)
		_ = json.Unmarshal([]byte(m[2]), &name)
		_ = json.Unmarshal([]byte(m[3]), &path)
		if err := os.WriteFile(path+".part", []byte(body(kind, name)), 0o644); err != nil {
			t.Errorf("write artifact: %v", err)
		}
		_ = os.Rename(path+".part", path)
		return types.EvalResult{}
	}
}

func snapshotOf(kernel string, vars ...types.Variable) types.Snapshot {
	s := types.Snapshot{KernelID: kernel, TakenAt: time.Now(), Variables: map[string]types.Variable{}}
	for _, v := range vars {
		s.Variables[v.Name] = v
	}
	return s
}

func writeConnFile(t *testing.T, dir, id string, port int) string {
	t.Helper()
	b, _ := json.Marshal(map[string]any{
		"shell_port": port, "iopub_port": port, "control_port": port,
		"ip": "127.0.0.1", "transport": "tcp", "key": "k",
	})
	path := filepath.Join(dir, fmt.Sprintf("kernel-%s.json", id))
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write connection file: %v", err)
	}
	return path
}
