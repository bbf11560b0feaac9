package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"kd5/internal/manager"
	"kd5/pkg/types"
)

// backend carries out kernel management commands.
type backend interface {
	Kernels(ctx context.Context) ([]types.Kernel, error)
	Spawn(ctx context.Context, req types.SpawnRequest) (types.Kernel, error)
	Restart(ctx context.Context, id string) (types.Kernel, error)
	Shutdown(ctx context.Context, id string) error
	RemoveConnectionFile(ctx context.Context, id string) error
}

// bulkBackend is implemented by backends with native bulk actions.
type bulkBackend interface {
	ShutdownAllAlive(ctx context.Context) ([]string, error)
	RemoveAllDied(ctx context.Context) ([]string, error)
}

// localBackend runs commands against an in-process manager.
type localBackend struct{ m *manager.Manager }

func (b localBackend) Kernels(ctx context.Context) ([]types.Kernel, error) { return b.m.Discover(ctx) }

func (b localBackend) Spawn(ctx context.Context, req types.SpawnRequest) (types.Kernel, error) {
	return b.m.Spawn(ctx, req.Version, req.Exclude...)
}

func (b localBackend) Restart(ctx context.Context, id string) (types.Kernel, error) {
	k, err := b.m.Lookup(ctx, id)
	if err != nil {
		return k, err
	}
	return b.m.Restart(ctx, k)
}

func (b localBackend) Shutdown(ctx context.Context, id string) error {
	k, err := b.m.Lookup(ctx, id)
	if err != nil {
		return err
	}
	return b.m.Shutdown(ctx, k)
}

func (b localBackend) RemoveConnectionFile(ctx context.Context, id string) error {
	k, err := b.m.Lookup(ctx, id)
	if err != nil {
		return err
	}
	return b.m.RemoveConnectionFile(k)
}

func (b localBackend) ShutdownAllAlive(ctx context.Context) ([]string, error) {
	return b.m.ShutdownAllAlive(ctx)
}

func (b localBackend) RemoveAllDied(ctx context.Context) ([]string, error) {
	return b.m.RemoveAllDied(ctx)
}

// daemonBackend talks to the watcher daemon's HTTP API.
type daemonBackend struct {
	client *http.Client
	base   string
}

// apiError is a non-2xx answer from the daemon.
type apiError struct {
	Code int
	Msg  string
}

func (e apiError) Error() string { return fmt.Sprintf("daemon: %s (%d)", e.Msg, e.Code) }

// isStatus reports whether err is a daemon answer with the given code.
func isStatus(err error, code int) bool {
	var ae apiError
	return errors.As(err, &ae) && ae.Code == code
}

func (b daemonBackend) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon at %s: %w", b.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var er types.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return apiError{Code: resp.StatusCode, Msg: er.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func kernelPath(id string, suffix string) string { return "/kernels/" + url.PathEscape(id) + suffix }

func (b daemonBackend) Kernels(ctx context.Context) ([]types.Kernel, error) {
	var out types.KernelsResponse
	err := b.do(ctx, http.MethodGet, "/kernels", nil, &out)
	return out.Kernels, err
}

func (b daemonBackend) Spawn(ctx context.Context, req types.SpawnRequest) (types.Kernel, error) {
	var out types.SpawnResponse
	err := b.do(ctx, http.MethodPost, "/kernels", req, &out)
	return out.Kernel, err
}

func (b daemonBackend) Restart(ctx context.Context, id string) (types.Kernel, error) {
	var out types.Kernel
	err := b.do(ctx, http.MethodPost, kernelPath(id, "/restart"), nil, &out)
	return out, err
}

func (b daemonBackend) Shutdown(ctx context.Context, id string) error {
	return b.do(ctx, http.MethodDelete, kernelPath(id, ""), nil, nil)
}

func (b daemonBackend) RemoveConnectionFile(ctx context.Context, id string) error {
	return b.do(ctx, http.MethodDelete, kernelPath(id, "/connection-file"), nil, nil)
}

func (b daemonBackend) Snapshot(ctx context.Context) (types.Snapshot, error) {
	var out types.Snapshot
	err := b.do(ctx, http.MethodGet, "/snapshot", nil, &out)
	return out, err
}

func (b daemonBackend) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	err := b.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// each applies fn to every kernel matching keep and returns the ids fn
// succeeded on.
func each(ctx context.Context, b backend, keep func(types.Kernel) bool, fn func(context.Context, string) error) ([]string, error) {
	kernels, err := b.Kernels(ctx)
	if err != nil {
		return nil, err
	}
	var done []string
	var errs []error
	for _, k := range kernels {
		if !keep(k) {
			continue
		}
		if err := fn(ctx, k.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		done = append(done, k.ID)
	}
	return done, errors.Join(errs...)
}

func shutdownAllAlive(ctx context.Context, b backend) ([]string, error) {
	if bb, ok := b.(bulkBackend); ok {
		return bb.ShutdownAllAlive(ctx)
	}
	return each(ctx, b, types.Kernel.Alive, b.Shutdown)
}

func removeAllDied(ctx context.Context, b backend) ([]string, error) {
	if bb, ok := b.(bulkBackend); ok {
		return bb.RemoveAllDied(ctx)
	}
	return each(ctx, b, func(k types.Kernel) bool { return k.Status == types.StatusDied }, b.RemoveConnectionFile)
}
