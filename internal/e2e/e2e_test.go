package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"kd5/internal/channel"
	"kd5/internal/inspector"
	"kd5/pkg/types"
)

func TestAnnounceEvaluateAndRelist(t *testing.T) {
	s := newStack(t)
	path := s.kernel(t, "27146")
	r := s.remote(t)

	if err := r.Announce(path); err != nil {
		t.Fatalf("announce: %v", err)
	}
	first := await(t, r, "first snapshot", snapshotWith("27146"))
	if first.Snapshot.Len() != 0 {
		t.Fatalf("fresh kernel should list an empty namespace, got %d", first.Snapshot.Len())
	}

	req := channel.NewRequest("x = 42")
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := await(t, r, "result", resultFor(req.ID))
	if res.Result.Error != "" {
		t.Fatalf("unexpected error %q", res.Result.Error)
	}
	next := await(t, r, "snapshot with x", snapshotWith("27146", "x"))
	if v := next.Snapshot.Variables["x"]; v.Type != "int" || v.Value != "42" {
		t.Fatalf("unexpected variable %+v", v)
	}
	if next.Snapshot.Seq <= first.Snapshot.Seq {
		t.Fatalf("sequence must grow: %d then %d", first.Snapshot.Seq, next.Snapshot.Seq)
	}

	resp, body := httpDo(t, http.MethodGet, s.srv.URL+"/snapshot")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /snapshot: %d", resp.StatusCode)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if _, ok := snap.Variables["x"]; !ok || snap.KernelID != "27146" {
		t.Fatalf("HTTP snapshot out of date: %+v", snap)
	}
}

func TestKernelErrorComesBackAsResult(t *testing.T) {
	s := newStack(t)
	r := s.remote(t)
	if err := r.Announce(s.kernel(t, "5")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	await(t, r, "snapshot", snapshotWith("5"))

	req := channel.NewRequest("undefined_name")
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := await(t, r, "result", resultFor(req.ID))
	if !strings.Contains(res.Result.Error, "NameError") {
		t.Fatalf("expected NameError, got %+v", res.Result)
	}

	resp, body := httpDo(t, http.MethodGet, s.srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status: %d", resp.StatusCode)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.KernelID != "5" || st.LastError != "" {
		t.Fatalf("a kernel exception must not degrade the watcher: %+v", st)
	}
}

func TestInspectThroughDaemon(t *testing.T) {
	s := newStack(t)
	r := s.remote(t)
	if err := r.Announce(s.kernel(t, "8")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	await(t, r, "snapshot", snapshotWith("8"))
	req := channel.NewRequest("greeting = 'hello'")
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	await(t, r, "result", resultFor(req.ID))
	env := await(t, r, "snapshot with greeting", snapshotWith("8", "greeting"))

	// queries go out on their own connection; keep this one drained
	go func() {
		for range r.Envelopes() {
		}
	}()
	in := inspector.New(s.remote(t), inspector.Config{Dir: s.artifacts, Timeout: 2 * time.Second, Poll: 10 * time.Millisecond})
	res, err := in.Inspect(context.Background(), env.Snapshot.Variables["greeting"])
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if res.Text != "hello" || !res.Menu {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestShutdownReleasesKernel(t *testing.T) {
	s := newStack(t)
	r := s.remote(t)
	if err := r.Announce(s.kernel(t, "31")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	await(t, r, "snapshot", snapshotWith("31"))

	resp, _ := httpDo(t, http.MethodDelete, s.srv.URL+"/kernels/31")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE /kernels/31: %d", resp.StatusCode)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, body := httpDo(t, http.MethodGet, s.srv.URL+"/kernels")
		var kr types.KernelsResponse
		if err := json.Unmarshal(body, &kr); err != nil {
			t.Fatalf("decode kernels: %v", err)
		}
		if len(kr.Kernels) == 1 && kr.Kernels[0].Status == types.StatusDied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("kernel 31 still listed as alive: %+v", kr.Kernels)
		}
		time.Sleep(20 * time.Millisecond)
	}

	req := channel.NewRequest("x = 1")
	if err := r.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := await(t, r, "result", resultFor(req.ID))
	if res.Result.Error == "" {
		t.Fatalf("request after shutdown must fail, got %+v", res.Result)
	}
}

func TestUnknownKernelIs404(t *testing.T) {
	s := newStack(t)
	resp, body := httpDo(t, http.MethodPost, s.srv.URL+"/kernels/404/connect")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, body)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code != http.StatusNotFound {
		t.Fatalf("expected JSON error body, got %s", body)
	}
}
