package jupyter

import (
	"context"
	"strings"
	"testing"
	"time"
)

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWaitReady(t *testing.T) {
	f := newFakeKernel("k")
	c := newTestClient(f)
	defer c.Close()
	if err := c.waitReady(ctxT(t)); err != nil {
		t.Fatalf("waitReady: %v", err)
	}
	if _, ok := c.Poll(); ok {
		t.Fatalf("kernel_info answers must not surface through Poll")
	}
}

func TestExecKeepsLastPayload(t *testing.T) {
	f := newFakeKernel("k")
	f.script = func(string) []output {
		return []output{
			{MsgStream, StreamContent{Name: "stdout", Text: "first"}},
			{MsgStream, StreamContent{Name: "stdout", Text: "second"}},
		}
	}
	c := newTestClient(f)
	defer c.Close()
	res, err := c.Exec(ctxT(t), ExecRequest{Code: "print(1)"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Text != "second" {
		t.Fatalf("want last payload, got %q", res.Text)
	}
	if res.MsgID == "" {
		t.Fatalf("missing msg id")
	}
}

func TestExecListingConcatenatesStdout(t *testing.T) {
	f := newFakeKernel("k")
	f.script = func(string) []output {
		return []output{
			{MsgStream, StreamContent{Name: "stdout", Text: "Variable   Type   Data/Info\n"}},
			{MsgStream, StreamContent{Name: "stderr", Text: "warning\n"}},
			{MsgStream, StreamContent{Name: "stdout", Text: "a          int    1\n"}},
			{MsgExecuteResult, ExecuteResultContent{Data: map[string]any{"text/plain": "ignored"}}},
		}
	}
	c := newTestClient(f)
	defer c.Close()
	res, err := c.Exec(ctxT(t), ExecRequest{Code: "%whos", Listing: true})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	want := "Variable   Type   Data/Info\na          int    1\n"
	if res.Text != want {
		t.Fatalf("listing text %q", res.Text)
	}
}

func TestExecResultPlainText(t *testing.T) {
	f := newFakeKernel("k")
	f.script = func(string) []output {
		return []output{{MsgExecuteResult, ExecuteResultContent{Data: map[string]any{"text/plain": "42"}}}}
	}
	c := newTestClient(f)
	defer c.Close()
	res, err := c.Exec(ctxT(t), ExecRequest{Code: "6*7"})
	if err != nil || res.Text != "42" {
		t.Fatalf("got %q err=%v", res.Text, err)
	}
}

func TestExecError(t *testing.T) {
	f := newFakeKernel("k")
	f.script = func(string) []output {
		return []output{{MsgError, ErrorContent{EName: "NameError", EValue: "name 'x' is not defined"}}}
	}
	c := newTestClient(f)
	defer c.Close()
	_, err := c.Exec(ctxT(t), ExecRequest{Code: "x"})
	if !IsExecError(err) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if !strings.Contains(err.Error(), "NameError") {
		t.Fatalf("error text %q", err.Error())
	}
}

func TestExecSetsAsideForeignMessages(t *testing.T) {
	f := newFakeKernel("k")
	f.script = func(code string) []output {
		if code == "mine" {
			return []output{{"foreign", "b = 2"}, {MsgStream, StreamContent{Name: "stdout", Text: "ok"}}}
		}
		return nil
	}
	c := newTestClient(f)
	defer c.Close()
	if _, err := c.Exec(ctxT(t), ExecRequest{Code: "mine"}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	var types []string
	for {
		m, ok := c.Poll()
		if !ok {
			break
		}
		if m.ParentID() != "other-b = 2" {
			t.Fatalf("own message leaked: %s parent=%s", m.Type(), m.ParentID())
		}
		types = append(types, m.Type())
	}
	if strings.Join(types, ",") != "status,execute_input,status" {
		t.Fatalf("foreign sequence %v", types)
	}
}

func TestPollAndNextSkipOwnMessages(t *testing.T) {
	f := newFakeKernel("k")
	c := newTestClient(f)
	defer c.Close()
	if _, err := c.Exec(ctxT(t), ExecRequest{Code: "a = 1"}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if m, ok := c.Poll(); ok {
		t.Fatalf("unexpected message %s", m.Type())
	}
	parent := f.foreign("c = 3")
	m, err := c.Next(ctxT(t))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if m.ParentID() != parent.MsgID {
		t.Fatalf("next returned %s", m.ParentID())
	}
}

func TestNextHonoursContext(t *testing.T) {
	f := newFakeKernel("k")
	c := newTestClient(f)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Next(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestClosedClient(t *testing.T) {
	f := newFakeKernel("k")
	c := newTestClient(f)
	_ = c.Close()
	_ = c.Close()
	if _, err := c.Next(ctxT(t)); !IsClosed(err) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestResetRunsBootstrapAgain(t *testing.T) {
	f := newFakeKernel("k")
	c := newTestClient(f, WithBootstrap([]string{"boot-1", "boot-2"}))
	defer c.Close()
	if _, err := c.Exec(ctxT(t), ExecRequest{Code: "%reset -f", Reset: true}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	got := strings.Join(f.executed(), "|")
	if got != "%reset -f|boot-1|boot-2" {
		t.Fatalf("executed %s", got)
	}
}

func TestInitContinuesPastFailingCell(t *testing.T) {
	f := newFakeKernel("k")
	f.script = func(code string) []output {
		if code == "import pandas as _pd" {
			return []output{{MsgError, ErrorContent{EName: "ModuleNotFoundError", EValue: "No module named 'pandas'"}}}
		}
		return nil
	}
	c := newTestClient(f, WithBootstrap([]string{"import numpy as _np", "import pandas as _pd", "x = 1"}))
	defer c.Close()
	err := c.Init(ctxT(t))
	if err == nil || !IsExecError(err) {
		t.Fatalf("expected joined exec error, got %v", err)
	}
	if n := len(f.executed()); n != 3 {
		t.Fatalf("expected all cells to run, ran %d", n)
	}
}

func TestBootstrapCellsEmbedHelper(t *testing.T) {
	cells := BootstrapCells()
	last := cells[len(cells)-1]
	if !strings.Contains(last, "_kd5 = _KD5Helper()") {
		t.Fatalf("helper not embedded")
	}
}
