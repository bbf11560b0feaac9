package jupyter

import (
	"context"
	"errors"
	"fmt"
)

// ExecRequest describes one execution submitted by kd5.
type ExecRequest struct {
	Code string
	// Listing accumulates every stdout stream chunk instead of keeping the
	// last payload. Used for the namespace listing.
	Listing bool
	// Reset marks code that clears the namespace; bootstrap runs again once
	// the execution finishes.
	Reset bool
	// LongRunning disables the caller's exec deadline.
	LongRunning bool
}

// Result is the textual outcome of an execution.
type Result struct {
	MsgID string
	Text  string
}

// Exec sends code on the shell channel and drains iopub until the matching
// status idle. Messages from other frontends seen meanwhile are kept for
// Poll and Next. A kernel exception is returned as *ExecError together with
// whatever text was produced before it.
func (c *Client) Exec(ctx context.Context, req ExecRequest) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.exec(ctx, req)
	if err == nil || IsExecError(err) {
		if req.Reset {
			if ierr := c.init(ctx); ierr != nil {
				c.log.Warn().Err(ierr).Str("op", "bootstrap").Msg("bootstrap after reset failed")
			}
		}
	}
	return res, err
}

// Init runs the bootstrap cells. Failing cells are logged and reported
// together; the remaining cells still run.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init(ctx)
}

func (c *Client) init(ctx context.Context) error {
	var errs []error
	for i, cell := range c.bootstrap {
		if _, err := c.exec(ctx, ExecRequest{Code: cell}); err != nil {
			if !IsExecError(err) {
				return fmt.Errorf("bootstrap cell %d: %w", i, err)
			}
			c.log.Warn().Err(err).Int("cell", i).Msg("bootstrap cell raised")
			errs = append(errs, fmt.Errorf("bootstrap cell %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) exec(ctx context.Context, req ExecRequest) (Result, error) {
	m, err := newMessage(c.session, MsgExecuteRequest, executeRequest{
		Code:            req.Code,
		StoreHistory:    false,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return Result{}, err
	}
	id := m.Header.MsgID
	if err := c.send(m); err != nil {
		return Result{}, err
	}
	res := Result{MsgID: id}
	var execErr error
	for {
		msg, err := c.recv(ctx)
		if err != nil {
			return res, err
		}
		if msg.ParentID() != id {
			if !c.own.has(msg.ParentID()) {
				c.setAside(msg)
			}
			continue
		}
		switch msg.Type() {
		case MsgStream:
			var s StreamContent
			if err := msg.Decode(&s); err != nil {
				continue
			}
			if req.Listing {
				if s.Name == "stdout" {
					res.Text += s.Text
				}
			} else {
				res.Text = s.Text
			}
		case MsgExecuteResult:
			if req.Listing {
				continue
			}
			var r ExecuteResultContent
			if err := msg.Decode(&r); err == nil {
				res.Text = r.PlainText()
			}
		case MsgError:
			var e ErrorContent
			_ = msg.Decode(&e)
			execErr = &ExecError{EName: e.EName, EValue: e.EValue, Traceback: e.Traceback}
		case MsgStatus:
			var s StatusContent
			if err := msg.Decode(&s); err == nil && s.ExecutionState == StateIdle {
				return res, execErr
			}
		}
	}
}
