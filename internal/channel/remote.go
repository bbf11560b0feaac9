package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"kd5/pkg/types"
)

// Remote is a request channel producer talking to a watcher daemon over
// WebSocket. Writes are serialized; envelopes from the daemon are decoded
// by a read pump.
type Remote struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	envs chan types.Envelope
	done chan struct{}
	err  error
	once sync.Once
}

// WSURL turns a listen address such as 127.0.0.1:8000 into the daemon's
// WebSocket URL.
func WSURL(addr string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	return u.String()
}

// DialRemote connects to the daemon at a ws:// URL.
func DialRemote(ctx context.Context, wsURL string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	r := &Remote{conn: conn, envs: make(chan types.Envelope, 64), done: make(chan struct{})}
	go r.readPump()
	return r, nil
}

func (r *Remote) readPump() {
	defer close(r.envs)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.err = err
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case r.envs <- env:
		case <-r.done:
			return
		}
	}
}

func (r *Remote) send(f Frame) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	return r.conn.WriteMessage(websocket.TextMessage, []byte(f.String()))
}

// Announce asks the daemon to switch to the kernel at path.
func (r *Remote) Announce(path string) error { return r.send(KernelFrame(path)) }

// Submit sends req as a code frame carrying its id. Rejection by a busy daemon arrives as
// an error envelope.
func (r *Remote) Submit(_ context.Context, req Request) error {
	var flags []string
	if req.Reset {
		flags = append(flags, FlagReset)
	}
	if req.LongRunning {
		flags = append(flags, FlagLongRunning)
	}
	if req.ReadOnly {
		flags = append(flags, FlagReadOnly)
	}
	f := CodeFrame(req.Code, flags...)
	f.ID = req.ID
	return r.send(f)
}

// Envelopes delivers daemon messages until the connection ends.
func (r *Remote) Envelopes() <-chan types.Envelope { return r.envs }

// Err returns the error that ended the read pump. Valid once Envelopes
// is closed.
func (r *Remote) Err() error { return r.err }

// Close sends a close frame and releases the connection.
func (r *Remote) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		r.wmu.Lock()
		_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.wmu.Unlock()
		err = r.conn.Close()
	})
	return err
}
