package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kd5/internal/channel"
	"kd5/pkg/types"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Channel is the request channel as seen by WebSocket clients.
type Channel interface {
	Subscribe() *channel.Subscription
	Submit(ctx context.Context, req channel.Request) error
	Announce(path string)
}

type wsClient struct {
	conn *websocket.Conn
	sub  *channel.Subscription
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Close()
	})
}

// hub tracks connected clients. Each client has its own subscription, so
// a client that falls behind only ever misses intermediate snapshots.
type hub struct {
	ch Channel

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub(ch Channel) *hub {
	return &hub{ch: ch, clients: make(map[*wsClient]struct{})}
}

func (h *hub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		sub:  h.ch.Subscribe(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	wsClients.Inc()
	go c.writePump()
	go h.forward(c)
	return c
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		wsClients.Dec()
	}
	h.mu.Unlock()
	c.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// forward turns subscription deliveries into envelopes for c. Clients
// are dropped when the process shuts down.
func (h *hub) forward(c *wsClient) {
	base := serverBaseCtx
	for {
		select {
		case <-base.Done():
			h.remove(c)
			return
		case s := <-c.sub.Snapshots():
			h.enqueue(c, types.Envelope{Type: types.EnvelopeSnapshot, Snapshot: &s})
		case res := <-c.sub.Results():
			h.enqueue(c, types.Envelope{Type: types.EnvelopeResult, Result: &res})
		case <-c.sub.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (h *hub) enqueue(c *wsClient, env types.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		zlog.Error().Err(err).Msg("encode envelope")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		zlog.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("ws client too slow, disconnecting")
		h.remove(c)
	}
}

func (h *hub) fail(c *wsClient, id, msg string) {
	env := types.Envelope{Type: types.EnvelopeError, Error: msg}
	if id != "" {
		env.Result = &types.EvalResult{ID: id, Error: msg}
	}
	h.enqueue(c, env)
}

// read handles frames from c until the connection ends.
func (h *hub) read(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxBodyBytes)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := channel.ParseFrame(string(data))
		if err != nil {
			wsFramesTotal.WithLabelValues("invalid").Inc()
			h.fail(c, "", err.Error())
			continue
		}
		switch f.Kind {
		case channel.FrameKernel:
			wsFramesTotal.WithLabelValues("cf").Inc()
			h.ch.Announce(f.Payload)
		case channel.FrameCode:
			wsFramesTotal.WithLabelValues("code").Inc()
			req := f.Request()
			ctx, cancel := context.WithCancel(serverBaseCtx)
			err := h.ch.Submit(ctx, req)
			cancel()
			if err != nil {
				if channel.IsBusy(err) {
					IncrementBackpressure("request_slot")
				}
				h.fail(c, req.ID, err.Error())
			}
		}
	}
}

func (h *hub) handle(up *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			zlog.Warn().Err(err).Msg("ws upgrade")
			return
		}
		zlog.Debug().Str("remote", r.RemoteAddr).Msg("ws client connected")
		c := h.add(conn)
		go func() {
			h.read(c)
			zlog.Debug().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
	}
}
