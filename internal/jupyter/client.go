package jupyter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	inboxSize     = 1024
	ownHistory    = 256
	readyInterval = 200 * time.Millisecond
)

// Kernel is the surface of a connected kernel used by the watcher and the
// manager. *Client implements it.
type Kernel interface {
	Exec(ctx context.Context, req ExecRequest) (Result, error)
	Init(ctx context.Context) error
	Poll() (*Message, bool)
	Next(ctx context.Context) (*Message, error)
	ConnectionFile() string
	Close() error
}

var _ Kernel = (*Client)(nil)

// Client is a connection to one running kernel. It owns a shell DEALER and
// an iopub SUB socket. Exec and Init are serialized; Poll and Next are meant
// for a single consumer (the watcher loop).
type Client struct {
	path      string
	info      ConnectionInfo
	session   string
	sig       signer
	tr        transport
	log       zerolog.Logger
	bootstrap []string

	mu sync.Mutex // serializes executions

	inbox chan *Message
	own   *idRing

	bmu     sync.Mutex
	backlog []*Message

	done      chan struct{}
	dead      chan struct{}
	pumpErr   error
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithBootstrap replaces the cells run by Init.
func WithBootstrap(cells []string) Option { return func(c *Client) { c.bootstrap = cells } }

// Dial opens the kernel described by the connection file at path and waits
// until the kernel answers on iopub or ctx is done.
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	info, err := LoadConnectionFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkScheme(info.SignatureScheme); err != nil {
		return nil, err
	}
	session := uuid.NewString()
	tr, err := dialZMQ(info, session)
	if err != nil {
		return nil, err
	}
	c := newClient(path, info, session, tr, opts...)
	if err := c.waitReady(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(path string, info ConnectionInfo, session string, tr transport, opts ...Option) *Client {
	c := &Client{
		path:      path,
		info:      info,
		session:   session,
		sig:       signer{key: []byte(info.Key)},
		tr:        tr,
		log:       zerolog.Nop(),
		bootstrap: BootstrapCells(),
		inbox:     make(chan *Message, inboxSize),
		own:       newIDRing(ownHistory),
		done:      make(chan struct{}),
		dead:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if id, ok := KernelIDFromPath(path); ok {
		c.log = c.log.With().Str("kernel_id", id).Logger()
	}
	go c.pumpIOPub()
	go c.pumpShell()
	return c
}

// ConnectionFile returns the path the client was dialed with.
func (c *Client) ConnectionFile() string { return c.path }

// Info returns the parsed connection file.
func (c *Client) Info() ConnectionInfo { return c.info }

// Close releases the sockets. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.tr.close()
	})
	return err
}

func (c *Client) pumpIOPub() {
	defer close(c.dead)
	for {
		frames, err := c.tr.recvIOPub()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn().Err(err).Str("op", "iopub").Msg("iopub receive failed")
				c.pumpErr = err
			}
			return
		}
		m, err := c.sig.decode(frames)
		if err != nil {
			c.log.Warn().Err(err).Str("op", "iopub").Msg("dropping undecodable message")
			continue
		}
		select {
		case c.inbox <- m:
		case <-c.done:
			return
		}
	}
}

// pumpShell discards shell replies; results are taken from iopub.
func (c *Client) pumpShell() {
	for {
		frames, err := c.tr.recvShell()
		if err != nil {
			return
		}
		if m, err := c.sig.decode(frames); err == nil {
			c.log.Debug().Str("msg_type", m.Type()).Str("parent", m.ParentID()).Msg("shell reply")
		}
	}
}

func (c *Client) send(m *Message) error {
	frames, err := c.sig.encode(m)
	if err != nil {
		return err
	}
	c.own.add(m.Header.MsgID)
	if err := c.tr.sendShell(frames); err != nil {
		return fmt.Errorf("send %s: %w", m.Type(), err)
	}
	return nil
}

func (c *Client) lost() error {
	select {
	case <-c.done:
		return closedError{}
	default:
	}
	if c.pumpErr != nil {
		return fmt.Errorf("iopub lost: %w", c.pumpErr)
	}
	return closedError{}
}

// recv blocks for the next iopub message, ignoring the backlog.
func (c *Client) recv(ctx context.Context) (*Message, error) {
	select {
	case m := <-c.inbox:
		return m, nil
	default:
	}
	select {
	case m := <-c.inbox:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, closedError{}
	case <-c.dead:
		select {
		case m := <-c.inbox:
			return m, nil
		default:
		}
		return nil, c.lost()
	}
}

func (c *Client) setAside(m *Message) {
	c.bmu.Lock()
	c.backlog = append(c.backlog, m)
	c.bmu.Unlock()
}

func (c *Client) popBacklog() (*Message, bool) {
	c.bmu.Lock()
	defer c.bmu.Unlock()
	if len(c.backlog) == 0 {
		return nil, false
	}
	m := c.backlog[0]
	c.backlog[0] = nil
	c.backlog = c.backlog[1:]
	return m, true
}

// Poll returns the next pending iopub message produced on behalf of another
// frontend without blocking. Messages answering our own requests are skipped.
func (c *Client) Poll() (*Message, bool) {
	for {
		if m, ok := c.popBacklog(); ok {
			return m, true
		}
		select {
		case m := <-c.inbox:
			if c.own.has(m.ParentID()) {
				continue
			}
			return m, true
		default:
			return nil, false
		}
	}
}

// Next blocks until a foreign iopub message arrives, ctx is done or the
// client is closed.
func (c *Client) Next(ctx context.Context) (*Message, error) {
	for {
		if m, ok := c.popBacklog(); ok {
			return m, nil
		}
		m, err := c.recv(ctx)
		if err != nil {
			return nil, err
		}
		if c.own.has(m.ParentID()) {
			continue
		}
		return m, nil
	}
}

func (c *Client) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()
	for {
		m, err := newMessage(c.session, MsgKernelInfoRequest, struct{}{})
		if err != nil {
			return err
		}
		if err := c.send(m); err != nil {
			return err
		}
	wait:
		for {
			select {
			case msg := <-c.inbox:
				if c.own.has(msg.ParentID()) {
					return nil
				}
				c.setAside(msg)
			case <-ticker.C:
				break wait
			case <-ctx.Done():
				return fmt.Errorf("kernel did not answer kernel_info_request: %w", ctx.Err())
			case <-c.dead:
				return c.lost()
			}
		}
	}
}

// idRing remembers the most recent message ids we sent.
type idRing struct {
	mu   sync.Mutex
	ids  []string
	set  map[string]struct{}
	next int
}

func newIDRing(n int) *idRing {
	return &idRing{ids: make([]string, n), set: make(map[string]struct{}, n)}
}

func (r *idRing) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
}

func (r *idRing) has(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[id]
	return ok
}
