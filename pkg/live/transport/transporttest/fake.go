// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// ErrConnClosed is returned by sends on a closed Conn.
var ErrConnClosed = errors.New("transporttest: conn closed")

// Connector hands out Conns. By default each Connect succeeds immediately and
// the Conn emits OpenEvent when AutoOpen is set.
type Connector struct {
	AutoOpen bool
	// Err, when set, fails every Connect.
	Err error
	// Gate, when set, blocks Connect until it is closed or ctx is done.
	Gate chan struct{}

	mu    sync.Mutex
	conns []*Conn
}

// NewConnector returns a connector that confirms setup immediately.
func NewConnector() *Connector {
	return &Connector{AutoOpen: true}
}

func (c *Connector) Connect(ctx context.Context, h transport.Handler) (transport.Conn, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}
	conn := &Conn{handler: h}
	c.mu.Lock()
	c.conns = append(c.conns, conn)
	c.mu.Unlock()
	if c.AutoOpen {
		conn.Emit(transport.OpenEvent{})
	}
	return conn, nil
}

// Conns returns every connection handed out so far.
func (c *Connector) Conns() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Conn(nil), c.conns...)
}

// Last returns the most recent connection, or nil.
func (c *Connector) Last() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[len(c.conns)-1]
}

// Conn records sends and lets tests push inbound events.
type Conn struct {
	handler transport.Handler

	// emitMu keeps inbound events sequential, as real connectors do.
	emitMu sync.Mutex

	mu        sync.Mutex
	media     []media.Blob
	responses []transport.ToolResponse
	closed    bool
	closes    int
	sendErr   error
}

// Emit delivers ev to the handler.
func (c *Conn) Emit(ev transport.Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.handler(ev)
}

// FailSends makes every later send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) SendMedia(ctx context.Context, blob media.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.media = append(c.media, blob)
	return nil
}

func (c *Conn) SendToolResponse(ctx context.Context, resp transport.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.responses = append(c.responses, resp)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closed {
		return ErrConnClosed
	}
	c.closed = true
	return nil
}

// Media returns the blobs sent so far.
func (c *Conn) Media() []media.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.Blob(nil), c.media...)
}

// Responses returns the tool responses sent so far.
func (c *Conn) Responses() []transport.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.ToolResponse(nil), c.responses...)
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
