package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/core/media"
)

var (
	// ErrClosed is returned by sends after the handle was closed.
	ErrClosed = &core.Error{Kind: core.KindTeardown, Op: "transport", Message: "closed"}
	// ErrNotReady is returned by lossy sends made before the connection
	// resolved, or after it failed to resolve.
	ErrNotReady = &core.Error{Kind: core.KindTeardown, Op: "transport", Message: "not ready"}
)

// Pending is a connection that may still be opening. Media sends made before
// it resolves are dropped. Tool responses wait for it. After Close every send
// fails with ErrClosed and inbound events are no longer delivered.
type Pending struct {
	ready  chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   Conn
	err    error
	closed bool
}

// Open starts connecting in the background and returns immediately.
func Open(ctx context.Context, c Connector, h Handler) *Pending {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pending{
		ready:  make(chan struct{}),
		cancel: cancel,
	}

	gated := func(ev Event) {
		if p.isClosed() {
			return
		}
		h(ev)
	}

	go func() {
		conn, err := c.Connect(ctx, gated)
		if err == nil && conn == nil {
			err = fmt.Errorf("transport: connector returned no connection")
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			close(p.ready)
			return
		}
		p.conn, p.err = conn, err
		p.mu.Unlock()
		close(p.ready)
	}()
	return p
}

// Ready is closed once the connection resolved, failed, or the handle closed.
func (p *Pending) Ready() <-chan struct{} { return p.ready }

// Wait blocks until the connection resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Conn, error) {
	select {
	case <-p.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

// Err returns the resolution error, if any.
func (p *Pending) Err() error {
	select {
	case <-p.ready:
	default:
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// SendMedia sends blob if the connection is open and drops it otherwise.
func (p *Pending) SendMedia(ctx context.Context, blob media.Blob) error {
	conn, err := p.current()
	if err != nil {
		return err
	}
	return conn.SendMedia(ctx, blob)
}

// SendToolResponse waits for the connection and sends resp.
func (p *Pending) SendToolResponse(ctx context.Context, resp ToolResponse) error {
	conn, err := p.Wait(ctx)
	if err != nil {
		return err
	}
	return conn.SendToolResponse(ctx, resp)
}

// Close closes the connection, or arranges for it to be closed when it
// resolves. It is safe to call more than once.
func (p *Pending) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.mu.Unlock()

	p.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (p *Pending) current() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrClosed
	case p.conn == nil:
		return nil, ErrNotReady
	default:
		return p.conn, nil
	}
}

func (p *Pending) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
