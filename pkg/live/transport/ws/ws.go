// Package ws connects a live session to a websocket relay gateway that
// speaks the JSON protocol in protocol.go and forwards to the model.
package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

const defaultConnectTimeout = 10 * time.Second

// Config configures the relay connector.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL    string
	APIKey string
	Setup  transport.Setup
	Logger *slog.Logger
	Dialer *websocket.Dialer
}

// Connector dials the relay.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

func NewConnector(cfg Config) (*Connector, error) {
	u := strings.TrimSpace(cfg.URL)
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return nil, fmt.Errorf("ws: gateway url must start with ws:// or wss://, got %q", cfg.URL)
	}
	if strings.TrimSpace(cfg.Setup.Model) == "" {
		return nil, errors.New("ws: model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{cfg: cfg, logger: logger.With("component", "transport.ws")}, nil
}

// Hello builds the first frame for this connector's setup.
func (c *Connector) Hello() ClientHello {
	hello := ClientHello{
		Type:            "hello",
		ProtocolVersion: ProtocolVersion1,
		Client:          HelloClient{Name: "vai-canvas"},
		Model:           c.cfg.Setup.Model,
		Voice:           c.cfg.Setup.Voice,
		SystemPrompt:    c.cfg.Setup.SystemPrompt,
		AudioIn:         AudioFormat{Encoding: EncodingPCMS16LE, SampleRateHz: media.InputSampleRate, Channels: 1},
		AudioOut:        AudioFormat{Encoding: EncodingPCMS16LE, SampleRateHz: media.OutputSampleRate, Channels: 1},
		Tools:           c.cfg.Setup.Tools,
	}
	if c.cfg.APIKey != "" {
		hello.Auth = &HelloAuth{APIKey: c.cfg.APIKey}
	}
	return hello
}

func (c *Connector) Connect(ctx context.Context, h transport.Handler) (transport.Conn, error) {
	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	headers := make(http.Header)
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	wsConn, resp, err := dialer.DialContext(dialCtx, c.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ws: dial failed: %w", err)
	}
	if err := wsConn.WriteJSON(c.Hello()); err != nil {
		_ = wsConn.Close()
		return nil, fmt.Errorf("ws: send hello: %w", err)
	}

	conn := &conn{ws: wsConn, handler: h, logger: c.logger}
	go conn.readLoop()
	return conn, nil
}

type conn struct {
	ws      *websocket.Conn
	handler transport.Handler
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *conn) SendMedia(ctx context.Context, blob media.Blob) error {
	return c.sendJSON(ctx, ClientMedia{
		Type:     "media",
		MIMEType: blob.MIMEType,
		DataB64:  blob.Base64(),
	})
}

func (c *conn) SendToolResponse(ctx context.Context, resp transport.ToolResponse) error {
	return c.sendJSON(ctx, ClientToolResponse{
		Type:   "tool_response",
		ID:     resp.ID,
		Name:   resp.Name,
		Result: resp.Result,
	})
}

func (c *conn) sendJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return transport.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer func() { _ = c.ws.SetWriteDeadline(time.Time{}) }()
	}
	return c.ws.WriteJSON(v)
}

// Close sends a normal close frame and closes the socket. It does not wait for
// the read loop, so it is safe to call from the handler.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) readLoop() {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			reason := "closed"
			switch {
			case c.closed.Load():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				reason = "remote closed"
			default:
				reason = err.Error()
				c.handler(transport.ErrorEvent{Err: err})
			}
			c.handler(transport.CloseEvent{Reason: reason})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn("ws: dropping undecodable frame", "error", err)
			continue
		}
		if ev := translate(msg); ev != nil {
			c.handler(ev)
		}
	}
}

func translate(msg any) transport.Event {
	switch m := msg.(type) {
	case ServerSetupComplete:
		return transport.OpenEvent{}
	case ServerAudio:
		pcm, err := base64.StdEncoding.DecodeString(m.AudioB64)
		if err != nil || len(pcm) == 0 {
			return nil
		}
		return transport.MessageEvent{Audio: [][]byte{pcm}}
	case ServerToolCall:
		return transport.MessageEvent{ToolCalls: m.Calls}
	case ServerToolCancel:
		return transport.MessageEvent{ToolCancellations: m.IDs}
	case ServerTurnEvent:
		if m.Type == "interrupted" {
			return transport.MessageEvent{Interrupted: true}
		}
		return transport.MessageEvent{TurnComplete: true}
	case ServerTranscript:
		if m.Role == "user" {
			return transport.MessageEvent{InputText: m.Text}
		}
		return transport.MessageEvent{OutputText: m.Text}
	case ServerError:
		return transport.ErrorEvent{Err: fmt.Errorf("gateway error %s: %s", m.Code, m.Message)}
	default:
		return nil
	}
}
