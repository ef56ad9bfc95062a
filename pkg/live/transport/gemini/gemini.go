// Package gemini connects a live session directly to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// DefaultModel is the native-audio live model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// Config configures the connector.
type Config struct {
	APIKey string
	Setup  transport.Setup
	Logger *slog.Logger
}

// Connector opens Gemini Live sessions.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

// NewConnector validates cfg. The API key is required.
func NewConnector(cfg Config) (*Connector, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Setup.Model == "" {
		cfg.Setup.Model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{cfg: cfg, logger: logger.With("component", "transport.gemini")}, nil
}

func (c *Connector) Connect(ctx context.Context, h transport.Handler) (transport.Conn, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	sess, err := client.Live.Connect(ctx, c.cfg.Setup.Model, LiveConfig(c.cfg.Setup))
	if err != nil {
		return nil, fmt.Errorf("gemini: live connect: %w", err)
	}

	conn := &conn{
		sess:    sess,
		handler: h,
		logger:  c.logger,
	}
	go conn.readLoop()
	return conn, nil
}

// LiveConfig builds the session setup: audio responses, both transcriptions
// enabled, and the declared tools.
func LiveConfig(setup transport.Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	if setup.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(setup.SystemPrompt, genai.RoleUser)
	}
	if len(setup.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(setup.Tools))
		for _, t := range setup.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  Schema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// Schema converts a JSON schema to the Gemini schema dialect.
func Schema(s *transport.JSONSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			prop := prop
			out.Properties[name] = Schema(&prop)
		}
	}
	if s.Items != nil {
		out.Items = Schema(s.Items)
	}
	return out
}

type conn struct {
	sess    *genai.Session
	handler transport.Handler
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *conn) SendMedia(ctx context.Context, blob media.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input := genai.LiveRealtimeInput{}
	b := &genai.Blob{Data: blob.Data, MIMEType: blob.MIMEType}
	if blob.IsAudio() {
		input.Audio = b
	} else {
		input.Video = b
	}
	return c.send(func() error { return c.sess.SendRealtimeInput(input) })
}

func (c *conn) SendToolResponse(ctx context.Context, resp transport.ToolResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input := genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Result,
		}},
	}
	return c.send(func() error { return c.sess.SendToolResponse(input) })
}

func (c *conn) send(fn func() error) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn()
}

// Close does not wait for the read loop: it may be called from the handler.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		err = c.sess.Close()
		c.writeMu.Unlock()
	})
	return err
}

func (c *conn) readLoop() {
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			reason := "closed"
			if !c.closed.Load() {
				reason = err.Error()
				c.handler(transport.ErrorEvent{Err: err})
			}
			c.handler(transport.CloseEvent{Reason: reason})
			return
		}
		if msg.GoAway != nil {
			c.logger.Info("gemini: server requested disconnect", "time_left", msg.GoAway.TimeLeft)
		}
		for _, ev := range Translate(msg) {
			c.handler(ev)
		}
	}
}

// Translate maps one server message to transport events.
func Translate(msg *genai.LiveServerMessage) []transport.Event {
	if msg == nil {
		return nil
	}
	var events []transport.Event
	if msg.SetupComplete != nil {
		events = append(events, transport.OpenEvent{})
	}

	var m transport.MessageEvent
	has := false
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					continue
				}
				m.Audio = append(m.Audio, part.InlineData.Data)
				has = true
			}
		}
		if sc.Interrupted {
			m.Interrupted, has = true, true
		}
		if sc.TurnComplete {
			m.TurnComplete, has = true, true
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			m.InputText, has = sc.InputTranscription.Text, true
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			m.OutputText, has = sc.OutputTranscription.Text, true
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			m.ToolCalls = append(m.ToolCalls, transport.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			has = true
		}
	}
	if cancel := msg.ToolCallCancellation; cancel != nil && len(cancel.IDs) > 0 {
		m.ToolCancellations = append(m.ToolCancellations, cancel.IDs...)
		has = true
	}
	if has {
		events = append(events, m)
	}
	return events
}
