package ws

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// relay is a scripted gateway: it reads the hello, replies setup_complete,
// then replays script and records every client frame.
type relay struct {
	script []any

	mu     sync.Mutex
	frames []any
	gotAll chan struct{}
	want   int
}

func (r *relay) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := DecodeClientMessage(data)
			if err != nil {
				t.Errorf("DecodeClientMessage() error = %v", err)
				return
			}
			r.record(msg)
			if _, ok := msg.(ClientHello); ok {
				_ = conn.WriteJSON(ServerSetupComplete{Type: "setup_complete", SessionID: "relay_1"})
				for _, m := range r.script {
					_ = conn.WriteJSON(m)
				}
			}
		}
	}
}

func (r *relay) record(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
	if len(r.frames) == r.want {
		close(r.gotAll)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []transport.Event
	closed chan struct{}
}

func (l *eventLog) handle(ev transport.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if _, ok := ev.(transport.CloseEvent); ok {
		close(l.closed)
	}
}

func (l *eventLog) snapshot() []transport.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transport.Event(nil), l.events...)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestConnector_RoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	r := &relay{
		script: []any{
			ServerAudio{Type: "audio", AudioB64: base64.StdEncoding.EncodeToString(pcm)},
			ServerToolCall{Type: "tool_call", Calls: []transport.ToolCall{{ID: "call_1", Name: "playVideo", Args: map[string]any{"query": "cats"}}}},
			ServerTranscript{Type: "transcript", Role: "model", Text: "Here you go"},
			ServerTurnEvent{Type: "turn_complete"},
		},
		gotAll: make(chan struct{}),
		want:   3, // hello, media, tool_response
	}
	srv := httptest.NewServer(r.handler(t))
	defer srv.Close()

	c, err := NewConnector(Config{
		URL:    wsURL(srv),
		APIKey: "test-key",
		Setup:  transport.Setup{Model: "gemini-live", Tools: []transport.ToolDeclaration{{Name: "playVideo"}}},
	})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}

	log := &eventLog{closed: make(chan struct{})}
	conn, err := c.Connect(context.Background(), log.handle)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := conn.SendMedia(context.Background(), media.EncodeFrame(make([]float32, 4))); err != nil {
		t.Fatalf("SendMedia() error = %v", err)
	}
	if err := conn.SendToolResponse(context.Background(), transport.ToolResponse{ID: "call_1", Name: "playVideo", Result: map[string]any{"result": "ok"}}); err != nil {
		t.Fatalf("SendToolResponse() error = %v", err)
	}

	select {
	case <-r.gotAll:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not receive all frames")
	}

	r.mu.Lock()
	hello := r.frames[0].(ClientHello)
	mediaFrame := r.frames[1].(ClientMedia)
	toolResp := r.frames[2].(ClientToolResponse)
	r.mu.Unlock()
	if hello.Model != "gemini-live" || hello.AudioIn.SampleRateHz != 16000 || len(hello.Tools) != 1 {
		t.Fatalf("hello = %+v", hello)
	}
	if mediaFrame.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("media mime = %q", mediaFrame.MIMEType)
	}
	if toolResp.ID != "call_1" || toolResp.Result["result"] != "ok" {
		t.Fatalf("tool_response = %+v", toolResp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(log.snapshot()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("events = %d, want 5 before close", len(log.snapshot()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-log.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("no close event")
	}

	events := log.snapshot()
	if _, ok := events[0].(transport.OpenEvent); !ok {
		t.Fatalf("events[0] = %T, want OpenEvent", events[0])
	}
	audio := events[1].(transport.MessageEvent)
	if len(audio.Audio) != 1 || string(audio.Audio[0]) != string(pcm) {
		t.Fatalf("audio event = %+v", audio)
	}
	calls := events[2].(transport.MessageEvent)
	if len(calls.ToolCalls) != 1 || calls.ToolCalls[0].Args["query"] != "cats" {
		t.Fatalf("tool call event = %+v", calls)
	}
	if text := events[3].(transport.MessageEvent); text.OutputText != "Here you go" {
		t.Fatalf("transcript event = %+v", text)
	}
	if turn := events[4].(transport.MessageEvent); !turn.TurnComplete {
		t.Fatalf("turn event = %+v", turn)
	}
	last := events[len(events)-1].(transport.CloseEvent)
	if last.Reason != "closed" {
		t.Fatalf("close reason = %q, want closed", last.Reason)
	}

	if err := conn.SendMedia(context.Background(), media.Blob{MIMEType: "image/jpeg", Data: []byte{1}}); err != transport.ErrClosed {
		t.Fatalf("SendMedia() after Close error = %v, want ErrClosed", err)
	}
}

func TestConnector_DialRejected(t *testing.T) {
	r := &relay{gotAll: make(chan struct{})}
	srv := httptest.NewServer(r.handler(t))
	defer srv.Close()

	c, _ := NewConnector(Config{URL: wsURL(srv), APIKey: "wrong", Setup: transport.Setup{Model: "m"}})
	if _, err := c.Connect(context.Background(), func(transport.Event) {}); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Connect() error = %v, want status 401", err)
	}
}

func TestNewConnector_Validation(t *testing.T) {
	if _, err := NewConnector(Config{URL: "http://x", Setup: transport.Setup{Model: "m"}}); err == nil {
		t.Fatalf("NewConnector(http) error = nil")
	}
	if _, err := NewConnector(Config{URL: "ws://x"}); err == nil {
		t.Fatalf("NewConnector(no model) error = nil")
	}
}

func TestDecodeServerMessage(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"tool_cancel","ids":["a","b"]}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	ev := translate(msg).(transport.MessageEvent)
	if len(ev.ToolCancellations) != 2 {
		t.Fatalf("ToolCancellations = %v", ev.ToolCancellations)
	}

	msg, _ = DecodeServerMessage([]byte(`{"type":"interrupted"}`))
	if ev := translate(msg).(transport.MessageEvent); !ev.Interrupted {
		t.Fatalf("interrupted not set")
	}

	msg, _ = DecodeServerMessage([]byte(`{"type":"error","code":"quota","message":"exhausted"}`))
	if ev, ok := translate(msg).(transport.ErrorEvent); !ok || !strings.Contains(ev.Err.Error(), "exhausted") {
		t.Fatalf("error event = %+v", ev)
	}

	for _, bad := range []string{`nope`, `{}`, `{"type":"bogus"}`} {
		if _, err := DecodeServerMessage([]byte(bad)); err == nil {
			t.Fatalf("DecodeServerMessage(%s) error = nil", bad)
		}
	}
}

func TestDecodeClientMessage_Validation(t *testing.T) {
	tests := []struct {
		raw   string
		param string
	}{
		{`{"type":"hello","protocol_version":"1","audio_in":{"sample_rate_hz":16000,"channels":1},"audio_out":{"sample_rate_hz":24000,"channels":1}}`, "model"},
		{`{"type":"media","data_b64":"AA=="}`, "mime_type"},
		{`{"type":"tool_response","name":"x"}`, "id"},
		{`{"type":"hello","protocol_version":"1","model":"m","audio_in":{"sample_rate_hz":16000,"channels":1},"audio_out":{"sample_rate_hz":24000,"channels":1},"tools":[{"name":"a"},{"name":"a"}]}`, "tools[1]"},
	}
	for _, tt := range tests {
		_, err := DecodeClientMessage([]byte(tt.raw))
		de, ok := err.(*DecodeError)
		if !ok {
			t.Fatalf("DecodeClientMessage(%s) error = %v, want *DecodeError", tt.raw, err)
		}
		if de.Param != tt.param {
			t.Fatalf("Param = %q, want %q", de.Param, tt.param)
		}
	}
}
