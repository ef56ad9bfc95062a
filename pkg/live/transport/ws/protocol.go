package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

const (
	ProtocolVersion1 = "1"

	EncodingPCMS16LE = "pcm_s16le"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// AudioFormat describes negotiated live audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloClient struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type HelloAuth struct {
	APIKey string `json:"api_key,omitempty"`
}

// ClientHello is the first frame on a relay connection.
type ClientHello struct {
	Type            string                      `json:"type"`
	ProtocolVersion string                      `json:"protocol_version"`
	Client          HelloClient                 `json:"client,omitempty"`
	Auth            *HelloAuth                  `json:"auth,omitempty"`
	Model           string                      `json:"model"`
	Voice           string                      `json:"voice,omitempty"`
	SystemPrompt    string                      `json:"system_prompt,omitempty"`
	AudioIn         AudioFormat                 `json:"audio_in"`
	AudioOut        AudioFormat                 `json:"audio_out"`
	Tools           []transport.ToolDeclaration `json:"tools,omitempty"`
}

// ClientMedia carries one audio frame or still image.
type ClientMedia struct {
	Type     string `json:"type"`
	MIMEType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

type ClientToolResponse struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "media":
		var msg ClientMedia
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if strings.TrimSpace(msg.MIMEType) == "" {
			return nil, badRequest("media.mime_type is required", "mime_type")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("media.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "tool_response":
		var msg ClientToolResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid tool_response", "")
		}
		if strings.TrimSpace(msg.ID) == "" {
			return nil, badRequest("tool_response.id is required", "id")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.Model) == "" {
		return badRequest("hello.model is required", "model")
	}
	if msg.AudioIn.SampleRateHz <= 0 || msg.AudioIn.Channels <= 0 {
		return badRequest("hello.audio_in must have a positive rate and channel count", "audio_in")
	}
	if msg.AudioOut.SampleRateHz <= 0 || msg.AudioOut.Channels <= 0 {
		return badRequest("hello.audio_out must have a positive rate and channel count", "audio_out")
	}
	seen := make(map[string]struct{}, len(msg.Tools))
	for i, tool := range msg.Tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return badRequest("hello.tools entries must have a name", fmt.Sprintf("tools[%d]", i))
		}
		if _, dup := seen[name]; dup {
			return badRequest("hello.tools names must be unique", fmt.Sprintf("tools[%d]", i))
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ServerSetupComplete acknowledges the hello.
type ServerSetupComplete struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type ServerAudio struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
}

type ServerToolCall struct {
	Type  string               `json:"type"`
	Calls []transport.ToolCall `json:"calls"`
}

type ServerToolCancel struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// ServerTurnEvent is "interrupted" or "turn_complete".
type ServerTurnEvent struct {
	Type string `json:"type"`
}

type ServerTranscript struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	var target any
	switch strings.TrimSpace(envelope.Type) {
	case "setup_complete":
		target = &ServerSetupComplete{}
	case "audio":
		target = &ServerAudio{}
	case "tool_call":
		target = &ServerToolCall{}
	case "tool_cancel":
		target = &ServerToolCancel{}
	case "interrupted", "turn_complete":
		target = &ServerTurnEvent{}
	case "transcript":
		target = &ServerTranscript{}
	case "error":
		target = &ServerError{}
	case "":
		return nil, badRequest("missing type", "type")
	default:
		return nil, badRequest("unsupported message type", "type")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, badRequest("invalid "+envelope.Type+" frame", "")
	}
	switch v := target.(type) {
	case *ServerSetupComplete:
		return *v, nil
	case *ServerAudio:
		return *v, nil
	case *ServerToolCall:
		return *v, nil
	case *ServerToolCancel:
		return *v, nil
	case *ServerTurnEvent:
		return *v, nil
	case *ServerTranscript:
		return *v, nil
	case *ServerError:
		return *v, nil
	}
	return nil, badRequest("unsupported message type", "type")
}
