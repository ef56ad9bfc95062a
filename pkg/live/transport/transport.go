// Package transport defines the bidirectional link to the remote live model.
//
// A Connector opens a Conn and pushes inbound Events to a Handler from a
// single goroutine, in arrival order. Producers never hold a Conn directly:
// they go through a Pending handle, which may still be resolving.
package transport

import (
	"context"

	"github.com/vango-go/vai-canvas/pkg/core/media"
)

// Event is one inbound notification from the transport.
type Event interface {
	eventType() string
}

// OpenEvent reports that the remote peer accepted the session setup.
type OpenEvent struct{}

// MessageEvent carries one server message. Any subset of fields may be set.
type MessageEvent struct {
	// Audio holds raw PCM16 24 kHz mono chunks in arrival order.
	Audio             [][]byte
	ToolCalls         []ToolCall
	ToolCancellations []string
	// Interrupted is set when the user barged in and queued audio is stale.
	Interrupted  bool
	TurnComplete bool
	InputText    string
	OutputText   string
}

// ErrorEvent reports a transport error. It does not end the session by itself.
type ErrorEvent struct {
	Err error
}

// CloseEvent is the final event of a connection.
type CloseEvent struct {
	Reason string
}

func (OpenEvent) eventType() string    { return "open" }
func (MessageEvent) eventType() string { return "message" }
func (ErrorEvent) eventType() string   { return "error" }
func (CloseEvent) eventType() string   { return "close" }

// Handler receives inbound events sequentially.
type Handler func(Event)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse answers one ToolCall.
type ToolResponse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

// JSONSchema is the parameter schema of a tool declaration.
type JSONSchema struct {
	Type        string                `json:"type,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Description string                `json:"description,omitempty"`
	Enum        []string              `json:"enum,omitempty"`
	Items       *JSONSchema           `json:"items,omitempty"`
}

// ToolDeclaration advertises a callable tool to the model at setup.
type ToolDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters,omitempty"`
}

// Setup is the session configuration sent when a connection opens.
type Setup struct {
	Model        string
	Voice        string
	SystemPrompt string
	Tools        []ToolDeclaration
}

// Conn is an open connection. Implementations must be safe for concurrent
// sends and must return an error, not panic, when used after Close.
type Conn interface {
	SendMedia(ctx context.Context, blob media.Blob) error
	SendToolResponse(ctx context.Context, resp ToolResponse) error
	Close() error
}

// Connector opens connections. Connect returns once the underlying link is
// dialed; OpenEvent follows when the peer confirms setup.
type Connector interface {
	Connect(ctx context.Context, h Handler) (Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, h Handler) (Conn, error)

func (f ConnectorFunc) Connect(ctx context.Context, h Handler) (Conn, error) {
	return f(ctx, h)
}
