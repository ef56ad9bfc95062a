// Package tools routes tool calls from the live model to local handlers and
// guarantees exactly one correlated response per call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// Request is one tool call from the model.
type Request struct {
	CallID string
	Name   string
	Args   map[string]any
}

// RequestFromCall converts a transport tool call.
func RequestFromCall(c transport.ToolCall) Request {
	return Request{CallID: c.ID, Name: c.Name, Args: c.Args}
}

// Response answers exactly one Request.
type Response struct {
	CallID string
	Name   string
	Result map[string]any
}

func (r Response) toTransport() transport.ToolResponse {
	return transport.ToolResponse{ID: r.CallID, Name: r.Name, Result: r.Result}
}

// OK is the result shape of a successful call.
func OK(msg string) map[string]any { return map[string]any{"result": msg} }

// Fail is the result shape of a structured failure. Handlers return it with
// a nil error when the failure is an expected outcome.
func Fail(msg string) map[string]any { return map[string]any{"error": msg} }

// IsFailure reports whether a result is failure-shaped.
func IsFailure(result map[string]any) bool {
	_, ok := result["error"]
	return ok
}

// Handler executes one tool.
type Handler interface {
	Declaration() transport.ToolDeclaration
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Validator is implemented by argument structs that check themselves after
// decoding.
type Validator interface {
	Validate() error
}

// Tool is a Handler with a typed argument struct. Arguments are decoded and
// validated before fn runs; invalid arguments become a failure result.
type Tool[T any] struct {
	name        string
	description string
	fn          func(ctx context.Context, args T) (map[string]any, error)
	schema      *transport.JSONSchema
}

// NewTool creates a typed tool whose parameter schema is derived from T.
func NewTool[T any](name, description string, fn func(ctx context.Context, args T) (map[string]any, error)) *Tool[T] {
	return &Tool[T]{
		name:        name,
		description: description,
		fn:          fn,
		schema:      SchemaFor[T](),
	}
}

func (t *Tool[T]) Declaration() transport.ToolDeclaration {
	return transport.ToolDeclaration{Name: t.name, Description: t.description, Parameters: t.schema}
}

func (t *Tool[T]) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	parsed, err := DecodeArgs[T](args)
	if err != nil {
		return Fail(err.Error()), nil
	}
	return t.fn(ctx, parsed)
}

// DecodeArgs converts loosely typed call arguments into T and validates it.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var parsed T
	raw, err := json.Marshal(args)
	if err != nil {
		return parsed, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsed, fmt.Errorf("invalid arguments: %w", err)
	}
	if v, ok := any(&parsed).(Validator); ok {
		if err := v.Validate(); err != nil {
			return parsed, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return parsed, nil
}

// Registry maps tool names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h under its declared name.
func (r *Registry) Register(h Handler) error {
	name := strings.TrimSpace(h.Declaration().Name)
	if name == "" {
		return core.NewToolError("", "tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[name]; dup {
		return core.NewToolError(name, "tool already registered")
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static setup.
func (r *Registry) MustRegister(hs ...Handler) {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.TrimSpace(name)]
	return h, ok
}

// Names returns the registered names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Declarations returns declarations in registration order.
func (r *Registry) Declarations() []transport.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name].Declaration())
	}
	return out
}
