package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

// DefaultTimeout bounds a single handler run.
const DefaultTimeout = 60 * time.Second

// ResponseSender is the transport side the dispatcher answers on.
type ResponseSender interface {
	SendToolResponse(ctx context.Context, resp transport.ToolResponse) error
}

// Reporter receives handler errors and panics for the transcript and the
// notification queue.
type Reporter interface {
	ReportToolError(name string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(name string, err error)

func (f ReporterFunc) ReportToolError(name string, err error) { f(name, err) }

type DispatcherOption func(*Dispatcher)

func WithTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

func WithReporter(r Reporter) DispatcherOption {
	return func(dp *Dispatcher) { dp.reporter = r }
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// WithTracer traces each call as a span.
func WithTracer(t trace.Tracer) DispatcherOption {
	return func(dp *Dispatcher) {
		if t != nil {
			dp.tracer = t
		}
	}
}

// WithOnResponse observes every response after it was sent or swallowed.
func WithOnResponse(fn func(Response)) DispatcherOption {
	return func(dp *Dispatcher) { dp.onResponse = fn }
}

// Dispatcher runs each request in its own goroutine and answers it once.
type Dispatcher struct {
	registry   *Registry
	out        ResponseSender
	reporter   Reporter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	timeout    time.Duration
	onResponse func(Response)

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

func NewDispatcher(registry *Registry, out ResponseSender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		out:      out,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("vai-canvas/tools"),
		timeout:  DefaultTimeout,
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts handling req and returns immediately. It returns false
// when the call id is already in flight or the dispatcher is closed.
func (d *Dispatcher) Dispatch(req Request) bool {
	id := strings.TrimSpace(req.CallID)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		return false
	}
	if _, dup := d.inflight[id]; dup {
		d.mu.Unlock()
		cancel()
		d.logger.Debug("tools: ignoring duplicate call", "call_id", id, "tool", req.Name)
		return false
	}
	d.inflight[id] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			cancel()
			d.mu.Lock()
			delete(d.inflight, id)
			d.mu.Unlock()
		}()
		d.handle(ctx, req)
	}()
	return true
}

// Cancel aborts in-flight calls. Each still gets a cancellation response.
func (d *Dispatcher) Cancel(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if cancel := d.inflight[strings.TrimSpace(id)]; cancel != nil {
			cancel()
		}
	}
}

// InFlight returns the number of calls not yet answered.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Close stops accepting requests. Calls already running finish on their own.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until every dispatched call has been answered.
func (d *Dispatcher) Wait() { d.wg.Wait() }

type outcome struct {
	result map[string]any
	err    error
	label  string
}

func (d *Dispatcher) handle(ctx context.Context, req Request) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "tool."+req.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", req.Name),
			attribute.String("tool.call_id", req.CallID),
		),
	)
	defer span.End()

	res := d.run(ctx, req)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		if d.reporter != nil && res.label != "timeout" && res.label != "cancelled" {
			d.reporter.ReportToolError(req.Name, res.err)
		}
		d.logger.Warn("tools: call failed", "tool", req.Name, "call_id", req.CallID, "outcome", res.label, "error", res.err)
	}
	span.SetAttributes(attribute.String("tool.outcome", res.label))
	d.metrics.RecordToolCall(req.Name, res.label, time.Since(start))

	resp := Response{CallID: req.CallID, Name: req.Name, Result: res.result}
	sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	transport.BestEffort(d.logger, "tool response", func() error {
		return d.out.SendToolResponse(sendCtx, resp.toTransport())
	})
	if d.onResponse != nil {
		d.onResponse(resp)
	}
}

// run executes the handler and converts every ending into a result. A
// handler that outlives ctx keeps running but its result is discarded.
func (d *Dispatcher) run(ctx context.Context, req Request) outcome {
	h, ok := d.registry.Lookup(req.Name)
	if !ok {
		err := core.NewToolError(req.Name, "unknown tool")
		return outcome{result: Fail(fmt.Sprintf("unknown tool %q", req.Name)), err: err, label: "unknown"}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tools: handler panicked", "tool", req.Name, "panic", r, "stack", string(debug.Stack()))
				err := core.NewToolError(req.Name, fmt.Sprintf("handler panicked: %v", r))
				done <- outcome{result: Fail(err.Message), err: err, label: "panic"}
			}
		}()
		result, err := h.Call(ctx, req.Args)
		switch {
		case err != nil:
			done <- outcome{result: Fail(errorMessage(err)), err: err, label: "error"}
		case result == nil:
			done <- outcome{result: OK("done"), label: "ok"}
		case IsFailure(result):
			done <- outcome{result: result, label: "failed"}
		default:
			done <- outcome{result: result, label: "ok"}
		}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return outcome{result: Fail("tool timed out"), err: ctx.Err(), label: "timeout"}
		}
		return outcome{result: Fail("tool call cancelled"), err: ctx.Err(), label: "cancelled"}
	}
}

func errorMessage(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		if ce.Err != nil {
			return ce.Message + ": " + ce.Err.Error()
		}
		return ce.Message
	}
	return err.Error()
}
