package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/vango-go/vai-canvas/pkg/live/transport"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

type responseLog struct {
	mu    sync.Mutex
	resps []transport.ToolResponse
	err   error
}

func (l *responseLog) SendToolResponse(ctx context.Context, resp transport.ToolResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.resps = append(l.resps, resp)
	return nil
}

func (l *responseLog) byID() map[string][]transport.ToolResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]transport.ToolResponse)
	for _, r := range l.resps {
		out[r.ID] = append(out[r.ID], r)
	}
	return out
}

type reports struct {
	mu   sync.Mutex
	errs map[string]error
}

func (r *reports) ReportToolError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errs == nil {
		r.errs = make(map[string]error)
	}
	r.errs[name] = err
}

type echoArgs struct {
	Text string `json:"text"`
}

func testRegistry(block chan struct{}) *Registry {
	r := NewRegistry()
	r.MustRegister(
		NewTool("echo", "echo text", func(ctx context.Context, a echoArgs) (map[string]any, error) {
			return OK(a.Text), nil
		}),
		NewTool("fail", "structured failure", func(ctx context.Context, a echoArgs) (map[string]any, error) {
			return Fail("nope"), nil
		}),
		NewTool("boom", "returns an error", func(ctx context.Context, a echoArgs) (map[string]any, error) {
			return nil, errors.New("backend down")
		}),
		NewTool("panic", "panics", func(ctx context.Context, a echoArgs) (map[string]any, error) {
			panic("kaboom")
		}),
		NewTool("block", "waits for release or ctx", func(ctx context.Context, a echoArgs) (map[string]any, error) {
			select {
			case <-block:
				return OK("released"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	)
	return r
}

func TestDispatcher_ExactlyOneResponsePerCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := &responseLog{}
	rep := &reports{}
	m := metrics.New("test")
	d := NewDispatcher(testRegistry(nil), out, WithReporter(rep), WithMetrics(m))

	reqs := []Request{
		{CallID: "1", Name: "echo", Args: map[string]any{"text": "hi"}},
		{CallID: "2", Name: "fail"},
		{CallID: "3", Name: "boom"},
		{CallID: "4", Name: "panic"},
		{CallID: "5", Name: "missing"},
		{CallID: "6", Name: "echo", Args: map[string]any{"text": 42}},
	}
	for _, req := range reqs {
		if !d.Dispatch(req) {
			t.Fatalf("Dispatch(%s) = false", req.CallID)
		}
	}
	d.Wait()

	got := out.byID()
	for _, req := range reqs {
		if n := len(got[req.CallID]); n != 1 {
			t.Fatalf("responses for %s = %d, want 1", req.CallID, n)
		}
		if got[req.CallID][0].Name != req.Name {
			t.Fatalf("response name = %q, want %q", got[req.CallID][0].Name, req.Name)
		}
	}

	if got["1"][0].Result["result"] != "hi" {
		t.Fatalf("echo result = %v", got["1"][0].Result)
	}
	for _, id := range []string{"2", "3", "4", "5", "6"} {
		if !IsFailure(got[id][0].Result) {
			t.Fatalf("result %s = %v, want failure shape", id, got[id][0].Result)
		}
	}
	if got["3"][0].Result["error"] != "backend down" {
		t.Fatalf("boom result = %v", got["3"][0].Result)
	}

	rep.mu.Lock()
	if rep.errs["boom"] == nil || rep.errs["panic"] == nil || rep.errs["missing"] == nil {
		t.Fatalf("reported errors = %v, want boom, panic and missing", rep.errs)
	}
	if rep.errs["fail"] != nil {
		t.Fatalf("structured failure was reported as an error")
	}
	rep.mu.Unlock()

	if v := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("panic", "panic")); v != 1 {
		t.Fatalf("tool_calls_total{panic} = %v, want 1", v)
	}
}

func TestDispatcher_IgnoresDuplicateInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	out := &responseLog{}
	d := NewDispatcher(testRegistry(block), out)

	if !d.Dispatch(Request{CallID: "x", Name: "block"}) {
		t.Fatalf("first Dispatch() = false")
	}
	if d.Dispatch(Request{CallID: "x", Name: "block"}) {
		t.Fatalf("duplicate Dispatch() = true")
	}
	if d.InFlight() != 1 {
		t.Fatalf("InFlight() = %d, want 1", d.InFlight())
	}
	close(block)
	d.Wait()

	if n := len(out.byID()["x"]); n != 1 {
		t.Fatalf("responses = %d, want 1", n)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := &responseLog{}
	rep := &reports{}
	d := NewDispatcher(testRegistry(make(chan struct{})), out, WithTimeout(20*time.Millisecond), WithReporter(rep))
	d.Dispatch(Request{CallID: "slow", Name: "block"})
	d.Wait()

	resp := out.byID()["slow"]
	if len(resp) != 1 || resp[0].Result["error"] != "tool timed out" {
		t.Fatalf("timeout response = %v", resp)
	}
	if len(rep.errs) != 0 {
		t.Fatalf("timeout was reported: %v", rep.errs)
	}
}

func TestDispatcher_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := &responseLog{}
	d := NewDispatcher(testRegistry(make(chan struct{})), out)
	d.Dispatch(Request{CallID: "c1", Name: "block"})
	d.Cancel("c1", "unknown")
	d.Wait()

	resp := out.byID()["c1"]
	if len(resp) != 1 || resp[0].Result["error"] != "tool call cancelled" {
		t.Fatalf("cancel response = %v", resp)
	}
}

func TestDispatcher_SwallowsClosedTransport(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := &responseLog{err: transport.ErrClosed}
	var observed []Response
	var mu sync.Mutex
	d := NewDispatcher(testRegistry(nil), out, WithOnResponse(func(r Response) {
		mu.Lock()
		observed = append(observed, r)
		mu.Unlock()
	}))
	d.Dispatch(Request{CallID: "1", Name: "echo", Args: map[string]any{"text": "late"}})
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 {
		t.Fatalf("observed responses = %d, want 1", len(observed))
	}
}

func TestDispatcher_ClosedRejectsNewCalls(t *testing.T) {
	out := &responseLog{}
	d := NewDispatcher(testRegistry(nil), out)
	d.Close()
	if d.Dispatch(Request{CallID: "1", Name: "echo"}) {
		t.Fatalf("Dispatch() after Close = true")
	}
	d.Wait()
	if len(out.byID()) != 0 {
		t.Fatalf("responses after Close = %v", out.byID())
	}
}

func TestRegistry_Declarations(t *testing.T) {
	r := Builtin(Env{})
	decls := r.Declarations()
	want := []string{NameControlBrowser, NameGenerateImage, NamePlayVideo, NameManageWorkspace, NameDownloadItem}
	if len(decls) != len(want) {
		t.Fatalf("len(Declarations()) = %d, want %d", len(decls), len(want))
	}
	for i, name := range want {
		if decls[i].Name != name {
			t.Fatalf("Declarations()[%d].Name = %q, want %q", i, decls[i].Name, name)
		}
	}

	mw := decls[3].Parameters
	if mw.Type != "object" || len(mw.Required) != 1 || mw.Required[0] != "action" {
		t.Fatalf("manageWorkspace schema = %+v", mw)
	}
	if got := mw.Properties["itemType"].Enum; len(got) != 5 {
		t.Fatalf("itemType enum = %v", got)
	}

	if err := r.Register(NewTool(NameControlBrowser, "dup", func(context.Context, echoArgs) (map[string]any, error) { return nil, nil })); err == nil {
		t.Fatalf("Register(duplicate) error = nil")
	}
}
