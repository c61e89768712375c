package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

type fakeActivity struct {
	mu      sync.Mutex
	touches map[string]int
}

func (f *fakeActivity) Touch(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touches == nil {
		f.touches = make(map[string]int)
	}
	f.touches[sessionID]++
}

func (f *fakeActivity) count(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touches[sessionID]
}

func newTestExecutor(tools []toolkit.StaticTool, activity ActivityRecorder) *Executor {
	return NewExecutor(nil, NewDispatcher(toolkit.NewContainer(tools)), NewTracker(), activity)
}

func callReq(name string, args string) *mcp.CallToolRequestReceived {
	req := &mcp.CallToolRequestReceived{Name: name}
	if args != "" {
		req.Arguments = []byte(args)
	}
	return req
}

func TestExecutorSuccess(t *testing.T) {
	activity := &fakeActivity{}
	ex := newTestExecutor([]toolkit.StaticTool{
		toolkit.NewTool("greet", func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
			return toolkit.TextResult("hi"), nil
		}),
	}, activity)

	res, err := ex.Execute(context.Background(), "sess-1", "1", callReq("greet", ""))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := ex.Tracker().Len(); got != 0 {
		t.Fatalf("in-flight after completion = %d, want 0", got)
	}
	if activity.count("sess-1") == 0 {
		t.Fatalf("session activity not refreshed")
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	ex := newTestExecutor(nil, nil)

	_, err := ex.Execute(context.Background(), "sess-1", "1", callReq("nope", ""))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if got := ex.Tracker().Len(); got != 0 {
		t.Fatalf("in-flight after unknown tool = %d, want 0", got)
	}
}

func TestExecutorHandlerErrorBecomesToolError(t *testing.T) {
	ex := newTestExecutor([]toolkit.StaticTool{
		{
			Descriptor: mcp.Tool{Name: "explode", InputSchema: mcp.ToolInputSchema{Type: "object"}},
			Handler: func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
				return nil, errors.New("boom")
			},
		},
	}, nil)

	res, err := ex.Execute(context.Background(), "sess-1", "1", callReq("explode", ""))
	if err != nil {
		t.Fatalf("handler errors must not surface as execute errors: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result, got %+v", res)
	}
	if got := ex.Tracker().Len(); got != 0 {
		t.Fatalf("in-flight after failure = %d, want 0", got)
	}
}

func TestExecutorTracksDuringExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	ex := newTestExecutor([]toolkit.StaticTool{
		{
			Descriptor: mcp.Tool{Name: "slow", InputSchema: mcp.ToolInputSchema{Type: "object"}},
			Handler: func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
				close(started)
				select {
				case <-release:
					return toolkit.TextResult("done"), nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ex.Execute(context.Background(), "sess-1", "7", callReq("slow", ""))
	}()

	<-started
	reqs := ex.Tracker().ActiveForSession("sess-1")
	if len(reqs) != 1 || reqs[0].Tool != "slow" || reqs[0].WireID != "7" {
		t.Fatalf("unexpected in-flight view: %+v", reqs)
	}

	close(release)
	<-done
	if got := ex.Tracker().Len(); got != 0 {
		t.Fatalf("in-flight after completion = %d, want 0", got)
	}
}

func TestExecutorCancelSessionDuringCall(t *testing.T) {
	started := make(chan struct{})

	ex := newTestExecutor([]toolkit.StaticTool{
		{
			Descriptor: mcp.Tool{Name: "slow", InputSchema: mcp.ToolInputSchema{Type: "object"}},
			Handler: func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
				close(started)
				<-ctx.Done()
				return nil, context.Cause(ctx)
			},
		},
	}, nil)

	type outcome struct {
		res *mcp.CallToolResult
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := ex.Execute(context.Background(), "sess-1", "1", callReq("slow", ""))
		out <- outcome{res, err}
	}()

	<-started
	if n := ex.Tracker().CancelSession("sess-1"); n != 1 {
		t.Fatalf("cancelled = %d, want 1", n)
	}

	select {
	case o := <-out:
		// The handler observed cancellation; its failure is reported as a
		// tool-level error result, not an executor error.
		if o.err != nil {
			t.Fatalf("unexpected execute error: %v", o.err)
		}
		if !o.res.IsError {
			t.Fatalf("expected error result after cancellation: %+v", o.res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("handler did not observe cancellation")
	}

	if got := ex.Tracker().Len(); got != 0 {
		t.Fatalf("in-flight after cancel = %d, want 0", got)
	}
}

func TestExecutorTwoSessionsIsolated(t *testing.T) {
	ex := newTestExecutor([]toolkit.StaticTool{
		toolkit.NewTool("echo", func(ctx context.Context, args struct {
			Value string `json:"value"`
		}) (*mcp.CallToolResult, error) {
			return toolkit.TextResult(args.Value), nil
		}),
	}, nil)

	var wg sync.WaitGroup
	results := make([]*mcp.CallToolResult, 2)
	for i, tc := range []struct{ sess, val string }{
		{"sess-1", "alpha"},
		{"sess-2", "beta"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ex.Execute(context.Background(), tc.sess, "1", callReq("echo", `{"value":"`+tc.val+`"}`))
			if err != nil {
				t.Errorf("execute %s: %v", tc.sess, err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if results[0] == nil || results[1] == nil {
		t.Fatalf("missing results: %+v", results)
	}
	if results[0].Content[0].Text != "alpha" || results[1].Content[0].Text != "beta" {
		t.Fatalf("results crossed sessions: %q / %q", results[0].Content[0].Text, results[1].Content[0].Text)
	}
}
