package streaminghttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/LucidWonk/environment-mcp-gateway/dispatch"
	"github.com/LucidWonk/environment-mcp-gateway/internal/bearerauth"
	"github.com/LucidWonk/environment-mcp-gateway/internal/engine"
	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/sessions"
	"github.com/LucidWonk/environment-mcp-gateway/sessions/memoryhost"
	"github.com/LucidWonk/environment-mcp-gateway/streaminghttp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"probe","version":"0.0.1"}}}`

type echoArgs struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T, maxSessions int) (*httptest.Server, *engine.Engine) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tools := []toolkit.StaticTool{
		toolkit.NewTool("echo", func(ctx context.Context, args echoArgs) (*mcp.CallToolResult, error) {
			return toolkit.TextResult(args.Text), nil
		}),
	}

	registry := sessions.NewRegistry(sessions.WithMaxSessions(maxSessions), sessions.WithLogger(log))
	dispatcher := dispatch.NewDispatcher(toolkit.NewContainer(tools))
	executor := dispatch.NewExecutor(log, dispatcher, dispatch.NewTracker(), registry)
	eng := engine.New(log, registry, executor, memoryhost.New())

	h, err := streaminghttp.New("http://localhost/mcp", eng, bearerauth.New(bearerauth.Config{}), streaminghttp.WithLogger(log))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, eng
}

func doPostMCP(t *testing.T, srv *httptest.Server, sessID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessID != "" {
		req.Header.Set("Mcp-Session-Id", sessID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func mustInitialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doPostMCP(t, srv, "", initializeBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatalf("initialize response missing session header")
	}
	return sessID
}

// readOneSSE reads a single SSE frame, returning its event ID (may be empty)
// and data payload.
func readOneSSE(t *testing.T, r io.Reader) (string, string) {
	t.Helper()
	var id, data string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data != "" {
				return id, data
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "id: "); ok {
			id = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
	t.Fatalf("stream ended before a complete SSE frame: %v", sc.Err())
	return "", ""
}

func TestInitializeMintsSession(t *testing.T) {
	srv, _ := newTestServer(t, 4)

	resp := doPostMCP(t, srv, "", initializeBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got == "" {
		t.Fatalf("missing Mcp-Session-Id header")
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}

	var decoded struct {
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
			Capabilities    struct {
				Tools *struct{} `json:"tools"`
			} `json:"capabilities"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Result.ProtocolVersion != "2025-06-18" {
		t.Fatalf("protocol version = %q", decoded.Result.ProtocolVersion)
	}
	if decoded.Result.Capabilities.Tools == nil {
		t.Fatalf("tools capability not advertised")
	}
}

func TestInitializeCapacity(t *testing.T) {
	srv, _ := newTestServer(t, 2)

	mustInitialize(t, srv)
	mustInitialize(t, srv)

	resp := doPostMCP(t, srv, "", initializeBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestCapacityFreedByDelete(t *testing.T) {
	srv, _ := newTestServer(t, 1)

	sessID := mustInitialize(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	mustInitialize(t, srv)
}

func TestRedundantInitialize(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	sessID := mustInitialize(t, srv)

	resp := doPostMCP(t, srv, sessID, initializeBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, 4)

	resp := doPostMCP(t, srv, "not-a-session", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNotificationAccepted(t *testing.T) {
	srv, eng := newTestServer(t, 4)
	sessID := mustInitialize(t, srv)

	resp := doPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	sess, err := eng.Registry().Get(sessID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != sessions.StateConnected {
		t.Fatalf("state = %q, want connected", sess.State)
	}
}

func TestRequestAnsweredOverSSE(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	sessID := mustInitialize(t, srv)

	resp := doPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	_, data := readOneSSE(t, resp.Body)
	var decoded struct {
		ID     int `json:"id"`
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		t.Fatalf("decode SSE payload: %v", err)
	}
	if decoded.ID != 7 {
		t.Fatalf("response id = %d", decoded.ID)
	}
	if len(decoded.Result.Content) != 1 || decoded.Result.Content[0].Text != "hi" {
		t.Fatalf("unexpected result: %+v", decoded.Result)
	}
}

func TestUnknownToolOverSSE(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	sessID := mustInitialize(t, srv)

	resp := doPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"bogus"}}`)
	defer resp.Body.Close()

	_, data := readOneSSE(t, resp.Body)
	var decoded struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		t.Fatalf("decode SSE payload: %v", err)
	}
	if decoded.Error.Code != -32602 || decoded.Error.Message != "unknown tool" {
		t.Fatalf("unexpected error: %+v", decoded.Error)
	}
}

func TestDeleteIsIdempotentFromClientView(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	sessID := mustInitialize(t, srv)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Mcp-Session-Id", sessID)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del(); got != http.StatusNoContent {
		t.Fatalf("first delete = %d, want 204", got)
	}
	if got := del(); got != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", got)
	}

	resp := doPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":9,"method":"tools/list"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("post after delete = %d, want 404", resp.StatusCode)
	}
}

func TestRejectsWrongContentType(t *testing.T) {
	srv, _ := newTestServer(t, 4)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(initializeBody))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}

func TestRejectsBatchArrays(t *testing.T) {
	srv, _ := newTestServer(t, 4)

	resp := doPostMCP(t, srv, "", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRejectsUnauthenticated(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := sessions.NewRegistry(sessions.WithLogger(log))
	dispatcher := dispatch.NewDispatcher(toolkit.NewContainer([]toolkit.StaticTool{
		toolkit.NewTool("echo", func(ctx context.Context, args echoArgs) (*mcp.CallToolResult, error) {
			return toolkit.TextResult(args.Text), nil
		}),
	}))
	executor := dispatch.NewExecutor(log, dispatcher, dispatch.NewTracker(), registry)
	eng := engine.New(log, registry, executor, memoryhost.New())

	h, err := streaminghttp.New("http://localhost/mcp", eng, bearerauth.New(bearerauth.Config{Secret: "s3cret"}), streaminghttp.WithLogger(log))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := doPostMCP(t, srv, "", initializeBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Bearer") {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

// TestSDKClientEndToEnd drives the transport with the official client the way
// a real caller would: initialize handshake, tools/list, tools/call.
func TestSDKClientEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	ctx := context.Background()

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e-probe", Version: "0.0.1"}, &sdk.ClientOptions{})
	cs, err := client.Connect(ctx, &sdk.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	tl, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tl.Tools) != 1 || tl.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", tl.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "round trip"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool call errored: %+v", res.Content)
	}
	tc, ok := res.Content[0].(*sdk.TextContent)
	if !ok || tc.Text != "round trip" {
		t.Fatalf("unexpected content: %+v", res.Content[0])
	}
}
