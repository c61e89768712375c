package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LucidWonk/environment-mcp-gateway/dispatch"
	"github.com/LucidWonk/environment-mcp-gateway/sessions"
)

func TestHealthz(t *testing.T) {
	h := New("1.2.3", sessions.NewRegistry(), dispatch.NewTracker())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body healthzBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Version != "1.2.3" || body.PID == 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStatusSnapshot(t *testing.T) {
	registry := sessions.NewRegistry()
	tracker := dispatch.NewTracker()
	h := New("dev", registry, tracker)
	srv := httptest.NewServer(h)
	defer srv.Close()

	if err := registry.Add("sess-1", sessions.ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	registry.UpdateState("sess-1", sessions.StateConnected)
	handle := tracker.Start(context.Background(), "sess-1", "git_status", "42")
	defer handle.Complete()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body statusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Sessions.Active != 1 || body.Sessions.Connected != 1 {
		t.Fatalf("unexpected session metrics: %+v", body.Sessions)
	}
	if len(body.InFlight) != 1 {
		t.Fatalf("in-flight = %+v", body.InFlight)
	}
	rv := body.InFlight[0]
	if rv.SessionID != "sess-1" || rv.Tool != "git_status" || rv.RequestID != "42" {
		t.Fatalf("unexpected request view: %+v", rv)
	}
	if body.BySession["sess-1"] != 1 {
		t.Fatalf("by-session counts = %v", body.BySession)
	}
}

func TestStatusRejectsNonGet(t *testing.T) {
	h := New("dev", sessions.NewRegistry(), dispatch.NewTracker())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
