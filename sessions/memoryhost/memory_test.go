package memoryhost

import (
	"context"
	"testing"
	"time"
)

type received struct {
	id   string
	data string
}

func collect(t *testing.T, h *Host, sessionID, lastEventID string, want int) []received {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make([]received, 0, want)
	err := h.Subscribe(ctx, sessionID, lastEventID, func(ctx context.Context, msgID string, msg []byte) error {
		out = append(out, received{id: msgID, data: string(msg)})
		if len(out) == want {
			cancel()
		}
		return nil
	})
	if err != nil && err != context.Canceled {
		t.Fatalf("subscribe: %v", err)
	}
	return out
}

func TestPublishThenSubscribeReplays(t *testing.T) {
	h := New()
	ctx := context.Background()

	id1, err := h.Publish(ctx, "sess-1", []byte("one"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := h.Publish(ctx, "sess-1", []byte("two")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Resuming after id1 delivers only the second message.
	got := collect(t, h, "sess-1", id1, 1)
	if len(got) != 1 || got[0].data != "two" {
		t.Fatalf("unexpected replay: %+v", got)
	}
}

func TestSubscribeDeliversLiveMessages(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delivered := make(chan string, 1)
	go func() {
		_ = h.Subscribe(ctx, "sess-1", "", func(ctx context.Context, msgID string, msg []byte) error {
			delivered <- string(msg)
			return nil
		})
	}()

	// Give the subscriber a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)
	if _, err := h.Publish(ctx, "sess-1", []byte("live")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-delivered:
		if msg != "live" {
			t.Fatalf("message = %q, want live", msg)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("live message not delivered")
	}
}

func TestSubscribeUnknownLastEventID(t *testing.T) {
	h := New()
	ctx := context.Background()

	if _, err := h.Publish(ctx, "sess-1", []byte("one")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Subscribe(ctx, "sess-1", "does-not-exist", func(context.Context, string, []byte) error {
		return nil
	}); err == nil {
		t.Fatalf("expected error for unknown last event id")
	}
}

func TestCleanupStopsSubscribers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, "sess-1", "", func(context.Context, string, []byte) error {
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := h.Cleanup(ctx, "sess-1"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscribe returned error after cleanup: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("subscriber did not stop after cleanup")
	}

	// Cleanup is idempotent.
	if err := h.Cleanup(ctx, "sess-1"); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestSessionsIsolated(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delivered := make(chan string, 2)
	go func() {
		_ = h.Subscribe(ctx, "sess-2", "", func(ctx context.Context, msgID string, msg []byte) error {
			delivered <- string(msg)
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := h.Publish(ctx, "sess-1", []byte("for-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := h.Publish(ctx, "sess-2", []byte("for-2")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-delivered:
		if msg != "for-2" {
			t.Fatalf("subscriber saw another session's message: %q", msg)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("message not delivered")
	}
}
