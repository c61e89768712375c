// Package memoryhost provides an in-memory sessions.MessageHost for tests and
// single-process gateway deployments.
package memoryhost

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/LucidWonk/environment-mcp-gateway/sessions"
)

// Host is an in-memory implementation of sessions.MessageHost.
type Host struct {
	mu       sync.Mutex
	sessions map[string]*sessionLog
	counter  atomic.Int64
}

type sessionLog struct {
	mu          sync.Mutex
	messages    []message
	subscribers map[*subscription]struct{}
}

type message struct {
	id   string
	data []byte
}

type subscription struct {
	wake chan struct{}
	stop chan struct{}
}

func New() *Host {
	return &Host{sessions: make(map[string]*sessionLog)}
}

var _ sessions.MessageHost = (*Host)(nil)

func (h *Host) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	evID := strconv.FormatInt(h.counter.Add(1), 10)
	sl := h.ensure(sessionID)

	sl.mu.Lock()
	sl.messages = append(sl.messages, message{id: evID, data: append([]byte(nil), data...)})
	subs := make([]*subscription, 0, len(sl.subscribers))
	for sub := range sl.subscribers {
		subs = append(subs, sub)
	}
	sl.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return evID, nil
}

func (h *Host) Subscribe(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunction) error {
	sl := h.ensure(sessionID)

	sub := &subscription{wake: make(chan struct{}, 1), stop: make(chan struct{})}

	sl.mu.Lock()
	cursor := len(sl.messages)
	if lastEventID != "" {
		found := false
		for i := range sl.messages {
			if sl.messages[i].id == lastEventID {
				cursor = i + 1
				found = true
				break
			}
		}
		if !found {
			sl.mu.Unlock()
			return fmt.Errorf("last event id %s not found", lastEventID)
		}
	}
	sl.subscribers[sub] = struct{}{}
	sl.mu.Unlock()

	defer func() {
		sl.mu.Lock()
		delete(sl.subscribers, sub)
		sl.mu.Unlock()
	}()

	for {
		// Drain everything past the cursor before blocking.
		sl.mu.Lock()
		pending := make([]message, len(sl.messages)-cursor)
		copy(pending, sl.messages[cursor:])
		cursor = len(sl.messages)
		sl.mu.Unlock()

		for _, m := range pending {
			if err := handler(ctx, m.id, m.data); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.stop:
			return nil
		case <-sub.wake:
		}
	}
}

func (h *Host) Cleanup(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	sl, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	sl.mu.Lock()
	subs := make([]*subscription, 0, len(sl.subscribers))
	for sub := range sl.subscribers {
		subs = append(subs, sub)
	}
	sl.subscribers = make(map[*subscription]struct{})
	sl.mu.Unlock()

	for _, sub := range subs {
		close(sub.stop)
	}
	return nil
}

func (h *Host) ensure(sessionID string) *sessionLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	sl, ok := h.sessions[sessionID]
	if !ok {
		sl = &sessionLog{subscribers: make(map[*subscription]struct{})}
		h.sessions[sessionID] = sl
	}
	return sl
}
