// Package dispatch owns per-session request coordination: the Tracker records
// every in-flight tool call and can cancel them by session or by wire request
// ID, the Executor wraps handler execution with tracking and activity
// refresh, and the Dispatcher resolves tool names against the shared table.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionClosed is the cancellation cause attached to request contexts when
// their owning session is torn down.
var ErrSessionClosed = errors.New("session closed")

// ErrClientCancelled is the cancellation cause attached when the client sent a
// notifications/cancelled for the request.
var ErrClientCancelled = errors.New("cancelled by client")

// Request is a snapshot of one tracked in-flight tool call.
type Request struct {
	// ID is the tracker-internal handle, unique across the process lifetime.
	ID uint64
	// WireID is the JSON-RPC request ID as sent by the client, scoped to the
	// session. Empty for calls that arrive without a usable ID.
	WireID string
	// SessionID owns this request.
	SessionID string
	// Tool is the tool name being executed.
	Tool string
	// StartedAt is when tracking began.
	StartedAt time.Time
}

// Handle represents one tracked request. The context it carries is cancelled
// with a cause when the session closes or the client cancels; Complete removes
// the entry and is safe to call any number of times from any path.
type Handle struct {
	req      Request
	ctx      context.Context
	cancel   context.CancelCauseFunc
	once     sync.Once
	complete func()
}

// Context returns the request-scoped context. Handlers should derive all work
// from it so cancellation is observed.
func (h *Handle) Context() context.Context { return h.ctx }

// Request returns the tracked request snapshot.
func (h *Handle) Request() Request { return h.req }

// Complete removes the request from the tracker and releases its context.
// Idempotent: the deferred completion in the executor and an explicit call
// from a teardown path may both run.
func (h *Handle) Complete() {
	h.once.Do(func() {
		h.cancel(nil)
		h.complete()
	})
}

// Tracker is the process-wide table of in-flight tool calls, indexed by
// tracker ID with a per-session secondary index. All methods are safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	nextID    uint64
	entries   map[uint64]*Handle
	bySession map[string]map[uint64]*Handle
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries:   make(map[uint64]*Handle),
		bySession: make(map[string]map[uint64]*Handle),
	}
}

// Start registers a new in-flight request owned by sessionID and returns its
// Handle. The returned context derives from ctx and is additionally cancelled
// when the session closes or the client cancels the wire ID.
func (t *Tracker) Start(ctx context.Context, sessionID, toolName, wireID string) *Handle {
	cctx, cancel := context.WithCancelCause(ctx)

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	h := &Handle{
		req: Request{
			ID:        id,
			WireID:    wireID,
			SessionID: sessionID,
			Tool:      toolName,
			StartedAt: time.Now(),
		},
		ctx:    cctx,
		cancel: cancel,
	}
	h.complete = func() { t.remove(id, sessionID) }
	t.entries[id] = h
	sess, ok := t.bySession[sessionID]
	if !ok {
		sess = make(map[uint64]*Handle)
		t.bySession[sessionID] = sess
	}
	sess[id] = h
	t.mu.Unlock()

	return h
}

func (t *Tracker) remove(id uint64, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
	if sess, ok := t.bySession[sessionID]; ok {
		delete(sess, id)
		if len(sess) == 0 {
			delete(t.bySession, sessionID)
		}
	}
}

// CancelSession cancels the contexts of every in-flight request owned by
// sessionID and returns how many were signalled. Cancellation is advisory:
// entries leave the table when their handlers return and Complete runs.
func (t *Tracker) CancelSession(sessionID string) int {
	t.mu.Lock()
	handles := make([]*Handle, 0, len(t.bySession[sessionID]))
	for _, h := range t.bySession[sessionID] {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.cancel(fmt.Errorf("%w: %s", ErrSessionClosed, sessionID))
	}
	return len(handles)
}

// CancelRequest cancels the in-flight request with the given wire ID within
// sessionID. Returns false when no such request is tracked, which is normal:
// the call may have already completed.
func (t *Tracker) CancelRequest(sessionID, wireID string, reason string) bool {
	if wireID == "" {
		return false
	}

	t.mu.Lock()
	var target *Handle
	for _, h := range t.bySession[sessionID] {
		if h.req.WireID == wireID {
			target = h
			break
		}
	}
	t.mu.Unlock()

	if target == nil {
		return false
	}
	cause := ErrClientCancelled
	if reason != "" {
		cause = fmt.Errorf("%w: %s", ErrClientCancelled, reason)
	}
	target.cancel(cause)
	return true
}

// Active returns snapshots of all tracked requests, in no particular order.
func (t *Tracker) Active() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, 0, len(t.entries))
	for _, h := range t.entries {
		out = append(out, h.req)
	}
	return out
}

// ActiveForSession returns snapshots of the requests owned by sessionID.
func (t *Tracker) ActiveForSession(sessionID string) []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess := t.bySession[sessionID]
	out := make([]Request, 0, len(sess))
	for _, h := range sess {
		out = append(out, h.req)
	}
	return out
}

// CountBySession returns in-flight request counts keyed by session ID.
func (t *Tracker) CountBySession() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.bySession))
	for id, sess := range t.bySession {
		out[id] = len(sess)
	}
	return out
}

// Len reports the total number of in-flight requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
