package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultMaxSessions   = 10
	defaultIdleTimeout   = 5 * time.Minute
	defaultSweepInterval = 60 * time.Second
)

var (
	// ErrCapacityExceeded is returned by Add when the registry is full. It is
	// surfaced to the connecting client as a rejected connection.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrSessionNotFound is returned by lookups referencing a session that was
	// never created or has been removed.
	ErrSessionNotFound = errors.New("session not found")
)

// ExpireFunc is invoked (outside the registry lock) for each session removed
// by the idle sweep, after the session is already gone from the registry.
type ExpireFunc func(sessionID string)

// Registry is the single authoritative source of which sessions exist and
// their state. It enforces bounded capacity at admission and evicts idle
// sessions via a periodic sweep. Safe for concurrent use.
type Registry struct {
	log           *slog.Logger
	maxSessions   int
	idleTimeout   time.Duration
	sweepInterval time.Duration
	onExpire      ExpireFunc

	mu       sync.Mutex
	sessions map[string]*Session
	created  int64
	expired  int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessions overrides the session capacity (default 10).
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithIdleTimeout overrides the inactivity horizon after which the sweep
// expires a session (default 5m).
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithSweepInterval overrides the sweep cadence (default 60s).
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithExpireFunc registers a callback run for each swept session. Teardown
// that lives outside the registry (cancelling in-flight requests, message
// stream cleanup) hangs off this hook.
func WithExpireFunc(fn ExpireFunc) RegistryOption {
	return func(r *Registry) { r.onExpire = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry constructs a Registry with the given options applied over
// defaults.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:           slog.Default(),
		maxSessions:   defaultMaxSessions,
		idleTimeout:   defaultIdleTimeout,
		sweepInterval: defaultSweepInterval,
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Add inserts a new session in state connecting. It fails with
// ErrCapacityExceeded when the number of live (non-disconnected) sessions is
// at or above capacity; no partial state is left behind on rejection.
func (r *Registry) Add(sessionID string, meta ConnMeta) error {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for _, s := range r.sessions {
		if s.State != StateDisconnected {
			live++
		}
	}
	if live >= r.maxSessions {
		return ErrCapacityExceeded
	}
	if _, exists := r.sessions[sessionID]; exists {
		// Session IDs are never reused; a duplicate insert indicates a caller
		// bug rather than an expected race.
		return errors.New("duplicate session id")
	}

	r.sessions[sessionID] = &Session{
		ID:             sessionID,
		State:          StateConnecting,
		UserAgent:      meta.UserAgent,
		RemoteAddr:     meta.RemoteAddr,
		StartedAt:      now,
		LastActivityAt: now,
	}
	r.created++
	return nil
}

// UpdateState transitions a session to newState and refreshes its activity
// timestamp. Unknown session IDs are logged and ignored: a late-arriving
// update after disconnect is an expected race, not a bug. Reverse transitions
// are likewise dropped to keep the state machine monotonic.
func (r *Registry) UpdateState(sessionID string, newState State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.log.Debug("session.update.miss", slog.String("session_id", sessionID), slog.String("state", string(newState)))
		return
	}
	if newState.rank() < s.State.rank() {
		r.log.Warn("session.update.regressive", slog.String("session_id", sessionID),
			slog.String("from", string(s.State)), slog.String("to", string(newState)))
		return
	}
	s.State = newState
	s.LastActivityAt = time.Now()
}

// Touch refreshes a session's activity timestamp. Unknown IDs are ignored.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.LastActivityAt = time.Now()
	}
}

// Remove deletes the session. Idempotent: removing an absent session is a
// no-op so that the disconnect path and the sweep can race harmlessly.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Get returns a snapshot of the session, or ErrSessionNotFound.
func (r *Registry) Get(sessionID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// ActiveIDs returns the IDs of all live (non-disconnected) sessions.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.State != StateDisconnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Metrics is a read-only aggregate view over the registry.
type Metrics struct {
	TotalCreated int64 `json:"totalCreated"`
	Active       int   `json:"active"`
	Connecting   int   `json:"connecting"`
	Connected    int   `json:"connected"`
	Expired      int64 `json:"expired"`
}

// Metrics returns a snapshot of aggregate counts. It never mutates state.
func (r *Registry) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{TotalCreated: r.created, Expired: r.expired}
	for _, s := range r.sessions {
		switch s.State {
		case StateConnecting:
			m.Connecting++
			m.Active++
		case StateConnected:
			m.Connected++
			m.Active++
		}
	}
	return m
}

// Run executes the idle sweep loop until ctx is cancelled. The sweep is the
// backstop for connections that vanish without a clean close event.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.ExpireIdle(time.Now())
		}
	}
}

// ExpireIdle force-removes every session whose last activity is older than
// the idle timeout, regardless of observed transport state, and returns the
// expired IDs. Expiry is silent cleanup: the client already has no live
// connection by definition, so nothing is surfaced as an error.
func (r *Registry) ExpireIdle(now time.Time) []string {
	cutoff := now.Add(-r.idleTimeout)

	r.mu.Lock()
	var ids []string
	for id, s := range r.sessions {
		if s.LastActivityAt.Before(cutoff) {
			ids = append(ids, id)
			delete(r.sessions, id)
			r.expired++
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.log.Info("session.sweep.expire", slog.String("session_id", id))
		if r.onExpire != nil {
			r.onExpire(id)
		}
	}
	return ids
}
