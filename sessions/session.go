package sessions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session. Transitions are monotonic:
// connecting -> connected -> disconnected, with no reverse transitions.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// rank orders states for monotonicity checks.
func (s State) rank() int {
	switch s {
	case StateConnecting:
		return 0
	case StateConnected:
		return 1
	case StateDisconnected:
		return 2
	default:
		return -1
	}
}

// Session is the server-side record of one client connection lifetime. It is
// owned exclusively by the Registry; callers hold snapshots, never the live
// record.
type Session struct {
	ID             string
	State          State
	UserAgent      string
	RemoteAddr     string
	StartedAt      time.Time
	LastActivityAt time.Time
}

// ConnMeta carries optional descriptive metadata captured at connection time.
type ConnMeta struct {
	UserAgent  string
	RemoteAddr string
}

// NewSessionID produces a collision-resistant opaque session identifier. The
// millisecond prefix keeps identifiers roughly sortable in logs; uniqueness
// comes from the UUID suffix.
func NewSessionID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}
