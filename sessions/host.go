package sessions

import "context"

// MessageHandlerFunction handles ordered messages for a session stream. If
// the handler returns an error, the subscription terminates with that error.
type MessageHandlerFunction func(ctx context.Context, msgID string, msg []byte) error

// MessageHost abstracts the ordered per-session message log used by streaming
// transports to deliver server-initiated messages (notifications, late
// results) to the client, with event-ID based resumability.
//
// Implementations:
//
//	memoryhost : in-memory reference used for tests / single-process gateways
//	redishost  : Redis Streams backed implementation for multi-node fan-out
type MessageHost interface {
	// Publish appends a message to the session's log and returns its event ID.
	Publish(ctx context.Context, sessionID string, data []byte) (string, error)

	// Subscribe delivers messages for the session, starting after lastEventID
	// (or from the next message when empty), until ctx is cancelled or the
	// handler returns an error.
	Subscribe(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunction) error

	// Cleanup discards the session's message log and wakes any subscribers.
	// Idempotent.
	Cleanup(ctx context.Context, sessionID string) error
}
