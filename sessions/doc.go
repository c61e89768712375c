// Package sessions owns the gateway's session lifecycle: the Registry is the
// single authoritative table of live sessions with bounded capacity and
// idle-sweep eviction, and MessageHost abstracts the per-session ordered
// message log that streaming transports consume.
//
// Layers & roles
//
//	Transport  -> accepts connections, mints sessions, drives teardown
//	Registry   -> admission control, state machine, activity tracking, sweep
//	MessageHost-> ordered client-visible message log (SSE delivery + replay)
//
// The Registry's removal operations are idempotent: the disconnect path and
// the idle sweep are independent removal paths that may race, and both must
// be harmless when they lose.
package sessions
