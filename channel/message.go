// Package channel implements the MessageChannel subsystem: a single
// orchestrator-side server and many worker-side clients exchanging
// newline-delimited JSON over loopback TCP (spec.md §4.5). The wire format
// is a binding requirement, not a style choice, so this package is built
// directly on net/bufio rather than on the teacher's gorilla/websocket
// stack — see control_plane/ws_hub.go for the connection-registry shape
// this borrows (register/unregister, mutex-guarded client map, broadcast
// loop), retargeted onto raw sockets.
package channel

import "encoding/json"

// MessageType is the closed set of message kinds the channel carries.
type MessageType string

const (
	TaskAssignment MessageType = "task-assignment"
	TaskCompleted  MessageType = "task-completed"
	TaskFailed     MessageType = "task-failed"
	ReviewRequest  MessageType = "review-request"
	ReviewApproved MessageType = "review-approved"
	ReviewRejected MessageType = "review-rejected"
	Escalation     MessageType = "escalation"
	Heartbeat      MessageType = "heartbeat"
)

// Message is the wire envelope: one line of JSON terminated by \n.
type Message struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	From          string          `json:"from"`
	To            string          `json:"to,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// RemoteSink is the injected fallback transport for a destination the
// local socket map cannot reach. The core does not specify its transport,
// only this interface (spec.md §6); remotesink.RedisSink and
// remotesink.PostgresSink are two concrete implementations.
type RemoteSink interface {
	Send(msg Message) error
}

// EventKind is the closed set of events the channel emits.
type EventKind string

const (
	EventMessage            EventKind = "message"
	EventWorkerConnected    EventKind = "worker-connected"
	EventWorkerDisconnected EventKind = "worker-disconnected"
	EventConnected          EventKind = "connected"
	EventDisconnected       EventKind = "disconnected"
	EventReconnectFailed    EventKind = "reconnect-failed"
	EventError              EventKind = "error"
	EventRemoteMessage      EventKind = "remote-message"
)

// Event is delivered on a Server's or Client's event stream.
type Event struct {
	Kind     EventKind
	WorkerID string
	Message  Message
	Err      error
}
