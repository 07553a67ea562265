package types

import (
	"encoding/json"
	"time"
)

// ConnectionState is the lifecycle state of the single socket connection.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Open         ConnectionState = "open"
)

// ChannelState is the join state of a topic channel.
type ChannelState string

const (
	Joining    ChannelState = "joining"
	Joined     ChannelState = "joined"
	JoinFailed ChannelState = "join_failed"
)

// EventKind names an event emitted towards UI layers.
type EventKind string

const (
	EventConnectionEstablished EventKind = "connection_established"
	EventConnectionFailed      EventKind = "connection_failed"
	EventJoined                EventKind = "joined"
	EventJoinFailed            EventKind = "join_failed"
	EventMessageReceived       EventKind = "message_received"
	EventMessageSent           EventKind = "message_sent"
)

// Event is a UI-bound notification produced by the bridge.
type Event struct {
	Kind      EventKind `json:"kind"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Event     string    `json:"event,omitempty"`
	Payload   any       `json:"payload"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives bridge events.
type EventHandler func(Event)

// CommandName names a UI command.
type CommandName string

const (
	CommandConnect       CommandName = "connect"
	CommandDisconnect    CommandName = "disconnect"
	CommandJoin          CommandName = "join"
	CommandSend          CommandName = "send"
	CommandRecordHistory CommandName = "record_history"
	CommandSuggest       CommandName = "suggest"
	CommandPreview       CommandName = "preview"
	CommandCopy          CommandName = "copy"
)

// Command is a UI command in data form. Payload is the raw operator
// text; it is encoded by the payload codec before it reaches the wire.
type Command struct {
	Name        CommandName     `json:"command"`
	URL         string          `json:"url,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Event       string          `json:"event,omitempty"`
	Payload     string          `json:"payload,omitempty"`
	Field       string          `json:"field,omitempty"`
	Value       string          `json:"value,omitempty"`
	ContainerID string          `json:"container_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Frame is one protocol message as carried on the socket.
type Frame struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload any
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Transport creates sockets for an endpoint.
type Transport interface {
	Dial(endpoint string) Socket
}

// Socket is a single persistent connection multiplexing channels.
// Connect must not block; outcomes arrive through OnOpen and OnError.
type Socket interface {
	OnOpen(cb func())
	OnError(cb func(err error))
	Connect()
	Disconnect() error
	Channel(topic string) Channel
}

// Channel is a topic subscription on a socket.
type Channel interface {
	Join() Reply
	Push(event string, payload any) error
	// OnMessage sets the inbound handler. The handler's return value is
	// the acknowledgment the transport continues processing with.
	OnMessage(handler func(event string, payload any) any)
}

// Reply is the pending outcome of a join handshake.
type Reply interface {
	Receive(status string, cb func(response any)) Reply
}

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)
