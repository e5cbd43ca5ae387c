package models

import "encoding/json"

// EventType names a signaling event on the wire
type EventType string

// Client -> server events
const (
	EventJoin         EventType = "join"
	EventInitiate     EventType = "call:initiate"
	EventAnswer       EventType = "call:answer"
	EventReject       EventType = "call:reject"
	EventEnd          EventType = "call:end"
	EventICECandidate EventType = "ice-candidate"
	EventCheckUser    EventType = "call:check-user"
	EventReconnect    EventType = "call:reconnect"
	EventPing         EventType = "ping"
	EventPong         EventType = "pong"
)

// Server -> client events
const (
	EventIncoming        EventType = "call:incoming"
	EventAccepted        EventType = "call:accepted"
	EventRejected        EventType = "call:rejected"
	EventEnded           EventType = "call:ended"
	EventRinging         EventType = "call:ringing"
	EventUserAvailable   EventType = "call:user-available"
	EventUserUnavailable EventType = "call:user-unavailable"
	EventRecovered       EventType = "connection-recovered"
	EventPresenceOnline  EventType = "presence-online"
	EventPresenceOffline EventType = "presence-offline"
	EventSignalError     EventType = "signal-error"
)

// Call kinds carried on call:initiate
const (
	CallKindAudio = "audio"
	CallKindVideo = "video"
)

// Message is the flat wire envelope for every signaling event.
// Payload is opaque to the server: it is relayed verbatim and never parsed.
type Message struct {
	Event       EventType       `json:"event"`
	Identity    string          `json:"identity,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	From        string          `json:"fromIdentity,omitempty"`
	To          string          `json:"toIdentity,omitempty"`
	Target      string          `json:"targetIdentity,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CallKind    string          `json:"callKind,omitempty"`
	CallerName  string          `json:"callerDisplayName,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	ServerTime  int64           `json:"serverTime,omitempty"`
}
