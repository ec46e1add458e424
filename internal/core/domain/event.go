package domain

import "time"

// EventType identifies a state-change notification published by the core
// components. Subscribers include the signaling gateway, the metrics
// collector and the view layer.
type EventType string

const (
	EventPeerJoined      EventType = "peer.joined"
	EventPeerLeft        EventType = "peer.left"
	EventPresenceChanged EventType = "presence.changed"

	EventCallRinging   EventType = "call.ringing"
	EventCallAccepted  EventType = "call.accepted"
	EventCallRejected  EventType = "call.rejected"
	EventCallTimedOut  EventType = "call.timed-out"
	EventCallCancelled EventType = "call.cancelled"

	EventSessionStarted EventType = "session.started"
	EventSessionEnded   EventType = "session.ended"
	EventParticipantSet EventType = "session.participants"
	EventMediaChanged   EventType = "session.media"

	EventChatMessage EventType = "chat.message"
	EventStatSample  EventType = "stat.sample"
)

// Event is a state-change notification. Exactly one of the optional id
// fields is meaningful depending on Type; Payload carries the full snapshot
// (a Peer, PendingCall, Session clone, ChatMessage or StatSample).
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	PeerID    PeerID      `json:"peer_id,omitempty"`
	CallID    CallID      `json:"call_id,omitempty"`
	SessionID SessionID   `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}
