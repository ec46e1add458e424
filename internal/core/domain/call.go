package domain

import (
	"strings"
	"time"
)

type CallID string

// CallState tracks a pending call through its lifecycle. Ringing is the only
// live state; the rest are terminal.
type CallState string

const (
	CallRinging   CallState = "ringing"
	CallAccepted  CallState = "accepted"
	CallRejected  CallState = "rejected"
	CallTimedOut  CallState = "timed-out"
	CallCancelled CallState = "cancelled"
)

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

type PendingCall struct {
	ID        CallID    `json:"id"`
	Caller    PeerID    `json:"caller"`
	Callee    PeerID    `json:"callee"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// Direction reports the call direction from the point of view of the given
// peer.
func (c PendingCall) Direction(viewer PeerID) CallDirection {
	if viewer == c.Caller {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// Involves reports whether the peer is the caller or callee.
func (c PendingCall) Involves(id PeerID) bool {
	return c.Caller == id || c.Callee == id
}

// PairKey returns the canonical key for an unordered peer pair. The lower
// peer id sorts first so A→B and B→A map to the same pending-call slot.
func PairKey(a, b PeerID) string {
	if strings.Compare(string(a), string(b)) > 0 {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}
