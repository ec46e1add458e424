package domain

import "time"

type PeerID string

// Presence is a peer's call-availability state.
type Presence string

const (
	PresenceIdle    Presence = "idle"
	PresenceRinging Presence = "ringing"
	PresenceInCall  Presence = "in-call"
)

type Peer struct {
	ID          PeerID    `json:"id"`
	DisplayName string    `json:"display_name"`
	ColorTag    string    `json:"color_tag,omitempty"`
	Presence    Presence  `json:"presence"`
	JoinedAt    time.Time `json:"joined_at"`
}

// PresenceChange describes one guarded presence transition: the peer must
// currently be in one of From for the change to apply.
type PresenceChange struct {
	PeerID PeerID
	From   []Presence
	To     Presence
}
