package domain

import "time"

// ChatMessage is immutable once appended. Seq is assigned under the
// session's append lock and is strictly increasing per session; it defines
// the total order seen by every participant.
type ChatMessage struct {
	SessionID   SessionID `json:"session_id"`
	Sender      PeerID    `json:"sender"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
	Seq         uint64    `json:"seq"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
}
