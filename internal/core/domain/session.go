package domain

import "time"

type SessionID string

// MediaState holds a single participant's toggle-able stream flags.
type MediaState struct {
	AudioOn bool `json:"audio_on"`
	VideoOn bool `json:"video_on"`
}

// ChannelSet carries the opaque channel labels allocated for a session's
// audio, video and chat streams. The labels are handed to participants on
// accept; what a label resolves to is a transport concern.
type ChannelSet struct {
	Audio string `json:"audio"`
	Video string `json:"video"`
	Chat  string `json:"chat"`
}

// Session is an established call. Participants is kept in join order; the
// first entry at creation time is the master, and mastership passes down the
// join order when the master leaves.
type Session struct {
	ID           SessionID             `json:"id"`
	Participants []PeerID              `json:"participants"`
	Master       PeerID                `json:"master"`
	StartedAt    time.Time             `json:"started_at"`
	Media        map[PeerID]MediaState `json:"media"`
	Channels     ChannelSet            `json:"channels"`
}

// HasParticipant reports whether the peer is currently in the session.
func (s Session) HasParticipant(id PeerID) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to subscribers.
func (s Session) Clone() Session {
	out := s
	out.Participants = append([]PeerID(nil), s.Participants...)
	out.Media = make(map[PeerID]MediaState, len(s.Media))
	for k, v := range s.Media {
		out.Media[k] = v
	}
	return out
}
