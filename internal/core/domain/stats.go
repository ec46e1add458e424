package domain

import "time"

// StatSample is one transport measurement for a (session, peer) pair.
// Samples form an append-only time series with bounded retention.
type StatSample struct {
	SessionID     SessionID `json:"session_id"`
	PeerID        PeerID    `json:"peer_id"`
	Timestamp     time.Time `json:"timestamp"`
	BitrateKbps   int       `json:"bitrate_kbps"`
	RTTMs         float64   `json:"rtt_ms"`
	PacketLossPct float64   `json:"packet_loss_pct"`
}

// LatencySummary is the exponentially weighted latency for a (session, peer)
// pair, updated on every recorded sample.
type LatencySummary struct {
	SmoothedRTTMs float64   `json:"smoothed_rtt_ms"`
	LastUpdate    time.Time `json:"last_update"`
}
