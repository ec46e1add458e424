package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GeneratePeerID generates a unique peer ID
func GeneratePeerID() string {
	return GenerateID("peer")
}

// GenerateCallID generates a unique pending-call ID
func GenerateCallID() string {
	return GenerateID("call")
}

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateChannelLabel allocates an opaque channel label of the given kind
// (audio/video/chat). Labels are handed to session participants; what they
// resolve to is the transport's business.
func GenerateChannelLabel(kind string) string {
	short := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s", kind, short)
}
