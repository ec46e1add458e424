package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ColorTagRegex validates hex color tags like "#a1b2c3"
	ColorTagRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

const MaxChatTextBytes = 4096

// ValidatePeerID validates a peer identifier
func ValidatePeerID(id string) error {
	if id == "" {
		return fmt.Errorf("peer id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("peer id is too long (max 100 characters)")
	}
	if !PeerIDRegex.MatchString(id) {
		return fmt.Errorf("peer id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates a display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 50 {
		return fmt.Errorf("display name is too long (max 50 characters)")
	}
	return nil
}

// ValidateColorTag validates an optional roster color tag
func ValidateColorTag(tag string) error {
	if tag == "" {
		return nil
	}
	if !ColorTagRegex.MatchString(tag) {
		return fmt.Errorf("color tag must be a hex color like #1a2b3c")
	}
	return nil
}

// ValidateChatText validates chat message text. The text is inert data:
// it is length-checked and UTF-8-checked only, never interpreted.
func ValidateChatText(text string) error {
	if text == "" {
		return fmt.Errorf("chat text is required")
	}
	if len(text) > MaxChatTextBytes {
		return fmt.Errorf("chat text is too long (max %d bytes)", MaxChatTextBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("chat text must be valid UTF-8")
	}
	return nil
}
