package domain

import "errors"

// Every error here is recoverable and local: it is reported to the caller
// and never corrupts shared state. Operations validate before mutating.
var (
	ErrDuplicateID     = errors.New("peer id already registered")
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrAlreadyPending  = errors.New("call already pending for pair")
	ErrStaleCall       = errors.New("call no longer pending")
	ErrNotInSession    = errors.New("peer not in session")
)
