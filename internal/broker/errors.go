package broker

import "errors"

// Sentinel errors for the broker's precondition checks (spec §4.6, §7).
// Each maps to a paired wire error packet where one exists; where none
// exists, the dispatcher logs at WARNING and drops the packet (spec §7).
var (
	ErrSessionExists      = errors.New("broker: session already exists for stream")
	ErrNoSessionKey       = errors.New("broker: session key not established")
	ErrAlreadyAuthed      = errors.New("broker: session already authenticated")
	ErrNotAuthenticated   = errors.New("broker: session not authenticated")
	ErrSenderMismatch     = errors.New("broker: message sender does not match session")
	ErrNotSubscriber      = errors.New("broker: sender is not a channel subscriber")
	ErrSignatureInvalid   = errors.New("broker: message signature does not verify")
	ErrTargetOffline      = errors.New("broker: target is not currently connected")
	ErrReservedPacketType = errors.New("broker: packet type is reserved, not implemented")
	ErrMalformedPayload   = errors.New("broker: malformed packet payload")
)
