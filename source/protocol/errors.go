package protocol

import "github.com/pkg/errors"

// Sentinel errors returned across the package boundary. They are created
// with github.com/pkg/errors, matching the ambient error-handling style
// adopted for this module, and are returned unwrapped; callers should
// compare with errors.Is against these sentinels rather than parsing
// messages.
var (
	ErrHostExhausted    = errors.New("protocol: no free peer slots")
	ErrPeerNotConnected = errors.New("protocol: peer is not connected")
	ErrPacketTooLarge   = errors.New("protocol: packet exceeds host limits")
	ErrChannelOutOfRange = errors.New("protocol: channel id out of range")
	ErrInvalidAddress   = errors.New("protocol: could not resolve address")
)
