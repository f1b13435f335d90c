package protocol

import "time"

// Wire-visible limits, mirrored from the original C implementation's
// headers (include/protocol.h, include/host.h, include/peer.h).
const (
	MinMTU     = 576
	MaxMTU     = 4096
	DefaultMTU = 1400

	DefaultMaxPacketSize  = 32 * 1024 * 1024
	DefaultMaxWaitingData = 32 * 1024 * 1024

	MaxPacketCommands = 32
	BufferMax         = 1 + 2*MaxPacketCommands

	MinWindowSize   = 4096
	MaxWindowSize   = 65536
	MinChannelCount = 1
	MaxChannelCount = 255
	MaxPeerID       = 0xFFF

	MaxFragmentCount = 1024 * 1024

	ReliableWindows        = 16
	ReliableWindowSize     = 0x1000
	FreeReliableWindows    = 8
	UnsequencedWindowSize  = 1024
	UnsequencedWindowWords = UnsequencedWindowSize / 32
	FreeUnsequencedWindows = 32

	DefaultRoundTripTime = 500 // ms

	PacketThrottleScale               = 32
	DefaultPacketThrottle             = 32
	DefaultPacketThrottleAcceleration = 2
	DefaultPacketThrottleDeceleration = 2
	DefaultPacketThrottleInterval     = 5000 // ms

	DefaultPingInterval  = 500 // ms
	DefaultTimeoutLimit  = 32
	DefaultTimeoutMin    = 5000  // ms
	DefaultTimeoutMax    = 30000 // ms

	PacketLossScale    = 65536
	PacketLossInterval = 10000 // ms

	BandwidthThrottleInterval = 1000 // ms
	WindowSizeScale           = 32 * 1024

	RecvBufferSize = 256 * 1024
	SendBufferSize = 256 * 1024

	MaxDatagramsPerService = 256

	// TimeOverflow bounds the wraparound used by the wrap-aware 32-bit
	// millisecond clock comparisons in time.go.
	TimeOverflow = 86400000
)

// DefaultServiceTick is the timeout the client and server wrappers pass to
// each Host.Service call in their run loops; not part of the wire
// protocol, just a sane default for cmd/ callers.
const DefaultServiceTick = 50 * time.Millisecond
