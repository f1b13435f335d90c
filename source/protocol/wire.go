package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Opcode is the low 4 bits of a command byte. Bits 6 and 7 of the same
// byte carry the unsequenced/acknowledge-required flags and are masked
// off before switching on Opcode.
type Opcode uint8

const (
	OpNone Opcode = iota
	OpAcknowledge
	OpConnect
	OpVerifyConnect
	OpDisconnect
	OpPing
	OpSendReliable
	OpSendUnreliable
	OpSendFragment
	OpSendUnsequenced
	OpBandwidthLimit
	OpThrottleConfigure
	OpSendUnreliableFragment
	opcodeCount
)

const (
	CommandFlagAcknowledge byte = 1 << 7
	CommandFlagUnsequenced byte = 1 << 6
	CommandMask            byte = 0x0F
)

const (
	HeaderFlagCompressed uint16 = 1 << 14
	HeaderFlagSentTime   uint16 = 1 << 15
	HeaderFlagMask              = HeaderFlagCompressed | HeaderFlagSentTime
	headerSessionMask    uint16 = 3 << 12
	headerSessionShift          = 12
)

var ErrTruncated = errors.New("protocol: command truncated")
var ErrUnknownOpcode = errors.New("protocol: unknown opcode")

// commandTailSizes is the authoritative per-opcode fixed tail size (the
// part of the command after CommandHeader), used both for datagram parsing
// bounds checks and outgoing byte accounting. Grounded in
// original_source/src/protocol.cpp's commandSizes table.
var commandTailSizes = [opcodeCount]int{
	OpNone:                   0,
	OpAcknowledge:            4, // recvReliableSeq u16 + recvSentTime u16
	OpConnect:                44,
	OpVerifyConnect:          40,
	OpDisconnect:             4,
	OpPing:                   0,
	OpSendReliable:           2,
	OpSendUnreliable:         4,
	OpSendFragment:           20,
	OpSendUnsequenced:        4,
	OpBandwidthLimit:         8,
	OpThrottleConfigure:      12,
	OpSendUnreliableFragment: 20,
}

// CommandTailSize returns the fixed wire size of a command's tail (i.e.
// everything after the 4-byte CommandHeader), keyed by the low 4 opcode
// bits of cmdByte. Exported as hnet_protocol_command_size was in the
// original source, used for outgoing byte accounting in peer.go.
func CommandTailSize(cmdByte byte) int {
	op := Opcode(cmdByte & CommandMask)
	if int(op) >= len(commandTailSizes) {
		return 0
	}
	return commandTailSizes[op]
}

// PacketHeader is the first 2-4 bytes of every carrier datagram: a 16-bit
// peer id, a 2-bit session id and compressed/sent-time flags packed in
// its high bits, and an optional 16-bit truncated sent
// time.
type PacketHeader struct {
	PeerID    uint16 // low 12 bits significant (MaxPeerID == 0xFFF)
	SessionID uint8  // 2 bits
	Flags     uint16 // HeaderFlagCompressed | HeaderFlagSentTime
	SentTime  uint16 // only meaningful if Flags&HeaderFlagSentTime
}

// EncodeHeader writes the packed peer-id/session/flags word followed by the
// optional sent-time word.
func EncodeHeader(h PacketHeader) []byte {
	word := (h.PeerID &^ (headerSessionMask | HeaderFlagMask)) | ((uint16(h.SessionID) << headerSessionShift) & headerSessionMask) | (h.Flags & HeaderFlagMask)
	if h.Flags&HeaderFlagSentTime != 0 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], word)
		binary.BigEndian.PutUint16(buf[2:4], h.SentTime)
		return buf
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, word)
	return buf
}

func DecodeHeader(data []byte) (PacketHeader, int, error) {
	if len(data) < 2 {
		return PacketHeader{}, 0, ErrTruncated
	}
	word := binary.BigEndian.Uint16(data[0:2])
	h := PacketHeader{
		PeerID:    word &^ (headerSessionMask | HeaderFlagMask),
		SessionID: uint8((word & headerSessionMask) >> headerSessionShift),
		Flags:     word & HeaderFlagMask,
	}
	consumed := 2
	if h.Flags&HeaderFlagSentTime != 0 {
		if len(data) < 4 {
			return PacketHeader{}, 0, ErrTruncated
		}
		h.SentTime = binary.BigEndian.Uint16(data[2:4])
		consumed = 4
	}
	return h, consumed, nil
}

// CommandHeader precedes every command's opcode-specific tail.
type CommandHeader struct {
	Command     byte // opcode | flags
	ChannelID   byte
	ReliableSeq uint16
}

const commandHeaderSize = 4

func encodeCommandHeader(buf []byte, h CommandHeader) {
	buf[0] = h.Command
	buf[1] = h.ChannelID
	binary.BigEndian.PutUint16(buf[2:4], h.ReliableSeq)
}

func decodeCommandHeader(data []byte) (CommandHeader, error) {
	if len(data) < commandHeaderSize {
		return CommandHeader{}, ErrTruncated
	}
	return CommandHeader{
		Command:     data[0],
		ChannelID:   data[1],
		ReliableSeq: binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// Command is the decoded, in-memory representation of one wire command.
// Exactly one payload field beyond Header is populated, selected by
// Header.Command & CommandMask; Go has no tagged union, so this mirrors the
// original's `union HNetProtocol` as a struct of optional pointers, which
// keeps Encode/Decode simple switch statements instead of unsafe casts.
type Command struct {
	Header CommandHeader

	Ack               *AckPayload
	Connect           *ConnectPayload
	VerifyConnect     *VerifyConnectPayload
	Disconnect        *DisconnectPayload
	SendReliable      *SendReliablePayload
	SendUnreliable    *SendUnreliablePayload
	SendUnsequenced   *SendUnsequencedPayload
	SendFragment      *SendFragmentPayload
	BandwidthLimit    *BandwidthLimitPayload
	ThrottleConfigure *ThrottleConfigurePayload

	// Data is the command's variable-length payload for SEND_* opcodes;
	// it follows the fixed tail on the wire and is not part of
	// CommandTailSize.
	Data []byte
}

type AckPayload struct {
	RecvReliableSeq uint16
	RecvSentTime    uint16
}

type ConnectPayload struct {
	OutgoingPeerID       uint16
	IncomingSessionID    uint8
	OutgoingSessionID    uint8
	MTU                  uint32
	WindowSize           uint32
	ChannelCount         uint32
	IncomingBandwidth    uint32
	OutgoingBandwidth    uint32
	ThrottleInterval     uint32
	ThrottleAcceleration uint32
	ThrottleDeceleration uint32
	ConnectID            uint32
	Data                 uint32
}

type VerifyConnectPayload struct {
	OutgoingPeerID       uint16
	IncomingSessionID    uint8
	OutgoingSessionID    uint8
	MTU                  uint32
	WindowSize           uint32
	ChannelCount         uint32
	IncomingBandwidth    uint32
	OutgoingBandwidth    uint32
	ThrottleInterval     uint32
	ThrottleAcceleration uint32
	ThrottleDeceleration uint32
	ConnectID            uint32
}

type DisconnectPayload struct {
	Data uint32
}

type SendReliablePayload struct {
	DataLength uint16
}

type SendUnreliablePayload struct {
	UnreliableSeq uint16
	DataLength    uint16
}

type SendUnsequencedPayload struct {
	UnseqGroup uint16
	DataLength uint16
}

type SendFragmentPayload struct {
	StartSeq       uint16
	DataLength     uint16
	FragmentCount  uint32
	FragmentNumber uint32
	TotalLength    uint32
	FragmentOffset uint32
}

type BandwidthLimitPayload struct {
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
}

type ThrottleConfigurePayload struct {
	Interval     uint32
	Acceleration uint32
	Deceleration uint32
}

// EncodeCommand serializes a Command's header and fixed tail (but not its
// trailing Data, which callers append separately since it shares a Packet's
// backing array rather than being copied).
func EncodeCommand(cmd *Command) []byte {
	op := Opcode(cmd.Header.Command & CommandMask)
	tail := CommandTailSize(cmd.Header.Command)
	buf := make([]byte, commandHeaderSize+tail)
	encodeCommandHeader(buf, cmd.Header)
	body := buf[commandHeaderSize:]

	switch op {
	case OpAcknowledge:
		binary.BigEndian.PutUint16(body[0:2], cmd.Ack.RecvReliableSeq)
		binary.BigEndian.PutUint16(body[2:4], cmd.Ack.RecvSentTime)
	case OpConnect:
		c := cmd.Connect
		binary.BigEndian.PutUint16(body[0:2], c.OutgoingPeerID)
		body[2] = c.IncomingSessionID
		body[3] = c.OutgoingSessionID
		binary.BigEndian.PutUint32(body[4:8], c.MTU)
		binary.BigEndian.PutUint32(body[8:12], c.WindowSize)
		binary.BigEndian.PutUint32(body[12:16], c.ChannelCount)
		binary.BigEndian.PutUint32(body[16:20], c.IncomingBandwidth)
		binary.BigEndian.PutUint32(body[20:24], c.OutgoingBandwidth)
		binary.BigEndian.PutUint32(body[24:28], c.ThrottleInterval)
		binary.BigEndian.PutUint32(body[28:32], c.ThrottleAcceleration)
		binary.BigEndian.PutUint32(body[32:36], c.ThrottleDeceleration)
		binary.BigEndian.PutUint32(body[36:40], c.ConnectID)
		binary.BigEndian.PutUint32(body[40:44], c.Data)
	case OpVerifyConnect:
		c := cmd.VerifyConnect
		binary.BigEndian.PutUint16(body[0:2], c.OutgoingPeerID)
		body[2] = c.IncomingSessionID
		body[3] = c.OutgoingSessionID
		binary.BigEndian.PutUint32(body[4:8], c.MTU)
		binary.BigEndian.PutUint32(body[8:12], c.WindowSize)
		binary.BigEndian.PutUint32(body[12:16], c.ChannelCount)
		binary.BigEndian.PutUint32(body[16:20], c.IncomingBandwidth)
		binary.BigEndian.PutUint32(body[20:24], c.OutgoingBandwidth)
		binary.BigEndian.PutUint32(body[24:28], c.ThrottleInterval)
		binary.BigEndian.PutUint32(body[28:32], c.ThrottleAcceleration)
		binary.BigEndian.PutUint32(body[32:36], c.ThrottleDeceleration)
		binary.BigEndian.PutUint32(body[36:40], c.ConnectID)
	case OpDisconnect:
		binary.BigEndian.PutUint32(body[0:4], cmd.Disconnect.Data)
	case OpPing:
		// no tail
	case OpSendReliable:
		binary.BigEndian.PutUint16(body[0:2], cmd.SendReliable.DataLength)
	case OpSendUnreliable:
		binary.BigEndian.PutUint16(body[0:2], cmd.SendUnreliable.UnreliableSeq)
		binary.BigEndian.PutUint16(body[2:4], cmd.SendUnreliable.DataLength)
	case OpSendUnsequenced:
		binary.BigEndian.PutUint16(body[0:2], cmd.SendUnsequenced.UnseqGroup)
		binary.BigEndian.PutUint16(body[2:4], cmd.SendUnsequenced.DataLength)
	case OpSendFragment, OpSendUnreliableFragment:
		f := cmd.SendFragment
		binary.BigEndian.PutUint16(body[0:2], f.StartSeq)
		binary.BigEndian.PutUint16(body[2:4], f.DataLength)
		binary.BigEndian.PutUint32(body[4:8], f.FragmentCount)
		binary.BigEndian.PutUint32(body[8:12], f.FragmentNumber)
		binary.BigEndian.PutUint32(body[12:16], f.TotalLength)
		binary.BigEndian.PutUint32(body[16:20], f.FragmentOffset)
	case OpBandwidthLimit:
		binary.BigEndian.PutUint32(body[0:4], cmd.BandwidthLimit.IncomingBandwidth)
		binary.BigEndian.PutUint32(body[4:8], cmd.BandwidthLimit.OutgoingBandwidth)
	case OpThrottleConfigure:
		binary.BigEndian.PutUint32(body[0:4], cmd.ThrottleConfigure.Interval)
		binary.BigEndian.PutUint32(body[4:8], cmd.ThrottleConfigure.Acceleration)
		binary.BigEndian.PutUint32(body[8:12], cmd.ThrottleConfigure.Deceleration)
	}
	return buf
}

// DecodeCommand parses one command (header + fixed tail, but not the
// trailing SEND_* payload bytes) from the front of data, returning the
// number of bytes consumed.
func DecodeCommand(data []byte) (*Command, int, error) {
	header, err := decodeCommandHeader(data)
	if err != nil {
		return nil, 0, err
	}
	op := Opcode(header.Command & CommandMask)
	if int(op) >= int(opcodeCount) {
		return nil, 0, ErrUnknownOpcode
	}
	tail := commandTailSizes[op]
	if len(data) < commandHeaderSize+tail {
		return nil, 0, ErrTruncated
	}
	body := data[commandHeaderSize : commandHeaderSize+tail]
	cmd := &Command{Header: header}

	switch op {
	case OpAcknowledge:
		cmd.Ack = &AckPayload{
			RecvReliableSeq: binary.BigEndian.Uint16(body[0:2]),
			RecvSentTime:    binary.BigEndian.Uint16(body[2:4]),
		}
	case OpConnect:
		cmd.Connect = &ConnectPayload{
			OutgoingPeerID:       binary.BigEndian.Uint16(body[0:2]),
			IncomingSessionID:    body[2],
			OutgoingSessionID:    body[3],
			MTU:                  binary.BigEndian.Uint32(body[4:8]),
			WindowSize:           binary.BigEndian.Uint32(body[8:12]),
			ChannelCount:         binary.BigEndian.Uint32(body[12:16]),
			IncomingBandwidth:    binary.BigEndian.Uint32(body[16:20]),
			OutgoingBandwidth:    binary.BigEndian.Uint32(body[20:24]),
			ThrottleInterval:     binary.BigEndian.Uint32(body[24:28]),
			ThrottleAcceleration: binary.BigEndian.Uint32(body[28:32]),
			ThrottleDeceleration: binary.BigEndian.Uint32(body[32:36]),
			ConnectID:            binary.BigEndian.Uint32(body[36:40]),
			Data:                 binary.BigEndian.Uint32(body[40:44]),
		}
	case OpVerifyConnect:
		cmd.VerifyConnect = &VerifyConnectPayload{
			OutgoingPeerID:       binary.BigEndian.Uint16(body[0:2]),
			IncomingSessionID:    body[2],
			OutgoingSessionID:    body[3],
			MTU:                  binary.BigEndian.Uint32(body[4:8]),
			WindowSize:           binary.BigEndian.Uint32(body[8:12]),
			ChannelCount:         binary.BigEndian.Uint32(body[12:16]),
			IncomingBandwidth:    binary.BigEndian.Uint32(body[16:20]),
			OutgoingBandwidth:    binary.BigEndian.Uint32(body[20:24]),
			ThrottleInterval:     binary.BigEndian.Uint32(body[24:28]),
			ThrottleAcceleration: binary.BigEndian.Uint32(body[28:32]),
			ThrottleDeceleration: binary.BigEndian.Uint32(body[32:36]),
			ConnectID:            binary.BigEndian.Uint32(body[36:40]),
		}
	case OpDisconnect:
		cmd.Disconnect = &DisconnectPayload{Data: binary.BigEndian.Uint32(body[0:4])}
	case OpPing:
		// no tail
	case OpSendReliable:
		cmd.SendReliable = &SendReliablePayload{DataLength: binary.BigEndian.Uint16(body[0:2])}
	case OpSendUnreliable:
		cmd.SendUnreliable = &SendUnreliablePayload{
			UnreliableSeq: binary.BigEndian.Uint16(body[0:2]),
			DataLength:    binary.BigEndian.Uint16(body[2:4]),
		}
	case OpSendUnsequenced:
		cmd.SendUnsequenced = &SendUnsequencedPayload{
			UnseqGroup: binary.BigEndian.Uint16(body[0:2]),
			DataLength: binary.BigEndian.Uint16(body[2:4]),
		}
	case OpSendFragment, OpSendUnreliableFragment:
		cmd.SendFragment = &SendFragmentPayload{
			StartSeq:       binary.BigEndian.Uint16(body[0:2]),
			DataLength:     binary.BigEndian.Uint16(body[2:4]),
			FragmentCount:  binary.BigEndian.Uint32(body[4:8]),
			FragmentNumber: binary.BigEndian.Uint32(body[8:12]),
			TotalLength:    binary.BigEndian.Uint32(body[12:16]),
			FragmentOffset: binary.BigEndian.Uint32(body[16:20]),
		}
	case OpBandwidthLimit:
		cmd.BandwidthLimit = &BandwidthLimitPayload{
			IncomingBandwidth: binary.BigEndian.Uint32(body[0:4]),
			OutgoingBandwidth: binary.BigEndian.Uint32(body[4:8]),
		}
	case OpThrottleConfigure:
		cmd.ThrottleConfigure = &ThrottleConfigurePayload{
			Interval:     binary.BigEndian.Uint32(body[0:4]),
			Acceleration: binary.BigEndian.Uint32(body[4:8]),
			Deceleration: binary.BigEndian.Uint32(body[8:12]),
		}
	}

	return cmd, commandHeaderSize + tail, nil
}

// dataLength returns the variable-length SEND_* payload size this command
// declares, or 0 for commands with no trailing payload.
func (c *Command) dataLength() int {
	switch Opcode(c.Header.Command & CommandMask) {
	case OpSendReliable:
		return int(c.SendReliable.DataLength)
	case OpSendUnreliable:
		return int(c.SendUnreliable.DataLength)
	case OpSendUnsequenced:
		return int(c.SendUnsequenced.DataLength)
	case OpSendFragment, OpSendUnreliableFragment:
		return int(c.SendFragment.DataLength)
	default:
		return 0
	}
}

func (c *Command) requiresAck() bool {
	return c.Header.Command&CommandFlagAcknowledge != 0
}

func (c *Command) isUnsequenced() bool {
	return c.Header.Command&CommandFlagUnsequenced != 0
}

func (c *Command) opcode() Opcode {
	return Opcode(c.Header.Command & CommandMask)
}
