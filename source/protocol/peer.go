package protocol

import (
	"container/list"
	"net"

	"github.com/google/uuid"
)

// PeerState is one of the ten states a Peer moves through over its
// lifetime. The original C implementation spelled one of these
// "AckDisconnet" — we preserve the semantics, not the typo: the Go
// identifier is spelled correctly since it is source-level only and
// never appears on the wire.
type PeerState uint32

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateAckConnect
	StateConnectionPending
	StateConnectionSucceeded
	StateConnected
	StateDisconnectLater
	StateDisconnecting
	StateAckDisconnect
	StateZombie
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAckConnect:
		return "ack-connect"
	case StateConnectionPending:
		return "connection-pending"
	case StateConnectionSucceeded:
		return "connection-succeeded"
	case StateConnected:
		return "connected"
	case StateDisconnectLater:
		return "disconnect-later"
	case StateDisconnecting:
		return "disconnecting"
	case StateAckDisconnect:
		return "ack-disconnect"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// outgoingCommand is a wire command queued for send, not yet acknowledged
// (if reliable) or not yet sent (either discipline). Mirrors
// HNetOutgoingCommand from original_source/include (inlined in peer.cpp).
type outgoingCommand struct {
	cmd                   *Command
	packet                *Packet
	fragmentOffset        uint32
	fragmentLength        uint16
	sendAttempts          uint32
	sentTime              uint32
	roundTripTimeout      uint32
	roundTripTimeoutLimit uint32
	reliableSeq           uint16
	unreliableSeq         uint16
}

// incomingCommand is a received command awaiting in-order release, plus
// the Packet carrying its payload.
type incomingCommand struct {
	cmd                *Command
	packet             *Packet
	reliableSeq        uint16
	unreliableSeq      uint16
	fragmentCount      uint32
	fragmentsRemaining uint32
	fragments          []uint32 // bitset, one bit per fragment
}

// ackRecord is a pending acknowledgement awaiting drain into an outgoing
// carrier packet.
type ackRecord struct {
	sentTime uint16
	header   CommandHeader
}

// Peer is one remote endpoint's session inside a Host. Fields mirror
// include/peer.h field-for-field; Channel/command queues are realized in
// Go collection types (container/list, slices) rather than intrusive
// C-style linked lists.
type Peer struct {
	host *Host

	outgoingPeerID    uint16
	incomingPeerID    uint16
	connectID         uint32
	outgoingSessionID uint8
	incomingSessionID uint8
	Addr              *net.UDPAddr

	// TraceID is a process-unique identifier attached to every structured
	// log line for this peer; purely a logging aid, never serialized on
	// the wire.
	TraceID uuid.UUID

	UserData any
	state    PeerState

	channels     []*Channel
	channelCount int

	incomingBandwidth                uint32
	outgoingBandwidth                uint32
	incomingBandwidthThrottleEpoch   uint32
	outgoingBandwidthThrottleEpoch   uint32
	incomingDataTotal                uint32
	outgoingDataTotal                uint32
	lastSendTime                     uint32
	lastRecvTime                     uint32
	nextTimeout                      uint32
	earliestTimeout                  uint32
	packetLossEpoch                  uint32
	packetsSent                      uint32
	packetsLost                      uint32
	packetLoss                       uint32
	packetLossVariance               uint32
	packetThrottle                   uint32
	packetThrottleLimit              uint32
	packetThrottleCounter            uint32
	packetThrottleEpoch              uint32
	packetThrottleAcceleration       uint32
	packetThrottleDeceleration       uint32
	packetThrottleInterval           uint32
	pingInterval                     uint32
	timeoutLimit                     uint32
	timeoutMin                       uint32
	timeoutMax                       uint32
	lastRoundTripTime                uint32
	lowestRoundTripTime              uint32
	lastRoundTripTimeVariance        uint32
	lowestRoundTripTimeVariance      uint32
	highestRoundTripTimeVariance     uint32
	roundTripTime                    uint32
	roundTripTimeVariance            uint32
	mtu                              uint32
	windowSize                       uint32
	reliableDataInTransit            uint32
	outgoingReliableSeqNumber        uint16

	acks                    []*ackRecord
	sentReliableCommands    *list.List // *outgoingCommand, front = oldest sent
	sentUnreliableCommands  []*outgoingCommand
	outgoingReliableCommands   []*outgoingCommand
	outgoingUnreliableCommands []*outgoingCommand
	dispatchedCommands      []*incomingCommand

	needsDispatch       bool
	pendingConnectEvent bool
	incomingUnseqGroup uint16
	outgoingUnseqGroup uint16
	unseqWindow       [UnsequencedWindowWords]uint32

	eventData       uint32
	totalWaitingData int
}

func newPeer(host *Host, slot uint16) *Peer {
	p := &Peer{
		host:                 host,
		incomingPeerID:       slot,
		TraceID:              uuid.New(),
		sentReliableCommands: list.New(),
	}
	p.outgoingSessionID = 0xFF
	p.incomingSessionID = 0xFF
	p.reset()
	return p
}

// reset restores a slot to its Disconnected baseline
// "peer slot recycling" note: every per-session counter is cleared but the
// slot's identity (incomingPeerID, TraceID) is preserved across reuse so a
// Disconnect event can still name the right peer before the application
// drops its handle.
func (p *Peer) reset() {
	p.onDisconnect()
	p.outgoingPeerID = MaxPeerID
	p.connectID = 0
	p.state = StateDisconnected
	p.Addr = nil
	p.UserData = nil
	p.incomingBandwidth = 0
	p.outgoingBandwidth = 0
	p.incomingBandwidthThrottleEpoch = 0
	p.outgoingBandwidthThrottleEpoch = 0
	p.incomingDataTotal = 0
	p.outgoingDataTotal = 0
	p.lastSendTime = 0
	p.lastRecvTime = 0
	p.nextTimeout = 0
	p.earliestTimeout = 0
	p.packetLossEpoch = 0
	p.packetsSent = 0
	p.packetsLost = 0
	p.packetLoss = 0
	p.packetLossVariance = 0
	p.packetThrottle = DefaultPacketThrottle
	p.packetThrottleLimit = PacketThrottleScale
	p.packetThrottleCounter = 0
	p.packetThrottleEpoch = 0
	p.packetThrottleAcceleration = DefaultPacketThrottleAcceleration
	p.packetThrottleDeceleration = DefaultPacketThrottleDeceleration
	p.packetThrottleInterval = DefaultPacketThrottleInterval
	p.pingInterval = DefaultPingInterval
	p.timeoutLimit = DefaultTimeoutLimit
	p.timeoutMin = DefaultTimeoutMin
	p.timeoutMax = DefaultTimeoutMax
	p.lastRoundTripTime = DefaultRoundTripTime
	p.lowestRoundTripTime = DefaultRoundTripTime
	p.lastRoundTripTimeVariance = 0
	p.highestRoundTripTimeVariance = 0
	p.roundTripTime = DefaultRoundTripTime
	p.roundTripTimeVariance = 0
	if p.host != nil {
		p.mtu = p.host.mtu
	}
	p.reliableDataInTransit = 0
	p.outgoingReliableSeqNumber = 0
	p.windowSize = MaxWindowSize
	p.incomingUnseqGroup = 0
	p.outgoingUnseqGroup = 0
	p.eventData = 0
	p.totalWaitingData = 0
	for i := range p.unseqWindow {
		p.unseqWindow[i] = 0
	}
	p.resetQueues()
}

// resetQueues drains every command queue and channel, releasing Packet
// references along the way, mirroring hnet_peer_reset_queues.
func (p *Peer) resetQueues() {
	if p.needsDispatch {
		p.host.removeFromDispatchQueue(p)
		p.needsDispatch = false
	}
	p.acks = nil

	releaseOutgoingSlice(p.sentUnreliableCommands)
	p.sentUnreliableCommands = nil
	releaseOutgoingSlice(p.outgoingReliableCommands)
	p.outgoingReliableCommands = nil
	releaseOutgoingSlice(p.outgoingUnreliableCommands)
	p.outgoingUnreliableCommands = nil

	for e := p.sentReliableCommands.Front(); e != nil; e = e.Next() {
		releaseOutgoing(e.Value.(*outgoingCommand))
	}
	p.sentReliableCommands.Init()

	releaseIncomingSlice(p.dispatchedCommands)
	p.dispatchedCommands = nil

	for _, ch := range p.channels {
		releaseIncomingList(ch.incomingReliableCommands)
		releaseIncomingList(ch.incomingUnreliableCommands)
	}
	p.channels = nil
	p.channelCount = 0
}

func releaseOutgoing(cmd *outgoingCommand) {
	if cmd.packet != nil {
		cmd.packet.release()
	}
}

func releaseOutgoingSlice(cmds []*outgoingCommand) {
	for _, c := range cmds {
		releaseOutgoing(c)
	}
}

func releaseIncoming(cmd *incomingCommand) {
	if cmd.packet != nil {
		cmd.packet.release()
	}
}

func releaseIncomingSlice(cmds []*incomingCommand) {
	for _, c := range cmds {
		releaseIncoming(c)
	}
}

func releaseIncomingList(l *list.List) {
	for e := l.Front(); e != nil; e = e.Next() {
		releaseIncoming(e.Value.(*incomingCommand))
	}
	l.Init()
}

// onConnect/onDisconnect maintain the host's connectedPeers and
// bandwidthLimitedPeers counters, mirroring
// hnet_peer_on_connect/hnet_peer_on_disconnect.
func (p *Peer) onConnect() {
	if p.state != StateConnected && p.state != StateDisconnectLater {
		if p.incomingBandwidth != 0 {
			p.host.bandwidthLimitedPeers++
		}
		p.host.connectedPeers++
		if p.host.Metrics != nil {
			p.host.Metrics.ConnectedPeers.Set(float64(p.host.connectedPeers))
		}
	}
}

func (p *Peer) onDisconnect() {
	if p.state == StateConnected || p.state == StateDisconnectLater {
		if p.incomingBandwidth != 0 {
			p.host.bandwidthLimitedPeers--
		}
		p.host.connectedPeers--
		if p.host.Metrics != nil {
			p.host.Metrics.ConnectedPeers.Set(float64(p.host.connectedPeers))
		}
	}
}

// changeState transitions state while keeping the connected/bandwidth
// counters consistent, mirroring hnet_protocol_change_state.
func (p *Peer) changeState(state PeerState) {
	if state == StateConnected || state == StateDisconnectLater {
		p.onConnect()
	} else {
		p.onDisconnect()
	}
	p.state = state
}

// dispatchState transitions state and enqueues the peer on the host's
// dispatch queue if it isn't already there, mirroring
// hnet_protocol_dispatch_state.
func (p *Peer) dispatchState(state PeerState) {
	p.changeState(state)
	if !p.needsDispatch {
		p.host.pushDispatch(p)
		p.needsDispatch = true
	}
}

func (p *Peer) allocateChannels(count int) {
	p.channels = make([]*Channel, count)
	for i := range p.channels {
		p.channels[i] = newChannel()
	}
	p.channelCount = count
}

// setupOutgoingCommand assigns sequence numbers at queue time and files
// the command onto the correct outgoing queue, mirroring
// hnet_peer_setup_outgoing_command.
func (p *Peer) setupOutgoingCommand(cmd *outgoingCommand) {
	p.outgoingDataTotal += uint32(commandHeaderSize + CommandTailSize(cmd.cmd.Header.Command))

	switch {
	case cmd.cmd.Header.ChannelID == 0xFF:
		p.outgoingReliableSeqNumber++
		cmd.reliableSeq = p.outgoingReliableSeqNumber
		cmd.unreliableSeq = 0
	case cmd.cmd.Header.Command&CommandFlagAcknowledge != 0:
		ch := p.channels[cmd.cmd.Header.ChannelID]
		ch.outgoingReliableSeq++
		ch.outgoingUnreliableSeq = 0
		cmd.reliableSeq = ch.outgoingReliableSeq
		cmd.unreliableSeq = 0
	case cmd.cmd.Header.Command&CommandFlagUnsequenced != 0:
		p.outgoingUnseqGroup++
		cmd.reliableSeq = 0
		cmd.unreliableSeq = 0
	default:
		ch := p.channels[cmd.cmd.Header.ChannelID]
		if cmd.fragmentOffset == 0 {
			ch.outgoingUnreliableSeq++
		}
		cmd.reliableSeq = ch.outgoingReliableSeq
		cmd.unreliableSeq = ch.outgoingUnreliableSeq
	}

	cmd.cmd.Header.ReliableSeq = cmd.reliableSeq

	switch cmd.cmd.opcode() {
	case OpSendUnreliable:
		cmd.cmd.SendUnreliable.UnreliableSeq = cmd.unreliableSeq
	case OpSendUnsequenced:
		cmd.cmd.SendUnsequenced.UnseqGroup = p.outgoingUnseqGroup
	}

	if cmd.cmd.Header.Command&CommandFlagAcknowledge != 0 {
		p.outgoingReliableCommands = append(p.outgoingReliableCommands, cmd)
		if cmd.cmd.Header.ChannelID != 0xFF {
			p.channels[cmd.cmd.Header.ChannelID].incrementWindow(cmd.reliableSeq)
		}
	} else {
		p.outgoingUnreliableCommands = append(p.outgoingUnreliableCommands, cmd)
	}
}

// queueOutgoingCommand mirrors hnet_peer_queue_outgoing_command: wraps cmd
// in an outgoingCommand, retains packet, and files it via
// setupOutgoingCommand.
func (p *Peer) queueOutgoingCommand(cmd *Command, packet *Packet, offset uint32, length uint16) *outgoingCommand {
	oc := &outgoingCommand{
		cmd:            cmd,
		packet:         packet,
		fragmentOffset: offset,
		fragmentLength: length,
	}
	if packet != nil {
		packet.retain()
	}
	p.setupOutgoingCommand(oc)
	return oc
}

// State returns the peer's current protocol state.
func (p *Peer) State() PeerState { return p.state }

// Connected reports whether the peer has an active session.
func (p *Peer) Connected() bool {
	return p.state == StateConnected || p.state == StateDisconnectLater
}

// RoundTripTime returns the current smoothed RTT estimate in milliseconds.
func (p *Peer) RoundTripTime() uint32 { return p.roundTripTime }

// PacketLoss returns the EWMA packet loss estimate, scaled by
// PacketLossScale (65536 == 100%).
func (p *Peer) PacketLoss() uint32 { return p.packetLoss }

// SetThrottleConfigure updates local throttle parameters and informs the
// remote peer via a THROTTLE_CONFIGURE command, mirroring
// peer_throttle_configure.
func (p *Peer) SetThrottleConfigure(interval, acceleration, deceleration uint32) {
	p.packetThrottleInterval = interval
	p.packetThrottleAcceleration = acceleration
	p.packetThrottleDeceleration = deceleration

	cmd := &Command{
		Header: CommandHeader{
			Command:   byte(OpThrottleConfigure) | CommandFlagAcknowledge,
			ChannelID: 0xFF,
		},
		ThrottleConfigure: &ThrottleConfigurePayload{
			Interval:     interval,
			Acceleration: acceleration,
			Deceleration: deceleration,
		},
	}
	p.queueOutgoingCommand(cmd, nil, 0, 0)
}

// SetTimeout overrides the peer's idle-timeout parameters
// peer_timeout.
func (p *Peer) SetTimeout(limit, min, max uint32) {
	p.timeoutLimit = limit
	p.timeoutMin = min
	p.timeoutMax = max
}

// SetPingInterval overrides how often automatic pings are sent while idle,
// peer_ping_interval.
func (p *Peer) SetPingInterval(interval uint32) {
	p.pingInterval = interval
}

// Ping immediately queues a PING command if connected.
func (p *Peer) Ping() {
	if p.state != StateConnected {
		return
	}
	cmd := &Command{Header: CommandHeader{Command: byte(OpPing) | CommandFlagAcknowledge, ChannelID: 0xFF}}
	p.queueOutgoingCommand(cmd, nil, 0, 0)
}

// Send admits an application Packet for transmission on channelID,
// mirroring peer_send / . Packets exceeding the channel's
// per-datagram budget are split into SEND_FRAGMENT (reliable) or
// SEND_UNRELIABLE_FRAGMENT (unreliable) commands sharing one Packet
// reference; an oversize unsequenced packet is rejected.
func (p *Peer) Send(channelID byte, packet *Packet) error {
	if p.state != StateConnected && p.state != StateDisconnectLater {
		return ErrPeerNotConnected
	}
	if int(channelID) >= p.channelCount {
		return ErrChannelOutOfRange
	}
	if len(packet.Data) > p.host.maxPacketSize {
		return ErrPacketTooLarge
	}

	ch := p.channels[channelID]
	// Every carrier datagram also starts with the 4-byte packet header
	// (peer-id word plus sent time), which counts against the MTU too.
	headerSize := 4 + commandHeaderSize
	fragmentPayload := int(p.mtu) - headerSize - CommandTailSize(byte(OpSendFragment))

	reliable := packet.Flags&PacketFlagReliable != 0
	unsequenced := !reliable && packet.Flags&PacketFlagUnsequenced != 0

	if !reliable && ch.outgoingUnreliableSeq == 0xFFFF {
		reliable = true
		unsequenced = false
	}

	var op Opcode
	flags := byte(0)
	switch {
	case reliable:
		op = OpSendReliable
		flags = CommandFlagAcknowledge
	case unsequenced:
		op = OpSendUnsequenced
		flags = CommandFlagUnsequenced
	default:
		op = OpSendUnreliable
	}
	singleCommandMax := int(p.mtu) - headerSize - CommandTailSize(byte(op))

	if len(packet.Data) <= singleCommandMax {
		// Fits in a single non-fragment command.
		cmd := &Command{
			Header: CommandHeader{Command: byte(op) | flags, ChannelID: channelID},
			Data:   packet.Data,
		}
		switch op {
		case OpSendReliable:
			cmd.SendReliable = &SendReliablePayload{DataLength: uint16(len(packet.Data))}
		case OpSendUnreliable:
			cmd.SendUnreliable = &SendUnreliablePayload{DataLength: uint16(len(packet.Data))}
		case OpSendUnsequenced:
			cmd.SendUnsequenced = &SendUnsequencedPayload{DataLength: uint16(len(packet.Data))}
		}
		oc := p.queueOutgoingCommand(cmd, packet, 0, uint16(len(packet.Data)))
		_ = oc
		return nil
	}

	// Fragment. Only reliable and plain unreliable messages fragment; an
	// oversize unsequenced send is rejected rather than silently promoted,
	// since unsequenced framing has no reassembly identity beyond
	// unseqGroup.
	if unsequenced {
		return ErrPacketTooLarge
	}

	fragmentCount := (len(packet.Data) + fragmentPayload - 1) / fragmentPayload
	if fragmentCount > MaxFragmentCount {
		return ErrPacketTooLarge
	}

	op = OpSendFragment
	flags = byte(CommandFlagAcknowledge)
	if !reliable {
		op = OpSendUnreliableFragment
		flags = 0
	}

	startSeq := ch.outgoingReliableSeq + 1
	if !reliable {
		startSeq = ch.outgoingUnreliableSeq + 1
	}

	for i := 0; i < fragmentCount; i++ {
		offset := i * fragmentPayload
		length := fragmentPayload
		if offset+length > len(packet.Data) {
			length = len(packet.Data) - offset
		}
		cmd := &Command{
			Header: CommandHeader{Command: byte(op) | flags, ChannelID: channelID},
			SendFragment: &SendFragmentPayload{
				StartSeq:       startSeq,
				DataLength:     uint16(length),
				FragmentCount:  uint32(fragmentCount),
				FragmentNumber: uint32(i),
				TotalLength:    uint32(len(packet.Data)),
				FragmentOffset: uint32(offset),
			},
			Data: packet.Data[offset : offset+length],
		}
		p.queueOutgoingCommand(cmd, packet, uint32(offset), uint16(length))
	}
	return nil
}

// Recv pops the oldest dispatched command's Packet, mirroring peer_recv.
// Returns nil, 0 if nothing is ready.
func (p *Peer) Recv() (*Packet, byte) {
	if len(p.dispatchedCommands) == 0 {
		return nil, 0
	}
	ic := p.dispatchedCommands[0]
	p.dispatchedCommands = p.dispatchedCommands[1:]
	p.totalWaitingData -= len(ic.packet.Data)
	return ic.packet, ic.cmd.Header.ChannelID
}

// Disconnect requests a graceful close, queuing a DISCONNECT command and
// transitioning through Disconnecting, mirroring peer_disconnect.
func (p *Peer) Disconnect(data uint32) {
	if p.state == StateDisconnecting || p.state == StateDisconnected || p.state == StateAckDisconnect || p.state == StateZombie {
		return
	}
	p.resetQueuesKeepState()
	cmd := &Command{
		Header:     CommandHeader{Command: byte(OpDisconnect) | CommandFlagAcknowledge, ChannelID: 0xFF},
		Disconnect: &DisconnectPayload{Data: data},
	}
	if p.state == StateConnecting || p.state == StateConnectionSucceeded {
		cmd.Header.Command = byte(OpDisconnect)
	}
	p.queueOutgoingCommand(cmd, nil, 0, 0)
	if cmd.Header.Command&CommandFlagAcknowledge != 0 {
		p.changeState(StateDisconnecting)
	} else {
		p.reset()
	}
}

// DisconnectLater finishes draining queued reliable sends before closing,
// mirroring peer_disconnect_later.
func (p *Peer) DisconnectLater(data uint32) {
	if (len(p.outgoingReliableCommands) > 0 || len(p.outgoingUnreliableCommands) > 0 || p.sentReliableCommands.Len() > 0) &&
		(p.state == StateConnected || p.state == StateDisconnectLater) {
		p.eventData = data
		p.changeState(StateDisconnectLater)
		return
	}
	p.Disconnect(data)
}

// DisconnectNow closes immediately without notifying the remote peer,
// mirroring peer_disconnect_now.
func (p *Peer) DisconnectNow(data uint32) {
	if p.state == StateDisconnected {
		return
	}
	if p.state != StateZombie {
		p.reset()
	}
}

// resetQueuesKeepState drains outgoing queues without touching p.state,
// used by Disconnect which manages the transition itself.
func (p *Peer) resetQueuesKeepState() {
	releaseOutgoingSlice(p.sentUnreliableCommands)
	p.sentUnreliableCommands = nil
	releaseOutgoingSlice(p.outgoingReliableCommands)
	p.outgoingReliableCommands = nil
	releaseOutgoingSlice(p.outgoingUnreliableCommands)
	p.outgoingUnreliableCommands = nil
	for e := p.sentReliableCommands.Front(); e != nil; e = e.Next() {
		releaseOutgoing(e.Value.(*outgoingCommand))
	}
	p.sentReliableCommands.Init()
}
