package protocol

import (
	"container/list"
	"net"
)

// Command handlers for incoming wire commands. Each returns an error only
// for malformed/out-of-protocol input; such errors abort parsing the
// remainder of the current datagram (handled by the caller in
// service.go) without necessarily killing the peer.

// queueAck appends a pending acknowledgement for a received command that
// requires one.
func (p *Peer) queueAck(header CommandHeader, sentTime uint16) {
	p.acks = append(p.acks, &ackRecord{
		sentTime: sentTime,
		header:   header,
	})
}

// handleAcknowledge processes an ACKNOWLEDGE command: locates the
// matching sentReliableCommands entry, updates RTT/throttle/loss
// statistics (reliability.go), and drives the connect/disconnect
// handshake state transitions.
func (p *Peer) handleAcknowledge(cmd *Command, serviceTime uint32) error {
	if p.state == StateDisconnected || p.state == StateZombie {
		return nil
	}

	reliableSeq := cmd.Ack.RecvReliableSeq
	elem := p.findSentReliable(reliableSeq)
	if elem == nil {
		return nil
	}
	oc := elem.Value.(*outgoingCommand)
	p.sentReliableCommands.Remove(elem)

	p.reliableDataInTransit -= uint32(oc.fragmentLength)
	if oc.cmd.Header.ChannelID != 0xFF && int(oc.cmd.Header.ChannelID) < len(p.channels) {
		p.channels[oc.cmd.Header.ChannelID].decrementWindow(oc.reliableSeq)
	}

	p.applyAckSample(cmd.Ack.RecvSentTime, serviceTime)

	op := oc.cmd.opcode()
	switch {
	case op == OpConnect && p.state == StateConnecting:
		p.state = StateAckConnect
	case op == OpVerifyConnect && p.state == StateConnectionSucceeded:
		p.notifyConnect()
	case op == OpDisconnect:
		p.dispatchState(StateZombie)
	}

	if oc.packet != nil {
		oc.packet.release()
	}

	if p.state == StateDisconnectLater && len(p.outgoingReliableCommands) == 0 &&
		len(p.outgoingUnreliableCommands) == 0 && p.sentReliableCommands.Len() == 0 {
		p.Disconnect(p.eventData)
	}
	return nil
}

// findSentReliable linearly scans sentReliableCommands for a matching
// reliable sequence number. A map keyed by seq would be faster but the
// teacher's own session bookkeeping (source/protocol/raknet.go's
// acked-range scans) favors simple linear structures over per-peer maps
// at this scale, so this mirrors that texture.
func (p *Peer) findSentReliable(seq uint16) *list.Element {
	for e := p.sentReliableCommands.Front(); e != nil; e = e.Next() {
		if e.Value.(*outgoingCommand).reliableSeq == seq {
			return e
		}
	}
	return nil
}

// notifyConnect marks a Connect event as owed to the application on the
// next dispatch drain, mirroring the Connecting/ConnectionPending ->
// Connected transition.
func (p *Peer) notifyConnect() {
	p.changeState(StateConnected)
	p.pendingConnectEvent = true
	if !p.needsDispatch {
		p.host.pushDispatch(p)
		p.needsDispatch = true
	}
}

// handleConnectCommand allocates a peer slot for an inbound CONNECT,
// negotiates session ids/MTU/window, and queues VERIFY_CONNECT, mirroring
// CONNECT handler and hnet_protocol_handle_connect.
func (h *Host) handleConnectCommand(header PacketHeader, cmd *Command, addr *net.UDPAddr) error {
	c := cmd.Connect
	if c.ChannelCount < MinChannelCount || c.ChannelCount > MaxChannelCount {
		return nil
	}

	for _, existing := range h.peers {
		if existing.state != StateDisconnected && existing.Addr != nil &&
			existing.Addr.String() == addr.String() && existing.connectID == c.ConnectID {
			return nil // replay of an already-established connection
		}
	}
	if h.duplicatePeers > 0 {
		count := 0
		for _, existing := range h.peers {
			if existing.Addr != nil && existing.Addr.IP.Equal(addr.IP) {
				count++
			}
		}
		if count >= h.duplicatePeers {
			return nil
		}
	}

	p := h.allocatePeer()
	if p == nil {
		return nil
	}

	p.Addr = addr
	p.connectID = c.ConnectID
	channelCount := int(c.ChannelCount)
	if channelCount > h.channelLimit {
		channelCount = h.channelLimit
	}
	p.allocateChannels(channelCount)
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingSessionID = nextSessionID(c.OutgoingSessionID, header.SessionID)
	p.outgoingSessionID = nextSessionID(c.IncomingSessionID, header.SessionID)

	mtu := c.MTU
	if mtu < MinMTU {
		mtu = MinMTU
	}
	if mtu > MaxMTU {
		mtu = MaxMTU
	}
	if mtu < p.mtu || p.mtu == 0 {
		p.mtu = mtu
	} else if h.mtu < p.mtu {
		p.mtu = h.mtu
	}

	windowSize := clampWindowSize(min32(h.outgoingBandwidth, c.IncomingBandwidth) / WindowSizeScale * MinWindowSize)
	if h.outgoingBandwidth == 0 && c.IncomingBandwidth == 0 {
		windowSize = MaxWindowSize
	}
	if windowSize < c.WindowSize {
		p.windowSize = windowSize
	} else {
		p.windowSize = clampWindowSize(c.WindowSize)
	}

	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth
	p.packetThrottleInterval = c.ThrottleInterval
	p.packetThrottleAcceleration = c.ThrottleAcceleration
	p.packetThrottleDeceleration = c.ThrottleDeceleration
	p.eventData = c.Data
	p.state = StateConnectionPending

	reply := &Command{
		Header: CommandHeader{Command: byte(OpVerifyConnect) | CommandFlagAcknowledge, ChannelID: 0xFF},
		VerifyConnect: &VerifyConnectPayload{
			OutgoingPeerID:       p.incomingPeerID,
			IncomingSessionID:    p.incomingSessionID,
			OutgoingSessionID:    p.outgoingSessionID,
			MTU:                  p.mtu,
			WindowSize:           p.windowSize,
			ChannelCount:         uint32(p.channelCount),
			IncomingBandwidth:    h.incomingBandwidth,
			OutgoingBandwidth:    h.outgoingBandwidth,
			ThrottleInterval:     p.packetThrottleInterval,
			ThrottleAcceleration: p.packetThrottleAcceleration,
			ThrottleDeceleration: p.packetThrottleDeceleration,
			ConnectID:            p.connectID,
		},
	}
	p.queueOutgoingCommand(reply, nil, 0, 0)
	p.state = StateConnectionSucceeded
	return nil
}

func nextSessionID(received, headerSession uint8) uint8 {
	return (received + 1) & 0x3
}

func min32(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// handleVerifyConnect validates the echoed negotiation parameters and
// completes the client-side handshakemirroring the // VERIFY_CONNECT handler.
func (p *Peer) handleVerifyConnect(cmd *Command) error {
	if p.state != StateConnecting {
		return nil
	}
	v := cmd.VerifyConnect
	if v.ConnectID != p.connectID ||
		v.ThrottleInterval != p.packetThrottleInterval ||
		v.ThrottleAcceleration != p.packetThrottleAcceleration ||
		v.ThrottleDeceleration != p.packetThrottleDeceleration {
		p.DisconnectNow(0)
		return nil
	}
	// The server answers CONNECT with VERIFY_CONNECT instead of an ack, so
	// the CONNECT is retired here rather than by handleAcknowledge.
	for e := p.sentReliableCommands.Front(); e != nil; e = e.Next() {
		if e.Value.(*outgoingCommand).cmd.opcode() == OpConnect {
			p.sentReliableCommands.Remove(e)
			break
		}
	}
	p.outgoingPeerID = v.OutgoingPeerID
	p.incomingSessionID = v.IncomingSessionID
	p.outgoingSessionID = v.OutgoingSessionID
	if v.MTU < p.mtu {
		p.mtu = v.MTU
	}
	if v.WindowSize < p.windowSize {
		p.windowSize = v.WindowSize
	}
	if int(v.ChannelCount) < p.channelCount {
		p.channels = p.channels[:v.ChannelCount]
		p.channelCount = int(v.ChannelCount)
	}
	p.incomingBandwidth = v.IncomingBandwidth
	p.outgoingBandwidth = v.OutgoingBandwidth
	p.notifyConnect()
	return nil
}

// handleDisconnect records the remote's disconnect reason and drops
// queued outgoing work, and moves a connected peer to StateAckDisconnect,
// but does not zombify the peer itself: the
// incoming DISCONNECT command was already queued onto p.acks by the
// caller (handleDatagram), and sendOutgoingCommands' ack-drain step is
// the one that dispatches StateZombie, once that ack has actually gone
// out. Mirrors original_source/src/protocol.cpp's
// hnet_protocol_send_acks, which performs the same check against the
// acked command's opcode rather than reacting to the command on
// receipt.
func (p *Peer) handleDisconnect(cmd *Command) error {
	if p.state == StateDisconnected || p.state == StateZombie {
		return nil
	}
	p.resetQueuesKeepState()
	p.eventData = cmd.Disconnect.Data
	if !cmd.requiresAck() {
		// No ack was queued for this command, so there is nothing for
		// sendOutgoingCommands to drain before zombifying.
		p.dispatchState(StateZombie)
	} else if p.state == StateConnected || p.state == StateDisconnectLater {
		p.changeState(StateAckDisconnect)
	}
	return nil
}

// handlePing is a no-op keepalive outside of the generic ack-queueing and
// timeout-refresh already applied by the receive loop.
func (p *Peer) handlePing(cmd *Command) error {
	return nil
}

// handleSendReliable admits a complete (non-fragment) reliable message
// into its channel.
func (p *Peer) handleSendReliable(cmd *Command, data []byte) error {
	ch, err := p.channelFor(cmd.Header.ChannelID)
	if err != nil {
		return err
	}
	if !ch.admitsIncomingWindow(cmd.Header.ReliableSeq) {
		return nil
	}
	if p.totalWaitingData+len(data) > p.host.maxWaitingData {
		return nil
	}
	packet := NewPacket(data, 0)
	ic := &incomingCommand{cmd: cmd, packet: packet, reliableSeq: cmd.Header.ReliableSeq, fragmentCount: 1}
	if p.admitIncomingReliable(ch, ic) {
		p.totalWaitingData += len(data)
	} else {
		packet.release()
	}
	return nil
}

// handleSendUnreliable admits a plain unreliable message.
func (p *Peer) handleSendUnreliable(cmd *Command, data []byte) error {
	ch, err := p.channelFor(cmd.Header.ChannelID)
	if err != nil {
		return err
	}
	if p.totalWaitingData+len(data) > p.host.maxWaitingData {
		return nil
	}
	packet := NewPacket(data, 0)
	ic := &incomingCommand{
		cmd: cmd, packet: packet,
		reliableSeq:   cmd.Header.ReliableSeq,
		unreliableSeq: cmd.SendUnreliable.UnreliableSeq,
		fragmentCount: 1,
	}
	if p.admitIncomingUnreliable(ch, ic) {
		p.totalWaitingData += len(data)
	} else {
		packet.release()
	}
	return nil
}

// handleSendUnsequenced admits an unsequenced message via the 1024-bit
// dedup bitset.
func (p *Peer) handleSendUnsequenced(cmd *Command, data []byte) error {
	_, err := p.channelFor(cmd.Header.ChannelID)
	if err != nil {
		return err
	}
	packet := NewPacket(data, PacketFlagUnsequenced)
	ic := &incomingCommand{cmd: cmd, packet: packet, fragmentCount: 1}
	if !p.admitUnsequenced(ic, cmd.SendUnsequenced.UnseqGroup) {
		packet.release()
	}
	return nil
}

// handleSendFragment reassembles one fragment of a larger reliable or
// unreliable message. Reliable fragments are identified by f.StartSeq
// alone (a reliable sequence number); unreliable fragments carry their
// reliable channel position in cmd.Header.ReliableSeq and their grouping
// identity as the unreliable sequence number in f.StartSeq, mirroring how
// Peer.Send fills in SendFragmentPayload for OpSendUnreliableFragment.
func (p *Peer) handleSendFragment(cmd *Command, data []byte, reliable bool) error {
	f := cmd.SendFragment
	if f.FragmentCount > MaxFragmentCount || f.FragmentNumber >= f.FragmentCount ||
		uint32(f.FragmentOffset)+uint32(len(data)) > f.TotalLength {
		return nil
	}
	ch, err := p.channelFor(cmd.Header.ChannelID)
	if err != nil {
		return err
	}

	var queue func(*incomingCommand) bool
	var reliableSeq, unreliableSeq uint16
	if reliable {
		if !ch.admitsIncomingWindow(f.StartSeq) {
			return nil
		}
		reliableSeq = f.StartSeq
		queue = func(ic *incomingCommand) bool { return p.admitIncomingReliable(ch, ic) }
	} else {
		reliableSeq = cmd.Header.ReliableSeq
		unreliableSeq = f.StartSeq
		queue = func(ic *incomingCommand) bool { return p.admitIncomingUnreliable(ch, ic) }
	}

	var target *incomingCommand
	queueList := ch.incomingReliableCommands
	if !reliable {
		queueList = ch.incomingUnreliableCommands
	}
	for e := queueList.Front(); e != nil; e = e.Next() {
		ic := e.Value.(*incomingCommand)
		if ic.reliableSeq == reliableSeq && (reliable || ic.unreliableSeq == unreliableSeq) {
			target = ic
			break
		}
	}

	if target == nil {
		if p.totalWaitingData+int(f.TotalLength) > p.host.maxWaitingData {
			return nil
		}
		packet := NewPacket(make([]byte, f.TotalLength), 0)
		target = &incomingCommand{
			cmd: cmd, packet: packet, reliableSeq: reliableSeq, unreliableSeq: unreliableSeq,
			fragmentCount:      f.FragmentCount,
			fragmentsRemaining: f.FragmentCount,
			fragments:          make([]uint32, (f.FragmentCount+31)/32),
		}
		for i := range target.fragments {
			target.fragments[i] = 0xFFFFFFFF
		}
		queue(target)
	}

	word := f.FragmentNumber / 32
	bit := uint32(1) << (f.FragmentNumber % 32)
	if target.fragments[word]&bit != 0 {
		target.fragments[word] &^= bit
		target.fragmentsRemaining--
		copy(target.packet.Data[f.FragmentOffset:], data)
	}

	if target.fragmentsRemaining == 0 {
		p.totalWaitingData += len(target.packet.Data)
		if reliable {
			p.dispatchReliable(ch)
		} else {
			p.dispatchUnreliable(ch)
		}
	}
	return nil
}

func (p *Peer) channelFor(id byte) (*Channel, error) {
	if int(id) >= p.channelCount {
		return nil, ErrChannelOutOfRange
	}
	return p.channels[id], nil
}

// handleBandwidthLimit updates the peer's advertised bandwidth caps and
// asks the host to recompute apportionment.
func (p *Peer) handleBandwidthLimit(cmd *Command) error {
	p.incomingBandwidth = cmd.BandwidthLimit.IncomingBandwidth
	p.outgoingBandwidth = cmd.BandwidthLimit.OutgoingBandwidth
	p.host.recalculateBandwidthLimits = true
	return nil
}

// handleThrottleConfigure adopts the remote peer's throttle parameters.
func (p *Peer) handleThrottleConfigure(cmd *Command) error {
	p.packetThrottleInterval = cmd.ThrottleConfigure.Interval
	p.packetThrottleAcceleration = cmd.ThrottleConfigure.Acceleration
	p.packetThrottleDeceleration = cmd.ThrottleConfigure.Deceleration
	return nil
}
