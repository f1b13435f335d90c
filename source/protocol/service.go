package protocol

import (
	"net"
	"os"
	"time"
)

// Service drives one iteration of the transport's cooperative loop:
// drain the dispatch queue, send outgoing commands for every peer,
// receive and parse incoming datagrams, and optionally block once on the
// socket up to timeout. Must not be called concurrently with itself or
// with Send/Connect/Disconnect on the same Host.
func (h *Host) Service(timeout time.Duration) (Event, error) {
	h.serviceTime = nowMillis()

	if ev := h.drainDispatch(); ev != nil {
		return *ev, nil
	}

	if h.recalculateBandwidthLimits && timeDiff(h.serviceTime, h.bandwidthThrottleEpoch) >= BandwidthThrottleInterval {
		h.applyBandwidthRecalculation(h.serviceTime)
	}

	for {
		h.continueSending = false
		if err := h.sendOutgoingCommands(); err != nil {
			return Event{}, err
		}
		if !h.continueSending {
			break
		}
	}

	if ev := h.drainDispatch(); ev != nil {
		return *ev, nil
	}

	_ = h.waitReadable(0)
	if ev, err := h.receiveIncoming(); err != nil {
		return Event{}, err
	} else if ev != nil {
		return *ev, nil
	}

	if ev := h.drainDispatch(); ev != nil {
		return *ev, nil
	}

	if timeout <= 0 || h.sock == nil {
		return Event{Type: EventNone}, nil
	}

	if err := h.waitReadable(timeout); err != nil {
		return Event{}, err
	}
	if ev, err := h.receiveIncoming(); err != nil {
		return Event{}, err
	} else if ev != nil {
		return *ev, nil
	}
	if ev := h.drainDispatch(); ev != nil {
		return *ev, nil
	}
	return Event{Type: EventNone}, nil
}

// Flush sends pending outgoing data without blocking and without
// receiving, mirroring host_flush.
func (h *Host) Flush() error {
	h.serviceTime = nowMillis()
	for {
		h.continueSending = false
		if err := h.sendOutgoingCommands(); err != nil {
			return err
		}
		if !h.continueSending {
			return nil
		}
	}
}

// sendOutgoingCommands is the "send outgoing commands" phase of the
// service loop: for every non-terminal peer, drain acks, run
// retransmit-timeout handling if due, then pack reliable and unreliable
// outgoing commands
// into carrier datagrams under the MTU/window/command-count limits. This
// completes the bodyless hnet_protocol_send_outgoing_commands from the
// original source design note.
func (h *Host) sendOutgoingCommands() error {
	for _, p := range h.peers {
		if p.state == StateDisconnected || p.state == StateZombie || p.Addr == nil {
			continue
		}

		if timeGE(h.serviceTime, p.nextTimeout) && p.sentReliableCommands.Len() > 0 {
			if p.checkTimeouts(h.serviceTime) {
				continue
			}
		}
		p.nextTimeout = h.serviceTime + p.pingInterval

		if p.state == StateConnected && len(p.outgoingReliableCommands) == 0 && p.sentReliableCommands.Len() == 0 &&
			timeDiff(h.serviceTime, p.lastRecvTime) >= p.pingInterval {
			p.Ping()
		}

		if p.packetLossEpoch == 0 {
			p.packetLossEpoch = h.serviceTime
		} else if timeDiff(h.serviceTime, p.packetLossEpoch) >= PacketLossInterval && p.packetsSent > 0 {
			loss := uint32(uint64(p.packetsLost) * PacketLossScale / uint64(p.packetsSent))
			diff := loss - p.packetLoss
			if p.packetLoss > loss {
				diff = p.packetLoss - loss
			}
			p.packetLossVariance = (p.packetLossVariance*3 + diff) / 4
			p.packetLoss = (p.packetLoss*7 + loss) / 8
			p.packetLossEpoch = h.serviceTime
			p.packetsSent = 0
			p.packetsLost = 0
		}

		header := PacketHeader{
			PeerID:    p.outgoingPeerID,
			SessionID: p.outgoingSessionID,
			Flags:     HeaderFlagSentTime,
			SentTime:  uint16(h.serviceTime),
		}
		buf := EncodeHeader(header)
		commandCount := 0

		for len(p.acks) > 0 && commandCount < MaxPacketCommands {
			ack := p.acks[0]
			tail := CommandTailSize(byte(OpAcknowledge))
			if len(buf)+commandHeaderSize+tail > int(p.mtu) {
				break
			}
			p.acks = p.acks[1:]
			cmd := &Command{
				Header: CommandHeader{Command: byte(OpAcknowledge), ChannelID: ack.header.ChannelID, ReliableSeq: ack.header.ReliableSeq},
				Ack:    &AckPayload{RecvReliableSeq: ack.header.ReliableSeq, RecvSentTime: ack.sentTime},
			}
			buf = append(buf, EncodeCommand(cmd)...)
			commandCount++

			if Opcode(ack.header.Command&CommandMask) == OpDisconnect {
				// The command being acked was a DISCONNECT: the ack is now in
				// the outgoing buffer, so it is safe to zombify the peer,
				// mirroring hnet_protocol_send_acks.
				p.dispatchState(StateZombie)
			}
		}

		// full records that a command was held back only because this
		// datagram ran out of room; window-held commands do not set it, as
		// another pass in this same Service call cannot send them either.
		full := false
		sendQueue := func(queue *[]*outgoingCommand, reliable bool) {
			kept := (*queue)[:0]
			for _, oc := range *queue {
				if commandCount >= MaxPacketCommands || len(buf)+commandHeaderSize+CommandTailSize(oc.cmd.Header.Command)+len(oc.cmd.Data) > int(p.mtu) {
					full = true
					kept = append(kept, oc)
					continue
				}
				if reliable {
					ch := (*Channel)(nil)
					if oc.cmd.Header.ChannelID != 0xFF {
						ch = p.channels[oc.cmd.Header.ChannelID]
					}
					if ch != nil && !ch.admitsOutgoingWindow(oc.reliableSeq) {
						kept = append(kept, oc)
						continue
					}
					if p.reliableDataInTransit+uint32(oc.fragmentLength) > p.windowSize {
						kept = append(kept, oc)
						continue
					}
				}

				oc.cmd.Header.ReliableSeq = oc.reliableSeq
				buf = append(buf, EncodeCommand(oc.cmd)...)
				buf = append(buf, oc.cmd.Data...)
				commandCount++

				if reliable {
					oc.sentTime = h.serviceTime
					oc.roundTripTimeout = p.roundTripTime + 4*p.roundTripTimeVariance
					oc.roundTripTimeoutLimit = p.timeoutLimit * oc.roundTripTimeout
					p.reliableDataInTransit += uint32(oc.fragmentLength)
					p.sentReliableCommands.PushBack(oc)
					p.packetsSent++
				} else {
					if oc.packet != nil {
						oc.packet.markSent()
						oc.packet.release()
					}
				}
			}
			*queue = kept
		}

		sendQueue(&p.outgoingReliableCommands, true)
		sendQueue(&p.outgoingUnreliableCommands, false)

		if full || len(p.acks) > 0 {
			h.continueSending = true
		}

		if commandCount == 0 {
			// Nothing but a bare header was produced; ENet-family hosts
			// still skip sending an empty datagram.
			continue
		}

		if err := h.transmit(p, buf); err != nil {
			return err
		}
		p.lastSendTime = h.serviceTime
	}
	return nil
}

func (h *Host) transmit(p *Peer, buf []byte) error {
	out := buf
	if h.compressor != nil {
		compressed, err := h.compressor.Compress(buf)
		if err == nil && len(compressed) < len(buf) {
			out = compressed
		}
	}
	if h.checksum != nil {
		// The hook observes the final bytes; its return value is not
		// appended to the datagram.
		_ = h.checksum(out)
	}
	n, err := h.sock.WriteTo(out, p.Addr)
	if err != nil {
		return err
	}
	if h.Metrics != nil {
		h.Metrics.PacketsSent.Inc()
		h.Metrics.BytesSent.Add(float64(n))
	}
	return nil
}

// receiveIncoming parses up to MaxDatagramsPerService datagrams, routing
// each to its target peer (or nil for CONNECT).
func (h *Host) receiveIncoming() (*Event, error) {
	if h.sock == nil {
		return nil, nil
	}
	for i := 0; i < MaxDatagramsPerService; i++ {
		n, addr, err := h.sock.ReadFrom(h.receivedData[:])
		if err != nil {
			if isWouldBlock(err) {
				return nil, nil
			}
			return nil, err
		}
		if n == 0 {
			continue
		}
		data := h.receivedData[:n]

		if h.Metrics != nil {
			h.Metrics.PacketsReceived.Inc()
			h.Metrics.BytesReceived.Add(float64(n))
		}

		if h.intercept != nil && h.intercept(h, data, addr) {
			continue
		}

		if ev := h.handleDatagram(data, addr); ev != nil {
			return ev, nil
		}
	}
	return nil, nil
}

// waitReadable blocks until the socket has data or timeout elapses.
func (h *Host) waitReadable(timeout time.Duration) error {
	if h.sock == nil {
		return nil
	}
	return h.sock.SetReadDeadline(time.Now().Add(timeout))
}

// isWouldBlock reports whether err is a read timeout/deadline expiry, the
// signal used throughout service.go to mean "no datagram ready" rather
// than a real socket failure.
func isWouldBlock(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}

func (h *Host) handleDatagram(data []byte, addr *net.UDPAddr) *Event {
	header, consumed, err := DecodeHeader(data)
	if err != nil {
		return nil
	}
	data = data[consumed:]

	var p *Peer
	if int(header.PeerID) < len(h.peers) {
		candidate := h.peers[header.PeerID]
		if candidate.state != StateDisconnected {
			p = candidate
		}
	}

	for len(data) > 0 {
		cmd, n, err := DecodeCommand(data)
		if err != nil {
			return nil
		}
		tailEnd := n
		payloadLen := cmd.dataLength()
		if payloadLen > 0 {
			if tailEnd+payloadLen > len(data) {
				return nil
			}
			cmd.Data = data[tailEnd : tailEnd+payloadLen]
			tailEnd += payloadLen
		}
		data = data[tailEnd:]

		if cmd.opcode() == OpConnect {
			if p == nil {
				_ = h.handleConnectCommand(header, cmd, addr)
			}
			continue
		}
		if p == nil {
			continue
		}

		if cmd.requiresAck() && p.state != StateAckConnect {
			p.queueAck(cmd.Header, header.SentTime)
		}
		p.lastRecvTime = h.serviceTime
		p.earliestTimeout = 0

		switch cmd.opcode() {
		case OpAcknowledge:
			_ = p.handleAcknowledge(cmd, h.serviceTime)
		case OpVerifyConnect:
			_ = p.handleVerifyConnect(cmd)
		case OpDisconnect:
			_ = p.handleDisconnect(cmd)
		case OpPing:
			_ = p.handlePing(cmd)
		case OpSendReliable:
			_ = p.handleSendReliable(cmd, cmd.Data)
		case OpSendUnreliable:
			_ = p.handleSendUnreliable(cmd, cmd.Data)
		case OpSendUnsequenced:
			_ = p.handleSendUnsequenced(cmd, cmd.Data)
		case OpSendFragment:
			_ = p.handleSendFragment(cmd, cmd.Data, true)
		case OpSendUnreliableFragment:
			_ = p.handleSendFragment(cmd, cmd.Data, false)
		case OpBandwidthLimit:
			_ = p.handleBandwidthLimit(cmd)
		case OpThrottleConfigure:
			_ = p.handleThrottleConfigure(cmd)
		}
	}
	return nil
}
