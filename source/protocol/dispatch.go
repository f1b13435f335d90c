package protocol

// admitIncomingReliable inserts an incoming reliable/fragment command into
// channel.incomingReliableCommands at the position preserving wrap-aware
// seq order, searched from the tail, rejecting exact-seq duplicates, then
// attempts to release any now-contiguous head of the queue. Mirrors
// reliable insertion/dispatch rule.
func (p *Peer) admitIncomingReliable(ch *Channel, ic *incomingCommand) bool {
	for e := ch.incomingReliableCommands.Back(); e != nil; e = e.Prev() {
		other := e.Value.(*incomingCommand)
		if other.reliableSeq == ic.reliableSeq {
			return false
		}
		if seqLess(other.reliableSeq, ic.reliableSeq) {
			ch.incomingReliableCommands.InsertAfter(ic, e)
			p.dispatchReliable(ch)
			return true
		}
	}
	ch.incomingReliableCommands.PushFront(ic)
	p.dispatchReliable(ch)
	return true
}

// dispatchReliable releases a contiguous run from the head of
// incomingReliableCommands whose reliableSeq matches
// incomingReliableSeq+1, honoring fragment-reassembly completeness.
func (p *Peer) dispatchReliable(ch *Channel) {
	advanced := false
	for {
		e := ch.incomingReliableCommands.Front()
		if e == nil {
			break
		}
		ic := e.Value.(*incomingCommand)
		if ic.reliableSeq != ch.incomingReliableSeq+1 {
			break
		}
		if ic.fragmentsRemaining > 0 {
			break
		}
		ch.incomingReliableCommands.Remove(e)
		ch.incomingReliableSeq = ic.reliableSeq
		if ic.fragmentCount > 1 {
			ch.incomingReliableSeq += uint16(ic.fragmentCount - 1)
		}
		p.dispatchIncoming(ic)
		advanced = true
	}
	if advanced {
		ch.incomingUnreliableSeq = 0
		p.dispatchUnreliable(ch)
	}
}

// admitIncomingUnreliable inserts an unreliable command in
// (reliableSeq, unreliableSeq) order and re-attempts dispatch.
func (p *Peer) admitIncomingUnreliable(ch *Channel, ic *incomingCommand) bool {
	for e := ch.incomingUnreliableCommands.Back(); e != nil; e = e.Prev() {
		other := e.Value.(*incomingCommand)
		if other.reliableSeq == ic.reliableSeq && other.unreliableSeq == ic.unreliableSeq {
			return false
		}
		if seqLess(other.reliableSeq, ic.reliableSeq) ||
			(other.reliableSeq == ic.reliableSeq && seqLess(other.unreliableSeq, ic.unreliableSeq)) {
			ch.incomingUnreliableCommands.InsertAfter(ic, e)
			p.dispatchUnreliable(ch)
			return true
		}
	}
	ch.incomingUnreliableCommands.PushFront(ic)
	p.dispatchUnreliable(ch)
	return true
}

// dispatchUnreliable walks incomingUnreliableCommands releasing commands
// whose reliableSeq equals the channel's current reliable position in
// unreliableSeq order, dropping stale entries and stopping at anything
// still ahead.
func (p *Peer) dispatchUnreliable(ch *Channel) {
	for {
		e := ch.incomingUnreliableCommands.Front()
		if e == nil {
			return
		}
		ic := e.Value.(*incomingCommand)
		if seqGreater(ic.reliableSeq, ch.incomingReliableSeq) {
			return
		}
		ch.incomingUnreliableCommands.Remove(e)
		if ic.reliableSeq == ch.incomingReliableSeq {
			p.dispatchIncoming(ic)
		} else {
			releaseIncoming(ic)
		}
	}
}

// dispatchIncoming moves ic onto the peer's dispatchedCommands and
// enqueues the peer on the host's dispatch queue if needed.
func (p *Peer) dispatchIncoming(ic *incomingCommand) {
	p.dispatchedCommands = append(p.dispatchedCommands, ic)
	if !p.needsDispatch {
		p.host.pushDispatch(p)
		p.needsDispatch = true
	}
}

// admitUnsequenced applies the 1024-bit dedup bitset and delivers
// directly to dispatchedCommands on first sight.
func (p *Peer) admitUnsequenced(ic *incomingCommand, unseqGroup uint16) bool {
	index := uint(unseqGroup) % UnsequencedWindowSize
	word := index / 32
	bit := uint32(1) << (index % 32)

	if seqGreaterUint16(unseqGroup, p.incomingUnseqGroup) &&
		uint16(unseqGroup-p.incomingUnseqGroup) >= FreeUnsequencedWindows*32 {
		for i := range p.unseqWindow {
			p.unseqWindow[i] = 0
		}
		p.incomingUnseqGroup = unseqGroup
	}

	if p.unseqWindow[word]&bit != 0 {
		return false
	}
	p.unseqWindow[word] |= bit
	p.dispatchIncoming(ic)
	return true
}

func seqGreaterUint16(a, b uint16) bool { return seqGreater(a, b) }

// drainDispatch consumes one dispatched command from the host's dispatch
// queue and converts it into an Event. Peers re-enqueue themselves (via
// dispatchIncoming/dispatchState) if more work remains after partial
// drain, matching needsDispatch's single-linkage semantics.
func (h *Host) drainDispatch() *Event {
	for {
		p := h.popDispatch()
		if p == nil {
			return nil
		}

		if p.pendingConnectEvent {
			p.pendingConnectEvent = false
			if len(p.dispatchedCommands) > 0 || p.state == StateZombie {
				h.pushDispatch(p)
				p.needsDispatch = true
			}
			return &Event{Type: EventConnect, Peer: p, Data: p.eventData}
		}

		if len(p.dispatchedCommands) > 0 {
			ic := p.dispatchedCommands[0]
			p.dispatchedCommands = p.dispatchedCommands[1:]
			p.totalWaitingData -= len(ic.packet.Data)
			if len(p.dispatchedCommands) > 0 || p.state == StateZombie {
				h.pushDispatch(p)
				p.needsDispatch = true
			}
			return &Event{Type: EventReceive, Peer: p, ChannelID: ic.cmd.Header.ChannelID, Packet: ic.packet}
		}
		if p.state == StateZombie {
			data := p.eventData
			p.reset()
			return &Event{Type: EventDisconnect, Peer: p, Data: data}
		}
	}
}
