package protocol

import "container/list"

// Channel is a peer's independently sequenced substream. The two
// incoming queues use container/list rather than a hand-rolled intrusive
// list: no ordered-list/deque library fits better here, so the standard
// library is the grounded choice, not a fallback.
type Channel struct {
	outgoingReliableSeq   uint16
	outgoingUnreliableSeq uint16
	usedReliableWindows   uint16
	reliableWindows       [ReliableWindows]uint16
	incomingReliableSeq   uint16
	incomingUnreliableSeq uint16

	incomingReliableCommands   *list.List // *incomingCommand, sorted by reliableSeq
	incomingUnreliableCommands *list.List // *incomingCommand, sorted by (reliableSeq, unreliableSeq)
}

func newChannel() *Channel {
	return &Channel{
		incomingReliableCommands:   list.New(),
		incomingUnreliableCommands: list.New(),
	}
}

func (c *Channel) reset() {
	*c = Channel{
		incomingReliableCommands:   list.New(),
		incomingUnreliableCommands: list.New(),
	}
}

// windowOf returns which of the ReliableWindows partitions a reliable
// sequence number falls in.
func windowOf(seq uint16) uint16 {
	return seq / ReliableWindowSize
}

// admitsOutgoingWindow reports whether seq's window is within the
// currently free horizon starting at the channel's outgoing window.
func (c *Channel) admitsOutgoingWindow(seq uint16) bool {
	w := windowOf(seq)
	base := windowOf(c.outgoingReliableSeq+1) % ReliableWindows
	for i := 0; i < FreeReliableWindows; i++ {
		if w == (base+uint16(i))%ReliableWindows {
			return c.reliableWindows[w] < 0xFFFF
		}
	}
	return false
}

func (c *Channel) admitsIncomingWindow(seq uint16) bool {
	w := windowOf(seq)
	base := windowOf(c.incomingReliableSeq) % ReliableWindows
	for i := 0; i < FreeReliableWindows; i++ {
		if w == (base+uint16(i))%ReliableWindows {
			return true
		}
	}
	return false
}

func (c *Channel) incrementWindow(seq uint16) {
	c.reliableWindows[windowOf(seq)]++
	c.usedReliableWindows |= 1 << windowOf(seq)
}

func (c *Channel) decrementWindow(seq uint16) {
	w := windowOf(seq)
	if c.reliableWindows[w] > 0 {
		c.reliableWindows[w]--
	}
	if c.reliableWindows[w] == 0 {
		c.usedReliableWindows &^= 1 << w
	}
}
