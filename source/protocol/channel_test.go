package protocol

import "testing"

func TestChannelOutgoingWindowAdmission(t *testing.T) {
	ch := newChannel()

	if !ch.admitsOutgoingWindow(1) {
		t.Fatalf("expected seq 1 to be admitted into a fresh channel's window")
	}

	ch.incrementWindow(1)
	ch.outgoingReliableSeq = 1

	farFuture := uint16((FreeReliableWindows + 2) * ReliableWindowSize)
	if ch.admitsOutgoingWindow(farFuture) {
		t.Fatalf("expected seq %d to be rejected, beyond the free-window horizon", farFuture)
	}
}

func TestChannelWindowIncrementDecrement(t *testing.T) {
	ch := newChannel()
	ch.incrementWindow(10)
	if ch.reliableWindows[windowOf(10)] != 1 {
		t.Fatalf("expected window count 1 after one increment")
	}
	ch.incrementWindow(10)
	if ch.reliableWindows[windowOf(10)] != 2 {
		t.Fatalf("expected window count 2 after two increments")
	}
	ch.decrementWindow(10)
	ch.decrementWindow(10)
	if ch.reliableWindows[windowOf(10)] != 0 {
		t.Fatalf("expected window count 0 after matching decrements")
	}
	if ch.usedReliableWindows != 0 {
		t.Fatalf("expected usedReliableWindows cleared once its count reaches 0")
	}
}

func TestChannelIncomingWindowAdmission(t *testing.T) {
	ch := newChannel()
	ch.incomingReliableSeq = 0

	if !ch.admitsIncomingWindow(1) {
		t.Fatalf("expected seq 1 admitted just past the current position")
	}

	tooFar := uint16(FreeReliableWindows * ReliableWindowSize)
	if ch.admitsIncomingWindow(tooFar) {
		t.Fatalf("expected seq %d rejected, outside the free incoming horizon", tooFar)
	}
}
