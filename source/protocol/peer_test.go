package protocol

import "testing"

func TestAdmitIncomingReliableDispatchesInOrder(t *testing.T) {
	p := newTestPeer()
	ch := newChannel()

	mkCmd := func(seq uint16, payload string) *incomingCommand {
		return &incomingCommand{
			cmd:           &Command{Header: CommandHeader{ReliableSeq: seq}},
			packet:        NewPacket([]byte(payload), 0),
			reliableSeq:   seq,
			fragmentCount: 1,
		}
	}

	// Seq 2 and 3 arrive before seq 1; nothing should dispatch until the
	// gap at seq 1 (incomingReliableSeq+1) is filled.
	if !p.admitIncomingReliable(ch, mkCmd(3, "three")) {
		t.Fatalf("expected seq 3 admitted")
	}
	if !p.admitIncomingReliable(ch, mkCmd(2, "two")) {
		t.Fatalf("expected seq 2 admitted")
	}
	if len(p.dispatchedCommands) != 0 {
		t.Fatalf("expected no dispatch yet, got %d", len(p.dispatchedCommands))
	}

	if !p.admitIncomingReliable(ch, mkCmd(1, "one")) {
		t.Fatalf("expected seq 1 admitted")
	}
	if len(p.dispatchedCommands) != 3 {
		t.Fatalf("expected all three commands dispatched in order, got %d", len(p.dispatchedCommands))
	}
	want := []string{"one", "two", "three"}
	for i, ic := range p.dispatchedCommands {
		if string(ic.packet.Data) != want[i] {
			t.Errorf("dispatch[%d] = %q, want %q", i, ic.packet.Data, want[i])
		}
	}
	if ch.incomingReliableSeq != 3 {
		t.Fatalf("expected channel's incomingReliableSeq advanced to 3, got %d", ch.incomingReliableSeq)
	}
}

func TestAdmitIncomingReliableRejectsDuplicateOfPendingSeq(t *testing.T) {
	p := newTestPeer()
	ch := newChannel()

	// Seq 2 arrives and waits (seq 1 is still missing), so it stays
	// pending in the channel's reorder queue.
	cmd := &incomingCommand{
		cmd:           &Command{Header: CommandHeader{ReliableSeq: 2}},
		packet:        NewPacket([]byte("x"), 0),
		reliableSeq:   2,
		fragmentCount: 1,
	}
	if !p.admitIncomingReliable(ch, cmd) {
		t.Fatalf("expected first admission of seq 2 to succeed")
	}

	dup := &incomingCommand{
		cmd:           &Command{Header: CommandHeader{ReliableSeq: 2}},
		packet:        NewPacket([]byte("x"), 0),
		reliableSeq:   2,
		fragmentCount: 1,
	}
	if p.admitIncomingReliable(ch, dup) {
		t.Fatalf("expected duplicate seq 2 to be rejected while still pending")
	}
}
