package protocol

import "testing"

func newTestPeer() *Peer {
	h := &Host{peers: make([]*Peer, 1)}
	p := newPeer(h, 0)
	h.peers[0] = p
	return p
}

func TestAdmitUnsequencedRejectsExactDuplicate(t *testing.T) {
	p := newTestPeer()

	first := &incomingCommand{packet: NewPacket([]byte("a"), 0), fragmentCount: 1}
	if !p.admitUnsequenced(first, 5) {
		t.Fatalf("expected first delivery of group 5 to be admitted")
	}

	second := &incomingCommand{packet: NewPacket([]byte("a"), 0), fragmentCount: 1}
	if p.admitUnsequenced(second, 5) {
		t.Fatalf("expected duplicate of group 5 to be rejected")
	}
}

func TestAdmitUnsequencedAdmitsDistinctGroups(t *testing.T) {
	p := newTestPeer()

	if !p.admitUnsequenced(&incomingCommand{packet: NewPacket([]byte("a"), 0), fragmentCount: 1}, 1) {
		t.Fatalf("expected group 1 admitted")
	}
	if !p.admitUnsequenced(&incomingCommand{packet: NewPacket([]byte("b"), 0), fragmentCount: 1}, 2) {
		t.Fatalf("expected group 2 admitted")
	}
}

func TestAdmitUnsequencedSlidesWindowForward(t *testing.T) {
	p := newTestPeer()
	p.incomingUnseqGroup = 0

	if !p.admitUnsequenced(&incomingCommand{packet: NewPacket([]byte("a"), 0), fragmentCount: 1}, 0) {
		t.Fatalf("expected group 0 admitted")
	}

	far := uint16(FreeUnsequencedWindows*32 + 10)
	if !p.admitUnsequenced(&incomingCommand{packet: NewPacket([]byte("b"), 0), fragmentCount: 1}, far) {
		t.Fatalf("expected far group %d to be admitted after the window slides", far)
	}
	if p.incomingUnseqGroup != far {
		t.Fatalf("expected incomingUnseqGroup advanced to %d, got %d", far, p.incomingUnseqGroup)
	}
}
