package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newLoopbackHost binds a server-style Host to an ephemeral localhost port
// so tests can drive two real Hosts over a real UDP socket pair rather than
// faking the transport beneath them.
func newLoopbackHost(t *testing.T, peerCount int) *Host {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	h, err := HostCreate(HostConfig{Addr: addr, PeerCount: peerCount, ChannelLimit: 2})
	require.NoError(t, err)
	return h
}

func newClientHost(t *testing.T) *Host {
	t.Helper()
	h, err := HostCreate(HostConfig{PeerCount: 1, ChannelLimit: 2})
	require.NoError(t, err)
	return h
}

// pending holds events a host produced while serviceUntil was waiting on
// its counterpart, so a later wait on that host still sees them.
var pending = map[*Host][]Event{}

// serviceUntil polls Service on h, and on other so the two hosts keep
// exchanging datagrams, until h yields an event whose Type is one of want
// or deadline elapses. Events other yields meanwhile go to pending.
func serviceUntil(t *testing.T, h, other *Host, deadline time.Duration, want ...EventType) Event {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		var ev Event
		if queued := pending[h]; len(queued) > 0 {
			ev, pending[h] = queued[0], queued[1:]
		} else {
			var err error
			ev, err = h.Service(5 * time.Millisecond)
			require.NoError(t, err)
		}
		for _, w := range want {
			if ev.Type == w {
				return ev
			}
		}
		otherEv, err := other.Service(0)
		require.NoError(t, err)
		if otherEv.Type != EventNone {
			pending[other] = append(pending[other], otherEv)
		}
	}
	t.Fatalf("timed out waiting for event %v", want)
	return Event{}
}

func TestConnectHandshakeRoundTrip(t *testing.T) {
	server := newLoopbackHost(t, 4)
	defer server.Destroy()
	client := newClientHost(t)
	defer client.Destroy()

	serverAddr := server.sock.LocalAddr().(*net.UDPAddr)
	peer, err := client.Connect(serverAddr, 2, 0xCAFE)
	require.NoError(t, err)
	require.NotNil(t, peer)

	serverSideEvent := serviceUntil(t, server, client, time.Second, EventConnect)
	require.Equal(t, uint32(0xCAFE), serverSideEvent.Data)

	clientSideEvent := serviceUntil(t, client, server, time.Second, EventConnect)
	require.Same(t, peer, clientSideEvent.Peer)
	require.True(t, peer.Connected())
}

func TestSendReliableDeliversPayload(t *testing.T) {
	server := newLoopbackHost(t, 4)
	defer server.Destroy()
	client := newClientHost(t)
	defer client.Destroy()

	serverAddr := server.sock.LocalAddr().(*net.UDPAddr)
	clientPeer, err := client.Connect(serverAddr, 2, 0)
	require.NoError(t, err)

	serviceUntil(t, server, client, time.Second, EventConnect)
	serviceUntil(t, client, server, time.Second, EventConnect)

	payload := []byte("hello, reliable channel")
	require.NoError(t, clientPeer.Send(0, NewPacket(payload, PacketFlagReliable)))

	ev := serviceUntil(t, server, client, time.Second, EventReceive)
	require.Equal(t, byte(0), ev.ChannelID)
	require.Equal(t, payload, ev.Packet.Data)
}

func TestSendReliableFragmentsAndReassembles(t *testing.T) {
	server := newLoopbackHost(t, 4)
	defer server.Destroy()
	client := newClientHost(t)
	defer client.Destroy()

	serverAddr := server.sock.LocalAddr().(*net.UDPAddr)
	clientPeer, err := client.Connect(serverAddr, 2, 0)
	require.NoError(t, err)

	serviceUntil(t, server, client, time.Second, EventConnect)
	serviceUntil(t, client, server, time.Second, EventConnect)

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, clientPeer.Send(1, NewPacket(payload, PacketFlagReliable)))

	ev := serviceUntil(t, server, client, 3*time.Second, EventReceive)
	require.Equal(t, byte(1), ev.ChannelID)
	require.Equal(t, payload, ev.Packet.Data)
}

func TestSendUnsequencedDeliversOnce(t *testing.T) {
	server := newLoopbackHost(t, 4)
	defer server.Destroy()
	client := newClientHost(t)
	defer client.Destroy()

	serverAddr := server.sock.LocalAddr().(*net.UDPAddr)
	clientPeer, err := client.Connect(serverAddr, 1, 0)
	require.NoError(t, err)

	serviceUntil(t, server, client, time.Second, EventConnect)
	serviceUntil(t, client, server, time.Second, EventConnect)

	packet := NewPacket([]byte("unsequenced payload"), PacketFlagUnsequenced)
	require.NoError(t, clientPeer.Send(0, packet))

	ev := serviceUntil(t, server, client, time.Second, EventReceive)
	require.Equal(t, packet.Data, ev.Packet.Data)

	// A second Service pass should not surface a duplicate delivery for
	// the same unsequenced group; the peer should sit idle until
	// something new arrives.
	ev2, err := server.Service(20 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, EventNone, ev2.Type)
}

func TestDisconnectNotifiesRemotePeer(t *testing.T) {
	server := newLoopbackHost(t, 4)
	defer server.Destroy()
	client := newClientHost(t)
	defer client.Destroy()

	serverAddr := server.sock.LocalAddr().(*net.UDPAddr)
	clientPeer, err := client.Connect(serverAddr, 1, 0)
	require.NoError(t, err)

	serviceUntil(t, server, client, time.Second, EventConnect)
	serviceUntil(t, client, server, time.Second, EventConnect)

	clientPeer.Disconnect(0x1)

	ev := serviceUntil(t, server, client, time.Second, EventDisconnect)
	require.Equal(t, uint32(0x1), ev.Data)
}
