package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/blang/semver"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"hnet-go/pkg/metrics"
)

// ProtocolVersion tags the negotiated software/protocol version carried in
// log fields for diagnostics; it is never written to the wire (the wire
// framing itself has no version field).
var ProtocolVersion = semver.MustParse("1.0.0")

// Compressor mirrors HNetCompressor: an optional pluggable payload codec
// applied to whole carrier datagrams before send / after receive.
type Compressor interface {
	Compress(in []byte) ([]byte, error)
	Decompress(in []byte) ([]byte, error)
}

// Checksum is an optional hook called with every outgoing carrier
// datagram, mirroring HNetChecksumCallback. Its result is not written into
// the datagram, and received datagrams are not checked against it.
type Checksum func(data []byte) uint32

// InterceptFunc lets the application observe or swallow a raw datagram
// before host dispatch, mirroring HNetInterceptCallback. Returning true
// swallows the datagram (the host performs no further processing on it).
type InterceptFunc func(host *Host, data []byte, from *net.UDPAddr) bool

// Host owns one UDP socket and the set of Peer slots multiplexed across
// it. Field layout mirrors include/host.h; Go-specific additions (Log,
// Metrics, randomSeed derivation) are called out inline.
type Host struct {
	sock socket

	peers        []*Peer
	peerCount    int
	channelLimit int

	incomingBandwidth uint32
	outgoingBandwidth uint32
	bandwidthThrottleEpoch uint32

	mtu              uint32
	randomSeed       uint32
	recalculateBandwidthLimits bool
	connectedPeers   int
	bandwidthLimitedPeers int
	duplicatePeers   int
	maxPacketSize    int
	maxWaitingData   int

	compressor Compressor
	checksum   Checksum
	intercept  InterceptFunc

	dispatchQueue []*Peer

	// serviceTime is the millisecond timestamp latched at the top of each
	// Service call; every peer/channel comparison within that call uses
	// this value rather than re-sampling the clock, matching
	// hnet_host_service's single serviceTime local.
	serviceTime uint32

	continueSending bool

	// receivedData is the scratch receive buffer reused across Service
	// calls, mirroring the original's single static buffer
	// rather than allocating per datagram.
	receivedData [MaxMTU]byte

	// Log and Metrics are the ambient, non-wire collaborators: structured
	// per-peer/per-event logging and optional Prometheus counters. Both
	// may be left nil in HostConfig (Log falls back to logrus' standard
	// logger, Metrics to an unregistered metrics.NewMetrics(nil) set).
	Log     *logrus.Entry
	Metrics *metrics.Metrics
}

// HostConfig configures HostCreate; fields left zero fall back to package
// defaults.
type HostConfig struct {
	Addr              *net.UDPAddr // nil => client host on an ephemeral local port
	PeerCount         int
	ChannelLimit      int
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
	MTU               uint32
	DuplicatePeers    int
	Log               *logrus.Entry
	Metrics           *metrics.Metrics
}

// HostCreate allocates peerCount slots and binds a UDP socket to cfg.Addr,
// or to an ephemeral local port if cfg.Addr is nil, mirroring hnet_host_create /
// hnet_host_initialize's field defaults.
func HostCreate(cfg HostConfig) (*Host, error) {
	channelLimit := cfg.ChannelLimit
	if channelLimit < MinChannelCount {
		channelLimit = MinChannelCount
	}
	if channelLimit > MaxChannelCount {
		channelLimit = MaxChannelCount
	}

	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	if mtu < MinMTU {
		mtu = MinMTU
	}
	if mtu > MaxMTU {
		mtu = MaxMTU
	}

	h := &Host{
		peers:             make([]*Peer, cfg.PeerCount),
		channelLimit:      channelLimit,
		incomingBandwidth: cfg.IncomingBandwidth,
		outgoingBandwidth: cfg.OutgoingBandwidth,
		mtu:               mtu,
		maxPacketSize:     DefaultMaxPacketSize,
		maxWaitingData:    DefaultMaxWaitingData,
		duplicatePeers:    cfg.DuplicatePeers,
		Log:               cfg.Log,
		Metrics:           cfg.Metrics,
	}
	if h.Log == nil {
		h.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if h.Metrics == nil {
		h.Metrics = metrics.NewMetrics(nil)
	}

	bindAddr := cfg.Addr
	if bindAddr == nil {
		bindAddr = &net.UDPAddr{}
	}
	sock, err := listenUDP(bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind host socket on %s", bindAddr)
	}
	h.sock = sock

	h.randomSeed = deriveRandomSeed()

	for i := range h.peers {
		h.peers[i] = newPeer(h, uint16(i))
	}

	return h, nil
}

// deriveRandomSeed mixes a process-random UUID with the wall clock into a
// 32-bit seed for connect-id generation, replacing
// hnet_host_random_seed's address-of-stack-variable entropy source, which
// has no portable Go equivalent.
func deriveRandomSeed() uint32 {
	id := uuid.New()
	var b [16]byte = id
	seed := binary.BigEndian.Uint32(b[0:4]) ^ binary.BigEndian.Uint32(b[4:8])
	seed ^= uint32(time.Now().UnixNano())
	var extra [4]byte
	if _, err := rand.Read(extra[:]); err == nil {
		seed ^= binary.BigEndian.Uint32(extra[:])
	}
	return seed
}

// Destroy flushes any outstanding sends, resets every peer slot, and closes
// the socket, aggregating failures from each step rather than stopping at
// the first one so a caller sees every resource that failed to tear down
// cleanly. Peers are not individually notified of a graceful disconnect;
// callers wanting that handshake should Disconnect each connected peer and
// Flush first.
func (h *Host) Destroy() error {
	var result *multierror.Error

	if err := h.Flush(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "flush outgoing commands"))
	}

	for _, p := range h.peers {
		if p.state != StateDisconnected {
			p.reset()
		}
	}

	if h.sock != nil {
		if err := h.sock.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close host socket"))
		}
	}

	return result.ErrorOrNil()
}

// BandwidthLimit sets the host-wide incoming/outgoing byte-per-second caps
// and schedules a recalculation pass on the next Service call, mirroring
// hnet_host_bandwidth_limit.
func (h *Host) BandwidthLimit(incoming, outgoing uint32) {
	h.incomingBandwidth = incoming
	h.outgoingBandwidth = outgoing
	h.recalculateBandwidthLimits = true
}

// ChannelLimit clamps the per-peer channel count newly connecting peers
// will be offered, mirroring hnet_host_channel_limit.
func (h *Host) ChannelLimit(limit int) {
	if limit < MinChannelCount {
		limit = MinChannelCount
	}
	if limit > MaxChannelCount {
		limit = MaxChannelCount
	}
	h.channelLimit = limit
}

// SetCompressor installs an optional payload codec applied to whole
// carrier datagrams.
func (h *Host) SetCompressor(c Compressor) { h.compressor = c }

// SetChecksum installs the optional Checksum hook; see Checksum for what
// is done with its result.
func (h *Host) SetChecksum(c Checksum) { h.checksum = c }

// SetIntercept installs a callback given first refusal over every raw
// incoming datagram, mirroring hnet_host_set_intercept_callback.
func (h *Host) SetIntercept(fn InterceptFunc) { h.intercept = fn }

// Peers returns the host's fixed-size peer slot slice, including
// Disconnected slots; callers typically filter with Peer.Connected.
func (h *Host) Peers() []*Peer { return h.peers }

func (h *Host) pushDispatch(p *Peer) {
	h.dispatchQueue = append(h.dispatchQueue, p)
}

func (h *Host) removeFromDispatchQueue(p *Peer) {
	for i, q := range h.dispatchQueue {
		if q == p {
			h.dispatchQueue = append(h.dispatchQueue[:i], h.dispatchQueue[i+1:]...)
			return
		}
	}
}

func (h *Host) popDispatch() *Peer {
	if len(h.dispatchQueue) == 0 {
		return nil
	}
	p := h.dispatchQueue[0]
	h.dispatchQueue = h.dispatchQueue[1:]
	p.needsDispatch = false
	return p
}

// allocatePeer returns the first Disconnected slot, or nil if the host is
// saturated, mirroring the linear scan in hnet_host_connect.
func (h *Host) allocatePeer() *Peer {
	for _, p := range h.peers {
		if p.state == StateDisconnected {
			return p
		}
	}
	return nil
}

// Connect begins connecting to addr over channelCount channels, returning
// the (not-yet-connected) Peer immediately; completion is signalled by an
// EventConnect from Service, mirroring hnet_host_connect.
func (h *Host) Connect(addr *net.UDPAddr, channelCount int, data uint32) (*Peer, error) {
	if channelCount < MinChannelCount {
		channelCount = MinChannelCount
	}
	if channelCount > MaxChannelCount {
		channelCount = MaxChannelCount
	}

	p := h.allocatePeer()
	if p == nil {
		return nil, ErrHostExhausted
	}

	p.allocateChannels(channelCount)
	p.Addr = addr
	p.connectID = h.randomSeed
	h.randomSeed++
	p.outgoingSessionID = 0xFF
	p.incomingSessionID = 0xFF
	p.outgoingPeerID = p.incomingPeerID
	p.mtu = h.mtu
	if h.outgoingBandwidth == 0 {
		p.windowSize = MaxWindowSize
	} else {
		p.windowSize = clampWindowSize(h.outgoingBandwidth / WindowSizeScale * MinWindowSize)
	}

	cmd := &Command{
		Header: CommandHeader{
			Command:   byte(OpConnect) | CommandFlagAcknowledge,
			ChannelID: 0xFF,
		},
		Connect: &ConnectPayload{
			OutgoingPeerID:       p.incomingPeerID,
			IncomingSessionID:    p.incomingSessionID,
			OutgoingSessionID:    p.outgoingSessionID,
			MTU:                  p.mtu,
			WindowSize:           p.windowSize,
			ChannelCount:         uint32(channelCount),
			IncomingBandwidth:    h.incomingBandwidth,
			OutgoingBandwidth:    h.outgoingBandwidth,
			ThrottleInterval:     p.packetThrottleInterval,
			ThrottleAcceleration: p.packetThrottleAcceleration,
			ThrottleDeceleration: p.packetThrottleDeceleration,
			ConnectID:            p.connectID,
			Data:                 data,
		},
	}
	p.queueOutgoingCommand(cmd, nil, 0, 0)
	p.changeState(StateConnecting)

	if h.Log != nil {
		h.Log.WithFields(logrus.Fields{"peer": p.TraceID, "addr": addr.String()}).Debug("connect requested")
	}

	return p, nil
}

// Broadcast queues packet on every connected peer's channelID, mirroring
// hnet_host_broadcast. The packet's single reference is shared across all
// recipients via retain/release, so callers must not reuse a NoAllocate
// packet's backing slice afterward.
func (h *Host) Broadcast(channelID byte, packet *Packet) {
	for _, p := range h.peers {
		if p.Connected() {
			_ = p.Send(channelID, packet)
		}
	}
}

func clampWindowSize(size uint32) uint32 {
	if size < MinWindowSize {
		return MinWindowSize
	}
	if size > MaxWindowSize {
		return MaxWindowSize
	}
	return size
}
