// Package serverapp provides a thin application-facing wrapper around
// protocol.Host for programs that just want to accept connections, exchange
// packets, and broadcast, without driving the Service loop themselves.
// Grounded in source/server/server.go's Server struct and update-loop
// shape, generalized away from SA-MP game-packet handling to the
// channel/packet model of source/protocol.
package serverapp

import (
	"context"
	"net"
	"sync"
	"time"

	"hnet-go/pkg/logger"
	"hnet-go/source/protocol"
)

// PacketHandler is invoked once per received packet, on the same goroutine
// that drives the Service loop; handlers must not block.
type PacketHandler func(peer *protocol.Peer, channelID byte, packet *protocol.Packet)

// Config configures a Server's underlying Host.
type Config struct {
	Addr              string
	MaxPeers          int
	ChannelLimit      int
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
	MTU               uint32
	DuplicatePeers    int
	ServiceTick       time.Duration
}

// Server owns a listening Host and runs its Service loop on a background
// goroutine, exposing a Start/Stop lifecycle with typed connect/
// disconnect/receive callbacks.
type Server struct {
	cfg  Config
	host *protocol.Host

	onConnect    func(*protocol.Peer)
	onDisconnect func(*protocol.Peer, uint32)
	onReceive    PacketHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewServer resolves addr and creates the underlying Host; it does not
// start serving until Start is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.ServiceTick == 0 {
		cfg.ServiceTick = protocol.DefaultServiceTick
	}
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, protocol.ErrInvalidAddress
	}

	host, err := protocol.HostCreate(protocol.HostConfig{
		Addr:              udpAddr,
		PeerCount:         cfg.MaxPeers,
		ChannelLimit:      cfg.ChannelLimit,
		IncomingBandwidth: cfg.IncomingBandwidth,
		OutgoingBandwidth: cfg.OutgoingBandwidth,
		MTU:               cfg.MTU,
		DuplicatePeers:    cfg.DuplicatePeers,
		Log:               logger.Std().WithField("component", "server"),
	})
	if err != nil {
		return nil, err
	}

	return &Server{cfg: cfg, host: host}, nil
}

// OnConnect registers the callback fired when a peer completes its
// handshake.
func (s *Server) OnConnect(fn func(*protocol.Peer)) { s.onConnect = fn }

// OnDisconnect registers the callback fired when a peer disconnects or
// times out.
func (s *Server) OnDisconnect(fn func(*protocol.Peer, uint32)) { s.onDisconnect = fn }

// OnReceive registers the callback fired for every delivered packet.
func (s *Server) OnReceive(fn PacketHandler) { s.onReceive = fn }

// Host returns the underlying protocol.Host for callers that need direct
// access (Broadcast, SetCompressor, bandwidth limits, ...).
func (s *Server) Host() *protocol.Host { return s.host }

// Start begins the Service loop on a background goroutine and returns
// immediately.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	logger.Info("server listening, tick=%s", s.cfg.ServiceTick)
	go s.loop(ctx)
}

func (s *Server) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := s.host.Service(s.cfg.ServiceTick)
		if err != nil {
			logger.Error("service error: %v", err)
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Server) dispatch(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventConnect:
		logger.InfoCyan("peer %s connected", ev.Peer.TraceID)
		if s.onConnect != nil {
			s.onConnect(ev.Peer)
		}
	case protocol.EventDisconnect:
		logger.Info("peer %s disconnected (data=%d)", ev.Peer.TraceID, ev.Data)
		if s.onDisconnect != nil {
			s.onDisconnect(ev.Peer, ev.Data)
		}
	case protocol.EventReceive:
		if s.onReceive != nil {
			s.onReceive(ev.Peer, ev.ChannelID, ev.Packet)
		}
	}
}

// Broadcast sends packet to every connected peer on channelID.
func (s *Server) Broadcast(channelID byte, packet *protocol.Packet) {
	s.host.Broadcast(channelID, packet)
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int {
	n := 0
	for _, p := range s.host.Peers() {
		if p.Connected() {
			n++
		}
	}
	return n
}

// Stop halts the Service loop and tears down the host, waiting for the
// background goroutine to exit first.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	logger.Success("server stopped")
	return s.host.Destroy()
}
