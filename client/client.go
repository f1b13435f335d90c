// Package client provides a thin application-facing wrapper around
// protocol.Host/protocol.Peer for programs that connect to one remote host,
// exchange packets, and disconnect, without driving the Service loop
// themselves. Grounded in the same Start/loop/Stop shape as serverapp, with
// the peer-facing API collapsed to the single outbound connection a client
// program actually needs.
package client

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
type PacketHandler func(channelID byte, packet *protocol.Packet)

// Config configures a Client's underlying Host and the remote peer it
// connects to.
type Config struct {
	RemoteAddr   string
	ChannelCount int
	MTU          uint32
	ServiceTick  time.Duration
	ConnectData  uint32
}

// Client owns a client Host on an ephemeral local port, its single connecting/connected Peer, and a
// background Service loop.
type Client struct {
	cfg  Config
	host *protocol.Host
	peer *protocol.Peer

	onConnect    func()
	onDisconnect func(uint32)
	onReceive    PacketHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient creates the underlying client Host. The connection itself is
// not attempted until Connect.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServiceTick == 0 {
		cfg.ServiceTick = protocol.DefaultServiceTick
	}
	if cfg.ChannelCount == 0 {
		cfg.ChannelCount = protocol.MinChannelCount
	}

	host, err := protocol.HostCreate(protocol.HostConfig{
		PeerCount:    1,
		ChannelLimit: cfg.ChannelCount,
		MTU:          cfg.MTU,
		Log:          logger.Std().WithField("component", "client"),
	})
	if err != nil {
		return nil, err
	}

	return &Client{cfg: cfg, host: host}, nil
}

// OnConnect registers the callback fired once the handshake completes.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect registers the callback fired on disconnect or timeout.
func (c *Client) OnDisconnect(fn func(uint32)) { c.onDisconnect = fn }

// OnReceive registers the callback fired for every delivered packet.
func (c *Client) OnReceive(fn PacketHandler) { c.onReceive = fn }

// Peer returns the underlying protocol.Peer, valid once Connect has been
// called (it may still be mid-handshake).
func (c *Client) Peer() *protocol.Peer { return c.peer }

// Connect resolves the remote address, queues a CONNECT command, and starts
// the background Service loop that drives the handshake and subsequent
// traffic.
func (c *Client) Connect() error {
	addr, err := net.ResolveUDPAddr("udp", c.cfg.RemoteAddr)
	if err != nil {
		return protocol.ErrInvalidAddress
	}

	peer, err := c.host.Connect(addr, c.cfg.ChannelCount, c.cfg.ConnectData)
	if err != nil {
		return err
	}
	c.peer = peer

	c.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	logger.Info("connecting to %s", c.cfg.RemoteAddr)
	go c.loop(ctx)
	return nil
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := c.host.Service(c.cfg.ServiceTick)
		if err != nil {
			logger.Error("service error: %v", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventConnect:
		logger.Success("connected to %s", c.cfg.RemoteAddr)
		if c.onConnect != nil {
			c.onConnect()
		}
	case protocol.EventDisconnect:
		logger.Info("disconnected (data=%d)", ev.Data)
		if c.onDisconnect != nil {
			c.onDisconnect(ev.Data)
		}
	case protocol.EventReceive:
		if c.onReceive != nil {
			c.onReceive(ev.ChannelID, ev.Packet)
		}
	}
}

// Send queues packet for delivery on channelID; valid once the peer is
// connected (protocol.ErrPeerNotConnected otherwise).
func (c *Client) Send(channelID byte, packet *protocol.Packet) error {
	if c.peer == nil {
		return protocol.ErrPeerNotConnected
	}
	return c.peer.Send(channelID, packet)
}

// Connected reports whether the handshake has completed.
func (c *Client) Connected() bool {
	return c.peer != nil && c.peer.Connected()
}

// Disconnect requests a graceful close and stops the Service loop once the
// handshake's DISCONNECT command has had a chance to flush.
func (c *Client) Disconnect(data uint32) error {
	if c.peer != nil {
		c.peer.Disconnect(data)
		_ = c.host.Flush()
	}
	return c.stop()
}

func (c *Client) stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	return c.host.Destroy()
}
