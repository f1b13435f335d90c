// Command hnet-server runs a listening Host, accepting peer connections and
// echoing every received packet back on the same channel — a minimal
// exercise harness for the transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hnet-go/pkg/logger"
	"hnet-go/serverapp"
	"hnet-go/source/protocol"
)

const version = "1.0.0"

func main() {
	cfg, err := loadConfig(context.Background())
	if err != nil {
		logger.Fatal("loading config: %v", err)
	}

	root := &cobra.Command{
		Use:     "hnet-server",
		Short:   "Run a reliable-UDP transport host",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "bind address")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "bind port")
	flags.IntVar(&cfg.MaxPeers, "max-peers", cfg.MaxPeers, "maximum concurrent peers")
	flags.IntVar(&cfg.ChannelLimit, "channel-limit", cfg.ChannelLimit, "channels offered to connecting peers")
	flags.Uint32Var(&cfg.IncomingBandwidth, "incoming-bandwidth", cfg.IncomingBandwidth, "incoming bytes/sec cap (0 = unlimited)")
	flags.Uint32Var(&cfg.OutgoingBandwidth, "outgoing-bandwidth", cfg.OutgoingBandwidth, "outgoing bytes/sec cap (0 = unlimited)")
	flags.Uint32Var(&cfg.MTU, "mtu", cfg.MTU, "maximum transmission unit")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(cfg Config) error {
	logger.Banner("hnet-server", version)
	logger.SetLevel(cfg.LogLevel)

	srv, err := serverapp.NewServer(serverapp.Config{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		MaxPeers:          cfg.MaxPeers,
		ChannelLimit:      cfg.ChannelLimit,
		IncomingBandwidth: cfg.IncomingBandwidth,
		OutgoingBandwidth: cfg.OutgoingBandwidth,
		MTU:               cfg.MTU,
	})
	if err != nil {
		return err
	}

	srv.OnConnect(func(p *protocol.Peer) {
		logger.InfoCyan("peer %s connected from %s", p.TraceID, p.Addr)
	})
	srv.OnDisconnect(func(p *protocol.Peer, data uint32) {
		logger.Info("peer %s left (data=%d)", p.TraceID, data)
	})
	srv.OnReceive(func(peer *protocol.Peer, channelID byte, packet *protocol.Packet) {
		logger.Debug("channel %d: %d bytes from %s", channelID, len(packet.Data), peer.Addr)
		_ = peer.Send(channelID, packet)
	})

	srv.Start()
	logger.Success("listening on %s:%d", cfg.Host, cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Warn("shutting down")
	if err := srv.Stop(); err != nil {
		logger.Error("shutdown: %v", err)
	}
	return nil
}
