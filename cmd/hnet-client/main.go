// Command hnet-client connects to a hnet-server instance, sends one packet
// per line read from stdin on channel 0, and prints whatever comes back —
// a minimal exercise harness for the transport.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hnet-go/client"
	"hnet-go/pkg/logger"
	"hnet-go/source/protocol"
)

const version = "1.0.0"

func main() {
	cfg, err := loadConfig(context.Background())
	if err != nil {
		logger.Fatal("loading config: %v", err)
	}

	root := &cobra.Command{
		Use:     "hnet-client",
		Short:   "Connect to a reliable-UDP transport host",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.RemoteAddr, "remote", cfg.RemoteAddr, "server address (host:port)")
	flags.IntVar(&cfg.ChannelCount, "channels", cfg.ChannelCount, "number of channels to request")
	flags.Uint32Var(&cfg.MTU, "mtu", cfg.MTU, "maximum transmission unit")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(cfg Config) error {
	logger.Banner("hnet-client", version)
	logger.SetLevel(cfg.LogLevel)

	c, err := client.NewClient(client.Config{
		RemoteAddr:   cfg.RemoteAddr,
		ChannelCount: cfg.ChannelCount,
		MTU:          cfg.MTU,
	})
	if err != nil {
		return err
	}

	ready := make(chan struct{}, 1)
	c.OnConnect(func() { ready <- struct{}{} })
	c.OnReceive(func(channelID byte, packet *protocol.Packet) {
		fmt.Printf("[channel %d] %s\n", channelID, packet.Data)
	})
	c.OnDisconnect(func(data uint32) {
		logger.Warn("disconnected by remote (data=%d)", data)
	})

	if err := c.Connect(); err != nil {
		return err
	}

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		logger.Error("timed out waiting to connect")
		return c.Disconnect(0)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			packet := protocol.NewPacket([]byte(line), protocol.PacketFlagReliable)
			if err := c.Send(0, packet); err != nil {
				logger.Error("send: %v", err)
			}
		}
	}()

	<-sigChan
	logger.Warn("shutting down")
	return c.Disconnect(0)
}
