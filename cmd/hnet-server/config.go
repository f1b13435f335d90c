package main

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the server's startup parameters, loaded from the
// HNET_SERVER_* environment variables and then overridden by any flags the
// caller passed on the command line.
type Config struct {
	Host              string `env:"HNET_SERVER_HOST,default=0.0.0.0"`
	Port              int    `env:"HNET_SERVER_PORT,default=7777"`
	MaxPeers          int    `env:"HNET_SERVER_MAX_PEERS,default=32"`
	ChannelLimit      int    `env:"HNET_SERVER_CHANNEL_LIMIT,default=4"`
	IncomingBandwidth uint32 `env:"HNET_SERVER_INCOMING_BANDWIDTH,default=0"`
	OutgoingBandwidth uint32 `env:"HNET_SERVER_OUTGOING_BANDWIDTH,default=0"`
	MTU               uint32 `env:"HNET_SERVER_MTU,default=1400"`
	LogLevel          string `env:"HNET_SERVER_LOG_LEVEL,default=info"`
}

func loadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	return cfg, err
}
