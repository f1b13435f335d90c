package main

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the client's startup parameters, loaded from the
// HNET_CLIENT_* environment variables and then overridden by any flags the
// caller passed on the command line.
type Config struct {
	RemoteAddr   string `env:"HNET_CLIENT_REMOTE_ADDR,default=127.0.0.1:7777"`
	ChannelCount int    `env:"HNET_CLIENT_CHANNEL_COUNT,default=4"`
	MTU          uint32 `env:"HNET_CLIENT_MTU,default=1400"`
	LogLevel     string `env:"HNET_CLIENT_LOG_LEVEL,default=info"`
}

func loadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	return cfg, err
}
