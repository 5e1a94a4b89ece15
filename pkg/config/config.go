// Package config reads process settings from the environment. Command line
// flags use these values as their defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/types"
)

type Config struct {
	NodeID      string        `env:"TABSESSION_NODE_ID"`
	RaftAddr    string        `env:"TABSESSION_RAFT_ADDR"    envDefault:"127.0.0.1:7000"`
	GRPCAddr    string        `env:"TABSESSION_GRPC_ADDR"    envDefault:"127.0.0.1:9000"`
	HTTPAddr    string        `env:"TABSESSION_HTTP_ADDR"    envDefault:":8080"`
	MetricsAddr string        `env:"TABSESSION_METRICS_ADDR" envDefault:":2112"`
	DataDir     string        `env:"TABSESSION_DATA_DIR"     envDefault:"./data"`
	Bootstrap   bool          `env:"TABSESSION_BOOTSTRAP"`
	LogLevel    string        `env:"TABSESSION_LOG_LEVEL"    envDefault:"info"`
	RPCTimeout  time.Duration `env:"TABSESSION_RPC_TIMEOUT"  envDefault:"2s"`
	SessionKey  string        `env:"TABSESSION_SESSION_KEY"  envDefault:"app_session"`
	OwnerKey    string        `env:"TABSESSION_OWNER_KEY"    envDefault:"app_session_tab"`
}

// Load parses the environment over the defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SessionKey == "" || c.OwnerKey == "" {
		return fmt.Errorf("session and owner keys: %w", types.ErrKeyRequired)
	}
	if c.SessionKey == c.OwnerKey {
		return fmt.Errorf("session and owner keys must differ, both are %q", c.SessionKey)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("rpc timeout must be positive, got %s", c.RPCTimeout)
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func (c Config) Keys() types.Keys {
	return types.Keys{Session: c.SessionKey, Owner: c.OwnerKey}
}

func (c Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}
