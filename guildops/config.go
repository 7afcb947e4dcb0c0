package guildops

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	DB      DBConfig      `toml:"db"`
	Web     WebConfig     `toml:"web"`
	Auction AuctionConfig `toml:"auction"`
	Ledger  LedgerConfig  `toml:"ledger"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type WebConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	CORSOrigins string `toml:"cors_origins"`
}

type AuctionConfig struct {
	// PollIntervalSeconds is how often the supervisor checks the running lot.
	// It only affects finalization latency, never correctness.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	DefaultTimerSeconds int `toml:"default_timer_seconds"`
	MinTimerSeconds     int `toml:"min_timer_seconds"`
	MaxTimerSeconds     int `toml:"max_timer_seconds"`
	MinIncrement        int `toml:"min_increment"`
}

type LedgerConfig struct {
	// ReconcileCron is a robfig/cron spec for the nightly balance audit.
	ReconcileCron string `toml:"reconcile_cron"`
}

func (c *Config) applyDefaults() {
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Auction.PollIntervalSeconds == 0 {
		c.Auction.PollIntervalSeconds = 5
	}
	if c.Auction.DefaultTimerSeconds == 0 {
		c.Auction.DefaultTimerSeconds = 120
	}
	if c.Auction.MinTimerSeconds == 0 {
		c.Auction.MinTimerSeconds = 10
	}
	if c.Auction.MaxTimerSeconds == 0 {
		c.Auction.MaxTimerSeconds = 86400
	}
	if c.Auction.MinIncrement == 0 {
		c.Auction.MinIncrement = 1
	}
	if c.Ledger.ReconcileCron == "" {
		c.Ledger.ReconcileCron = "0 4 * * *"
	}
}
