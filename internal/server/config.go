package server

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/clubroyale/tablecore/internal/handhistory"
	"github.com/clubroyale/tablecore/internal/registry"
	"github.com/clubroyale/tablecore/internal/session"
)

// Config is the complete server configuration, decoded from HCL with
// environment overrides applied on top.
type Config struct {
	Server  ServerSettings   `hcl:"server,block"`
	Session SessionSettings  `hcl:"session,block"`
	History *HistorySettings `hcl:"history,block"`
	Tables  []TableConfig    `hcl:"table,block"`
}

// ServerSettings contains listener and connection-liveness settings.
// Durations are HCL strings in time.ParseDuration syntax.
type ServerSettings struct {
	Address                string `hcl:"address,optional"`
	Port                   int    `hcl:"port,optional"`
	LogLevel               string `hcl:"log_level,optional"`
	MaxConnectionsPerTable int    `hcl:"max_connections_per_table,optional"`
	MaxTables              int    `hcl:"max_tables,optional"`
	StaleAfter             string `hcl:"stale_after,optional"`
	MaxMissedPings         int    `hcl:"max_missed_pings,optional"`
	IdleTableTTL           string `hcl:"idle_table_ttl,optional"`
}

// SessionSettings controls reconnect behavior.
type SessionSettings struct {
	QueueLimit     int    `hcl:"queue_limit,optional"`
	TokenTTL       string `hcl:"token_ttl,optional"`
	IdleSessionTTL string `hcl:"idle_session_ttl,optional"`
}

// HistorySettings controls hand history recording; a nil block disables
// it.
type HistorySettings struct {
	Dir           string `hcl:"dir,optional"`
	FlushInterval string `hcl:"flush_interval,optional"`
	FlushHands    int    `hcl:"flush_hands,optional"`
}

// TableConfig defines one table to open at startup.
type TableConfig struct {
	Name       string `hcl:"name,label"`
	MaxPlayers int    `hcl:"max_players,optional"`
	SmallBlind int    `hcl:"small_blind"`
	BigBlind   int    `hcl:"big_blind"`
	BuyIn      int    `hcl:"buy_in,optional"`
}

// envOverrides are applied after HCL so deployments can tweak a config
// file without editing it.
type envOverrides struct {
	Address    string `env:"TABLECORE_ADDRESS"`
	Port       int    `env:"TABLECORE_PORT"`
	LogLevel   string `env:"TABLECORE_LOG_LEVEL"`
	HistoryDir string `env:"TABLECORE_HISTORY_DIR"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
		},
		Tables: []TableConfig{
			{Name: "main", MaxPlayers: 6, SmallBlind: 10, BigBlind: 20, BuyIn: 1000},
		},
	}
}

// LoadConfig reads an HCL file, falls back to defaults when it does not
// exist, and applies environment overrides.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(filename); err == nil {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %s", filename, diags.Error())
		}
		config = &Config{}
		if diags := gohcl.DecodeBody(file.Body, nil, config); diags.HasErrors() {
			return nil, fmt.Errorf("decode %s: %s", filename, diags.Error())
		}
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if overrides.Address != "" {
		config.Server.Address = overrides.Address
	}
	if overrides.Port != 0 {
		config.Server.Port = overrides.Port
	}
	if overrides.LogLevel != "" {
		config.Server.LogLevel = overrides.LogLevel
	}
	if overrides.HistoryDir != "" {
		if config.History == nil {
			config.History = &HistorySettings{}
		}
		config.History.Dir = overrides.HistoryDir
	}

	if config.Server.Address == "" {
		config.Server.Address = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}
	for i := range config.Tables {
		if config.Tables[i].MaxPlayers == 0 {
			config.Tables[i].MaxPlayers = 6
		}
		if config.Tables[i].BuyIn == 0 {
			config.Tables[i].BuyIn = config.Tables[i].BigBlind * 50
		}
	}
	return config, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table must be configured")
	}
	for _, tbl := range c.Tables {
		if tbl.SmallBlind <= 0 {
			return fmt.Errorf("table %s: small blind must be positive", tbl.Name)
		}
		if tbl.BigBlind <= tbl.SmallBlind {
			return fmt.Errorf("table %s: big blind must exceed small blind", tbl.Name)
		}
		if tbl.MaxPlayers < 2 || tbl.MaxPlayers > 10 {
			return fmt.Errorf("table %s: max players must be between 2 and 10", tbl.Name)
		}
		if tbl.BuyIn < tbl.BigBlind {
			return fmt.Errorf("table %s: buy-in must cover at least one big blind", tbl.Name)
		}
	}
	for _, field := range []struct {
		name, value string
	}{
		{"stale_after", c.Server.StaleAfter},
		{"idle_table_ttl", c.Server.IdleTableTTL},
		{"token_ttl", c.Session.TokenTTL},
		{"idle_session_ttl", c.Session.IdleSessionTTL},
	} {
		if _, err := parseDuration(field.value, 0); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if c.History != nil {
		if _, err := parseDuration(c.History.FlushInterval, 0); err != nil {
			return fmt.Errorf("history flush_interval: %w", err)
		}
	}
	return nil
}

// ListenAddr returns the address:port to bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// RegistryConfig translates server settings into the registry's config,
// leaving zero values to the registry's own defaults.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		MaxConnsPerTable: c.Server.MaxConnectionsPerTable,
		MaxTables:        c.Server.MaxTables,
		StaleAfter:       mustDuration(c.Server.StaleAfter),
		MaxMissedPings:   c.Server.MaxMissedPings,
		IdleTableTTL:     mustDuration(c.Server.IdleTableTTL),
	}
}

// SessionConfig translates session settings into the manager's config.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		QueueLimit:     c.Session.QueueLimit,
		TokenTTL:       mustDuration(c.Session.TokenTTL),
		IdleSessionTTL: mustDuration(c.Session.IdleSessionTTL),
	}
}

// HistoryConfig translates history settings; ok is false when recording
// is disabled.
func (c *Config) HistoryConfig() (handhistory.Config, bool) {
	if c.History == nil {
		return handhistory.Config{}, false
	}
	return handhistory.Config{
		BaseDir:       c.History.Dir,
		FlushInterval: mustDuration(c.History.FlushInterval),
		FlushHands:    c.History.FlushHands,
	}, true
}

// TableByName returns the configuration for a named table.
func (c *Config) TableByName(name string) (TableConfig, bool) {
	for _, tbl := range c.Tables {
		if tbl.Name == name {
			return tbl, true
		}
	}
	return TableConfig{}, false
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is for strings Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, err := parseDuration(s, 0)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", s, err))
	}
	return d
}
