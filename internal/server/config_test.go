package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:8080", cfg.ListenAddr())
	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, "main", cfg.Tables[0].Name)
}

func TestLoadConfigParsesBlocks(t *testing.T) {
	path := writeConfig(t, `
server {
  address          = "0.0.0.0"
  port             = 9000
  log_level        = "debug"
  max_tables       = 16
  stale_after      = "45s"
  max_missed_pings = 5
}

session {
  queue_limit = 50
  token_ttl   = "3m"
}

history {
  dir         = "/tmp/hands"
  flush_hands = 10
}

table "highroller" {
  small_blind = 100
  big_blind   = 200
  buy_in      = 20000
}
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr())
	assert.Equal(t, "debug", cfg.Server.LogLevel)

	reg := cfg.RegistryConfig()
	assert.Equal(t, 16, reg.MaxTables)
	assert.Equal(t, 45*time.Second, reg.StaleAfter)
	assert.Equal(t, 5, reg.MaxMissedPings)

	sess := cfg.SessionConfig()
	assert.Equal(t, 50, sess.QueueLimit)
	assert.Equal(t, 3*time.Minute, sess.TokenTTL)

	hist, ok := cfg.HistoryConfig()
	require.True(t, ok)
	assert.Equal(t, "/tmp/hands", hist.BaseDir)
	assert.Equal(t, 10, hist.FlushHands)

	tbl, ok := cfg.TableByName("highroller")
	require.True(t, ok)
	assert.Equal(t, 200, tbl.BigBlind)
	assert.Equal(t, 20000, tbl.BuyIn)
	assert.Equal(t, 6, tbl.MaxPlayers, "max players defaults when omitted")
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
server {
  address = "localhost"
  port    = 9000
}

table "main" {
  small_blind = 10
  big_blind   = 20
}
`)
	t.Setenv("TABLECORE_ADDRESS", "10.1.2.3")
	t.Setenv("TABLECORE_PORT", "7777")
	t.Setenv("TABLECORE_HISTORY_DIR", "/var/hands")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3:7777", cfg.ListenAddr())
	require.NotNil(t, cfg.History)
	assert.Equal(t, "/var/hands", cfg.History.Dir)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no tables", func(c *Config) { c.Tables = nil }},
		{"zero small blind", func(c *Config) { c.Tables[0].SmallBlind = 0 }},
		{"big blind below small", func(c *Config) { c.Tables[0].BigBlind = c.Tables[0].SmallBlind }},
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad duration", func(c *Config) { c.Server.StaleAfter = "soon" }},
		{"too many seats", func(c *Config) { c.Tables[0].MaxPlayers = 11 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
