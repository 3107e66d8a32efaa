package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/internal/config"
)

func TestInitConfig(t *testing.T) {
	datadir := t.TempDir()
	t.Setenv("PAYJOIN_DATADIR", datadir)
	t.Setenv("PAYJOIN_NETWORK", "regtest")
	t.Setenv("PAYJOIN_OHTTP_RELAY_URL", "https://relay.example.com")
	t.Setenv("PAYJOIN_POLL_INTERVAL", "250")

	require.NoError(t, config.InitConfig())

	require.Equal(t, datadir, config.GetDatadir())
	require.Equal(t, &chaincfg.RegressionNetParams, config.GetNetwork())
	require.Equal(t, config.DBBadger, config.GetString(config.DBTypeKey))
	require.Equal(t, 250*time.Millisecond, config.GetMilliseconds(config.PollIntervalKey))
	require.Equal(t, 24*time.Hour, config.GetSeconds(config.SessionExpiryKey))
	require.DirExists(t, filepath.Join(datadir, config.DbLocation))

	config.Set(config.NetworkKey, "signet")
	require.Equal(t, &chaincfg.SigNetParams, config.GetNetwork())
}

func TestInitConfigInMemory(t *testing.T) {
	datadir := t.TempDir()
	t.Setenv("PAYJOIN_DATADIR", datadir)
	t.Setenv("PAYJOIN_DB_TYPE", config.DBInMemory)

	require.NoError(t, config.InitConfig())

	_, err := os.Stat(filepath.Join(datadir, config.DbLocation))
	require.True(t, os.IsNotExist(err))
}

func TestFailingInitConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "unknown_network",
			env:  map[string]string{"PAYJOIN_NETWORK": "liquid"},
		},
		{
			name: "relative_relay_url",
			env:  map[string]string{"PAYJOIN_OHTTP_RELAY_URL": "relay.example.com"},
		},
		{
			name: "invalid_directory_url",
			env:  map[string]string{"PAYJOIN_DIRECTORY_URL": "ftp://dir.example.com"},
		},
		{
			name: "unknown_db_type",
			env:  map[string]string{"PAYJOIN_DB_TYPE": "postgres"},
		},
		{
			name: "redis_without_address",
			env:  map[string]string{"PAYJOIN_DB_TYPE": config.DBRedis},
		},
		{
			name: "poll_interval_too_short",
			env:  map[string]string{"PAYJOIN_POLL_INTERVAL": "10"},
		},
		{
			name: "null_session_expiry",
			env:  map[string]string{"PAYJOIN_SESSION_EXPIRY": "0"},
		},
		{
			name: "null_min_fee_rate",
			env:  map[string]string{"PAYJOIN_MIN_FEE_RATE": "0"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PAYJOIN_DATADIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			require.Error(t, config.InitConfig())
		})
	}
}
