package sys

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "raffle.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Network)
	require.Equal(t, defaultEntryFee, cfg.EntryFee)
	require.Equal(t, 30*time.Second, cfg.IntervalDuration())
	require.Equal(t, uint32(1), cfg.NumWords)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
network = "testnet"
roster = "public.toml"
interval = 60
upkeep_period = 2
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, "public.toml", cfg.Roster)
	require.Equal(t, time.Minute, cfg.IntervalDuration())
	require.Equal(t, 2*time.Second, cfg.UpkeepDuration())
	// untouched keys keep the preset
	require.Equal(t, uint32(3), cfg.Confirmations)
}

func TestLoadConfig_Env(t *testing.T) {
	path := writeConfig(t, `interval = 60`)
	t.Setenv("RAFFLE_INTERVAL", "5")
	t.Setenv("RAFFLE_ENTRY_FEE", "7")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(5), cfg.Interval)
	require.Equal(t, uint64(7), cfg.EntryFee)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `network = "mainnet"`))
	require.Error(t, err)
	_, err = LoadConfig(writeConfig(t, `num_words = 0`))
	require.Error(t, err)
	_, err = LoadConfig(writeConfig(t, `interval = -1`))
	require.Error(t, err)
}
