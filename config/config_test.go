package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "localhost:8645", cfg.RPCAddress)
	require.Equal(t, "./loanft-data", cfg.DataDir)
	require.Equal(t, "loanft-local", cfg.NetworkName)
	require.Equal(t, 128, cfg.EventBufferSize)

	_, err = os.Stat(path)
	require.NoError(t, err, "a default file is written for the next start")

	// Reloading the written file must yield the same configuration.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, again.RPCAddress)
}

func TestLoadParsesAllocs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
RPCAddress = "127.0.0.1:9000"
NetworkName = "loanft-test"

[[Alloc]]
Address = "0x00000000000000000000000000000000000000AB"
Balance = "1000000000000000000"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.RPCAddress)
	require.Equal(t, "loanft-test", cfg.NetworkName)
	require.Equal(t, "./loanft-data", cfg.DataDir, "missing fields fall back to defaults")
	require.Len(t, cfg.Allocs, 1)

	addr := cfg.Allocs[0].AllocAddress()
	require.Equal(t, byte(0xAB), addr[19])

	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	require.Equal(t, 0, cfg.Allocs[0].AllocBalance().Cmp(want))
}

func TestLoadRejectsMalformedAlloc(t *testing.T) {
	dir := t.TempDir()

	badAddr := filepath.Join(dir, "bad-addr.toml")
	require.NoError(t, os.WriteFile(badAddr, []byte(`
[[Alloc]]
Address = "not-an-address"
Balance = "10"
`), 0o600))
	_, err := Load(badAddr)
	require.Error(t, err)

	badBalance := filepath.Join(dir, "bad-balance.toml")
	require.NoError(t, os.WriteFile(badBalance, []byte(`
[[Alloc]]
Address = "0x00000000000000000000000000000000000000AB"
Balance = "1.5 ETH"
`), 0o600))
	_, err = Load(badBalance)
	require.Error(t, err)
}
