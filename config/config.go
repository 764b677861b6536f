package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Alloc seeds an account balance on first start, genesis-style. Balance is a
// decimal wei string so arbitrarily large allocations survive TOML parsing.
type Alloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress      string  `toml:"RPCAddress"`
	DataDir         string  `toml:"DataDir"`
	NetworkName     string  `toml:"NetworkName"`
	LogFile         string  `toml:"LogFile"`
	LogMaxSizeMB    int     `toml:"LogMaxSizeMB"`
	MetricsEnabled  bool    `toml:"MetricsEnabled"`
	EventBufferSize int     `toml:"EventBufferSize"`
	Allocs          []Alloc `toml:"Alloc"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "localhost:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./loanft-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "loanft-local"
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 128
	}
}

// Validate rejects malformed allocation entries up front so a bad config fails
// at startup rather than at seed time.
func Validate(cfg *Config) error {
	for i, alloc := range cfg.Allocs {
		if !common.IsHexAddress(alloc.Address) {
			return fmt.Errorf("config: alloc %d has invalid address %q", i, alloc.Address)
		}
		if _, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10); !ok {
			return fmt.Errorf("config: alloc %d has invalid balance %q", i, alloc.Balance)
		}
	}
	return nil
}

// AllocBalance parses the wei balance of an allocation entry. Call Validate
// first; malformed balances yield zero here.
func (a Alloc) AllocBalance() *big.Int {
	balance, ok := new(big.Int).SetString(strings.TrimSpace(a.Balance), 10)
	if !ok {
		return big.NewInt(0)
	}
	return balance
}

// AllocAddress parses the allocation address.
func (a Alloc) AllocAddress() [20]byte {
	return common.HexToAddress(a.Address)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
