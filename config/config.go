package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load loads the configuration from the given path. A missing file is
// replaced with a default configuration so a fresh checkout can start
// immediately.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCAddress == "" {
		c.RPCAddress = ":8545"
	}
	if c.DataDir == "" {
		c.DataDir = "./cdp-data"
	}
	if c.Environment == "" {
		c.Environment = "local"
	}
}

// createDefault creates and saves a default configuration file with a single
// sample market.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8545",
		DataDir:     "./cdp-data",
		Environment: "local",
		FeeSink:     "0x00000000000000000000000000000000000000Fe",
		SurplusSink: "0x00000000000000000000000000000000000000Fd",
		Assets: []AssetConfig{{
			Symbol:              "ETH",
			MinBorrowRatio:      "1100000000000000000",
			MinLiquidationRatio: "1100000000000000000",
			SystemRatioFloor:    "1500000000000000000",
			ValueCap:            "100000000000000000000000000",
			MinNetDebt:          "1800000000000000000000",
			BorrowFeeFloor:      "5000000000000000",
			BorrowFeeCeiling:    "50000000000000000",
			RedemptionFeeFloor:  "5000000000000000",
			LiquidationFeeBps:   50,
		}},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
