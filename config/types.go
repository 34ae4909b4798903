package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/native/cdp"
)

// Config bundles the runtime settings for the ledger daemon.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile,omitempty"`
	// FeeSink collects protocol fees; SurplusSink custodies redemption
	// surplus collateral until owners claim it. Both are hex addresses.
	FeeSink     string        `toml:"FeeSink"`
	SurplusSink string        `toml:"SurplusSink"`
	Assets      []AssetConfig `toml:"Assets"`
}

// OracleFeedConfig points at the HTTP endpoints backing one market's price
// record: a primary USD price feed and a forex conversion feed.
type OracleFeedConfig struct {
	PriceURL string `toml:"PriceURL"`
	ForexURL string `toml:"ForexURL"`
	APIKey   string `toml:"APIKey,omitempty"`
}

// AssetConfig declares one collateral market. Fixed-point values are decimal
// strings at 18 decimals so operators never lose precision to TOML floats.
type AssetConfig struct {
	Symbol                string           `toml:"Symbol"`
	MinBorrowRatio        string           `toml:"MinBorrowRatio"`
	MinLiquidationRatio   string           `toml:"MinLiquidationRatio"`
	SystemRatioFloor      string           `toml:"SystemRatioFloor"`
	ValueCap              string           `toml:"ValueCap"`
	MinNetDebt            string           `toml:"MinNetDebt"`
	BorrowFeeFloor        string           `toml:"BorrowFeeFloor"`
	BorrowFeeCeiling      string           `toml:"BorrowFeeCeiling"`
	RedemptionFeeFloor    string           `toml:"RedemptionFeeFloor"`
	RedemptionUnblockUnix int64            `toml:"RedemptionUnblockUnix,omitempty"`
	LiquidationFeeBps     uint64           `toml:"LiquidationFeeBps"`
	Oracle                OracleFeedConfig `toml:"Oracle,omitempty"`
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("config: %s: invalid amount %q", field, raw)
	}
	return value, nil
}

// RiskParams converts the declared market limits into runtime values.
func (a AssetConfig) RiskParams() (cdp.RiskParams, error) {
	params := cdp.RiskParams{LiquidationFeeBps: a.LiquidationFeeBps}
	if a.RedemptionUnblockUnix > 0 {
		params.RedemptionUnblockTime = time.Unix(a.RedemptionUnblockUnix, 0).UTC()
	}

	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"MinBorrowRatio", a.MinBorrowRatio, &params.MinBorrowRatio},
		{"MinLiquidationRatio", a.MinLiquidationRatio, &params.MinLiquidationRatio},
		{"SystemRatioFloor", a.SystemRatioFloor, &params.SystemRatioFloor},
		{"ValueCap", a.ValueCap, &params.ValueCap},
		{"MinNetDebt", a.MinNetDebt, &params.MinNetDebt},
		{"BorrowFeeFloor", a.BorrowFeeFloor, &params.BorrowFeeFloor},
		{"BorrowFeeCeiling", a.BorrowFeeCeiling, &params.BorrowFeeCeiling},
		{"RedemptionFeeFloor", a.RedemptionFeeFloor, &params.RedemptionFeeFloor},
	}
	for _, field := range fields {
		value, err := parseAmount(a.Symbol+"."+field.name, field.raw)
		if err != nil {
			return cdp.RiskParams{}, err
		}
		*field.dst = value
	}
	return params, nil
}

// SinkAddresses parses the configured fee and surplus sink addresses.
func (c *Config) SinkAddresses() (feeSink, surplusSink common.Address, err error) {
	if !common.IsHexAddress(c.FeeSink) {
		return common.Address{}, common.Address{}, fmt.Errorf("config: FeeSink: invalid address %q", c.FeeSink)
	}
	if !common.IsHexAddress(c.SurplusSink) {
		return common.Address{}, common.Address{}, fmt.Errorf("config: SurplusSink: invalid address %q", c.SurplusSink)
	}
	return common.HexToAddress(c.FeeSink), common.HexToAddress(c.SurplusSink), nil
}
