package config

import (
	"fmt"
	"math/big"
	"strings"
)

var oneHundredPercent = big.NewInt(1_000_000_000_000_000_000)

// ValidateConfig rejects market declarations that would make the engine
// refuse every operation or accept unsound ones.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	seen := make(map[string]struct{}, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbol := strings.TrimSpace(asset.Symbol)
		if symbol == "" {
			return fmt.Errorf("config: asset with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = struct{}{}

		params, err := asset.RiskParams()
		if err != nil {
			return err
		}
		if params.MinLiquidationRatio.Cmp(oneHundredPercent) < 0 {
			return fmt.Errorf("config: %s: MinLiquidationRatio below 100%%", symbol)
		}
		if params.MinBorrowRatio.Cmp(params.MinLiquidationRatio) < 0 {
			return fmt.Errorf("config: %s: MinBorrowRatio below MinLiquidationRatio", symbol)
		}
		if params.SystemRatioFloor.Cmp(params.MinBorrowRatio) < 0 {
			return fmt.Errorf("config: %s: SystemRatioFloor below MinBorrowRatio", symbol)
		}
		if params.BorrowFeeCeiling.Cmp(params.BorrowFeeFloor) < 0 {
			return fmt.Errorf("config: %s: BorrowFeeCeiling below BorrowFeeFloor", symbol)
		}
		if asset.LiquidationFeeBps > 10_000 {
			return fmt.Errorf("config: %s: LiquidationFeeBps above 10000", symbol)
		}
	}
	return nil
}
