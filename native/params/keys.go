package params

import "strings"

const (
	// KeyPauses stores the module pause configuration.
	KeyPauses = "system/pauses"
	// riskPrefix namespaces the per-asset risk parameter records.
	riskPrefix = "cdp/risk/"
)

// RiskKey returns the canonical parameter-store key for an asset's risk
// parameters.
func RiskKey(asset string) string {
	return riskPrefix + strings.ToUpper(strings.TrimSpace(asset))
}
