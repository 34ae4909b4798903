package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type CDPMetrics struct {
	operations           *prometheus.CounterVec
	liquidatedDebt       *prometheus.CounterVec
	liquidatedCollateral *prometheus.CounterVec
	redeemedDebt         *prometheus.CounterVec
	baseRate             *prometheus.GaugeVec
	systemRatio          *prometheus.GaugeVec
	oracleStatus         *prometheus.GaugeVec
}

var (
	cdpOnce     sync.Once
	cdpRegistry *CDPMetrics
)

func CDP() *CDPMetrics {
	cdpOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdp_operations_total",
				Help: "Count of ledger operations by asset, operation, and outcome.",
			}, []string{"asset", "op", "outcome"}),
			liquidatedDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdp_liquidated_debt_total",
				Help: "Cumulative debt cleared by liquidations per asset.",
			}, []string{"asset"}),
			liquidatedCollateral: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdp_liquidated_collateral_total",
				Help: "Cumulative collateral seized by liquidations per asset.",
			}, []string{"asset"}),
			redeemedDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdp_redeemed_debt_total",
				Help: "Cumulative debt retired through redemptions per asset.",
			}, []string{"asset"}),
			baseRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cdp_base_rate",
				Help: "Current base rate per asset, as a fraction of one.",
			}, []string{"asset"}),
			systemRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cdp_system_ratio",
				Help: "Aggregate collateralization ratio per asset at the last observed price.",
			}, []string{"asset"}),
			oracleStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cdp_oracle_status",
				Help: "Price feed state per asset: 0 working, 1 untrusted.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.liquidatedDebt,
			cdpRegistry.liquidatedCollateral,
			cdpRegistry.redeemedDebt,
			cdpRegistry.baseRate,
			cdpRegistry.systemRatio,
			cdpRegistry.oracleStatus,
		)
	})
	return cdpRegistry
}

// wadFloat converts an 18-decimal fixed-point value to a float64 for gauge
// exports. Precision loss is acceptable for dashboards.
func wadFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(value), big.NewFloat(1e18)).Float64()
	return f
}

func (m *CDPMetrics) ObserveOperation(asset, op, outcome string) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(asset, op, outcome).Inc()
}

func (m *CDPMetrics) ObserveLiquidation(asset string, debt, collateral *big.Int) {
	if m == nil {
		return
	}
	m.liquidatedDebt.WithLabelValues(asset).Add(wadFloat(debt))
	m.liquidatedCollateral.WithLabelValues(asset).Add(wadFloat(collateral))
}

func (m *CDPMetrics) ObserveRedemption(asset string, debt *big.Int) {
	if m == nil {
		return
	}
	m.redeemedDebt.WithLabelValues(asset).Add(wadFloat(debt))
}

func (m *CDPMetrics) SetBaseRate(asset string, rate *big.Int) {
	if m == nil {
		return
	}
	m.baseRate.WithLabelValues(asset).Set(wadFloat(rate))
}

func (m *CDPMetrics) SetSystemRatio(asset string, ratio *big.Int) {
	if m == nil {
		return
	}
	m.systemRatio.WithLabelValues(asset).Set(wadFloat(ratio))
}

func (m *CDPMetrics) SetOracleStatus(asset string, untrusted bool) {
	if m == nil {
		return
	}
	value := 0.0
	if untrusted {
		value = 1.0
	}
	m.oracleStatus.WithLabelValues(asset).Set(value)
}
