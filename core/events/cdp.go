package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/types"
)

const (
	// TypePositionUpdated is emitted whenever a borrower operation changes a
	// position's collateral or debt.
	TypePositionUpdated = "cdp.position.updated"
	// TypePositionLiquidated is emitted for every position closed by the
	// liquidation engine.
	TypePositionLiquidated = "cdp.position.liquidated"
	// TypeRedemption summarises a completed redemption walk.
	TypeRedemption = "cdp.redemption"
	// TypeBaseRateUpdated records a base-rate change caused by a redemption.
	TypeBaseRateUpdated = "cdp.base_rate"
	// TypeSurplusClaimed records a collateral surplus payout.
	TypeSurplusClaimed = "cdp.surplus.claimed"
	// TypeOracleStatusChanged records a price-feed failover transition.
	TypeOracleStatusChanged = "cdp.oracle.status"
)

func amountOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PositionUpdated describes the resulting state of a position after a
// borrower operation, together with the fee paid for the change.
type PositionUpdated struct {
	Asset      string
	Owner      common.Address
	Collateral *big.Int
	Debt       *big.Int
	Status     string
	Operation  string
	FeePaid    *big.Int
}

func (PositionUpdated) EventType() string { return TypePositionUpdated }

func (e PositionUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionUpdated,
		Attributes: map[string]string{
			"asset":      strings.TrimSpace(e.Asset),
			"owner":      e.Owner.Hex(),
			"collateral": amountOrZero(e.Collateral),
			"debt":       amountOrZero(e.Debt),
			"status":     strings.TrimSpace(e.Status),
			"operation":  strings.TrimSpace(e.Operation),
			"feePaid":    amountOrZero(e.FeePaid),
		},
	}
}

// PositionLiquidated describes a single position closed during liquidation.
type PositionLiquidated struct {
	Asset      string
	Owner      common.Address
	Debt       *big.Int
	Collateral *big.Int
	Liquidator common.Address
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"asset":      strings.TrimSpace(e.Asset),
			"owner":      e.Owner.Hex(),
			"debt":       amountOrZero(e.Debt),
			"collateral": amountOrZero(e.Collateral),
			"liquidator": e.Liquidator.Hex(),
		},
	}
}

// Redemption summarises a redemption walk: the debt redeemed, the collateral
// drawn and sent, and the fee routed to the sink.
type Redemption struct {
	Asset           string
	Redeemer        common.Address
	AttemptedAmount *big.Int
	RedeemedAmount  *big.Int
	CollateralDrawn *big.Int
	CollateralFee   *big.Int
}

func (Redemption) EventType() string { return TypeRedemption }

func (e Redemption) Event() *types.Event {
	return &types.Event{
		Type: TypeRedemption,
		Attributes: map[string]string{
			"asset":           strings.TrimSpace(e.Asset),
			"redeemer":        e.Redeemer.Hex(),
			"attemptedAmount": amountOrZero(e.AttemptedAmount),
			"redeemedAmount":  amountOrZero(e.RedeemedAmount),
			"collateralDrawn": amountOrZero(e.CollateralDrawn),
			"collateralFee":   amountOrZero(e.CollateralFee),
		},
	}
}

// BaseRateUpdated records the base rate after a redemption raised it.
type BaseRateUpdated struct {
	Asset    string
	BaseRate *big.Int
}

func (BaseRateUpdated) EventType() string { return TypeBaseRateUpdated }

func (e BaseRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBaseRateUpdated,
		Attributes: map[string]string{
			"asset":    strings.TrimSpace(e.Asset),
			"baseRate": amountOrZero(e.BaseRate),
		},
	}
}

// SurplusClaimed records a payout from the collateral surplus pool.
type SurplusClaimed struct {
	Asset  string
	Owner  common.Address
	Amount *big.Int
}

func (SurplusClaimed) EventType() string { return TypeSurplusClaimed }

func (e SurplusClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeSurplusClaimed,
		Attributes: map[string]string{
			"asset":  strings.TrimSpace(e.Asset),
			"owner":  e.Owner.Hex(),
			"amount": amountOrZero(e.Amount),
		},
	}
}

// OracleStatusChanged records a transition of the price aggregator state
// machine for one asset.
type OracleStatusChanged struct {
	Asset  string
	Status string
}

func (OracleStatusChanged) EventType() string { return TypeOracleStatusChanged }

func (e OracleStatusChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleStatusChanged,
		Attributes: map[string]string{
			"asset":  strings.TrimSpace(e.Asset),
			"status": strings.TrimSpace(e.Status),
		},
	}
}
