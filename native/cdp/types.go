package cdp

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks the lifecycle of a collateralized position. Closed
// positions retain their record for history but hold zero balances.
type PositionStatus uint8

const (
	StatusNonExistent PositionStatus = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

// String renders the status for event attributes and RPC responses.
func (s PositionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closedByOwner"
	case StatusClosedByLiquidation:
		return "closedByLiquidation"
	case StatusClosedByRedemption:
		return "closedByRedemption"
	default:
		return "nonExistent"
	}
}

// Position is the authoritative record for one (asset, owner) pair. Collateral
// and Debt are wad-scale amounts. ArrayIndex is the slot held in the owner
// enumeration arena and is only meaningful while the position is active.
type Position struct {
	Asset      string         `json:"asset"`
	Owner      common.Address `json:"owner"`
	Collateral *big.Int       `json:"collateral"`
	Debt       *big.Int       `json:"debt"`
	Status     PositionStatus `json:"status"`
	ArrayIndex int            `json:"arrayIndex"`
}

// Clone returns a deep copy so callers cannot mutate ledger state through
// shared big.Int pointers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Asset:      p.Asset,
		Owner:      p.Owner,
		Status:     p.Status,
		ArrayIndex: p.ArrayIndex,
	}
	clone.Collateral = cloneOrZero(p.Collateral)
	clone.Debt = cloneOrZero(p.Debt)
	return clone
}

// NominalRatio reports the price-free ordering key for the position.
func (p *Position) NominalRatio() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return nominalRatio(p.Collateral, p.Debt)
}

// CurrentRatio reports the individual collateralization ratio at the supplied
// price.
func (p *Position) CurrentRatio(price *big.Int) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return collateralRatio(p.Collateral, price, p.Debt)
}

// FeeState holds the decaying base rate for one asset together with the
// timestamp of the last fee-affecting operation.
type FeeState struct {
	Asset            string    `json:"asset"`
	BaseRate         *big.Int  `json:"baseRate"`
	LastFeeOperation time.Time `json:"lastFeeOperation"`
}

// Clone returns a deep copy of the fee state.
func (f *FeeState) Clone() *FeeState {
	if f == nil {
		return nil
	}
	return &FeeState{
		Asset:            f.Asset,
		BaseRate:         cloneOrZero(f.BaseRate),
		LastFeeOperation: f.LastFeeOperation,
	}
}

// RiskParams groups the governance-controlled limits for one asset. Ratios and
// fee bounds are wad-scale percentages (1e18 == 100%).
type RiskParams struct {
	// MinBorrowRatio is the lowest ICR a borrower-initiated change may leave
	// behind.
	MinBorrowRatio *big.Int `json:"minBorrowRatio"`
	// MinLiquidationRatio is the ICR below which a position may be liquidated.
	MinLiquidationRatio *big.Int `json:"minLiquidationRatio"`
	// SystemRatioFloor is the TCR below which new debt and collateral
	// withdrawals are refused system-wide.
	SystemRatioFloor *big.Int `json:"systemRatioFloor"`
	// ValueCap bounds the aggregate debt issued against the asset.
	ValueCap *big.Int `json:"valueCap"`
	// MinNetDebt is the smallest debt an active position may carry.
	MinNetDebt *big.Int `json:"minNetDebt"`
	// BorrowFeeFloor and BorrowFeeCeiling bound the borrowing fee percentage.
	BorrowFeeFloor   *big.Int `json:"borrowFeeFloor"`
	BorrowFeeCeiling *big.Int `json:"borrowFeeCeiling"`
	// RedemptionFeeFloor bounds the redemption fee percentage from below.
	RedemptionFeeFloor *big.Int `json:"redemptionFeeFloor"`
	// RedemptionUnblockTime gates redemptions until the configured instant.
	RedemptionUnblockTime time.Time `json:"redemptionUnblockTime"`
	// LiquidationFeeBps is the protocol share of liquidated collateral.
	LiquidationFeeBps uint64 `json:"liquidationFeeBps"`
}

// Clone returns a deep copy of the risk parameters.
func (p RiskParams) Clone() RiskParams {
	clone := RiskParams{
		RedemptionUnblockTime: p.RedemptionUnblockTime,
		LiquidationFeeBps:     p.LiquidationFeeBps,
	}
	clone.MinBorrowRatio = cloneOrZero(p.MinBorrowRatio)
	clone.MinLiquidationRatio = cloneOrZero(p.MinLiquidationRatio)
	clone.SystemRatioFloor = cloneOrZero(p.SystemRatioFloor)
	clone.ValueCap = cloneOrZero(p.ValueCap)
	clone.MinNetDebt = cloneOrZero(p.MinNetDebt)
	clone.BorrowFeeFloor = cloneOrZero(p.BorrowFeeFloor)
	clone.BorrowFeeCeiling = cloneOrZero(p.BorrowFeeCeiling)
	clone.RedemptionFeeFloor = cloneOrZero(p.RedemptionFeeFloor)
	return clone
}
