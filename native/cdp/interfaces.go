package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource supplies the last-known-good, currency-converted price for an
// asset. Implementations recover internally from upstream faults; the only
// user-facing failure is an unregistered asset.
type PriceSource interface {
	FetchPrice(asset string) (*big.Int, error)
}

// ParamSource exposes the per-asset risk parameters consumed by the engine.
// Read-only from the core's perspective.
type ParamSource interface {
	RiskParams(asset string) (RiskParams, error)
}

// DebtToken is the fungible debt-token surface the engine consumes. Mint and
// burn semantics are assumed correct.
type DebtToken interface {
	Mint(asset string, recipient common.Address, amount *big.Int) error
	Burn(holder common.Address, amount *big.Int) error
	BalanceOf(holder common.Address) *big.Int
}

// CollateralPool tracks the collateral backing active positions and the
// per-asset debt total, and moves collateral between the pool and external
// accounts.
type CollateralPool interface {
	PullAsset(asset string, from common.Address, amount *big.Int) error
	SendAsset(asset string, recipient common.Address, amount *big.Int) error
	TransferHolding(asset string, from, to common.Address, amount *big.Int) error
	IncreaseDebt(asset string, amount *big.Int)
	DecreaseDebt(asset string, amount *big.Int)
	AssetBalance(asset string) *big.Int
	DebtTotal(asset string) *big.Int
}

// SurplusPool accrues collateral left over after full redemptions until the
// original owner claims it.
type SurplusPool interface {
	Accrue(asset string, owner common.Address, amount *big.Int)
	Claim(asset string, owner common.Address) (*big.Int, error)
	Balance(asset string, owner common.Address) *big.Int
}

// BalanceReceiver is implemented by recipients that track incoming collateral
// themselves. The pool notifies them after the transfer has completed so their
// accounting stays consistent.
type BalanceReceiver interface {
	ReceivedAsset(asset string, amount *big.Int)
}
