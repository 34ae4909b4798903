package cdp

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	errFeeExceedsMax = errors.New("cdp fees: fee exceeds supplied maximum")
	errFeeEatsDrawn  = errors.New("cdp fees: fee consumes the full redemption")
	errFeeTotalDebt  = errors.New("cdp fees: total debt supply required")
)

// redemptionBeta dampens the base-rate increase per unit of redeemed supply.
const redemptionBeta = 2

// FeeController maintains the decaying base rate per asset. The rate rises
// with redemption volume and decays exponentially with a 12 hour half-life,
// feeding both borrowing and redemption fee percentages. Safe for concurrent
// use.
type FeeController struct {
	mu     sync.RWMutex
	states map[string]*FeeState
	now    func() time.Time
}

// NewFeeController constructs a controller using the supplied clock. A nil
// clock falls back to time.Now.
func NewFeeController(now func() time.Time) *FeeController {
	if now == nil {
		now = time.Now
	}
	return &FeeController{states: make(map[string]*FeeState), now: now}
}

// state returns the stored record for the asset, creating one on first use.
// Callers must hold the write lock.
func (c *FeeController) state(asset string) *FeeState {
	key := ledgerKey(asset)
	st, ok := c.states[key]
	if !ok {
		st = &FeeState{Asset: key, BaseRate: big.NewInt(0), LastFeeOperation: c.now()}
		c.states[key] = st
	}
	if st.BaseRate == nil {
		st.BaseRate = big.NewInt(0)
	}
	return st
}

// peek returns the stored record without creating one, so read paths never
// touch the map. Callers must hold at least the read lock.
func (c *FeeController) peek(asset string) *FeeState {
	if st, ok := c.states[ledgerKey(asset)]; ok && st.BaseRate != nil {
		return st
	}
	return &FeeState{Asset: ledgerKey(asset), BaseRate: big.NewInt(0), LastFeeOperation: c.now()}
}

// BaseRate reports the stored (undecayed) base rate for the asset.
func (c *FeeController) BaseRate(asset string) *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrZero(c.peek(asset).BaseRate)
}

// Snapshot returns deep copies of every fee state for persistence.
func (c *FeeController) Snapshot() []*FeeState {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*FeeState, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, st.Clone())
	}
	return out
}

// Restore replaces the controller state with persisted records.
func (c *FeeController) Restore(states []*FeeState) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = make(map[string]*FeeState, len(states))
	for _, st := range states {
		if st == nil {
			continue
		}
		clone := st.Clone()
		clone.Asset = ledgerKey(clone.Asset)
		c.states[clone.Asset] = clone
	}
}

func (c *FeeController) minutesSinceLastFeeOp(st *FeeState) uint64 {
	elapsed := c.now().Sub(st.LastFeeOperation)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / time.Minute)
}

func (c *FeeController) decayedBaseRate(st *FeeState) *big.Int {
	minutes := c.minutesSinceLastFeeOp(st)
	factor := decPow(decayFactorPerMinute, minutes)
	return wadMul(st.BaseRate, factor)
}

// The fee timestamp only advances after a full minute so rapid repeated calls
// cannot keep resetting the decay window.
func (c *FeeController) stampFeeOperation(st *FeeState) {
	if c.minutesSinceLastFeeOp(st) >= 1 {
		st.LastFeeOperation = c.now()
	}
}

// DecayBaseRateFromBorrowing applies the pending decay and stamps the fee
// operation time. Called on every fee-charging borrower operation.
func (c *FeeController) DecayBaseRateFromBorrowing(asset string) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(asset)
	decayed := c.decayedBaseRate(st)
	st.BaseRate = decayed
	c.stampFeeOperation(st)
	return cloneOrZero(decayed)
}

// baseRateAfterRedemption projects the base rate a redemption of the given
// size would set: decay first, then add the redeemed share of the debt supply
// divided by BETA, clamped to [0, 100%].
func (c *FeeController) baseRateAfterRedemption(st *FeeState, collateralDrawn, price, totalDebtSupply *big.Int) (*big.Int, error) {
	if totalDebtSupply == nil || totalDebtSupply.Sign() == 0 {
		return nil, errFeeTotalDebt
	}
	decayed := c.decayedBaseRate(st)

	redeemedValue := new(big.Int).Mul(cloneOrZero(collateralDrawn), cloneOrZero(price))
	redeemedValue.Quo(redeemedValue, totalDebtSupply)
	increase := redeemedValue.Quo(redeemedValue, big.NewInt(redemptionBeta))

	updated := new(big.Int).Add(decayed, increase)
	if updated.Cmp(wad) > 0 {
		updated.Set(wad)
	}
	if updated.Sign() < 0 {
		updated.SetInt64(0)
	}
	return updated, nil
}

// PreviewRedemptionRate quotes the redemption fee percentage as it would be
// after the base-rate update, without mutating state.
func (c *FeeController) PreviewRedemptionRate(asset string, params RiskParams, collateralDrawn, price, totalDebtSupply *big.Int) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	updated, err := c.baseRateAfterRedemption(c.peek(asset), collateralDrawn, price, totalDebtSupply)
	if err != nil {
		return nil, err
	}
	rate := new(big.Int).Add(cloneOrZero(params.RedemptionFeeFloor), updated)
	if rate.Cmp(wad) > 0 {
		rate = new(big.Int).Set(wad)
	}
	return rate, nil
}

// UpdateBaseRateFromRedemption commits the redemption-driven base-rate change
// and stamps the fee operation time.
func (c *FeeController) UpdateBaseRateFromRedemption(asset string, collateralDrawn, price, totalDebtSupply *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(asset)
	updated, err := c.baseRateAfterRedemption(st, collateralDrawn, price, totalDebtSupply)
	if err != nil {
		return nil, err
	}
	st.BaseRate = updated
	c.stampFeeOperation(st)
	return cloneOrZero(updated), nil
}

// borrowingRate computes the clamped borrowing rate for a fee state. Callers
// must hold at least the read lock.
func (c *FeeController) borrowingRate(st *FeeState, params RiskParams) *big.Int {
	rate := new(big.Int).Add(cloneOrZero(params.BorrowFeeFloor), c.decayedBaseRate(st))
	ceiling := cloneOrZero(params.BorrowFeeCeiling)
	if ceiling.Sign() > 0 && rate.Cmp(ceiling) > 0 {
		rate = ceiling
	}
	return rate
}

// BorrowingRate reports the current borrowing fee percentage for the asset,
// bounded by the configured floor and ceiling.
func (c *FeeController) BorrowingRate(asset string, params RiskParams) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.borrowingRate(c.peek(asset), params)
}

// BorrowingFee quotes the borrowing fee for the requested debt and enforces
// the caller's fee ceiling. The quote is read-only: callers commit the decay
// with DecayBaseRateFromBorrowing only once every other check has passed, so
// a failed operation leaves the fee state untouched.
func (c *FeeController) BorrowingFee(asset string, params RiskParams, debtAmount, maxFeePct *big.Int) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate := c.borrowingRate(c.peek(asset), params)
	if maxFeePct != nil && rate.Cmp(maxFeePct) > 0 {
		return nil, errFeeExceedsMax
	}
	return wadMul(rate, debtAmount), nil
}

// RedemptionRate reports the current redemption fee percentage, bounded above
// by 100%.
func (c *FeeController) RedemptionRate(asset string, params RiskParams) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.peek(asset)
	rate := new(big.Int).Add(cloneOrZero(params.RedemptionFeeFloor), cloneOrZero(st.BaseRate))
	if rate.Cmp(wad) > 0 {
		rate = new(big.Int).Set(wad)
	}
	return rate
}

