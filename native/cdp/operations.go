package cdp

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/events"
)

var (
	errPositionActive      = errors.New("cdp operations: position already active")
	errPositionNotActive   = errors.New("cdp operations: position not active")
	errZeroCollateral      = errors.New("cdp operations: collateral amount required")
	errZeroAdjustment      = errors.New("cdp operations: no collateral or debt change")
	errZeroDebtChange      = errors.New("cdp operations: debt change required")
	errCollateralBothWays  = errors.New("cdp operations: cannot top up and withdraw collateral at once")
	errNetDebtBelowMin     = errors.New("cdp operations: net debt below asset minimum")
	errICRBelowMinimum     = errors.New("cdp operations: resulting ICR below minimum borrow ratio")
	errICRBelowFloor       = errors.New("cdp operations: resulting ICR below system-ratio floor")
	errTCRBelowFloor       = errors.New("cdp operations: resulting TCR below system-ratio floor")
	errValueCapExceeded    = errors.New("cdp operations: asset value cap exceeded")
	errInsufficientTokens  = errors.New("cdp operations: insufficient debt token balance")
	errCollateralTooLarge  = errors.New("cdp operations: withdrawal exceeds position collateral")
	errRepaymentTooLarge   = errors.New("cdp operations: repayment exceeds position debt")
	errMaxFeeOutOfBounds   = errors.New("cdp operations: max fee percentage out of bounds")
)

// Hints carry the caller's estimate of the sorted-index slot. They only bound
// iteration cost; stale hints are recovered by a full walk.
type Hints struct {
	Upper common.Address
	Lower common.Address
}

func validMaxFeePct(maxFeePct, floor *big.Int) bool {
	if maxFeePct == nil {
		return false
	}
	if floor != nil && maxFeePct.Cmp(floor) < 0 {
		return false
	}
	return maxFeePct.Cmp(wad) <= 0
}

// Open creates a new active position: collateral is pulled from the owner, the
// requested debt plus borrowing fee becomes the position debt, net debt tokens
// are minted to the owner and the fee to the protocol sink.
func (e *Engine) Open(asset string, owner common.Address, collateral, maxFeePct, debtRequested *big.Int, hints Hints) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.assetParams(asset)
	if err != nil {
		return nil, err
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return nil, errZeroCollateral
	}
	if debtRequested == nil || debtRequested.Sign() <= 0 {
		return nil, errZeroDebtChange
	}
	if !validMaxFeePct(maxFeePct, params.BorrowFeeFloor) {
		return nil, errMaxFeeOutOfBounds
	}
	existing := e.ledger.Get(asset, owner)
	if existing.Status == StatusActive {
		return nil, errPositionActive
	}

	price, err := e.price.FetchPrice(asset)
	if err != nil {
		return nil, err
	}

	fee, err := e.fees.BorrowingFee(asset, params, debtRequested, maxFeePct)
	if err != nil {
		return nil, err
	}
	netDebt := new(big.Int).Add(debtRequested, fee)
	if params.MinNetDebt != nil && netDebt.Cmp(params.MinNetDebt) < 0 {
		return nil, errNetDebtBelowMin
	}
	if params.ValueCap != nil && params.ValueCap.Sign() > 0 {
		projected := new(big.Int).Add(e.pool.DebtTotal(asset), netDebt)
		if projected.Cmp(params.ValueCap) > 0 {
			return nil, errValueCapExceeded
		}
	}

	icr := collateralRatio(collateral, price, netDebt)
	if params.MinBorrowRatio != nil && icr.Cmp(params.MinBorrowRatio) < 0 {
		return nil, errICRBelowMinimum
	}
	newTCR := e.systemRatioAfter(asset, price, collateral, netDebt, true, true)
	if params.SystemRatioFloor != nil && newTCR.Cmp(params.SystemRatioFloor) < 0 {
		if icr.Cmp(params.SystemRatioFloor) < 0 {
			return nil, errICRBelowFloor
		}
	}

	// All checks passed; effects begin with the collateral transfer so a
	// funding failure aborts before the ledger is touched.
	if err := e.pool.PullAsset(asset, owner, collateral); err != nil {
		return nil, err
	}

	pos := existing
	pos.Collateral = new(big.Int).Set(collateral)
	pos.Debt = netDebt
	pos.Status = StatusActive
	e.ledger.Enroll(pos)
	if err := e.ledger.Put(pos); err != nil {
		return nil, err
	}
	e.index.Insert(asset, owner, pos.NominalRatio(), hints.Upper, hints.Lower)
	e.pool.IncreaseDebt(asset, netDebt)

	e.fees.DecayBaseRateFromBorrowing(asset)
	if err := e.token.Mint(asset, owner, debtRequested); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.token.Mint(asset, e.feeSink, fee); err != nil {
			return nil, err
		}
	}

	e.emitPosition(pos, "open", fee)
	return pos.Clone(), nil
}

// Adjust applies a combined collateral and debt change to an active position.
// Debt repayments and collateral top-ups stay permitted while the system is
// below its ratio floor; debt increases and withdrawals do not.
func (e *Engine) Adjust(asset string, owner common.Address, collTopUp, collWithdrawal, debtDelta *big.Int, isDebtIncrease bool, maxFeePct *big.Int, hints Hints) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.assetParams(asset)
	if err != nil {
		return nil, err
	}
	topUp := cloneOrZero(collTopUp)
	withdrawal := cloneOrZero(collWithdrawal)
	debtChange := cloneOrZero(debtDelta)
	if topUp.Sign() > 0 && withdrawal.Sign() > 0 {
		return nil, errCollateralBothWays
	}
	if topUp.Sign() == 0 && withdrawal.Sign() == 0 && debtChange.Sign() == 0 {
		return nil, errZeroAdjustment
	}
	if isDebtIncrease {
		if debtChange.Sign() == 0 {
			return nil, errZeroDebtChange
		}
		if !validMaxFeePct(maxFeePct, params.BorrowFeeFloor) {
			return nil, errMaxFeeOutOfBounds
		}
	}
	pos := e.ledger.Get(asset, owner)
	if pos.Status != StatusActive {
		return nil, errPositionNotActive
	}
	if withdrawal.Cmp(pos.Collateral) > 0 {
		return nil, errCollateralTooLarge
	}

	price, err := e.price.FetchPrice(asset)
	if err != nil {
		return nil, err
	}

	fee := big.NewInt(0)
	netDebtChange := new(big.Int).Set(debtChange)
	if isDebtIncrease {
		fee, err = e.fees.BorrowingFee(asset, params, debtChange, maxFeePct)
		if err != nil {
			return nil, err
		}
		netDebtChange.Add(netDebtChange, fee)
		if params.ValueCap != nil && params.ValueCap.Sign() > 0 {
			projected := new(big.Int).Add(e.pool.DebtTotal(asset), netDebtChange)
			if projected.Cmp(params.ValueCap) > 0 {
				return nil, errValueCapExceeded
			}
		}
	}

	newColl := new(big.Int).Add(pos.Collateral, topUp)
	newColl.Sub(newColl, withdrawal)
	newDebt := new(big.Int).Set(pos.Debt)
	if isDebtIncrease {
		newDebt.Add(newDebt, netDebtChange)
	} else if debtChange.Sign() > 0 {
		if debtChange.Cmp(pos.Debt) > 0 {
			return nil, errRepaymentTooLarge
		}
		newDebt.Sub(newDebt, debtChange)
		if params.MinNetDebt != nil && newDebt.Cmp(params.MinNetDebt) < 0 {
			return nil, errNetDebtBelowMin
		}
		if e.token.BalanceOf(owner).Cmp(debtChange) < 0 {
			return nil, errInsufficientTokens
		}
	}

	newICR := collateralRatio(newColl, price, newDebt)
	if params.MinBorrowRatio != nil && newICR.Cmp(params.MinBorrowRatio) < 0 {
		return nil, errICRBelowMinimum
	}
	if isDebtIncrease || withdrawal.Sign() > 0 {
		collDelta := new(big.Int).Sub(topUp, withdrawal)
		var debtApplied *big.Int
		if isDebtIncrease {
			debtApplied = netDebtChange
		} else {
			debtApplied = new(big.Int).Neg(debtChange)
		}
		newTCR := e.systemRatioAfter(asset, price, collDelta, debtApplied, true, true)
		if params.SystemRatioFloor != nil && newTCR.Cmp(params.SystemRatioFloor) < 0 {
			return nil, errTCRBelowFloor
		}
	}

	if topUp.Sign() > 0 {
		if err := e.pool.PullAsset(asset, owner, topUp); err != nil {
			return nil, err
		}
	}

	pos.Collateral = newColl
	pos.Debt = newDebt
	if err := e.ledger.Put(pos); err != nil {
		return nil, err
	}
	e.index.ReInsert(asset, owner, pos.NominalRatio(), hints.Upper, hints.Lower)

	switch {
	case isDebtIncrease:
		e.pool.IncreaseDebt(asset, netDebtChange)
		e.fees.DecayBaseRateFromBorrowing(asset)
		if err := e.token.Mint(asset, owner, debtChange); err != nil {
			return nil, err
		}
		if fee.Sign() > 0 {
			if err := e.token.Mint(asset, e.feeSink, fee); err != nil {
				return nil, err
			}
		}
	case debtChange.Sign() > 0:
		e.pool.DecreaseDebt(asset, debtChange)
		if err := e.token.Burn(owner, debtChange); err != nil {
			return nil, err
		}
	}
	if withdrawal.Sign() > 0 {
		if err := e.pool.SendAsset(asset, owner, withdrawal); err != nil {
			return nil, err
		}
	}

	e.emitPosition(pos, "adjust", fee)
	return pos.Clone(), nil
}

// Close repays the full debt, returns all collateral to the owner and marks
// the position ClosedByOwner.
func (e *Engine) Close(asset string, owner common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.lock.Acquire(); err != nil {
		return err
	}
	defer e.lock.Release()
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.assetParams(asset)
	if err != nil {
		return err
	}
	pos := e.ledger.Get(asset, owner)
	if pos.Status != StatusActive {
		return errPositionNotActive
	}
	if e.token.BalanceOf(owner).Cmp(pos.Debt) < 0 {
		return errInsufficientTokens
	}

	price, err := e.price.FetchPrice(asset)
	if err != nil {
		return err
	}
	newTCR := e.systemRatioAfter(asset, price, pos.Collateral, pos.Debt, false, false)
	if params.SystemRatioFloor != nil && newTCR.Cmp(params.SystemRatioFloor) < 0 {
		return errTCRBelowFloor
	}

	debt := cloneOrZero(pos.Debt)
	coll := cloneOrZero(pos.Collateral)

	if err := e.token.Burn(owner, debt); err != nil {
		return err
	}
	e.pool.DecreaseDebt(asset, debt)
	e.index.Remove(asset, owner)
	e.ledger.Unenroll(pos)
	pos.Collateral = big.NewInt(0)
	pos.Debt = big.NewInt(0)
	pos.Status = StatusClosedByOwner
	if err := e.ledger.Put(pos); err != nil {
		return err
	}
	if err := e.pool.SendAsset(asset, owner, coll); err != nil {
		return err
	}

	e.emitPosition(pos, "close", nil)
	return nil
}

// ClaimSurplus pays out collateral surplus accrued for the owner by past
// redemptions.
func (e *Engine) ClaimSurplus(asset string, owner common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.surplus == nil {
		return nil, errSurplusNothing
	}
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	e.mu.Lock()
	defer e.mu.Unlock()

	amount, err := e.surplus.Claim(asset, owner)
	if err != nil {
		return nil, err
	}
	if err := e.pool.TransferHolding(asset, e.surplusSink, owner, amount); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.SurplusClaimed{Asset: ledgerKey(asset), Owner: owner, Amount: cloneOrZero(amount)})
	return amount, nil
}
