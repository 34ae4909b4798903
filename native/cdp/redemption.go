package cdp

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/events"
)

var (
	errRedemptionBlocked = errors.New("cdp redemption: redemptions not yet unblocked for asset")
	errRedemptionMaxFee  = errors.New("cdp redemption: max fee below redemption fee floor")
	errRedemptionTCRLow  = errors.New("cdp redemption: system ratio below liquidation ratio")
	errRedemptionZero    = errors.New("cdp redemption: amount required")
	errRedemptionNoDraw  = errors.New("cdp redemption: unable to redeem any collateral")
)

// RedemptionRequest carries the caller parameters for a redemption walk.
type RedemptionRequest struct {
	Asset     string
	Redeemer  common.Address
	Amount    *big.Int
	FirstHint common.Address
	// PartialHints position the reinsertion of a partially redeemed position;
	// PartialHintRatio is the nominal ratio the caller expects it to land on.
	PartialHints     Hints
	PartialHintRatio *big.Int
	// MaxIterations bounds the walk; zero means unbounded.
	MaxIterations int
	MaxFeePct     *big.Int
}

// RedemptionResult summarises a completed redemption.
type RedemptionResult struct {
	RedeemedDebt    *big.Int
	CollateralDrawn *big.Int
	CollateralFee   *big.Int
	CollateralSent  *big.Int
	BaseRate        *big.Int
}

// redemptionStep is one planned position mutation. The walk is planned fully
// before anything is applied: once collateral starts moving there is no way to
// roll back, so every fee and balance check runs against the plan first.
type redemptionStep struct {
	owner      common.Address
	debtLot    *big.Int
	collLot    *big.Int
	newColl    *big.Int
	newDebt    *big.Int
	fullClose  bool
	surplus    *big.Int
}

// Redeem exchanges debt tokens at face value for collateral drawn from the
// riskiest positions, walking the sorted index from its tail toward safety.
func (e *Engine) Redeem(req RedemptionRequest) (*RedemptionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	e.mu.Lock()
	defer e.mu.Unlock()

	asset := req.Asset
	params, err := e.assetParams(asset)
	if err != nil {
		return nil, err
	}
	if e.now().Before(params.RedemptionUnblockTime) {
		return nil, errRedemptionBlocked
	}
	if req.MaxFeePct == nil || (params.RedemptionFeeFloor != nil && req.MaxFeePct.Cmp(params.RedemptionFeeFloor) < 0) {
		return nil, errRedemptionMaxFee
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, errRedemptionZero
	}
	if e.token.BalanceOf(req.Redeemer).Cmp(req.Amount) < 0 {
		return nil, errInsufficientTokens
	}

	price, err := e.price.FetchPrice(asset)
	if err != nil {
		return nil, err
	}
	liqRatio := cloneOrZero(params.MinLiquidationRatio)
	// e.mu is already held; compute the TCR directly rather than through
	// SystemRatio, which would re-acquire the mutex.
	if collateralRatio(e.pool.AssetBalance(asset), price, e.pool.DebtTotal(asset)).Cmp(liqRatio) < 0 {
		return nil, errRedemptionTCRLow
	}

	totalDebtAtStart := e.pool.DebtTotal(asset)

	steps, redeemedDebt, collDrawn := e.planRedemption(req, params, price, liqRatio)
	if collDrawn.Sign() == 0 {
		return nil, errRedemptionNoDraw
	}

	// Quote the post-update fee before committing anything.
	feeRate, err := e.fees.PreviewRedemptionRate(asset, params, collDrawn, price, totalDebtAtStart)
	if err != nil {
		return nil, err
	}
	if feeRate.Cmp(req.MaxFeePct) > 0 {
		return nil, errFeeExceedsMax
	}
	collFee := wadMul(feeRate, collDrawn)
	if collFee.Cmp(collDrawn) >= 0 {
		return nil, errFeeEatsDrawn
	}

	// Commit: base rate first, then the planned position mutations, then
	// settlement with the redeemer.
	baseRate, err := e.fees.UpdateBaseRateFromRedemption(asset, collDrawn, price, totalDebtAtStart)
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BaseRateUpdated{Asset: ledgerKey(asset), BaseRate: cloneOrZero(baseRate)})

	for _, step := range steps {
		if err := e.applyRedemptionStep(asset, step, req.PartialHints); err != nil {
			return nil, err
		}
	}

	if err := e.token.Burn(req.Redeemer, redeemedDebt); err != nil {
		return nil, err
	}
	e.pool.DecreaseDebt(asset, redeemedDebt)

	collSent := new(big.Int).Sub(collDrawn, collFee)
	if collFee.Sign() > 0 {
		if err := e.pool.SendAsset(asset, e.feeSink, collFee); err != nil {
			return nil, err
		}
	}
	if err := e.pool.SendAsset(asset, req.Redeemer, collSent); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.Redemption{
		Asset:           ledgerKey(asset),
		Redeemer:        req.Redeemer,
		AttemptedAmount: cloneOrZero(req.Amount),
		RedeemedAmount:  redeemedDebt,
		CollateralDrawn: collDrawn,
		CollateralFee:   collFee,
	})

	return &RedemptionResult{
		RedeemedDebt:    redeemedDebt,
		CollateralDrawn: collDrawn,
		CollateralFee:   collFee,
		CollateralSent:  collSent,
		BaseRate:        baseRate,
	}, nil
}

// planRedemption walks the index and builds the mutation plan without touching
// state. The walk starts at the caller's hint when it still describes the
// boundary position, otherwise at a fresh scan from the tail.
func (e *Engine) planRedemption(req RedemptionRequest, params RiskParams, price, liqRatio *big.Int) ([]redemptionStep, *big.Int, *big.Int) {
	asset := req.Asset
	current, ok := e.startPosition(asset, req.FirstHint, price, liqRatio)
	remaining := new(big.Int).Set(req.Amount)
	redeemedDebt := big.NewInt(0)
	collDrawn := big.NewInt(0)
	var steps []redemptionStep

	iterations := 0
	for ok && remaining.Sign() > 0 {
		if req.MaxIterations > 0 && iterations >= req.MaxIterations {
			break
		}
		iterations++
		pos := e.ledger.Get(asset, current)
		next, nextOK := e.index.Prev(asset, current)

		debtLot := bigMin(remaining, pos.Debt)
		collLot := wadDiv(debtLot, price)
		if collLot.Cmp(pos.Collateral) > 0 {
			collLot = cloneOrZero(pos.Collateral)
		}
		newDebt := new(big.Int).Sub(pos.Debt, debtLot)
		newColl := new(big.Int).Sub(pos.Collateral, collLot)

		step := redemptionStep{
			owner:   current,
			debtLot: debtLot,
			collLot: collLot,
			newColl: newColl,
			newDebt: newDebt,
		}
		if newDebt.Sign() == 0 {
			step.fullClose = true
			step.surplus = newColl
			step.newColl = big.NewInt(0)
		} else {
			// A partial step only stands when the caller's hint ratio still
			// matches and the leftover debt clears the minimum; otherwise the
			// walk truncates here and keeps what was already planned.
			newNICR := nominalRatio(newColl, newDebt)
			if req.PartialHintRatio == nil || newNICR.Cmp(req.PartialHintRatio) != 0 {
				break
			}
			if params.MinNetDebt != nil && newDebt.Cmp(params.MinNetDebt) < 0 {
				break
			}
		}

		steps = append(steps, step)
		redeemedDebt.Add(redeemedDebt, debtLot)
		collDrawn.Add(collDrawn, collLot)
		remaining.Sub(remaining, debtLot)

		current, ok = next, nextOK
	}
	return steps, redeemedDebt, collDrawn
}

// startPosition validates the caller's first hint: it must be indexed, sit at
// or above the liquidation ratio, and be the boundary (last position, or its
// riskier neighbour below the ratio). A stale hint falls back to a tail scan.
func (e *Engine) startPosition(asset string, hint common.Address, price, liqRatio *big.Int) (common.Address, bool) {
	if hint != (common.Address{}) && e.index.Contains(asset, hint) {
		pos := e.ledger.Get(asset, hint)
		if pos.CurrentRatio(price).Cmp(liqRatio) >= 0 {
			next, ok := e.index.Next(asset, hint)
			if !ok {
				return hint, true
			}
			nextPos := e.ledger.Get(asset, next)
			if nextPos.CurrentRatio(price).Cmp(liqRatio) < 0 {
				return hint, true
			}
		}
	}
	cursor, ok := e.index.Last(asset)
	for ok {
		pos := e.ledger.Get(asset, cursor)
		if pos.CurrentRatio(price).Cmp(liqRatio) >= 0 {
			return cursor, true
		}
		cursor, ok = e.index.Prev(asset, cursor)
	}
	return common.Address{}, false
}

func (e *Engine) applyRedemptionStep(asset string, step redemptionStep, partialHints Hints) error {
	pos := e.ledger.Get(asset, step.owner)
	if step.fullClose {
		e.index.Remove(asset, step.owner)
		e.ledger.Unenroll(pos)
		pos.Collateral = big.NewInt(0)
		pos.Debt = big.NewInt(0)
		pos.Status = StatusClosedByRedemption
		if err := e.ledger.Put(pos); err != nil {
			return err
		}
		if step.surplus != nil && step.surplus.Sign() > 0 {
			if err := e.pool.SendAsset(asset, e.surplusSink, step.surplus); err != nil {
				return err
			}
			if e.surplus != nil {
				e.surplus.Accrue(asset, step.owner, step.surplus)
			}
		}
		e.emitPosition(pos, "redeemFull", nil)
		return nil
	}
	pos.Collateral = cloneOrZero(step.newColl)
	pos.Debt = cloneOrZero(step.newDebt)
	if err := e.ledger.Put(pos); err != nil {
		return err
	}
	e.index.ReInsert(asset, step.owner, pos.NominalRatio(), partialHints.Upper, partialHints.Lower)
	e.emitPosition(pos, "redeemPartial", nil)
	return nil
}
