package cdp

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/events"
)

var errNothingToLiquidate = errors.New("cdp liquidation: nothing to liquidate")

// LiquidationResult summarises a completed liquidation batch.
type LiquidationResult struct {
	DebtBurned       *big.Int
	CollateralSeized *big.Int
	ProtocolFee      *big.Int
	LiquidatorShare  *big.Int
	Closed           []common.Address
}

// Liquidate closes a single undercollateralized position.
func (e *Engine) Liquidate(asset string, liquidator, owner common.Address) (*LiquidationResult, error) {
	return e.BatchLiquidate(asset, liquidator, []common.Address{owner})
}

// LiquidateSequence walks the sorted index from its riskiest end and closes up
// to n undercollateralized positions. The walk stops at the first position at
// or above the liquidation ratio: the index is ordered, so nothing beyond it
// qualifies.
func (e *Engine) LiquidateSequence(asset string, liquidator common.Address, n int) (*LiquidationResult, error) {
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
	price, err := e.price.FetchPrice(asset)
	if err != nil {
		return nil, err
	}

	liqRatio := cloneOrZero(params.MinLiquidationRatio)
	var targets []common.Address
	cursor, ok := e.index.Last(asset)
	for ok && (n <= 0 || len(targets) < n) {
		pos := e.ledger.Get(asset, cursor)
		if pos.CurrentRatio(price).Cmp(liqRatio) >= 0 {
			break
		}
		targets = append(targets, cursor)
		cursor, ok = e.index.Prev(asset, cursor)
	}
	return e.liquidateTargets(asset, liquidator, targets, params, price)
}

// BatchLiquidate processes an explicit caller-supplied owner list. Entries
// that do not qualify are skipped rather than rejected, so one healthy owner
// in the list does not void the rest of the batch.
func (e *Engine) BatchLiquidate(asset string, liquidator common.Address, owners []common.Address) (*LiquidationResult, error) {
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
	price, err := e.price.FetchPrice(asset)
	if err != nil {
		return nil, err
	}

	liqRatio := cloneOrZero(params.MinLiquidationRatio)
	var targets []common.Address
	for _, owner := range owners {
		pos := e.ledger.Get(asset, owner)
		if pos.Status != StatusActive {
			continue
		}
		if pos.CurrentRatio(price).Cmp(liqRatio) >= 0 {
			continue
		}
		targets = append(targets, owner)
	}
	return e.liquidateTargets(asset, liquidator, targets, params, price)
}

// liquidateTargets accumulates the batch totals, verifies the liquidator can
// fund the full debt, then commits every close and the collateral split.
// Accumulation is read-only so a funding failure aborts with no state change.
func (e *Engine) liquidateTargets(asset string, liquidator common.Address, targets []common.Address, params RiskParams, price *big.Int) (*LiquidationResult, error) {
	totalDebt := big.NewInt(0)
	totalColl := big.NewInt(0)
	for _, owner := range targets {
		pos := e.ledger.Get(asset, owner)
		totalDebt.Add(totalDebt, pos.Debt)
		totalColl.Add(totalColl, pos.Collateral)
	}
	if totalDebt.Sign() == 0 {
		return nil, errNothingToLiquidate
	}
	if e.token.BalanceOf(liquidator).Cmp(totalDebt) < 0 {
		return nil, errInsufficientTokens
	}

	for _, owner := range targets {
		pos := e.ledger.Get(asset, owner)
		debt := cloneOrZero(pos.Debt)
		coll := cloneOrZero(pos.Collateral)
		e.index.Remove(asset, owner)
		e.ledger.Unenroll(pos)
		pos.Collateral = big.NewInt(0)
		pos.Debt = big.NewInt(0)
		pos.Status = StatusClosedByLiquidation
		if err := e.ledger.Put(pos); err != nil {
			return nil, err
		}
		e.emitter.Emit(events.PositionLiquidated{
			Asset:      ledgerKey(asset),
			Owner:      owner,
			Debt:       debt,
			Collateral: coll,
			Liquidator: liquidator,
		})
	}

	if err := e.token.Burn(liquidator, totalDebt); err != nil {
		return nil, err
	}
	e.pool.DecreaseDebt(asset, totalDebt)

	protocolFee := new(big.Int).Mul(totalColl, new(big.Int).SetUint64(params.LiquidationFeeBps))
	protocolFee.Quo(protocolFee, basisPoints)
	liquidatorShare := new(big.Int).Sub(totalColl, protocolFee)
	if protocolFee.Sign() > 0 {
		if err := e.pool.SendAsset(asset, e.feeSink, protocolFee); err != nil {
			return nil, err
		}
	}
	if liquidatorShare.Sign() > 0 {
		if err := e.pool.SendAsset(asset, liquidator, liquidatorShare); err != nil {
			return nil, err
		}
	}

	return &LiquidationResult{
		DebtBurned:       totalDebt,
		CollateralSeized: totalColl,
		ProtocolFee:      protocolFee,
		LiquidatorShare:  liquidatorShare,
		Closed:           append([]common.Address{}, targets...),
	}, nil
}
