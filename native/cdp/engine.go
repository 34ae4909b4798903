package cdp

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/events"
	nativecommon "cdpcore/native/common"
)

var (
	errNilPool       = errors.New("cdp engine: collateral pool not configured")
	errNilToken      = errors.New("cdp engine: debt token not configured")
	errNilParams     = errors.New("cdp engine: parameter store not configured")
	errNilPrice      = errors.New("cdp engine: price source not configured")
	errAssetRequired = errors.New("cdp engine: asset required")
)

const moduleName = "cdp"

// Engine orchestrates the position lifecycle: open/adjust/close operations,
// liquidation, redemption and fee assessment. Every public operation runs to
// completion as one unit; validation happens before any balance moves so a
// failed call leaves no observable effect.
//
// The mutex serializes operations against the read surfaces (GetPosition,
// SystemRatio, IndexSize, SnapshotPositions); the ledger and sorted index are
// otherwise unsynchronized and must only be touched through it.
type Engine struct {
	mu          sync.RWMutex
	ledger      *Ledger
	index       *SortedPositions
	fees        *FeeController
	pool        CollateralPool
	surplus     SurplusPool
	token       DebtToken
	params      ParamSource
	price       PriceSource
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	lock        *nativecommon.OpLock
	feeSink     common.Address
	surplusSink common.Address
	now         func() time.Time
}

// NewEngine constructs an engine routing protocol fees to feeSink and parking
// redemption surplus collateral under surplusSink until claimed. Collaborators
// are wired through the Set methods before first use.
func NewEngine(feeSink, surplusSink common.Address) *Engine {
	e := &Engine{
		ledger:      NewLedger(),
		index:       NewSortedPositions(),
		emitter:     events.NoopEmitter{},
		lock:        &nativecommon.OpLock{},
		feeSink:     feeSink,
		surplusSink: surplusSink,
		now:         time.Now,
	}
	e.fees = NewFeeController(func() time.Time { return e.now() })
	return e
}

// SetPool wires the collateral pool ledger.
func (e *Engine) SetPool(pool CollateralPool) {
	if e == nil {
		return
	}
	e.pool = pool
}

// SetSurplusPool wires the claimable-surplus pool.
func (e *Engine) SetSurplusPool(pool SurplusPool) {
	if e == nil {
		return
	}
	e.surplus = pool
}

// SetToken wires the debt token.
func (e *Engine) SetToken(token DebtToken) {
	if e == nil {
		return
	}
	e.token = token
}

// SetParams wires the per-asset risk parameter source.
func (e *Engine) SetParams(params ParamSource) {
	if e == nil {
		return
	}
	e.params = params
}

// SetPriceSource wires the price oracle aggregator.
func (e *Engine) SetPriceSource(price PriceSource) {
	if e == nil {
		return
	}
	e.price = price
}

// SetEmitter wires the event emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the governance pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the engine clock. Used by tests and deterministic replay.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Ledger exposes the position ledger for restore at boot and for tests. Not
// safe for use concurrently with operations; use SnapshotPositions instead.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Index exposes the sorted position index. Same caveat as Ledger.
func (e *Engine) Index() *SortedPositions { return e.index }

// Fees exposes the fee controller.
func (e *Engine) Fees() *FeeController { return e.fees }

// SnapshotPositions returns deep copies of every ledger record. Safe to call
// while operations are in flight.
func (e *Engine) SnapshotPositions() map[string][]*Position {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Snapshot()
}

// IndexSize reports the number of indexed positions for the asset.
func (e *Engine) IndexSize(asset string) int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Size(asset)
}

// RebuildIndex repopulates the sorted index from the ledger. Called after a
// restart restores persisted positions.
func (e *Engine) RebuildIndex() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for asset, records := range e.ledger.Snapshot() {
		for _, pos := range records {
			if pos == nil || pos.Status != StatusActive {
				continue
			}
			e.index.Insert(asset, pos.Owner, pos.NominalRatio(), common.Address{}, common.Address{})
		}
	}
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.pool == nil:
		return errNilPool
	case e.token == nil:
		return errNilToken
	case e.params == nil:
		return errNilParams
	case e.price == nil:
		return errNilPrice
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) assetParams(asset string) (RiskParams, error) {
	if ledgerKey(asset) == "" {
		return RiskParams{}, errAssetRequired
	}
	return e.params.RiskParams(asset)
}

// GetPosition returns a defensive copy of the (asset, owner) record.
func (e *Engine) GetPosition(asset string, owner common.Address) *Position {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Get(asset, owner).Clone()
}

// SystemRatio reports the TCR for the asset at the supplied price.
func (e *Engine) SystemRatio(asset string, price *big.Int) *big.Int {
	if e == nil || e.pool == nil {
		return big.NewInt(0)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return collateralRatio(e.pool.AssetBalance(asset), price, e.pool.DebtTotal(asset))
}

// systemRatioAfter projects the TCR after applying the supplied deltas.
func (e *Engine) systemRatioAfter(asset string, price, collDelta, debtDelta *big.Int, collIncrease, debtIncrease bool) *big.Int {
	coll := e.pool.AssetBalance(asset)
	debt := e.pool.DebtTotal(asset)
	if collDelta != nil {
		if collIncrease {
			coll = new(big.Int).Add(coll, collDelta)
		} else {
			coll = new(big.Int).Sub(coll, collDelta)
		}
	}
	if debtDelta != nil {
		if debtIncrease {
			debt = new(big.Int).Add(debt, debtDelta)
		} else {
			debt = new(big.Int).Sub(debt, debtDelta)
		}
	}
	if coll.Sign() < 0 {
		coll.SetInt64(0)
	}
	return collateralRatio(coll, price, debt)
}

func (e *Engine) emitPosition(pos *Position, operation string, feePaid *big.Int) {
	e.emitter.Emit(events.PositionUpdated{
		Asset:      pos.Asset,
		Owner:      pos.Owner,
		Collateral: cloneOrZero(pos.Collateral),
		Debt:       cloneOrZero(pos.Debt),
		Status:     pos.Status.String(),
		Operation:  operation,
		FeePaid:    cloneOrZero(feePaid),
	})
}
