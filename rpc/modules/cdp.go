package modules

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/native/cdp"
	"cdpcore/native/params"
	obsmetrics "cdpcore/observability/metrics"
)

func record(asset, op string, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	obsmetrics.CDP().ObserveOperation(asset, op, outcome)
}

// CDPModule adapts the ledger engine for the HTTP surface. It owns no state
// of its own; every call is forwarded and the outcome translated.
type CDPModule struct {
	engine *cdp.Engine
	params *params.Store
	price  cdp.PriceSource
}

// NewCDPModule wires the module against its collaborators.
func NewCDPModule(engine *cdp.Engine, store *params.Store, price cdp.PriceSource) *CDPModule {
	return &CDPModule{engine: engine, params: store, price: price}
}

func (m *CDPModule) ready() *ModuleError {
	if m == nil || m.engine == nil {
		return moduleUnavailable("cdp")
	}
	return nil
}

// PositionView is the wire form of a position. Amounts are decimal strings at
// 18 decimals.
type PositionView struct {
	Asset        string `json:"asset"`
	Owner        string `json:"owner"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	Status       string `json:"status"`
	NominalRatio string `json:"nominalRatio"`
}

func positionView(pos *cdp.Position) *PositionView {
	if pos == nil {
		return nil
	}
	return &PositionView{
		Asset:        pos.Asset,
		Owner:        pos.Owner.Hex(),
		Collateral:   pos.Collateral.String(),
		Debt:         pos.Debt.String(),
		Status:       pos.Status.String(),
		NominalRatio: pos.NominalRatio().String(),
	}
}

// LiquidationView summarises a liquidation batch.
type LiquidationView struct {
	DebtBurned       string   `json:"debtBurned"`
	CollateralSeized string   `json:"collateralSeized"`
	ProtocolFee      string   `json:"protocolFee"`
	LiquidatorShare  string   `json:"liquidatorShare"`
	Closed           []string `json:"closed"`
}

func liquidationView(res *cdp.LiquidationResult) *LiquidationView {
	if res == nil {
		return nil
	}
	closed := make([]string, 0, len(res.Closed))
	for _, owner := range res.Closed {
		closed = append(closed, owner.Hex())
	}
	return &LiquidationView{
		DebtBurned:       res.DebtBurned.String(),
		CollateralSeized: res.CollateralSeized.String(),
		ProtocolFee:      res.ProtocolFee.String(),
		LiquidatorShare:  res.LiquidatorShare.String(),
		Closed:           closed,
	}
}

// RedemptionView summarises a completed redemption.
type RedemptionView struct {
	RedeemedDebt    string `json:"redeemedDebt"`
	CollateralDrawn string `json:"collateralDrawn"`
	CollateralFee   string `json:"collateralFee"`
	CollateralSent  string `json:"collateralSent"`
	BaseRate        string `json:"baseRate"`
}

// RatesView reports the current fee schedule for an asset.
type RatesView struct {
	Asset          string `json:"asset"`
	BaseRate       string `json:"baseRate"`
	BorrowingRate  string `json:"borrowingRate"`
	RedemptionRate string `json:"redemptionRate"`
}

// SystemView reports aggregate market health.
type SystemView struct {
	Asset       string `json:"asset"`
	Price       string `json:"price"`
	SystemRatio string `json:"systemRatio"`
	Positions   int    `json:"positions"`
}

func (m *CDPModule) Open(asset string, owner common.Address, collateral, maxFeePct, debtRequested *big.Int, hints cdp.Hints) (*PositionView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	pos, err := m.engine.Open(asset, owner, collateral, maxFeePct, debtRequested, hints)
	record(asset, "open", err != nil)
	if err != nil {
		return nil, wrapError(err)
	}
	return positionView(pos), nil
}

func (m *CDPModule) Adjust(asset string, owner common.Address, collTopUp, collWithdrawal, debtDelta *big.Int, isDebtIncrease bool, maxFeePct *big.Int, hints cdp.Hints) (*PositionView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	pos, err := m.engine.Adjust(asset, owner, collTopUp, collWithdrawal, debtDelta, isDebtIncrease, maxFeePct, hints)
	record(asset, "adjust", err != nil)
	if err != nil {
		return nil, wrapError(err)
	}
	return positionView(pos), nil
}

func (m *CDPModule) Close(asset string, owner common.Address) *ModuleError {
	if err := m.ready(); err != nil {
		return err
	}
	err := m.engine.Close(asset, owner)
	record(asset, "close", err != nil)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

func (m *CDPModule) ClaimSurplus(asset string, owner common.Address) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	amount, err := m.engine.ClaimSurplus(asset, owner)
	record(asset, "claimSurplus", err != nil)
	if err != nil {
		return "", wrapError(err)
	}
	return amount.String(), nil
}

func (m *CDPModule) Liquidate(asset string, liquidator, owner common.Address) (*LiquidationView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	res, err := m.engine.Liquidate(asset, liquidator, owner)
	record(asset, "liquidate", err != nil)
	if err != nil {
		return nil, wrapError(err)
	}
	obsmetrics.CDP().ObserveLiquidation(asset, res.DebtBurned, res.CollateralSeized)
	return liquidationView(res), nil
}

func (m *CDPModule) LiquidateSequence(asset string, liquidator common.Address, max int) (*LiquidationView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	res, err := m.engine.LiquidateSequence(asset, liquidator, max)
	record(asset, "liquidateSequence", err != nil)
	if err != nil {
		return nil, wrapError(err)
	}
	obsmetrics.CDP().ObserveLiquidation(asset, res.DebtBurned, res.CollateralSeized)
	return liquidationView(res), nil
}

func (m *CDPModule) BatchLiquidate(asset string, liquidator common.Address, owners []common.Address) (*LiquidationView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	res, err := m.engine.BatchLiquidate(asset, liquidator, owners)
	record(asset, "batchLiquidate", err != nil)
	if err != nil {
		return nil, wrapError(err)
	}
	obsmetrics.CDP().ObserveLiquidation(asset, res.DebtBurned, res.CollateralSeized)
	return liquidationView(res), nil
}

func (m *CDPModule) Redeem(req cdp.RedemptionRequest) (*RedemptionView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	res, err := m.engine.Redeem(req)
	record(req.Asset, "redeem", err != nil)
	if err != nil {
		return nil, wrapError(err)
	}
	obsmetrics.CDP().ObserveRedemption(req.Asset, res.RedeemedDebt)
	obsmetrics.CDP().SetBaseRate(req.Asset, res.BaseRate)
	return &RedemptionView{
		RedeemedDebt:    res.RedeemedDebt.String(),
		CollateralDrawn: res.CollateralDrawn.String(),
		CollateralFee:   res.CollateralFee.String(),
		CollateralSent:  res.CollateralSent.String(),
		BaseRate:        res.BaseRate.String(),
	}, nil
}

func (m *CDPModule) GetPosition(asset string, owner common.Address) (*PositionView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return positionView(m.engine.GetPosition(asset, owner)), nil
}

func (m *CDPModule) Rates(asset string) (*RatesView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if m.params == nil {
		return nil, moduleUnavailable("params")
	}
	riskParams, err := m.params.RiskParams(asset)
	if err != nil {
		return nil, wrapError(err)
	}
	fees := m.engine.Fees()
	return &RatesView{
		Asset:          asset,
		BaseRate:       fees.BaseRate(asset).String(),
		BorrowingRate:  fees.BorrowingRate(asset, riskParams).String(),
		RedemptionRate: fees.RedemptionRate(asset, riskParams).String(),
	}, nil
}

func (m *CDPModule) System(asset string) (*SystemView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if m.price == nil {
		return nil, moduleUnavailable("oracle")
	}
	price, err := m.price.FetchPrice(asset)
	if err != nil {
		return nil, wrapError(err)
	}
	ratio := m.engine.SystemRatio(asset, price)
	obsmetrics.CDP().SetSystemRatio(asset, ratio)
	return &SystemView{
		Asset:       asset,
		Price:       price.String(),
		SystemRatio: ratio.String(),
		Positions:   m.engine.IndexSize(asset),
	}, nil
}
