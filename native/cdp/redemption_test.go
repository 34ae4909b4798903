package cdp

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

var (
	redeemSafe  = makeOwner(0xc1)
	redeemRisky = makeOwner(0xc2)
	redeemer    = makeOwner(0xc3)
)

// setupRedemption opens a safe position (10 ETH / 1000 debt) and a risky one
// (2 ETH / 500 debt) with the borrowing fee zeroed so debts stay round, then
// funds the redeemer with 600 tokens.
func setupRedemption(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.params.params.BorrowFeeFloor = big.NewInt(0)
	for _, seed := range []struct {
		owner byte
		coll  int64
		debt  int64
	}{{0xc1, 10, 1000}, {0xc2, 2, 500}} {
		owner := makeOwner(seed.owner)
		env.pool.CreditHolder(testAsset, owner, wadInt(seed.coll))
		if _, err := env.engine.Open(testAsset, owner, wadInt(seed.coll), big.NewInt(0), wadInt(seed.debt), Hints{}); err != nil {
			t.Fatalf("open %x: %v", seed.owner, err)
		}
	}
	env.token.set(redeemer, wadInt(600))
	return env
}

func TestRedeemFullyClosesTailPosition(t *testing.T) {
	env := setupRedemption(t)

	env.token.set(redeemer, wadInt(500))
	res, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(500),
		MaxFeePct: mustBigInt("500000000000000000"),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if res.RedeemedDebt.Cmp(wadInt(500)) != 0 {
		t.Fatalf("redeemed debt = %s", res.RedeemedDebt)
	}
	// 500 debt at price 400 draws 1.25 ETH; the remaining 0.75 is surplus.
	if res.CollateralDrawn.Cmp(mustBigInt("1250000000000000000")) != 0 {
		t.Fatalf("collateral drawn = %s", res.CollateralDrawn)
	}
	// Base rate rises by 500/1500/2, the fee adds the 0.5% floor.
	if res.BaseRate.Cmp(mustBigInt("166666666666666666")) != 0 {
		t.Fatalf("base rate = %s", res.BaseRate)
	}
	if res.CollateralFee.Cmp(mustBigInt("214583333333333332")) != 0 {
		t.Fatalf("collateral fee = %s", res.CollateralFee)
	}
	if res.CollateralSent.Cmp(mustBigInt("1035416666666666668")) != 0 {
		t.Fatalf("collateral sent = %s", res.CollateralSent)
	}

	pos := env.engine.GetPosition(testAsset, redeemRisky)
	if pos.Status != StatusClosedByRedemption {
		t.Fatalf("unexpected status: %s", pos.Status)
	}
	if env.engine.Index().Contains(testAsset, redeemRisky) {
		t.Fatal("redeemed position still indexed")
	}
	if env.token.BalanceOf(redeemer).Sign() != 0 {
		t.Fatalf("redeemer tokens not burned: %s", env.token.BalanceOf(redeemer))
	}
	if env.pool.DebtTotal(testAsset).Cmp(wadInt(1000)) != 0 {
		t.Fatalf("pool debt = %s", env.pool.DebtTotal(testAsset))
	}
	if env.pool.HolderBalance(testAsset, redeemer).Cmp(res.CollateralSent) != 0 {
		t.Fatalf("redeemer collateral credit = %s", env.pool.HolderBalance(testAsset, redeemer))
	}
	if env.pool.HolderBalance(testAsset, feeSink).Cmp(res.CollateralFee) != 0 {
		t.Fatalf("fee sink collateral credit = %s", env.pool.HolderBalance(testAsset, feeSink))
	}
	// The surplus sits with the surplus sink until the owner claims it.
	if env.pool.HolderBalance(testAsset, surplusSink).Cmp(mustBigInt("750000000000000000")) != 0 {
		t.Fatalf("surplus credit = %s", env.pool.HolderBalance(testAsset, surplusSink))
	}

	claimed, err := env.engine.ClaimSurplus(testAsset, redeemRisky)
	if err != nil {
		t.Fatalf("claim surplus: %v", err)
	}
	if claimed.Cmp(mustBigInt("750000000000000000")) != 0 {
		t.Fatalf("claimed = %s", claimed)
	}
	if env.pool.HolderBalance(testAsset, redeemRisky).Cmp(claimed) != 0 {
		t.Fatalf("owner surplus credit = %s", env.pool.HolderBalance(testAsset, redeemRisky))
	}
	if _, err := env.engine.ClaimSurplus(testAsset, redeemRisky); err == nil {
		t.Fatal("second claim should fail")
	}
}

func TestRedeemPartialRequiresExactHintRatio(t *testing.T) {
	env := setupRedemption(t)

	// Redeeming 200 against the 2/500 position leaves 1.5/300, whose nominal
	// ratio is exactly 5e17.
	res, err := env.engine.Redeem(RedemptionRequest{
		Asset:            testAsset,
		Redeemer:         redeemer,
		Amount:           wadInt(200),
		PartialHintRatio: mustBigInt("500000000000000000"),
		MaxFeePct:        mustBigInt("500000000000000000"),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.RedeemedDebt.Cmp(wadInt(200)) != 0 {
		t.Fatalf("redeemed debt = %s", res.RedeemedDebt)
	}

	pos := env.engine.GetPosition(testAsset, redeemRisky)
	if pos.Status != StatusActive {
		t.Fatalf("partial redemption closed the position: %s", pos.Status)
	}
	if pos.Collateral.Cmp(mustBigInt("1500000000000000000")) != 0 {
		t.Fatalf("collateral = %s", pos.Collateral)
	}
	if pos.Debt.Cmp(wadInt(300)) != 0 {
		t.Fatalf("debt = %s", pos.Debt)
	}
	if !env.engine.Index().Contains(testAsset, redeemRisky) {
		t.Fatal("partially redeemed position left the index")
	}
}

func TestRedeemPartialCancelledOnStaleHintRatio(t *testing.T) {
	env := setupRedemption(t)

	_, err := env.engine.Redeem(RedemptionRequest{
		Asset:            testAsset,
		Redeemer:         redeemer,
		Amount:           wadInt(200),
		PartialHintRatio: mustBigInt("400000000000000000"),
		MaxFeePct:        mustBigInt("500000000000000000"),
	})
	if !errors.Is(err, errRedemptionNoDraw) {
		t.Fatalf("expected no-draw rejection, got %v", err)
	}
	if env.engine.GetPosition(testAsset, redeemRisky).Debt.Cmp(wadInt(500)) != 0 {
		t.Fatal("cancelled partial step mutated the position")
	}
}

func TestRedeemTruncatesWalkAtStalePartial(t *testing.T) {
	env := setupRedemption(t)

	// 600 fully closes the tail (500) and would partially redeem the next
	// position, but the stale hint ratio cancels only that final step.
	res, err := env.engine.Redeem(RedemptionRequest{
		Asset:            testAsset,
		Redeemer:         redeemer,
		Amount:           wadInt(600),
		PartialHintRatio: big.NewInt(1),
		MaxFeePct:        mustBigInt("500000000000000000"),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.RedeemedDebt.Cmp(wadInt(500)) != 0 {
		t.Fatalf("redeemed debt = %s, want only the full close", res.RedeemedDebt)
	}
	if env.engine.GetPosition(testAsset, redeemSafe).Debt.Cmp(wadInt(1000)) != 0 {
		t.Fatal("truncated walk mutated the safe position")
	}
	if env.engine.GetPosition(testAsset, redeemRisky).Status != StatusClosedByRedemption {
		t.Fatal("full close step lost on truncation")
	}
}

func TestRedeemBlockedBeforeUnblockTime(t *testing.T) {
	env := setupRedemption(t)
	env.params.params.RedemptionUnblockTime = env.clock.Now().Add(24 * time.Hour)

	_, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(100),
		MaxFeePct: mustBigInt("500000000000000000"),
	})
	if !errors.Is(err, errRedemptionBlocked) {
		t.Fatalf("expected blocked rejection, got %v", err)
	}

	env.clock.Advance(25 * time.Hour)
	if _, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(500),
		MaxFeePct: mustBigInt("500000000000000000"),
	}); err != nil {
		t.Fatalf("redeem after unblock: %v", err)
	}
}

func TestRedeemRejectsMaxFeeBelowFloor(t *testing.T) {
	env := setupRedemption(t)

	_, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(100),
		MaxFeePct: mustBigInt("1000000000000000"),
	})
	if !errors.Is(err, errRedemptionMaxFee) {
		t.Fatalf("expected fee floor rejection, got %v", err)
	}
}

func TestRedeemRejectsQuoteAboveMaxFee(t *testing.T) {
	env := setupRedemption(t)

	// The quote for a 500 redemption is about 17.2%, above the caller's 10%.
	_, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(500),
		MaxFeePct: mustBigInt("100000000000000000"),
	})
	if !errors.Is(err, errFeeExceedsMax) {
		t.Fatalf("expected fee quote rejection, got %v", err)
	}
	if env.engine.GetPosition(testAsset, redeemRisky).Status != StatusActive {
		t.Fatal("rejected redemption mutated state")
	}
	if env.engine.Fees().BaseRate(testAsset).Sign() != 0 {
		t.Fatal("rejected redemption moved the base rate")
	}
}

func TestRedeemRejectsWhenSystemRatioLow(t *testing.T) {
	env := setupRedemption(t)
	env.price.price = wadInt(100)

	_, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(100),
		MaxFeePct: mustBigInt("500000000000000000"),
	})
	if !errors.Is(err, errRedemptionTCRLow) {
		t.Fatalf("expected system ratio rejection, got %v", err)
	}
}

func TestRedeemRejectsInsufficientBalance(t *testing.T) {
	env := setupRedemption(t)
	env.token.set(redeemer, wadInt(10))

	_, err := env.engine.Redeem(RedemptionRequest{
		Asset:     testAsset,
		Redeemer:  redeemer,
		Amount:    wadInt(100),
		MaxFeePct: mustBigInt("500000000000000000"),
	})
	if !errors.Is(err, errInsufficientTokens) {
		t.Fatalf("expected balance rejection, got %v", err)
	}
}
