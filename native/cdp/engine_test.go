package cdp

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const testAsset = "ETH"

var (
	feeSink     = common.HexToAddress("0x00000000000000000000000000000000000000Fe")
	surplusSink = common.HexToAddress("0x00000000000000000000000000000000000000Fd")
)

func makeOwner(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

func wadInt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubPrice struct {
	price *big.Int
	err   error
}

func (s *stubPrice) FetchPrice(string) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.price), nil
}

type stubParams struct {
	params RiskParams
	err    error
}

func (s *stubParams) RiskParams(string) (RiskParams, error) {
	if s.err != nil {
		return RiskParams{}, s.err
	}
	return s.params.Clone(), nil
}

type testToken struct {
	balances map[common.Address]*big.Int
}

func newTestToken() *testToken {
	return &testToken{balances: make(map[common.Address]*big.Int)}
}

func (t *testToken) Mint(_ string, recipient common.Address, amount *big.Int) error {
	balance, ok := t.balances[recipient]
	if !ok {
		balance = big.NewInt(0)
		t.balances[recipient] = balance
	}
	balance.Add(balance, amount)
	return nil
}

func (t *testToken) Burn(holder common.Address, amount *big.Int) error {
	balance, ok := t.balances[holder]
	if !ok || balance.Cmp(amount) < 0 {
		return errors.New("test token: insufficient balance")
	}
	balance.Sub(balance, amount)
	return nil
}

func (t *testToken) BalanceOf(holder common.Address) *big.Int {
	balance, ok := t.balances[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

func (t *testToken) set(holder common.Address, amount *big.Int) {
	t.balances[holder] = new(big.Int).Set(amount)
}

func testRiskParams() RiskParams {
	return RiskParams{
		MinBorrowRatio:      mustBigInt("1100000000000000000"),
		MinLiquidationRatio: mustBigInt("1100000000000000000"),
		SystemRatioFloor:    mustBigInt("1500000000000000000"),
		ValueCap:            wadInt(1_000_000),
		MinNetDebt:          wadInt(100),
		BorrowFeeFloor:      mustBigInt("5000000000000000"),
		BorrowFeeCeiling:    mustBigInt("50000000000000000"),
		RedemptionFeeFloor:  mustBigInt("5000000000000000"),
		LiquidationFeeBps:   50,
	}
}

type testEnv struct {
	engine  *Engine
	pool    *ActivePool
	surplus *CollateralSurplusPool
	token   *testToken
	price   *stubPrice
	params  *stubParams
	clock   *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		pool:    NewActivePool(),
		surplus: NewCollateralSurplusPool(),
		token:   newTestToken(),
		price:   &stubPrice{price: wadInt(400)},
		params:  &stubParams{params: testRiskParams()},
		clock:   newFakeClock(),
	}
	env.engine = NewEngine(feeSink, surplusSink)
	env.engine.SetPool(env.pool)
	env.engine.SetSurplusPool(env.surplus)
	env.engine.SetToken(env.token)
	env.engine.SetParams(env.params)
	env.engine.SetPriceSource(env.price)
	env.engine.SetClock(env.clock.Now)
	return env
}

// openPosition funds the owner and opens a position, failing the test on any
// rejection.
func (env *testEnv) openPosition(t *testing.T, owner common.Address, collateral, debtRequested *big.Int) *Position {
	t.Helper()
	env.pool.CreditHolder(testAsset, owner, collateral)
	pos, err := env.engine.Open(testAsset, owner, collateral, mustBigInt("100000000000000000"), debtRequested, Hints{})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

func TestOpenMintsNetDebtAndFee(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x01)
	env.pool.CreditHolder(testAsset, owner, wadInt(10))

	pos, err := env.engine.Open(testAsset, owner, wadInt(10), mustBigInt("100000000000000000"), wadInt(1000), Hints{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// 0.5% borrowing fee on 1000 drawn.
	wantFee := wadInt(5)
	wantDebt := wadInt(1005)
	if pos.Debt.Cmp(wantDebt) != 0 {
		t.Fatalf("unexpected debt: %s", pos.Debt)
	}
	if env.token.BalanceOf(owner).Cmp(wadInt(1000)) != 0 {
		t.Fatalf("unexpected owner balance: %s", env.token.BalanceOf(owner))
	}
	if env.token.BalanceOf(feeSink).Cmp(wantFee) != 0 {
		t.Fatalf("unexpected fee sink balance: %s", env.token.BalanceOf(feeSink))
	}
	if env.pool.AssetBalance(testAsset).Cmp(wadInt(10)) != 0 {
		t.Fatalf("unexpected pool balance: %s", env.pool.AssetBalance(testAsset))
	}
	if env.pool.DebtTotal(testAsset).Cmp(wantDebt) != 0 {
		t.Fatalf("unexpected pool debt: %s", env.pool.DebtTotal(testAsset))
	}
	if !env.engine.Index().Contains(testAsset, owner) {
		t.Fatal("expected position in sorted index")
	}

	// 10 ETH at 400 backing 1005 debt is roughly 398% collateralized.
	icr := pos.CurrentRatio(wadInt(400))
	if icr.Cmp(mustBigInt("3980099502487562189")) != 0 {
		t.Fatalf("unexpected ICR: %s", icr)
	}
}

func TestOpenRejectsBelowMinimumRatio(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x02)
	env.pool.CreditHolder(testAsset, owner, wadInt(1))

	// 1 ETH at 400 cannot back 500 debt at a 110% minimum.
	_, err := env.engine.Open(testAsset, owner, wadInt(1), mustBigInt("100000000000000000"), wadInt(500), Hints{})
	if !errors.Is(err, errICRBelowMinimum) {
		t.Fatalf("expected ICR rejection, got %v", err)
	}
	if env.pool.AssetBalance(testAsset).Sign() != 0 {
		t.Fatal("failed open must not move collateral")
	}
}

func TestOpenRejectsBelowMinNetDebt(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x03)
	env.pool.CreditHolder(testAsset, owner, wadInt(10))

	_, err := env.engine.Open(testAsset, owner, wadInt(10), mustBigInt("100000000000000000"), wadInt(50), Hints{})
	if !errors.Is(err, errNetDebtBelowMin) {
		t.Fatalf("expected min net debt rejection, got %v", err)
	}
}

func TestOpenRejectsValueCap(t *testing.T) {
	env := newTestEnv(t)
	env.params.params.ValueCap = wadInt(1500)
	owner := makeOwner(0x04)
	other := makeOwner(0x05)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	env.pool.CreditHolder(testAsset, other, wadInt(10))
	_, err := env.engine.Open(testAsset, other, wadInt(10), mustBigInt("100000000000000000"), wadInt(1000), Hints{})
	if !errors.Is(err, errValueCapExceeded) {
		t.Fatalf("expected value cap rejection, got %v", err)
	}
}

func TestOpenRejectsWhenFeeExceedsMax(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x06)
	env.pool.CreditHolder(testAsset, owner, wadInt(10))

	// Accepting at most 0.1% while the floor alone is 0.5%.
	_, err := env.engine.Open(testAsset, owner, wadInt(10), mustBigInt("1000000000000000"), wadInt(1000), Hints{})
	if !errors.Is(err, errMaxFeeOutOfBounds) {
		t.Fatalf("expected max fee rejection, got %v", err)
	}
}

func TestOpenRejectsSecondPosition(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x07)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	env.pool.CreditHolder(testAsset, owner, wadInt(10))
	_, err := env.engine.Open(testAsset, owner, wadInt(10), mustBigInt("100000000000000000"), wadInt(1000), Hints{})
	if !errors.Is(err, errPositionActive) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestOpenRejectsRatioBelowFloorWhenSystemWeak(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x23)
	env.pool.CreditHolder(testAsset, owner, wadInt(2))

	// With an empty market the new position sets the system ratio, so its
	// own ratio (800/603, about 133%) must clear the 150% floor even though
	// it clears the 110% borrow minimum.
	_, err := env.engine.Open(testAsset, owner, wadInt(2), mustBigInt("100000000000000000"), wadInt(600), Hints{})
	if !errors.Is(err, errICRBelowFloor) {
		t.Fatalf("expected ratio-floor rejection, got %v", err)
	}
	if env.pool.HolderBalance(testAsset, owner).Cmp(wadInt(2)) != 0 {
		t.Fatalf("collateral must not move, got %s", env.pool.HolderBalance(testAsset, owner))
	}
	if env.engine.IndexSize(testAsset) != 0 {
		t.Fatal("rejected open must not be indexed")
	}
}

func TestAdjustWithdrawalRejectedBelowSystemFloor(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x08)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	// Withdrawing 7 of 10 ETH keeps the position above 110% but pushes the
	// system ratio under the 150% floor.
	_, err := env.engine.Adjust(testAsset, owner, nil, wadInt(7), nil, false, nil, Hints{})
	if !errors.Is(err, errTCRBelowFloor) {
		t.Fatalf("expected TCR rejection, got %v", err)
	}
	if env.pool.AssetBalance(testAsset).Cmp(wadInt(10)) != 0 {
		t.Fatal("failed adjust must not move collateral")
	}
}

func TestAdjustWithdrawalRejectedBelowMinimumRatio(t *testing.T) {
	env := newTestEnv(t)
	whale := makeOwner(0x21)
	subject := makeOwner(0x22)
	env.openPosition(t, whale, wadInt(10), wadInt(1000))
	env.openPosition(t, subject, wadInt(2), wadInt(500))

	// The whale keeps the system ratio comfortable, so the withdrawal fails
	// on the position's own ratio: 1.3 ETH at 400 covers less than 110% of
	// the 502.5 debt.
	withdrawal := mustBigInt("700000000000000000")
	_, err := env.engine.Adjust(testAsset, subject, nil, withdrawal, nil, false, nil, Hints{})
	if !errors.Is(err, errICRBelowMinimum) {
		t.Fatalf("expected minimum-ratio rejection, got %v", err)
	}
	pos := env.engine.GetPosition(testAsset, subject)
	if pos.Collateral.Cmp(wadInt(2)) != 0 {
		t.Fatalf("collateral must be unchanged, got %s", pos.Collateral)
	}
	if env.pool.AssetBalance(testAsset).Cmp(wadInt(12)) != 0 {
		t.Fatal("failed adjust must not move collateral")
	}
}

func TestAdjustRepaymentReducesDebt(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x09)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	pos, err := env.engine.Adjust(testAsset, owner, nil, nil, wadInt(300), false, nil, Hints{})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if pos.Debt.Cmp(wadInt(705)) != 0 {
		t.Fatalf("unexpected debt after repay: %s", pos.Debt)
	}
	if env.pool.DebtTotal(testAsset).Cmp(wadInt(705)) != 0 {
		t.Fatalf("unexpected pool debt: %s", env.pool.DebtTotal(testAsset))
	}
	if env.token.BalanceOf(owner).Cmp(wadInt(700)) != 0 {
		t.Fatalf("unexpected owner balance: %s", env.token.BalanceOf(owner))
	}
}

func TestAdjustRejectsRepayBelowMinNetDebt(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x0a)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	_, err := env.engine.Adjust(testAsset, owner, nil, nil, wadInt(950), false, nil, Hints{})
	if !errors.Is(err, errNetDebtBelowMin) {
		t.Fatalf("expected min net debt rejection, got %v", err)
	}
}

func TestAdjustRejectsCollateralBothWays(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x0b)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	_, err := env.engine.Adjust(testAsset, owner, wadInt(1), wadInt(1), nil, false, nil, Hints{})
	if !errors.Is(err, errCollateralBothWays) {
		t.Fatalf("expected both-ways rejection, got %v", err)
	}
}

func TestAdjustTopUpImprovesRatio(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x0c)
	pos := env.openPosition(t, owner, wadInt(10), wadInt(1000))
	before := pos.NominalRatio()

	env.pool.CreditHolder(testAsset, owner, wadInt(5))
	after, err := env.engine.Adjust(testAsset, owner, wadInt(5), nil, nil, false, nil, Hints{})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if after.Collateral.Cmp(wadInt(15)) != 0 {
		t.Fatalf("unexpected collateral: %s", after.Collateral)
	}
	if after.NominalRatio().Cmp(before) <= 0 {
		t.Fatal("top up should raise the nominal ratio")
	}
}

func TestCloseRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.params.params.BorrowFeeFloor = big.NewInt(0)
	owner := makeOwner(0x0d)
	env.pool.CreditHolder(testAsset, owner, wadInt(10))
	if _, err := env.engine.Open(testAsset, owner, wadInt(10), big.NewInt(0), wadInt(1000), Hints{}); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := env.engine.Close(testAsset, owner); err != nil {
		t.Fatalf("close: %v", err)
	}

	pos := env.engine.GetPosition(testAsset, owner)
	if pos.Status != StatusClosedByOwner {
		t.Fatalf("unexpected status: %s", pos.Status)
	}
	if pos.Collateral.Sign() != 0 || pos.Debt.Sign() != 0 {
		t.Fatalf("closed position must hold zero balances: %s/%s", pos.Collateral, pos.Debt)
	}
	if env.pool.AssetBalance(testAsset).Sign() != 0 {
		t.Fatalf("pool should be empty, got %s", env.pool.AssetBalance(testAsset))
	}
	if env.pool.DebtTotal(testAsset).Sign() != 0 {
		t.Fatalf("pool debt should be zero, got %s", env.pool.DebtTotal(testAsset))
	}
	if env.pool.HolderBalance(testAsset, owner).Cmp(wadInt(10)) != 0 {
		t.Fatalf("collateral not returned: %s", env.pool.HolderBalance(testAsset, owner))
	}
	if env.token.BalanceOf(owner).Sign() != 0 {
		t.Fatalf("debt tokens not burned: %s", env.token.BalanceOf(owner))
	}
	if env.engine.Index().Contains(testAsset, owner) {
		t.Fatal("closed position still indexed")
	}
}

func TestCloseRejectsWithoutFullBalance(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x0e)
	env.openPosition(t, owner, wadInt(10), wadInt(1000))

	// The owner holds 1000 but owes 1005 including the fee.
	err := env.engine.Close(testAsset, owner)
	if !errors.Is(err, errInsufficientTokens) {
		t.Fatalf("expected balance rejection, got %v", err)
	}
}

func TestOperationsRejectedWhilePaused(t *testing.T) {
	env := newTestEnv(t)
	owner := makeOwner(0x0f)
	env.pool.CreditHolder(testAsset, owner, wadInt(10))
	env.engine.SetPauses(pausedView{})

	_, err := env.engine.Open(testAsset, owner, wadInt(10), mustBigInt("100000000000000000"), wadInt(1000), Hints{})
	if err == nil {
		t.Fatal("expected pause rejection")
	}
}

type pausedView struct{}

func (pausedView) IsPaused(string) bool { return true }

func TestRebuildIndexRestoresOrdering(t *testing.T) {
	env := newTestEnv(t)
	a := makeOwner(0x10)
	b := makeOwner(0x11)
	env.openPosition(t, a, wadInt(10), wadInt(1000))
	env.openPosition(t, b, wadInt(2), wadInt(500))

	restored := newTestEnv(t)
	restored.engine.Ledger().Restore(env.engine.Ledger().Snapshot())
	restored.engine.RebuildIndex()

	first, ok := restored.engine.Index().First(testAsset)
	if !ok || first != a {
		t.Fatalf("expected safest position first, got %s", first.Hex())
	}
	last, ok := restored.engine.Index().Last(testAsset)
	if !ok || last != b {
		t.Fatalf("expected riskiest position last, got %s", last.Hex())
	}
}

func TestReadSurfacesConcurrentWithOperations(t *testing.T) {
	env := newTestEnv(t)
	env.params.params.BorrowFeeFloor = big.NewInt(0)
	owner := makeOwner(0x31)
	env.pool.CreditHolder(testAsset, owner, wadInt(1000))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				env.engine.SnapshotPositions()
				env.engine.GetPosition(testAsset, owner)
				env.engine.IndexSize(testAsset)
				env.engine.Fees().Snapshot()
			}
		}()
	}

	for i := 0; i < 25; i++ {
		if _, err := env.engine.Open(testAsset, owner, wadInt(10), big.NewInt(0), wadInt(1000), Hints{}); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := env.engine.Close(testAsset, owner); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	pos := env.engine.GetPosition(testAsset, owner)
	if pos.Status != StatusClosedByOwner {
		t.Fatalf("unexpected terminal status: %s", pos.Status)
	}
	if env.engine.IndexSize(testAsset) != 0 {
		t.Fatal("index should be empty after the final close")
	}
}
