package cdp

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errPoolBalance    = errors.New("cdp pool: insufficient asset balance")
	errPoolHolder     = errors.New("cdp pool: insufficient holder balance")
	errSurplusNothing = errors.New("cdp pool: no claimable surplus")
)

// ActivePool is the default CollateralPool implementation. Holder balances
// model the external collateral accounts positions are funded from; the pool
// balance and debt total are the per-asset system aggregates. Safe for
// concurrent use; receiver notifications run outside the lock.
type ActivePool struct {
	mu        sync.RWMutex
	balances  map[string]*big.Int
	debts     map[string]*big.Int
	holders   map[string]map[common.Address]*big.Int
	receivers map[common.Address]BalanceReceiver
}

// NewActivePool constructs an empty pool ledger.
func NewActivePool() *ActivePool {
	return &ActivePool{
		balances:  make(map[string]*big.Int),
		debts:     make(map[string]*big.Int),
		holders:   make(map[string]map[common.Address]*big.Int),
		receivers: make(map[common.Address]BalanceReceiver),
	}
}

// RegisterReceiver wires a post-transfer notification for the given address.
func (p *ActivePool) RegisterReceiver(addr common.Address, r BalanceReceiver) {
	if p == nil || r == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receivers[addr] = r
}

// creditHolder adds to an external account. Callers must hold the write lock.
func (p *ActivePool) creditHolder(key string, holder common.Address, amount *big.Int) {
	byHolder, ok := p.holders[key]
	if !ok {
		byHolder = make(map[common.Address]*big.Int)
		p.holders[key] = byHolder
	}
	current := cloneOrZero(byHolder[holder])
	byHolder[holder] = current.Add(current, amount)
}

// CreditHolder funds an external collateral account. Used at genesis seeding
// and by tests.
func (p *ActivePool) CreditHolder(asset string, holder common.Address, amount *big.Int) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creditHolder(ledgerKey(asset), holder, amount)
}

// HolderBalance reports the external collateral account balance.
func (p *ActivePool) HolderBalance(asset string, holder common.Address) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	byHolder, ok := p.holders[ledgerKey(asset)]
	if !ok {
		return big.NewInt(0)
	}
	return cloneOrZero(byHolder[holder])
}

// PullAsset debits the holder's external account and credits the pool.
func (p *ActivePool) PullAsset(asset string, from common.Address, amount *big.Int) error {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := ledgerKey(asset)
	byHolder := p.holders[key]
	current := big.NewInt(0)
	if byHolder != nil {
		current = cloneOrZero(byHolder[from])
	}
	if current.Cmp(amount) < 0 {
		return errPoolHolder
	}
	if byHolder == nil {
		byHolder = make(map[common.Address]*big.Int)
		p.holders[key] = byHolder
	}
	byHolder[from] = current.Sub(current, amount)
	balance := cloneOrZero(p.balances[key])
	p.balances[key] = balance.Add(balance, amount)
	return nil
}

// SendAsset debits the pool and credits the recipient's external account,
// notifying registered receivers afterwards.
func (p *ActivePool) SendAsset(asset string, recipient common.Address, amount *big.Int) error {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return nil
	}
	key := ledgerKey(asset)
	p.mu.Lock()
	balance := cloneOrZero(p.balances[key])
	if balance.Cmp(amount) < 0 {
		p.mu.Unlock()
		return errPoolBalance
	}
	p.balances[key] = balance.Sub(balance, amount)
	p.creditHolder(key, recipient, amount)
	r, notify := p.receivers[recipient]
	p.mu.Unlock()
	if notify {
		r.ReceivedAsset(key, new(big.Int).Set(amount))
	}
	return nil
}

// TransferHolding moves collateral between two external accounts without
// touching the pooled balance. Used to pay out parked redemption surplus.
func (p *ActivePool) TransferHolding(asset string, from, to common.Address, amount *big.Int) error {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return nil
	}
	key := ledgerKey(asset)
	p.mu.Lock()
	byHolder := p.holders[key]
	current := big.NewInt(0)
	if byHolder != nil {
		current = cloneOrZero(byHolder[from])
	}
	if current.Cmp(amount) < 0 {
		p.mu.Unlock()
		return errPoolHolder
	}
	byHolder[from] = current.Sub(current, amount)
	p.creditHolder(key, to, amount)
	r, notify := p.receivers[to]
	p.mu.Unlock()
	if notify {
		r.ReceivedAsset(key, new(big.Int).Set(amount))
	}
	return nil
}

// IncreaseDebt raises the tracked debt total for the asset.
func (p *ActivePool) IncreaseDebt(asset string, amount *big.Int) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := ledgerKey(asset)
	debt := cloneOrZero(p.debts[key])
	p.debts[key] = debt.Add(debt, amount)
}

// DecreaseDebt lowers the tracked debt total, flooring at zero.
func (p *ActivePool) DecreaseDebt(asset string, amount *big.Int) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := ledgerKey(asset)
	debt := cloneOrZero(p.debts[key])
	debt.Sub(debt, amount)
	if debt.Sign() < 0 {
		debt.SetInt64(0)
	}
	p.debts[key] = debt
}

// AssetBalance reports the pooled collateral for the asset.
func (p *ActivePool) AssetBalance(asset string) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneOrZero(p.balances[ledgerKey(asset)])
}

// DebtTotal reports the tracked debt total for the asset.
func (p *ActivePool) DebtTotal(asset string) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneOrZero(p.debts[ledgerKey(asset)])
}

// CollateralSurplusPool is the default SurplusPool implementation. Safe for
// concurrent use.
type CollateralSurplusPool struct {
	mu        sync.RWMutex
	surpluses map[string]map[common.Address]*big.Int
}

// NewCollateralSurplusPool constructs an empty surplus pool.
func NewCollateralSurplusPool() *CollateralSurplusPool {
	return &CollateralSurplusPool{surpluses: make(map[string]map[common.Address]*big.Int)}
}

// Accrue records claimable surplus for the owner.
func (p *CollateralSurplusPool) Accrue(asset string, owner common.Address, amount *big.Int) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := ledgerKey(asset)
	byOwner, ok := p.surpluses[key]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		p.surpluses[key] = byOwner
	}
	current := cloneOrZero(byOwner[owner])
	byOwner[owner] = current.Add(current, amount)
}

// Claim zeroes and returns the owner's accrued surplus.
func (p *CollateralSurplusPool) Claim(asset string, owner common.Address) (*big.Int, error) {
	if p == nil {
		return nil, errSurplusNothing
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	byOwner, ok := p.surpluses[ledgerKey(asset)]
	if !ok {
		return nil, errSurplusNothing
	}
	current := byOwner[owner]
	if current == nil || current.Sign() == 0 {
		return nil, errSurplusNothing
	}
	claimed := new(big.Int).Set(current)
	byOwner[owner] = big.NewInt(0)
	return claimed, nil
}

// Balance reports the owner's claimable surplus.
func (p *CollateralSurplusPool) Balance(asset string, owner common.Address) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	byOwner, ok := p.surpluses[ledgerKey(asset)]
	if !ok {
		return big.NewInt(0)
	}
	return cloneOrZero(byOwner[owner])
}

// PoolSnapshot is the persisted form of the pool ledger. Receiver hooks are
// runtime wiring and are not part of it.
type PoolSnapshot struct {
	Balances map[string]*big.Int                    `json:"balances"`
	Debts    map[string]*big.Int                    `json:"debts"`
	Holders  map[string]map[common.Address]*big.Int `json:"holders"`
}

// Snapshot captures the pool ledger for persistence.
func (p *ActivePool) Snapshot() *PoolSnapshot {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot := &PoolSnapshot{
		Balances: make(map[string]*big.Int, len(p.balances)),
		Debts:    make(map[string]*big.Int, len(p.debts)),
		Holders:  make(map[string]map[common.Address]*big.Int, len(p.holders)),
	}
	for asset, balance := range p.balances {
		snapshot.Balances[asset] = cloneOrZero(balance)
	}
	for asset, debt := range p.debts {
		snapshot.Debts[asset] = cloneOrZero(debt)
	}
	for asset, byHolder := range p.holders {
		holders := make(map[common.Address]*big.Int, len(byHolder))
		for holder, balance := range byHolder {
			holders[holder] = cloneOrZero(balance)
		}
		snapshot.Holders[asset] = holders
	}
	return snapshot
}

// Restore replaces the pool ledger with the persisted snapshot.
func (p *ActivePool) Restore(snapshot *PoolSnapshot) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = make(map[string]*big.Int)
	p.debts = make(map[string]*big.Int)
	p.holders = make(map[string]map[common.Address]*big.Int)
	if snapshot == nil {
		return
	}
	for asset, balance := range snapshot.Balances {
		p.balances[asset] = cloneOrZero(balance)
	}
	for asset, debt := range snapshot.Debts {
		p.debts[asset] = cloneOrZero(debt)
	}
	for asset, byHolder := range snapshot.Holders {
		holders := make(map[common.Address]*big.Int, len(byHolder))
		for holder, balance := range byHolder {
			holders[holder] = cloneOrZero(balance)
		}
		p.holders[asset] = holders
	}
}

// SurplusSnapshot is the persisted form of the surplus pool.
type SurplusSnapshot map[string]map[common.Address]*big.Int

// Snapshot captures the surplus pool for persistence.
func (p *CollateralSurplusPool) Snapshot() SurplusSnapshot {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot := make(SurplusSnapshot, len(p.surpluses))
	for asset, byOwner := range p.surpluses {
		owners := make(map[common.Address]*big.Int, len(byOwner))
		for owner, amount := range byOwner {
			owners[owner] = cloneOrZero(amount)
		}
		snapshot[asset] = owners
	}
	return snapshot
}

// Restore replaces the surplus pool with the persisted snapshot.
func (p *CollateralSurplusPool) Restore(snapshot SurplusSnapshot) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.surpluses = make(map[string]map[common.Address]*big.Int)
	for asset, byOwner := range snapshot {
		owners := make(map[common.Address]*big.Int, len(byOwner))
		for owner, amount := range byOwner {
			owners[owner] = cloneOrZero(amount)
		}
		p.surpluses[asset] = owners
	}
}
