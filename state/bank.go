package state

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errBankAmount  = errors.New("bank: amount must be positive")
	errBankBalance = errors.New("bank: insufficient balance")
)

// Bank is the ledger for the minted debt token. A single fungible token backs
// every collateral market, so balances are keyed on holder alone. Gross
// issuance is tracked per asset so operators can audit how much debt each
// market has originated.
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	minted   map[string]*big.Int
	supply   *big.Int
}

// NewBank constructs an empty debt token ledger.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[common.Address]*big.Int),
		minted:   make(map[string]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Mint credits the recipient and records the issuance against the asset that
// originated it.
func (b *Bank) Mint(asset string, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errBankAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	balance, ok := b.balances[recipient]
	if !ok {
		balance = big.NewInt(0)
		b.balances[recipient] = balance
	}
	balance.Add(balance, amount)
	gross, ok := b.minted[asset]
	if !ok {
		gross = big.NewInt(0)
		b.minted[asset] = gross
	}
	gross.Add(gross, amount)
	b.supply.Add(b.supply, amount)
	return nil
}

// Burn debits the holder. The caller is expected to have checked the balance;
// an insufficient balance here is surfaced as an error rather than a panic.
func (b *Bank) Burn(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errBankAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	balance, ok := b.balances[holder]
	if !ok || balance.Cmp(amount) < 0 {
		return errBankBalance
	}
	balance.Sub(balance, amount)
	b.supply.Sub(b.supply, amount)
	return nil
}

// BalanceOf reports the holder's token balance.
func (b *Bank) BalanceOf(holder common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	balance, ok := b.balances[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Supply reports the outstanding token supply.
func (b *Bank) Supply() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.supply)
}

// MintedGross reports the cumulative issuance originated by the asset.
func (b *Bank) MintedGross(asset string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	gross, ok := b.minted[asset]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(gross)
}

// BankSnapshot is the persisted form of the token ledger.
type BankSnapshot struct {
	Balances map[common.Address]*big.Int `json:"balances"`
	Minted   map[string]*big.Int         `json:"minted"`
	Supply   *big.Int                    `json:"supply"`
}

// Snapshot captures the ledger for persistence.
func (b *Bank) Snapshot() *BankSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snapshot := &BankSnapshot{
		Balances: make(map[common.Address]*big.Int, len(b.balances)),
		Minted:   make(map[string]*big.Int, len(b.minted)),
		Supply:   new(big.Int).Set(b.supply),
	}
	for holder, balance := range b.balances {
		snapshot.Balances[holder] = new(big.Int).Set(balance)
	}
	for asset, gross := range b.minted {
		snapshot.Minted[asset] = new(big.Int).Set(gross)
	}
	return snapshot
}

// Restore replaces the ledger with the persisted snapshot.
func (b *Bank) Restore(snapshot *BankSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = make(map[common.Address]*big.Int)
	b.minted = make(map[string]*big.Int)
	b.supply = big.NewInt(0)
	if snapshot == nil {
		return
	}
	for holder, balance := range snapshot.Balances {
		if balance == nil {
			continue
		}
		b.balances[holder] = new(big.Int).Set(balance)
	}
	for asset, gross := range snapshot.Minted {
		if gross == nil {
			continue
		}
		b.minted[asset] = new(big.Int).Set(gross)
	}
	if snapshot.Supply != nil {
		b.supply.Set(snapshot.Supply)
	}
}
