package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/storage"
)

func bankHolder(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

func TestBankMintBurn(t *testing.T) {
	bank := NewBank()
	holder := bankHolder(0x01)

	if err := bank.Mint("ETH", holder, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := bank.Mint("BTC", holder, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if bank.BalanceOf(holder).Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("balance = %s", bank.BalanceOf(holder))
	}
	if bank.Supply().Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("supply = %s", bank.Supply())
	}

	if err := bank.Burn(holder, big.NewInt(600)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if bank.BalanceOf(holder).Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("balance after burn = %s", bank.BalanceOf(holder))
	}
	if bank.Supply().Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("supply after burn = %s", bank.Supply())
	}

	// Gross issuance stays per asset and never decreases on burn.
	if bank.MintedGross("ETH").Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("ETH gross = %s", bank.MintedGross("ETH"))
	}
	if bank.MintedGross("BTC").Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("BTC gross = %s", bank.MintedGross("BTC"))
	}
}

func TestBankRejectsBadAmounts(t *testing.T) {
	bank := NewBank()
	holder := bankHolder(0x02)

	if err := bank.Mint("ETH", holder, big.NewInt(0)); !errors.Is(err, errBankAmount) {
		t.Fatalf("expected amount rejection, got %v", err)
	}
	if err := bank.Mint("ETH", holder, big.NewInt(-5)); !errors.Is(err, errBankAmount) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
	if err := bank.Burn(holder, big.NewInt(1)); !errors.Is(err, errBankBalance) {
		t.Fatalf("expected balance rejection, got %v", err)
	}
}

func TestBankSnapshotRoundTrip(t *testing.T) {
	bank := NewBank()
	holder := bankHolder(0x03)
	if err := bank.Mint("ETH", holder, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	m := NewManager(storage.NewMemDB())
	if err := m.SaveBank(bank.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	snapshot, err := m.LoadBank()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	restored := NewBank()
	restored.Restore(snapshot)
	if restored.BalanceOf(holder).Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("restored balance = %s", restored.BalanceOf(holder))
	}
	if restored.Supply().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("restored supply = %s", restored.Supply())
	}
	if restored.MintedGross("ETH").Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("restored gross = %s", restored.MintedGross("ETH"))
	}
}
