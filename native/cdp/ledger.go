package cdp

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errLedgerAsset    = errors.New("cdp ledger: asset required")
	errLedgerNoRecord = errors.New("cdp ledger: position not found")
)

// Ledger is the authoritative keyed store for positions. Alongside the keyed
// records it maintains a per-asset owner-enumeration arena supporting O(1)
// removal via swap-and-pop, which keeps liquidation and redemption traversal
// costs independent of historical churn.
type Ledger struct {
	positions map[string]map[common.Address]*Position
	owners    map[string][]common.Address
}

// NewLedger constructs an empty position ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[string]map[common.Address]*Position),
		owners:    make(map[string][]common.Address),
	}
}

func ledgerKey(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Get returns the stored record for (asset, owner), or a NonExistent stub when
// none was ever created. The returned value is the live record; callers that
// hand positions outward must Clone first.
func (l *Ledger) Get(asset string, owner common.Address) *Position {
	if l == nil {
		return nil
	}
	key := ledgerKey(asset)
	if byOwner, ok := l.positions[key]; ok {
		if pos, ok := byOwner[owner]; ok {
			return pos
		}
	}
	return &Position{
		Asset:      key,
		Owner:      owner,
		Collateral: big.NewInt(0),
		Debt:       big.NewInt(0),
		Status:     StatusNonExistent,
		ArrayIndex: -1,
	}
}

// Put stores the record under its (asset, owner) key.
func (l *Ledger) Put(pos *Position) error {
	if l == nil || pos == nil {
		return errLedgerNoRecord
	}
	key := ledgerKey(pos.Asset)
	if key == "" {
		return errLedgerAsset
	}
	pos.Asset = key
	byOwner, ok := l.positions[key]
	if !ok {
		byOwner = make(map[common.Address]*Position)
		l.positions[key] = byOwner
	}
	byOwner[pos.Owner] = pos
	return nil
}

// Enroll appends the owner to the enumeration arena and records the slot on
// the position.
func (l *Ledger) Enroll(pos *Position) {
	if l == nil || pos == nil {
		return
	}
	key := ledgerKey(pos.Asset)
	l.owners[key] = append(l.owners[key], pos.Owner)
	pos.ArrayIndex = len(l.owners[key]) - 1
}

// Unenroll removes the owner from the enumeration arena by swapping the last
// slot into the freed one and fixing the moved record's back-reference.
func (l *Ledger) Unenroll(pos *Position) {
	if l == nil || pos == nil {
		return
	}
	key := ledgerKey(pos.Asset)
	arena := l.owners[key]
	idx := pos.ArrayIndex
	if idx < 0 || idx >= len(arena) {
		return
	}
	last := len(arena) - 1
	if idx != last {
		moved := arena[last]
		arena[idx] = moved
		if movedPos, ok := l.positions[key][moved]; ok {
			movedPos.ArrayIndex = idx
		}
	}
	l.owners[key] = arena[:last]
	pos.ArrayIndex = -1
}

// OwnerCount reports the number of enrolled active owners for the asset.
func (l *Ledger) OwnerCount(asset string) int {
	if l == nil {
		return 0
	}
	return len(l.owners[ledgerKey(asset)])
}

// OwnerAt returns the owner occupying the given arena slot.
func (l *Ledger) OwnerAt(asset string, idx int) (common.Address, bool) {
	if l == nil {
		return common.Address{}, false
	}
	arena := l.owners[ledgerKey(asset)]
	if idx < 0 || idx >= len(arena) {
		return common.Address{}, false
	}
	return arena[idx], true
}

// Snapshot returns deep copies of every stored record, grouped by asset, for
// persistence and read-only RPC surfaces.
func (l *Ledger) Snapshot() map[string][]*Position {
	if l == nil {
		return nil
	}
	out := make(map[string][]*Position, len(l.positions))
	for asset, byOwner := range l.positions {
		records := make([]*Position, 0, len(byOwner))
		for _, pos := range byOwner {
			records = append(records, pos.Clone())
		}
		out[asset] = records
	}
	return out
}

// Restore rebuilds the ledger from persisted records. Active positions are
// re-enrolled into the arena in their stored slot order.
func (l *Ledger) Restore(records map[string][]*Position) {
	if l == nil {
		return
	}
	l.positions = make(map[string]map[common.Address]*Position)
	l.owners = make(map[string][]common.Address)
	for asset, list := range records {
		key := ledgerKey(asset)
		byOwner := make(map[common.Address]*Position, len(list))
		active := make([]*Position, 0, len(list))
		for _, pos := range list {
			clone := pos.Clone()
			clone.Asset = key
			byOwner[clone.Owner] = clone
			if clone.Status == StatusActive {
				active = append(active, clone)
			}
		}
		l.positions[key] = byOwner
		arena := make([]common.Address, len(active))
		for _, pos := range active {
			if pos.ArrayIndex >= 0 && pos.ArrayIndex < len(arena) && arena[pos.ArrayIndex] == (common.Address{}) {
				arena[pos.ArrayIndex] = pos.Owner
				continue
			}
			// Slot collision in stale data: fall back to append order.
			pos.ArrayIndex = -1
		}
		compact := arena[:0]
		for _, owner := range arena {
			if owner != (common.Address{}) {
				compact = append(compact, owner)
			}
		}
		for _, pos := range active {
			if pos.ArrayIndex == -1 {
				compact = append(compact, pos.Owner)
			}
		}
		l.owners[key] = append([]common.Address{}, compact...)
		for i, owner := range l.owners[key] {
			byOwner[owner].ArrayIndex = i
		}
	}
}
