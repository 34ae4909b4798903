package state

import (
	"encoding/json"
	"fmt"

	"cdpcore/native/cdp"
	"cdpcore/native/oracle"
	"cdpcore/storage"
)

var (
	keyPositions = []byte("cdp/positions")
	keyFees      = []byte("cdp/fees")
	keyOracle    = []byte("oracle/records")
	keyBank      = []byte("bank/balances")
	keyPool      = []byte("cdp/pool")
	keySurplus   = []byte("cdp/surplus")
)

const paramPrefix = "params/"

// Manager persists module state as JSON documents in a key-value database. It
// implements the parameter store backing and carries engine snapshots across
// restarts.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	data, found, err := m.db.Get(key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

// ParamStoreSet stores a named parameter document verbatim.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	return m.db.Put([]byte(paramPrefix+name), value)
}

// ParamStoreGet loads a named parameter document.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	return m.db.Get([]byte(paramPrefix + name))
}

// SavePositions writes the full position ledger snapshot.
func (m *Manager) SavePositions(records map[string][]*cdp.Position) error {
	return m.putJSON(keyPositions, records)
}

// LoadPositions reads the position ledger snapshot. A nil map means nothing
// has been persisted yet.
func (m *Manager) LoadPositions() (map[string][]*cdp.Position, error) {
	var records map[string][]*cdp.Position
	if _, err := m.getJSON(keyPositions, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveFees writes the per-asset fee controller snapshot.
func (m *Manager) SaveFees(states []*cdp.FeeState) error {
	return m.putJSON(keyFees, states)
}

// LoadFees reads the fee controller snapshot.
func (m *Manager) LoadFees() ([]*cdp.FeeState, error) {
	var states []*cdp.FeeState
	if _, err := m.getJSON(keyFees, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// SaveOracle writes the aggregator price records.
func (m *Manager) SaveOracle(records []*oracle.PriceRecord) error {
	return m.putJSON(keyOracle, records)
}

// LoadOracle reads the aggregator price records.
func (m *Manager) LoadOracle() ([]*oracle.PriceRecord, error) {
	var records []*oracle.PriceRecord
	if _, err := m.getJSON(keyOracle, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SavePool writes the collateral pool snapshot.
func (m *Manager) SavePool(snapshot *cdp.PoolSnapshot) error {
	return m.putJSON(keyPool, snapshot)
}

// LoadPool reads the collateral pool snapshot.
func (m *Manager) LoadPool() (*cdp.PoolSnapshot, error) {
	snapshot := new(cdp.PoolSnapshot)
	found, err := m.getJSON(keyPool, snapshot)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return snapshot, nil
}

// SaveSurplus writes the surplus pool snapshot.
func (m *Manager) SaveSurplus(snapshot cdp.SurplusSnapshot) error {
	return m.putJSON(keySurplus, snapshot)
}

// LoadSurplus reads the surplus pool snapshot.
func (m *Manager) LoadSurplus() (cdp.SurplusSnapshot, error) {
	var snapshot cdp.SurplusSnapshot
	if _, err := m.getJSON(keySurplus, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SaveBank writes the debt token ledger snapshot.
func (m *Manager) SaveBank(snapshot *BankSnapshot) error {
	return m.putJSON(keyBank, snapshot)
}

// LoadBank reads the debt token ledger snapshot.
func (m *Manager) LoadBank() (*BankSnapshot, error) {
	snapshot := new(BankSnapshot)
	found, err := m.getJSON(keyBank, snapshot)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return snapshot, nil
}
