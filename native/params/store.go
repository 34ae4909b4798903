package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"cdpcore/native/cdp"
)

// ErrAssetNotConfigured indicates no risk parameters were seeded for the asset.
var ErrAssetNotConfigured = errors.New("params: asset not configured")

// StoreState captures the subset of state manager capabilities required by
// the parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for governance-controlled parameters. Values
// are marshalled as JSON to stay aligned with governance proposal payloads.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// SetRiskParams persists the risk parameters for an asset under its canonical
// key.
func (s *Store) SetRiskParams(asset string, p cdp.RiskParams) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("params: encode risk params: %w", err)
	}
	return state.ParamStoreSet(RiskKey(asset), encoded)
}

// RiskParams loads the persisted risk parameters for the asset. Unconfigured
// assets are a configuration error, not a zero-value default: every engine
// limit check depends on these numbers being deliberate.
func (s *Store) RiskParams(asset string) (cdp.RiskParams, error) {
	state, err := s.withState()
	if err != nil {
		return cdp.RiskParams{}, err
	}
	raw, ok, err := state.ParamStoreGet(RiskKey(asset))
	if err != nil {
		return cdp.RiskParams{}, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return cdp.RiskParams{}, fmt.Errorf("%w: %s", ErrAssetNotConfigured, asset)
	}
	var p cdp.RiskParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return cdp.RiskParams{}, fmt.Errorf("params: decode risk params: %w", err)
	}
	return p, nil
}

// SetPauses persists the module pause toggles.
func (s *Store) SetPauses(paused map[string]bool) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(paused)
	if err != nil {
		return fmt.Errorf("params: encode pauses: %w", err)
	}
	return state.ParamStoreSet(KeyPauses, encoded)
}

// Pauses loads the persisted pause toggles. When unset an empty map is
// returned.
func (s *Store) Pauses() (map[string]bool, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	raw, ok, err := state.ParamStoreGet(KeyPauses)
	if err != nil {
		return nil, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return map[string]bool{}, nil
	}
	var paused map[string]bool
	if err := json.Unmarshal(raw, &paused); err != nil {
		return nil, fmt.Errorf("params: decode pauses: %w", err)
	}
	return paused, nil
}

// PauseView adapts the store to the engine guard interface. Lookup failures
// fail open: a broken parameter store must not wedge reads.
type PauseView struct {
	store *Store
}

// NewPauseView wraps the store for guard consumption.
func NewPauseView(store *Store) *PauseView {
	return &PauseView{store: store}
}

// IsPaused reports whether the named module is paused.
func (v *PauseView) IsPaused(module string) bool {
	if v == nil || v.store == nil {
		return false
	}
	paused, err := v.store.Pauses()
	if err != nil {
		return false
	}
	return paused[module]
}
