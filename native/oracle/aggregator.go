package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"cdpcore/core/events"
)

var (
	// ErrNotRegistered indicates no oracle pair was registered for the asset.
	ErrNotRegistered = errors.New("oracle: asset not registered")
	// ErrBadRegistration indicates a feed failed its checks at registration.
	ErrBadRegistration = errors.New("oracle: feed failed registration checks")
)

// Status is the two-valued health state of an asset's price pair.
type Status uint8

const (
	// StatusWorking means the last fetch accepted fresh upstream data.
	StatusWorking Status = iota
	// StatusUntrusted means the aggregator is serving the last good price
	// while the upstream pair is bad or frozen.
	StatusUntrusted
)

// String renders the status for events and RPC responses.
func (s Status) String() string {
	if s == StatusUntrusted {
		return "untrusted"
	}
	return "working"
}

const (
	// frozenTimeout is the maximum age before a response counts as frozen.
	frozenTimeout = 4 * time.Hour
	// maxForexDeviation is the wad-scale relative move beyond which a single
	// forex tick is ignored as an outlier (50%).
	maxForexDeviationWad = "500000000000000000"
)

var (
	wad               = mustBigInt("1000000000000000000")
	maxForexDeviation = mustBigInt(maxForexDeviationWad)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// PriceRecord is the persisted per-asset oracle state: the last accepted
// price, the last accepted forex conversion rate (both wad scale) and the
// health status. Never deleted once created.
type PriceRecord struct {
	Asset             string   `json:"asset"`
	LastGoodPrice     *big.Int `json:"lastGoodPrice"`
	LastGoodForexRate *big.Int `json:"lastGoodForexRate"`
	Status            Status   `json:"status"`
}

// Clone returns a deep copy of the record.
func (r *PriceRecord) Clone() *PriceRecord {
	if r == nil {
		return nil
	}
	clone := &PriceRecord{Asset: r.Asset, Status: r.Status}
	if r.LastGoodPrice != nil {
		clone.LastGoodPrice = new(big.Int).Set(r.LastGoodPrice)
	}
	if r.LastGoodForexRate != nil {
		clone.LastGoodForexRate = new(big.Int).Set(r.LastGoodForexRate)
	}
	return clone
}

type assetFeeds struct {
	primary Feed
	forex   Feed
}

// Aggregator fetches and sanity-checks a primary price feed and a forex
// conversion feed per asset, degrading to the last good converted price when
// upstream data is bad, frozen or implausible. FetchPrice mutates state and
// never blocks; once an asset is registered it always returns a price.
type Aggregator struct {
	mu      sync.Mutex
	feeds   map[string]*assetFeeds
	records map[string]*PriceRecord
	emitter events.Emitter
	now     func() time.Time
}

// NewAggregator constructs an empty aggregator using the supplied clock. A
// nil clock falls back to time.Now.
func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		feeds:   make(map[string]*assetFeeds),
		records: make(map[string]*PriceRecord),
		emitter: events.NoopEmitter{},
		now:     now,
	}
}

// SetEmitter wires status-transition event emission.
func (a *Aggregator) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	a.emitter = emitter
}

func assetKey(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// responseBad reports whether an observation is unusable: failed call,
// non-positive answer, zero timestamp or a timestamp in the future.
func (a *Aggregator) responseBad(resp FeedResponse) bool {
	if !resp.OK {
		return true
	}
	if resp.Answer == nil || resp.Answer.Sign() <= 0 {
		return true
	}
	if resp.Timestamp.IsZero() || resp.Timestamp.Unix() <= 0 {
		return true
	}
	return resp.Timestamp.After(a.now())
}

// responseFrozen reports whether the observation is stale beyond the timeout.
func (a *Aggregator) responseFrozen(resp FeedResponse) bool {
	return a.now().Sub(resp.Timestamp) > frozenTimeout
}

func scaleToWad(answer *big.Int, decimals uint8) *big.Int {
	if answer == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Set(answer)
	switch {
	case decimals < 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		scaled.Mul(scaled, factor)
	case decimals > 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
		scaled.Quo(scaled, factor)
	}
	return scaled
}

// convert turns a USD price into the target currency: price * 1e18 / forexRate.
func convert(priceUSD, forexRate *big.Int) *big.Int {
	if priceUSD == nil || forexRate == nil || forexRate.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(priceUSD, wad)
	return scaled.Quo(scaled, forexRate)
}

// forexDeviated reports whether the fresh rate moved more than 50% against
// the stored one.
func forexDeviated(stored, fresh *big.Int) bool {
	if stored == nil || stored.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(fresh, stored)
	diff.Abs(diff)
	diff.Mul(diff, wad)
	diff.Quo(diff, stored)
	return diff.Cmp(maxForexDeviation) > 0
}

// AddOracle registers the primary and forex feeds for an asset. Registration
// requires both feeds to currently pass the bad/frozen checks so the record
// starts from a trustworthy last-good pair.
func (a *Aggregator) AddOracle(asset string, primary, forex Feed) error {
	if a == nil || primary == nil || forex == nil {
		return ErrBadRegistration
	}
	key := assetKey(asset)
	if key == "" {
		return ErrBadRegistration
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	primaryResp := primary.Latest()
	if a.responseBad(primaryResp) || a.responseFrozen(primaryResp) {
		return fmt.Errorf("%w: %s", ErrBadRegistration, feedLabel("primary", asset))
	}
	forexResp := forex.Latest()
	if a.responseBad(forexResp) || a.responseFrozen(forexResp) {
		return fmt.Errorf("%w: %s", ErrBadRegistration, feedLabel("forex", asset))
	}

	a.feeds[key] = &assetFeeds{primary: primary, forex: forex}
	a.records[key] = &PriceRecord{
		Asset:             key,
		LastGoodPrice:     scaleToWad(primaryResp.Answer, primaryResp.Decimals),
		LastGoodForexRate: scaleToWad(forexResp.Answer, forexResp.Decimals),
		Status:            StatusWorking,
	}
	return nil
}

// FetchPrice returns the current converted price for the asset, applying the
// Working/Untrusted failover rules. Upstream faults are absorbed: the caller
// only ever sees a price, possibly the last good one.
func (a *Aggregator) FetchPrice(asset string) (*big.Int, error) {
	if a == nil {
		return nil, ErrNotRegistered
	}
	key := assetKey(asset)
	a.mu.Lock()
	defer a.mu.Unlock()

	record, recOK := a.records[key]
	if !recOK {
		return nil, ErrNotRegistered
	}
	feeds, ok := a.feeds[key]
	if !ok {
		// Restored record without re-registered feeds: keep serving the
		// last good pair.
		return convert(record.LastGoodPrice, record.LastGoodForexRate), nil
	}

	primaryResp := feeds.primary.Latest()
	forexResp := feeds.forex.Latest()
	forexBad := a.responseBad(forexResp)

	switch record.Status {
	case StatusWorking:
		if forexBad || a.responseBad(primaryResp) || a.responseFrozen(primaryResp) {
			a.setStatus(record, StatusUntrusted)
			return convert(record.LastGoodPrice, record.LastGoodForexRate), nil
		}
		freshForex := scaleToWad(forexResp.Answer, forexResp.Decimals)
		if forexDeviated(record.LastGoodForexRate, freshForex) {
			// Single outlier tick: serve the stored pair untouched.
			return convert(record.LastGoodPrice, record.LastGoodForexRate), nil
		}
		record.LastGoodPrice = scaleToWad(primaryResp.Answer, primaryResp.Decimals)
		record.LastGoodForexRate = freshForex
		return convert(record.LastGoodPrice, record.LastGoodForexRate), nil
	default: // StatusUntrusted
		if !forexBad && !a.responseBad(primaryResp) && !a.responseFrozen(primaryResp) {
			a.setStatus(record, StatusWorking)
			record.LastGoodPrice = scaleToWad(primaryResp.Answer, primaryResp.Decimals)
			record.LastGoodForexRate = scaleToWad(forexResp.Answer, forexResp.Decimals)
		}
		return convert(record.LastGoodPrice, record.LastGoodForexRate), nil
	}
}

func (a *Aggregator) setStatus(record *PriceRecord, status Status) {
	if record.Status == status {
		return
	}
	record.Status = status
	a.emitter.Emit(events.OracleStatusChanged{Asset: record.Asset, Status: status.String()})
}

// Record returns a copy of the persisted oracle state for the asset.
func (a *Aggregator) Record(asset string) (*PriceRecord, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	record, ok := a.records[assetKey(asset)]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Snapshot returns deep copies of every record for persistence.
func (a *Aggregator) Snapshot() []*PriceRecord {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*PriceRecord, 0, len(a.records))
	for _, record := range a.records {
		out = append(out, record.Clone())
	}
	return out
}

// Restore seeds records from persisted state. Feeds still need registering
// via AddOracle; restored records keep serving last-good prices meanwhile.
func (a *Aggregator) Restore(records []*PriceRecord) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, record := range records {
		if record == nil {
			continue
		}
		clone := record.Clone()
		clone.Asset = assetKey(clone.Asset)
		a.records[clone.Asset] = clone
	}
}
