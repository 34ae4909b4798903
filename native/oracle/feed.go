package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// FeedResponse is one observation from an upstream price source. OK is false
// when the call itself failed; validation of the answer happens in the
// aggregator so every fault funnels through the same state machine.
type FeedResponse struct {
	Answer    *big.Int
	Decimals  uint8
	Timestamp time.Time
	OK        bool
}

// Clone returns a deep copy of the response.
func (r FeedResponse) Clone() FeedResponse {
	clone := FeedResponse{Decimals: r.Decimals, Timestamp: r.Timestamp, OK: r.OK}
	if r.Answer != nil {
		clone.Answer = new(big.Int).Set(r.Answer)
	}
	return clone
}

// Feed resolves the latest observation from one upstream source. Latest never
// blocks the caller on validation: a failed upstream call is reported through
// OK=false rather than an error.
type Feed interface {
	Latest() FeedResponse
}

// ManualFeed is an in-memory feed used for tests and manual overrides during
// incident response.
type ManualFeed struct {
	mu   sync.RWMutex
	resp FeedResponse
}

// NewManualFeed constructs a feed with no observation; Latest reports OK=false
// until Set is called.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// Set stores the supplied observation.
func (m *ManualFeed) Set(answer *big.Int, decimals uint8, ts time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.resp = FeedResponse{Decimals: decimals, Timestamp: ts, OK: true}
	if answer != nil {
		m.resp.Answer = new(big.Int).Set(answer)
	}
	m.mu.Unlock()
}

// Fail marks the feed as unavailable, simulating an upstream outage.
func (m *ManualFeed) Fail() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.resp.OK = false
	m.mu.Unlock()
}

// Latest returns the stored observation.
func (m *ManualFeed) Latest() FeedResponse {
	if m == nil {
		return FeedResponse{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resp.Clone()
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed adapts a JSON price endpoint returning
// {"answer": "...", "decimals": n, "timestamp": unixSeconds}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used; the API key header is only added when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

// Latest queries the endpoint. Any transport, decode or range fault collapses
// into OK=false so the aggregator treats it as a bad response.
func (f *HTTPFeed) Latest() FeedResponse {
	if f == nil || f.endpoint == "" {
		return FeedResponse{}
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return FeedResponse{}
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return FeedResponse{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return FeedResponse{}
	}
	var payload struct {
		Answer    string `json:"answer"`
		Decimals  uint8  `json:"decimals"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return FeedResponse{}
	}
	answer, ok := new(big.Int).SetString(strings.TrimSpace(payload.Answer), 10)
	if !ok {
		return FeedResponse{}
	}
	return FeedResponse{
		Answer:    answer,
		Decimals:  payload.Decimals,
		Timestamp: time.Unix(payload.Timestamp, 0),
		OK:        true,
	}
}

func feedLabel(kind, asset string) string {
	return fmt.Sprintf("%s feed for %s", kind, strings.ToUpper(strings.TrimSpace(asset)))
}
