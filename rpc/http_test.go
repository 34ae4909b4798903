package rpc_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/native/cdp"
	"cdpcore/native/params"
	"cdpcore/rpc"
	"cdpcore/rpc/modules"
	"cdpcore/state"
	"cdpcore/storage"
)

type fixedPrice struct {
	price *big.Int
}

func (p *fixedPrice) FetchPrice(string) (*big.Int, error) {
	return new(big.Int).Set(p.price), nil
}

type serverHarness struct {
	server *httptest.Server
	store  *params.Store
	pool   *cdp.ActivePool
	bank   *state.Bank
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	store := params.NewStore(manager)

	wad := big.NewInt(1_000_000_000_000_000_000)
	riskParams := cdp.RiskParams{
		MinBorrowRatio:      big.NewInt(1_100_000_000_000_000_000),
		MinLiquidationRatio: big.NewInt(1_100_000_000_000_000_000),
		SystemRatioFloor:    big.NewInt(1_500_000_000_000_000_000),
		ValueCap:            new(big.Int).Mul(big.NewInt(1_000_000), wad),
		MinNetDebt:          new(big.Int).Mul(big.NewInt(100), wad),
		BorrowFeeFloor:      big.NewInt(5_000_000_000_000_000),
		BorrowFeeCeiling:    big.NewInt(50_000_000_000_000_000),
		RedemptionFeeFloor:  big.NewInt(5_000_000_000_000_000),
		LiquidationFeeBps:   50,
	}
	if err := store.SetRiskParams("ETH", riskParams); err != nil {
		t.Fatalf("seed params: %v", err)
	}

	price := &fixedPrice{price: new(big.Int).Mul(big.NewInt(400), wad)}
	pool := cdp.NewActivePool()
	bank := state.NewBank()

	feeSink := common.HexToAddress("0x00000000000000000000000000000000000000Fe")
	surplusSink := common.HexToAddress("0x00000000000000000000000000000000000000Fd")
	engine := cdp.NewEngine(feeSink, surplusSink)
	engine.SetPool(pool)
	engine.SetSurplusPool(cdp.NewCollateralSurplusPool())
	engine.SetToken(bank)
	engine.SetParams(store)
	engine.SetPriceSource(price)
	engine.SetPauses(params.NewPauseView(store))

	module := modules.NewCDPModule(engine, store, price)
	server := httptest.NewServer(rpc.NewServer(module, nil).Router())
	t.Cleanup(server.Close)
	return &serverHarness{server: server, store: store, pool: pool, bank: bank}
}

func (h *serverHarness) post(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const testOwnerHex = "0x1000000000000000000000000000000000000001"

func TestOpenThenGetPosition(t *testing.T) {
	h := newServerHarness(t)
	owner := common.HexToAddress(testOwnerHex)
	wad := big.NewInt(1_000_000_000_000_000_000)
	h.pool.CreditHolder("ETH", owner, new(big.Int).Mul(big.NewInt(10), wad))

	resp := h.post(t, "/v1/cdp/open", map[string]interface{}{
		"asset":         "ETH",
		"owner":         testOwnerHex,
		"collateral":    "10000000000000000000",
		"debtRequested": "1000000000000000000000",
		"maxFeePct":     "100000000000000000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	var opened modules.PositionView
	decodeBody(t, resp, &opened)
	if opened.Debt != "1005000000000000000000" {
		t.Fatalf("debt = %s", opened.Debt)
	}
	if opened.Status != "active" {
		t.Fatalf("status = %s", opened.Status)
	}

	resp = h.post(t, "/v1/cdp/positions/get", map[string]interface{}{
		"asset": "ETH",
		"owner": testOwnerHex,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var fetched modules.PositionView
	decodeBody(t, resp, &fetched)
	if fetched.Collateral != "10000000000000000000" {
		t.Fatalf("collateral = %s", fetched.Collateral)
	}
	if fetched.Owner != owner.Hex() {
		t.Fatalf("owner = %s", fetched.Owner)
	}
}

func TestRatesAndSystemEndpoints(t *testing.T) {
	h := newServerHarness(t)

	resp, err := http.Get(h.server.URL + "/v1/cdp/rates/ETH")
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rates status = %d", resp.StatusCode)
	}
	var rates modules.RatesView
	decodeBody(t, resp, &rates)
	if rates.BorrowingRate != "5000000000000000" {
		t.Fatalf("borrowing rate = %s", rates.BorrowingRate)
	}
	if rates.BaseRate != "0" {
		t.Fatalf("base rate = %s", rates.BaseRate)
	}

	resp, err = http.Get(h.server.URL + "/v1/cdp/system/ETH")
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("system status = %d", resp.StatusCode)
	}
	var system modules.SystemView
	decodeBody(t, resp, &system)
	if system.Price != "400000000000000000000" {
		t.Fatalf("price = %s", system.Price)
	}
}

func TestOpenRejectionsMapToBadRequest(t *testing.T) {
	h := newServerHarness(t)

	// Unfunded owner: the engine rejects the collateral pull.
	resp := h.post(t, "/v1/cdp/open", map[string]interface{}{
		"asset":         "ETH",
		"owner":         testOwnerHex,
		"collateral":    "10000000000000000000",
		"debtRequested": "1000000000000000000000",
		"maxFeePct":     "100000000000000000",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("engine rejection status = %d", resp.StatusCode)
	}
	var payload struct {
		Error     string `json:"error"`
		RequestID string `json:"requestId"`
	}
	decodeBody(t, resp, &payload)
	if payload.Error == "" {
		t.Fatal("missing error message")
	}
	if payload.RequestID == "" {
		t.Fatal("missing request id")
	}

	// Malformed address fails at decode time.
	resp = h.post(t, "/v1/cdp/open", map[string]interface{}{
		"asset":         "ETH",
		"owner":         "not-an-address",
		"collateral":    "1",
		"debtRequested": "1",
		"maxFeePct":     "1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad address status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// Unknown fields are rejected.
	resp = h.post(t, "/v1/cdp/open", map[string]interface{}{
		"asset":   "ETH",
		"owner":   testOwnerHex,
		"bogus":   true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestPausedModuleMapsToServiceUnavailable(t *testing.T) {
	h := newServerHarness(t)
	if err := h.store.SetPauses(map[string]bool{"cdp": true}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	resp := h.post(t, "/v1/cdp/open", map[string]interface{}{
		"asset":         "ETH",
		"owner":         testOwnerHex,
		"collateral":    "10000000000000000000",
		"debtRequested": "1000000000000000000000",
		"maxFeePct":     "100000000000000000",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("paused status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	h := newServerHarness(t)
	resp, err := http.Get(h.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}
