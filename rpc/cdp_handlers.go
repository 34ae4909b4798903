package rpc

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"cdpcore/native/cdp"
)

type hintFields struct {
	UpperHint string `json:"upperHint,omitempty"`
	LowerHint string `json:"lowerHint,omitempty"`
}

func (h hintFields) parse() (cdp.Hints, error) {
	upper, err := parseOptionalAddress("upperHint", h.UpperHint)
	if err != nil {
		return cdp.Hints{}, err
	}
	lower, err := parseOptionalAddress("lowerHint", h.LowerHint)
	if err != nil {
		return cdp.Hints{}, err
	}
	return cdp.Hints{Upper: upper, Lower: lower}, nil
}

type openRequest struct {
	Asset         string `json:"asset"`
	Owner         string `json:"owner"`
	Collateral    string `json:"collateral"`
	DebtRequested string `json:"debtRequested"`
	MaxFeePct     string `json:"maxFeePct"`
	hintFields
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debt, err := parseAmount("debtRequested", req.DebtRequested)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	maxFee, err := parseAmount("maxFeePct", req.MaxFeePct)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hints, err := req.parse()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, modErr := s.cdp.Open(req.Asset, owner, collateral, maxFee, debt, hints)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type adjustRequest struct {
	Asset                string `json:"asset"`
	Owner                string `json:"owner"`
	CollateralTopUp      string `json:"collateralTopUp"`
	CollateralWithdrawal string `json:"collateralWithdrawal"`
	DebtChange           string `json:"debtChange"`
	IsDebtIncrease       bool   `json:"isDebtIncrease"`
	MaxFeePct            string `json:"maxFeePct"`
	hintFields
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	topUp, err := parseAmount("collateralTopUp", req.CollateralTopUp)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	withdrawal, err := parseAmount("collateralWithdrawal", req.CollateralWithdrawal)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debtChange, err := parseAmount("debtChange", req.DebtChange)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	maxFee, err := parseAmount("maxFeePct", req.MaxFeePct)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hints, err := req.parse()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, modErr := s.cdp.Adjust(req.Asset, owner, topUp, withdrawal, debtChange, req.IsDebtIncrease, maxFee, hints)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type ownerRequest struct {
	Asset string `json:"asset"`
	Owner string `json:"owner"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if modErr := s.cdp.Close(req.Asset, owner); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleClaimSurplus(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, modErr := s.cdp.ClaimSurplus(req.Asset, owner)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": amount})
}

type liquidateRequest struct {
	Asset      string `json:"asset"`
	Liquidator string `json:"liquidator"`
	Owner      string `json:"owner"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, modErr := s.cdp.Liquidate(req.Asset, liquidator, owner)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type liquidateSequenceRequest struct {
	Asset      string `json:"asset"`
	Liquidator string `json:"liquidator"`
	Max        int    `json:"max"`
}

func (s *Server) handleLiquidateSequence(w http.ResponseWriter, r *http.Request) {
	var req liquidateSequenceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, modErr := s.cdp.LiquidateSequence(req.Asset, liquidator, req.Max)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type batchLiquidateRequest struct {
	Asset      string   `json:"asset"`
	Liquidator string   `json:"liquidator"`
	Owners     []string `json:"owners"`
}

func (s *Server) handleBatchLiquidate(w http.ResponseWriter, r *http.Request) {
	var req batchLiquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	owners := make([]common.Address, 0, len(req.Owners))
	for i, raw := range req.Owners {
		owner, err := parseAddress(fmt.Sprintf("owners[%d]", i), raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		owners = append(owners, owner)
	}
	view, modErr := s.cdp.BatchLiquidate(req.Asset, liquidator, owners)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type redeemRequest struct {
	Asset            string `json:"asset"`
	Redeemer         string `json:"redeemer"`
	Amount           string `json:"amount"`
	FirstHint        string `json:"firstHint,omitempty"`
	PartialUpperHint string `json:"partialUpperHint,omitempty"`
	PartialLowerHint string `json:"partialLowerHint,omitempty"`
	PartialHintRatio string `json:"partialHintRatio,omitempty"`
	MaxIterations    int    `json:"maxIterations"`
	MaxFeePct        string `json:"maxFeePct"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	redeemer, err := parseAddress("redeemer", req.Redeemer)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	firstHint, err := parseOptionalAddress("firstHint", req.FirstHint)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	upperHint, err := parseOptionalAddress("partialUpperHint", req.PartialUpperHint)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	lowerHint, err := parseOptionalAddress("partialLowerHint", req.PartialLowerHint)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hintRatio, err := parseAmount("partialHintRatio", req.PartialHintRatio)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	maxFee, err := parseAmount("maxFeePct", req.MaxFeePct)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, modErr := s.cdp.Redeem(cdp.RedemptionRequest{
		Asset:            req.Asset,
		Redeemer:         redeemer,
		Amount:           amount,
		FirstHint:        firstHint,
		PartialHints:     cdp.Hints{Upper: upperHint, Lower: lowerHint},
		PartialHintRatio: hintRatio,
		MaxIterations:    req.MaxIterations,
		MaxFeePct:        maxFee,
	})
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, modErr := s.cdp.GetPosition(req.Asset, owner)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	view, modErr := s.cdp.Rates(chi.URLParam(r, "asset"))
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	view, modErr := s.cdp.System(chi.URLParam(r, "asset"))
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
