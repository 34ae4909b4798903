package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdpcore/observability"
	"cdpcore/rpc/modules"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server exposes the ledger engine over HTTP.
type Server struct {
	cdp *modules.CDPModule
	log *slog.Logger
}

// NewServer constructs the HTTP surface around the supplied module.
func NewServer(cdp *modules.CDPModule, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cdp: cdp, log: log}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/cdp", func(cr chi.Router) {
		cr.Post("/open", s.handleOpen)
		cr.Post("/adjust", s.handleAdjust)
		cr.Post("/close", s.handleClose)
		cr.Post("/claim-surplus", s.handleClaimSurplus)
		cr.Post("/liquidate", s.handleLiquidate)
		cr.Post("/liquidate-sequence", s.handleLiquidateSequence)
		cr.Post("/liquidate-batch", s.handleBatchLiquidate)
		cr.Post("/redeem", s.handleRedeem)
		cr.Post("/positions/get", s.handleGetPosition)
		cr.Get("/rates/{asset}", s.handleRates)
		cr.Get("/system/{asset}", s.handleSystem)
	})

	return r
}

// requestID assigns a correlation id to every request so log lines and error
// payloads can be matched to client reports.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)
		observability.ModuleMetrics().Observe("cdp", r.URL.Path, rec.status, duration)
		if rec.status >= 400 {
			s.log.Warn("request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"requestId", w.Header().Get("X-Request-ID"),
				"durationMs", duration.Milliseconds(),
			)
		}
	})
}

type errorPayload struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeModuleError(w http.ResponseWriter, err *modules.ModuleError) {
	status := http.StatusInternalServerError
	message := "internal error"
	if err != nil {
		status = err.HTTPStatus
		message = err.Message
	}
	writeJSON(w, status, errorPayload{Error: message, RequestID: w.Header().Get("X-Request-ID")})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorPayload{Error: err.Error(), RequestID: w.Header().Get("X-Request-ID")})
}

func decodeRequest(r *http.Request, out interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, requestBodyLimit)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseOptionalAddress treats an empty string as the zero address, which the
// engine reads as "no hint".
func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return value, nil
}
