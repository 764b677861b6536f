package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loanft/core/state"
	"loanft/native/loanft"
	"loanft/native/nft"
	"loanft/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeRejected       = -32010
)

// tokenEnv names the environment variable carrying the optional bearer token
// required for mutating methods.
const tokenEnv = "LOANFT_RPC_TOKEN"

// Server exposes the loan registry over JSON-RPC 2.0.
type Server struct {
	engine     *loanft.Engine
	collateral *nft.Registry
	state      *state.Manager
	metrics    *observability.LoanMetrics
	logger     *slog.Logger
	authToken  string
}

// NewServer wires the RPC surface around the engine and its collaborators.
func NewServer(engine *loanft.Engine, collateral *nft.Registry, st *state.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     engine,
		collateral: collateral,
		state:      st,
		metrics:    observability.Metrics(),
		logger:     logger,
		authToken:  strings.TrimSpace(os.Getenv(tokenEnv)),
	}
}

// Router returns the HTTP handler serving the RPC endpoint, the health check
// and, when enabled, the Prometheus scrape endpoint.
func (s *Server) Router(metricsEnabled bool) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Post("/", s.handle)
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer body.Close()

	var req RPCRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid request envelope", nil)
		return
	}

	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if mutating && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token", nil)
		return
	}

	start := time.Now()
	handler(w, r, &req)
	s.metrics.ObserveRPC(req.Method, time.Since(start).Seconds())
}

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "loanft_requestLoan":
		return s.handleRequestLoan, true
	case "loanft_provideLiquidity":
		return s.handleProvideLiquidity, true
	case "loanft_withdrawLoan":
		return s.handleWithdrawLoan, true
	case "loanft_repayLoan":
		return s.handleRepayLoan, true
	case "loanft_redeemLoanOrNFT":
		return s.handleRedeemLoanOrNFT, true
	case "loanft_getLoanRequest":
		return s.handleGetLoanRequest, false
	case "loanft_getLoan":
		return s.handleGetLoan, false
	case "loanft_listLoanRequests":
		return s.handleListLoanRequests, false
	case "loanft_listLoans":
		return s.handleListLoans, false
	case "loanft_getLoanInterests":
		return s.handleGetLoanInterests, false
	case "loanft_listEvents":
		return s.handleListEvents, false
	case "loanft_getBalance":
		return s.handleGetBalance, false
	case "loanft_getVault":
		return s.handleGetVault, false
	case "nft_mint":
		return s.handleNFTMint, true
	case "nft_approve":
		return s.handleNFTApprove, true
	case "nft_ownerOf":
		return s.handleNFTOwnerOf, false
	default:
		return nil, false
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimSpace(header[len(prefix):]) == s.authToken
}

// writeEngineError maps engine sentinels onto JSON-RPC error codes so clients
// can branch on machine-readable codes while still surfacing the reason
// string.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, loanft.ErrRequestNotFound),
		errors.Is(err, loanft.ErrLoanNotFound),
		errors.Is(err, nft.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), nil)
	case errors.Is(err, loanft.ErrNotYourLoan),
		errors.Is(err, loanft.ErrNotFundedByYou),
		errors.Is(err, loanft.ErrNotTokenOwner),
		errors.Is(err, nft.ErrNotOwner):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, loanft.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, loanft.ErrDuplicateRequest),
		errors.Is(err, loanft.ErrDuplicateLoan),
		errors.Is(err, loanft.ErrWrongAmount),
		errors.Is(err, loanft.ErrInsufficientPayment),
		errors.Is(err, loanft.ErrWrongState),
		errors.Is(err, loanft.ErrTooLate),
		errors.Is(err, loanft.ErrNotYetRedeemable),
		errors.Is(err, loanft.ErrTokenNotApproved),
		errors.Is(err, loanft.ErrInsufficientBalance),
		errors.Is(err, nft.ErrTokenExists),
		errors.Is(err, nft.ErrZeroAddress):
		writeError(w, http.StatusConflict, id, codeRejected, err.Error(), nil)
	default:
		s.logger.Error("rpc handler failure", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

// decodeParams unmarshals the single object parameter convention used by all
// methods.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return nil
	}
	if len(req.Params) > 1 {
		return errors.New("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}
