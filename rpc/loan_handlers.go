package rpc

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"loanft/core/state"
	"loanft/native/loanft"
)

type requestLoanParams struct {
	Applicant          string `json:"applicant"`
	NFTContract        string `json:"nftContract"`
	TokenID            string `json:"tokenId"`
	Amount             string `json:"amount"`
	LoanDuration       int64  `json:"loanDuration"`
	YearlyInterestRate string `json:"yearlyInterestRate"`
}

type fundParams struct {
	Supplier string `json:"supplier"`
	ID       string `json:"id"`
	Value    string `json:"value"`
}

type withdrawParams struct {
	Applicant string `json:"applicant"`
	ID        string `json:"id"`
}

type repayParams struct {
	Applicant string `json:"applicant"`
	ID        string `json:"id"`
	Value     string `json:"value"`
}

type redeemParams struct {
	Supplier string `json:"supplier"`
	ID       string `json:"id"`
}

type idParams struct {
	ID string `json:"id"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type listEventsParams struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// loanRequestResult is the wire view of a pending request.
type loanRequestResult struct {
	ID                 string `json:"id"`
	Applicant          string `json:"applicant"`
	NFTContract        string `json:"nftContract"`
	TokenID            string `json:"tokenId"`
	Amount             string `json:"amount"`
	YearlyInterestRate string `json:"yearlyInterestRate"`
	LoanDuration       int64  `json:"loanDuration"`
	CreatedAt          int64  `json:"createdAt"`
}

// loanResult is the wire view of an unsettled loan.
type loanResult struct {
	ID                 string `json:"id"`
	Applicant          string `json:"applicant"`
	Supplier           string `json:"supplier"`
	NFTContract        string `json:"nftContract"`
	TokenID            string `json:"tokenId"`
	Amount             string `json:"amount"`
	YearlyInterestRate string `json:"yearlyInterestRate"`
	LoanDuration       int64  `json:"loanDuration"`
	FundedAt           int64  `json:"fundedAt"`
	StartTimestamp     int64  `json:"startTimestamp,omitempty"`
	Deadline           int64  `json:"deadline,omitempty"`
	RepaidAmount       string `json:"repaidAmount"`
	Status             uint8  `json:"status"`
	StatusLabel        string `json:"statusLabel"`
}

func newLoanRequestResult(r *loanft.LoanRequest) *loanRequestResult {
	return &loanRequestResult{
		ID:                 "0x" + hex.EncodeToString(r.ID[:]),
		Applicant:          common.Address(r.Applicant).Hex(),
		NFTContract:        common.Address(r.NFTContract).Hex(),
		TokenID:            r.TokenID.String(),
		Amount:             r.Amount.String(),
		YearlyInterestRate: r.YearlyInterestRate.String(),
		LoanDuration:       r.Duration,
		CreatedAt:          r.CreatedAt,
	}
}

func newLoanResult(l *loanft.Loan) *loanResult {
	return &loanResult{
		ID:                 "0x" + hex.EncodeToString(l.ID[:]),
		Applicant:          common.Address(l.Applicant).Hex(),
		Supplier:           common.Address(l.Supplier).Hex(),
		NFTContract:        common.Address(l.NFTContract).Hex(),
		TokenID:            l.TokenID.String(),
		Amount:             l.Amount.String(),
		YearlyInterestRate: l.YearlyInterestRate.String(),
		LoanDuration:       l.Duration,
		FundedAt:           l.FundedAt,
		StartTimestamp:     l.StartTimestamp,
		Deadline:           l.Deadline,
		RepaidAmount:       l.RepaidAmount.String(),
		Status:             uint8(l.Status),
		StatusLabel:        l.Status.String(),
	}
}

func parseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return id, fmt.Errorf("invalid loan id %q", value)
	}
	copy(id[:], raw)
	return id, nil
}

func (s *Server) handleRequestLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params requestLoanParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	applicant, err := parseAddress(params.Applicant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddress(params.NFTContract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenID, err := parseAmount(params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	rate, err := parseAmount(params.YearlyInterestRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := s.engine.RequestLoan(applicant, contract, tokenID, amount, params.LoanDuration, rate)
	if err != nil {
		s.metrics.ObserveTransition("requestLoan", "error")
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveTransition("requestLoan", "ok")
	s.publishEscrowTotal()
	writeResult(w, req.ID, newLoanRequestResult(result))
}

func (s *Server) handleProvideLiquidity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	supplier, err := parseAddress(params.Supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.ProvideLiquidity(supplier, id, value)
	if err != nil {
		s.metrics.ObserveTransition("provideLiquidity", "error")
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveTransition("provideLiquidity", "ok")
	s.publishEscrowTotal()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleWithdrawLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	applicant, err := parseAddress(params.Applicant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.WithdrawLoan(applicant, id)
	if err != nil {
		s.metrics.ObserveTransition("withdrawLoan", "error")
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveTransition("withdrawLoan", "ok")
	s.publishEscrowTotal()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	applicant, err := parseAddress(params.Applicant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.RepayLoan(applicant, id, value)
	if err != nil {
		s.metrics.ObserveTransition("repayLoan", "error")
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveTransition("repayLoan", "ok")
	s.publishEscrowTotal()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleRedeemLoanOrNFT(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params redeemParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	supplier, err := parseAddress(params.Supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.RedeemLoanOrNFT(supplier, id)
	if err != nil {
		s.metrics.ObserveTransition("redeemLoanOrNFT", "error")
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveTransition("redeemLoanOrNFT", "ok")
	s.publishEscrowTotal()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleGetLoanRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	request, err := s.engine.GetLoanRequest(id)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newLoanRequestResult(request))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.GetLoan(id)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleListLoanRequests(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	requests, err := s.engine.ListLoanRequests()
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	out := make([]*loanRequestResult, 0, len(requests))
	for _, r := range requests {
		out = append(out, newLoanRequestResult(r))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleListLoans(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	loans, err := s.engine.ListLoans()
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	out := make([]*loanResult, 0, len(loans))
	for _, l := range loans {
		out = append(out, newLoanResult(l))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetLoanInterests(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	interest, err := s.engine.LoanInterest(id)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"interest": interest.String()})
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listEventsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	events, err := s.state.ListEvents(params.Prefix, params.Limit)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	if events == nil {
		events = []*state.StoredEvent{}
	}
	writeResult(w, req.ID, events)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	acc, err := s.state.GetAccount(addr)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": common.Address(addr).Hex(),
		"balance": acc.Balance.String(),
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]string{
		"vault": common.Address(loanft.VaultAddress()).Hex(),
	})
}

func (s *Server) publishEscrowTotal() {
	total, err := s.state.EscrowTotal()
	if err != nil {
		s.logger.Warn("escrow total unavailable", slog.Any("error", err))
		return
	}
	s.metrics.SetEscrowed(total)
}
