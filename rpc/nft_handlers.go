package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

type nftMintParams struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
	Owner    string `json:"owner"`
}

type nftApproveParams struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
}

type nftTokenParams struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

func (s *Server) handleNFTMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params nftMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	contract, err := parseAddress(params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenID, err := parseAmount(params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.collateral.Mint(contract, tokenID, owner); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"minted": true})
}

func (s *Server) handleNFTApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params nftApproveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	contract, err := parseAddress(params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenID, err := parseAmount(params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	operator, err := parseAddress(params.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.collateral.Approve(contract, tokenID, caller, operator); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"approved": true})
}

func (s *Server) handleNFTOwnerOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params nftTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	contract, err := parseAddress(params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenID, err := parseAmount(params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := s.collateral.OwnerOf(contract, tokenID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"owner": common.Address(owner).Hex()})
}
