package state

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

var (
	accountPrefix     = []byte("accounts/")
	loanRequestPrefix = []byte("loanft/request/")
	loanPrefix        = []byte("loanft/loan/")
	escrowPrefix      = []byte("loanft/escrow/")
	nftOwnerPrefix    = []byte("nft/owner/")
	nftApprovalPrefix = []byte("nft/approval/")
	eventPrefix       = []byte("events/entry/")
	eventSequenceKey  = []byte("events/sequence")
	genesisAppliedKey = []byte("genesis/applied")
)

func accountKey(addr [20]byte) []byte {
	return append(append([]byte(nil), accountPrefix...), hex.EncodeToString(addr[:])...)
}

func loanRequestKey(id [32]byte) []byte {
	return append(append([]byte(nil), loanRequestPrefix...), hex.EncodeToString(id[:])...)
}

func loanKey(id [32]byte) []byte {
	return append(append([]byte(nil), loanPrefix...), hex.EncodeToString(id[:])...)
}

func escrowKey(id [32]byte) []byte {
	return append(append([]byte(nil), escrowPrefix...), hex.EncodeToString(id[:])...)
}

func nftKey(prefix []byte, contract [20]byte, tokenID *big.Int) []byte {
	token := "0"
	if tokenID != nil {
		token = tokenID.String()
	}
	return []byte(fmt.Sprintf("%s%x/%s", prefix, contract, token))
}

func eventKey(sequence uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", eventPrefix, sequence))
}
