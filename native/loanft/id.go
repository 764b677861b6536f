package loanft

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoanID derives the deterministic identifier shared by a request and the loan
// it becomes: keccak256 over the packed applicant address, NFT contract
// address and the token id left-padded to 32 bytes. The encoding matches
// solidityKeccak256(['address','address','uint256'], ...) so identifiers
// computed off-chain line up with storage keys.
func LoanID(applicant, nftContract [20]byte, tokenID *big.Int) [32]byte {
	token := tokenID
	if token == nil {
		token = big.NewInt(0)
	}
	packed := common.LeftPadBytes(token.Bytes(), 32)
	return ethcrypto.Keccak256Hash(applicant[:], nftContract[:], packed)
}
