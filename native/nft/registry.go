package nft

import (
	"errors"
	"math/big"
)

var (
	// ErrTokenNotFound marks lookups for tokens that were never minted.
	ErrTokenNotFound = errors.New("nft: token not found")
	// ErrTokenExists marks mints colliding with an existing token.
	ErrTokenExists = errors.New("nft: token already minted")
	// ErrNotOwner marks approvals or transfers not initiated by the owner.
	ErrNotOwner = errors.New("nft: caller is not the owner")
	// ErrZeroAddress marks operations targeting the zero address.
	ErrZeroAddress = errors.New("nft: zero address")
)

// registryState abstracts the subset of state-manager functionality backing
// the ownership ledger.
type registryState interface {
	NFTOwner(contract [20]byte, tokenID *big.Int) ([20]byte, bool, error)
	NFTSetOwner(contract [20]byte, tokenID *big.Int, owner [20]byte) error
	NFTApproved(contract [20]byte, tokenID *big.Int) ([20]byte, bool, error)
	NFTSetApproved(contract [20]byte, tokenID *big.Int, operator [20]byte) error
	NFTClearApproved(contract [20]byte, tokenID *big.Int) error
}

// Registry is an ERC-721-style ownership ledger scoped by (contract, tokenID)
// pairs. It stands in for the external NFT collaborator the loan engine
// escrows collateral with: ownerOf, approve, getApproved and transfer-with-
// approval-clearing semantics.
type Registry struct {
	state registryState
}

// NewRegistry constructs a registry bound to the provided state backend.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// Mint records a brand-new token under the given owner.
func (r *Registry) Mint(contract [20]byte, tokenID *big.Int, owner [20]byte) error {
	if owner == ([20]byte{}) {
		return ErrZeroAddress
	}
	if _, ok, err := r.state.NFTOwner(contract, tokenID); err != nil {
		return err
	} else if ok {
		return ErrTokenExists
	}
	return r.state.NFTSetOwner(contract, tokenID, owner)
}

// OwnerOf returns the current owner of a token.
func (r *Registry) OwnerOf(contract [20]byte, tokenID *big.Int) ([20]byte, error) {
	owner, ok, err := r.state.NFTOwner(contract, tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, ErrTokenNotFound
	}
	return owner, nil
}

// Approve grants operator the right to transfer the token. Only the current
// owner may approve.
func (r *Registry) Approve(contract [20]byte, tokenID *big.Int, caller, operator [20]byte) error {
	owner, err := r.OwnerOf(contract, tokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotOwner
	}
	return r.state.NFTSetApproved(contract, tokenID, operator)
}

// Approved returns the account currently approved to transfer the token, or
// the zero address when none is set.
func (r *Registry) Approved(contract [20]byte, tokenID *big.Int) ([20]byte, error) {
	operator, ok, err := r.state.NFTApproved(contract, tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, nil
	}
	return operator, nil
}

// Transfer moves the token from its current owner to the recipient and clears
// any outstanding approval. The from account must match the recorded owner.
func (r *Registry) Transfer(contract [20]byte, tokenID *big.Int, from, to [20]byte) error {
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	owner, err := r.OwnerOf(contract, tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotOwner
	}
	if err := r.state.NFTClearApproved(contract, tokenID); err != nil {
		return err
	}
	return r.state.NFTSetOwner(contract, tokenID, to)
}
