package loanft

import (
	"fmt"
	"math/big"
)

// LoanStatus represents the lifecycle stages surfaced to clients. The numeric
// values are part of the external surface: off-chain clients map them onto the
// INITIAL/FUNDED/ACTIVE/REPAID/CLOSED progression.
type LoanStatus uint8

const (
	StatusInitial LoanStatus = iota
	StatusFunded
	StatusActive
	StatusRepaid
	StatusClosed
)

// String returns the canonical client-facing status label.
func (s LoanStatus) String() string {
	switch s {
	case StatusInitial:
		return "INITIAL"
	case StatusFunded:
		return "FUNDED"
	case StatusActive:
		return "ACTIVE"
	case StatusRepaid:
		return "REPAID"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s LoanStatus) Valid() bool {
	return s <= StatusClosed
}

// LoanRequest captures an applicant's unfulfilled ask. The collateral NFT is
// already held by the registry vault while the request is pending.
type LoanRequest struct {
	ID                 [32]byte `json:"id"`
	Applicant          [20]byte `json:"applicant"`
	NFTContract        [20]byte `json:"nftContract"`
	TokenID            *big.Int `json:"tokenId"`
	Amount             *big.Int `json:"amount"`
	YearlyInterestRate *big.Int `json:"yearlyInterestRate"`
	Duration           int64    `json:"loanDuration"`
	CreatedAt          int64    `json:"createdAt"`
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (r *LoanRequest) Clone() *LoanRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TokenID = cloneBigInt(r.TokenID)
	clone.Amount = cloneBigInt(r.Amount)
	clone.YearlyInterestRate = cloneBigInt(r.YearlyInterestRate)
	return &clone
}

// Loan is created the moment a request is funded and carries the request's
// terms plus the supplier identity and runtime status. StartTimestamp is set on
// withdrawal, not on funding: interest accrues from disbursement.
type Loan struct {
	ID                 [32]byte   `json:"id"`
	Applicant          [20]byte   `json:"applicant"`
	Supplier           [20]byte   `json:"supplier"`
	NFTContract        [20]byte   `json:"nftContract"`
	TokenID            *big.Int   `json:"tokenId"`
	Amount             *big.Int   `json:"amount"`
	YearlyInterestRate *big.Int   `json:"yearlyInterestRate"`
	Duration           int64      `json:"loanDuration"`
	FundedAt           int64      `json:"fundedAt"`
	StartTimestamp     int64      `json:"startTimestamp"`
	Deadline           int64      `json:"deadline"`
	RepaidAmount       *big.Int   `json:"repaidAmount"`
	Status             LoanStatus `json:"status"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.TokenID = cloneBigInt(l.TokenID)
	clone.Amount = cloneBigInt(l.Amount)
	clone.YearlyInterestRate = cloneBigInt(l.YearlyInterestRate)
	clone.RepaidAmount = cloneBigInt(l.RepaidAmount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
