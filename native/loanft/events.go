package loanft

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"loanft/core/types"
)

const (
	EventTypeLoanRequested = "loanft.requested"
	EventTypeLoanFunded    = "loanft.funded"
	EventTypeLoanWithdrawn = "loanft.withdrawn"
	EventTypeLoanRepaid    = "loanft.repaid"
	EventTypeLoanRedeemed  = "loanft.redeemed"
	EventTypeLoanDefaulted = "loanft.defaulted"
)

// NewRequestedEvent returns the canonical payload emitted when a loan request
// is registered and its collateral escrowed.
func NewRequestedEvent(r *LoanRequest) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["id"] = hex.EncodeToString(r.ID[:])
		attrs["applicant"] = hex.EncodeToString(r.Applicant[:])
		attrs["nftContract"] = hex.EncodeToString(r.NFTContract[:])
		attrs["tokenId"] = bigString(r.TokenID)
		attrs["amount"] = bigString(r.Amount)
		attrs["yearlyInterestRate"] = bigString(r.YearlyInterestRate)
		attrs["loanDuration"] = strconv.FormatInt(r.Duration, 10)
		attrs["createdAt"] = strconv.FormatInt(r.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeLoanRequested, Attributes: attrs}
}

// NewFundedEvent returns the payload emitted when a supplier funds a request
// and the loan record is created.
func NewFundedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanFunded, l) }

// NewWithdrawnEvent returns the payload emitted when the applicant claims the
// escrowed principal and the loan becomes active.
func NewWithdrawnEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanWithdrawn, l) }

// NewRepaidEvent returns the payload emitted when the applicant repays
// principal plus interest into escrow.
func NewRepaidEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanRepaid, l) }

// NewRedeemedEvent returns the payload emitted when the supplier collects the
// repayment and the collateral returns to the applicant.
func NewRedeemedEvent(l *Loan, payout *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanRedeemed, l)
	evt.Attributes["payout"] = bigString(payout)
	return evt
}

// NewDefaultedEvent returns the payload emitted when the supplier claims the
// collateral after the repayment deadline lapsed.
func NewDefaultedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanDefaulted, l) }

func newLoanEvent(eventType string, l *Loan) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["id"] = hex.EncodeToString(l.ID[:])
		attrs["applicant"] = hex.EncodeToString(l.Applicant[:])
		attrs["supplier"] = hex.EncodeToString(l.Supplier[:])
		attrs["nftContract"] = hex.EncodeToString(l.NFTContract[:])
		attrs["tokenId"] = bigString(l.TokenID)
		attrs["amount"] = bigString(l.Amount)
		attrs["status"] = l.Status.String()
		if l.StartTimestamp > 0 {
			attrs["startTimestamp"] = strconv.FormatInt(l.StartTimestamp, 10)
			attrs["deadline"] = strconv.FormatInt(l.Deadline, 10)
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
