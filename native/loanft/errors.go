package loanft

import "errors"

// Transition failures are surfaced as sentinel errors carrying the reason
// string clients display verbatim. All state changes in a failed call are
// rolled back by the caller-facing engine before the error is returned.
var (
	// ErrDuplicateRequest marks a second pending request for the same
	// (applicant, NFT contract, token) triple.
	ErrDuplicateRequest = errors.New("loanft: duplicate request")
	// ErrDuplicateLoan marks a request whose identifier collides with an
	// unsettled loan.
	ErrDuplicateLoan = errors.New("loanft: duplicate loan")
	// ErrRequestNotFound marks operations referencing an unknown request id.
	ErrRequestNotFound = errors.New("loanft: request not found")
	// ErrLoanNotFound marks operations referencing an unknown loan id.
	ErrLoanNotFound = errors.New("loanft: loan not found")
	// ErrWrongAmount is returned when funding value differs from the requested
	// principal. No over- or under-payment is tolerated.
	ErrWrongAmount = errors.New("loanft: wrong amount")
	// ErrInsufficientPayment is returned when a repayment carries less than
	// principal plus accrued interest.
	ErrInsufficientPayment = errors.New("loanft: insufficient payment")
	// ErrWrongState marks a transition invalid for the loan's current stage.
	ErrWrongState = errors.New("loanft: wrong state")
	// ErrNotYourLoan marks callers that are not the applicant of the loan.
	ErrNotYourLoan = errors.New("loanft: not your loan")
	// ErrNotFundedByYou marks redemption attempts by accounts other than the
	// supplier.
	ErrNotFundedByYou = errors.New("loanft: not funded by you")
	// ErrTooLate marks repayment attempts past the deadline.
	ErrTooLate = errors.New("loanft: too late")
	// ErrNotYetRedeemable marks redemption attempts that satisfy neither the
	// repaid-settlement branch nor the default branch.
	ErrNotYetRedeemable = errors.New("loanft: not yet redeemable")

	// ErrNotTokenOwner marks requests for collateral the caller does not own.
	ErrNotTokenOwner = errors.New("loanft: caller does not own token")
	// ErrTokenNotApproved marks requests where the registry vault has not been
	// approved to transfer the collateral.
	ErrTokenNotApproved = errors.New("loanft: token not approved for registry")
	// ErrInsufficientBalance marks payable calls whose caller cannot cover the
	// attached value.
	ErrInsufficientBalance = errors.New("loanft: insufficient balance")
	// ErrInvalidParams marks malformed request parameters.
	ErrInvalidParams = errors.New("loanft: invalid parameters")
)
