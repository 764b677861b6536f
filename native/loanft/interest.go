package loanft

import "math/big"

// SecondsPerYear is the accrual denominator used by the interest formula.
const SecondsPerYear = 31_536_000

// rateScale anchors the yearly interest rate unit: the rate is a wei-scaled
// fraction of principal per year, so 1e18 means 100% of the principal accrues
// over a full year. This mirrors the amount's own fixed-point base.
var rateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// AccruedInterest computes the interest owed on a loan at the given time. The
// value is re-derived from the loan terms on every call; nothing is cached,
// since correctness depends on the caller's exact clock. Accrual starts at the
// loan's StartTimestamp and is capped at the deadline.
func AccruedInterest(loan *Loan, now int64) *big.Int {
	if loan == nil || loan.StartTimestamp == 0 {
		return big.NewInt(0)
	}
	at := now
	if at > loan.Deadline {
		at = loan.Deadline
	}
	elapsed := at - loan.StartTimestamp
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	if loan.Amount == nil || loan.Amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if loan.YearlyInterestRate == nil || loan.YearlyInterestRate.Sign() <= 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(loan.Amount, loan.YearlyInterestRate)
	interest.Mul(interest, big.NewInt(elapsed))
	denominator := new(big.Int).Mul(big.NewInt(SecondsPerYear), rateScale)
	interest.Quo(interest, denominator)
	return interest
}
