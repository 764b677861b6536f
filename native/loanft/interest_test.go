package loanft

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func activeLoan(amount, rate *big.Int, start, duration int64) *Loan {
	return &Loan{
		Amount:             amount,
		YearlyInterestRate: rate,
		Duration:           duration,
		StartTimestamp:     start,
		Deadline:           start + duration,
		Status:             StatusActive,
	}
}

func TestAccruedInterestFullYearAtFullRate(t *testing.T) {
	amount := oneEther()
	loan := activeLoan(amount, oneEther(), 1000, SecondsPerYear)

	got := AccruedInterest(loan, 1000+SecondsPerYear)
	require.Equal(t, 0, got.Cmp(amount), "a full year at a 1e18 rate owes exactly the principal")
}

func TestAccruedInterestProRata(t *testing.T) {
	amount := oneEther()
	rate := oneEther()
	loan := activeLoan(amount, rate, 0, SecondsPerYear)

	elapsed := int64(SecondsPerYear - 536_000)
	got := AccruedInterest(loan, elapsed)

	want := new(big.Int).Mul(amount, rate)
	want.Mul(want, big.NewInt(elapsed))
	want.Div(want, new(big.Int).Mul(big.NewInt(SecondsPerYear), oneEther()))
	require.Equal(t, 0, got.Cmp(want))
	require.True(t, got.Cmp(amount) < 0)
}

func TestAccruedInterestTruncatesTowardZero(t *testing.T) {
	// 3 wei at 1e18 for one second: 3/31536000 truncates to zero.
	loan := activeLoan(big.NewInt(3), oneEther(), 0, SecondsPerYear)
	require.Equal(t, 0, AccruedInterest(loan, 1).Sign())
}

func TestAccruedInterestCappedAtDeadline(t *testing.T) {
	amount := oneEther()
	loan := activeLoan(amount, oneEther(), 500, SecondsPerYear)

	atDeadline := AccruedInterest(loan, loan.Deadline)
	after := AccruedInterest(loan, loan.Deadline+86_400)
	require.Equal(t, 0, atDeadline.Cmp(after))
}

func TestAccruedInterestBeforeActivation(t *testing.T) {
	loan := &Loan{
		Amount:             oneEther(),
		YearlyInterestRate: oneEther(),
		Duration:           SecondsPerYear,
		Status:             StatusFunded,
	}
	require.Equal(t, 0, AccruedInterest(loan, 1_700_000_000).Sign())
}

func TestAccruedInterestZeroRate(t *testing.T) {
	loan := activeLoan(oneEther(), big.NewInt(0), 0, SecondsPerYear)
	require.Equal(t, 0, AccruedInterest(loan, SecondsPerYear).Sign())
}
