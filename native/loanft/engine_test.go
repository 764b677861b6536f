package loanft

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"loanft/core/events"
	"loanft/core/types"
)

type mockState struct {
	requests map[[32]byte]*LoanRequest
	loans    map[[32]byte]*Loan
	escrow   map[[32]byte]*big.Int
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		requests: make(map[[32]byte]*LoanRequest),
		loans:    make(map[[32]byte]*Loan),
		escrow:   make(map[[32]byte]*big.Int),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) LoanRequestPut(req *LoanRequest) error {
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *mockState) LoanRequestGet(id [32]byte) (*LoanRequest, bool, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, false, nil
	}
	return req.Clone(), true, nil
}

func (m *mockState) LoanRequestDelete(id [32]byte) error {
	delete(m.requests, id)
	return nil
}

func (m *mockState) LoanRequestList() ([]*LoanRequest, error) {
	out := make([]*LoanRequest, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, req.Clone())
	}
	return out, nil
}

func (m *mockState) LoanPut(loan *Loan) error {
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockState) LoanGet(id [32]byte) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockState) LoanDelete(id [32]byte) error {
	delete(m.loans, id)
	return nil
}

func (m *mockState) LoanList() ([]*Loan, error) {
	out := make([]*Loan, 0, len(m.loans))
	for _, loan := range m.loans {
		out = append(out, loan.Clone())
	}
	return out, nil
}

func (m *mockState) EscrowCredit(id [32]byte, amount *big.Int) error {
	balance, ok := m.escrow[id]
	if !ok {
		balance = big.NewInt(0)
	}
	m.escrow[id] = new(big.Int).Add(balance, amount)
	return nil
}

func (m *mockState) EscrowDebit(id [32]byte, amount *big.Int) error {
	balance, ok := m.escrow[id]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("escrow underflow")
	}
	balance = new(big.Int).Sub(balance, amount)
	if balance.Sign() == 0 {
		delete(m.escrow, id)
		return nil
	}
	m.escrow[id] = balance
	return nil
}

func (m *mockState) EscrowBalance(id [32]byte) (*big.Int, error) {
	balance, ok := m.escrow[id]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockState) escrowTotal() *big.Int {
	total := big.NewInt(0)
	for _, balance := range m.escrow {
		total.Add(total, balance)
	}
	return total
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, acc *types.Account) error {
	m.accounts[addr] = acc.Clone()
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

type tokenKey struct {
	contract [20]byte
	token    string
}

type mockCollateral struct {
	owners    map[tokenKey][20]byte
	approvals map[tokenKey][20]byte
}

func newMockCollateral() *mockCollateral {
	return &mockCollateral{
		owners:    make(map[tokenKey][20]byte),
		approvals: make(map[tokenKey][20]byte),
	}
}

func (c *mockCollateral) key(contract [20]byte, tokenID *big.Int) tokenKey {
	return tokenKey{contract: contract, token: tokenID.String()}
}

func (c *mockCollateral) mint(contract [20]byte, tokenID *big.Int, owner [20]byte) {
	c.owners[c.key(contract, tokenID)] = owner
}

func (c *mockCollateral) OwnerOf(contract [20]byte, tokenID *big.Int) ([20]byte, error) {
	owner, ok := c.owners[c.key(contract, tokenID)]
	if !ok {
		return [20]byte{}, fmt.Errorf("token not found")
	}
	return owner, nil
}

func (c *mockCollateral) Approved(contract [20]byte, tokenID *big.Int) ([20]byte, error) {
	return c.approvals[c.key(contract, tokenID)], nil
}

func (c *mockCollateral) approve(contract [20]byte, tokenID *big.Int, operator [20]byte) {
	c.approvals[c.key(contract, tokenID)] = operator
}

func (c *mockCollateral) Transfer(contract [20]byte, tokenID *big.Int, from, to [20]byte) error {
	key := c.key(contract, tokenID)
	owner, ok := c.owners[key]
	if !ok || owner != from {
		return fmt.Errorf("transfer from non-owner")
	}
	delete(c.approvals, key)
	c.owners[key] = to
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) lastType() string {
	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1].EventType()
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type fixture struct {
	engine     *Engine
	state      *mockState
	collateral *mockCollateral
	emitter    *captureEmitter
	now        int64

	applicant [20]byte
	supplier  [20]byte
	contract  [20]byte
	tokenID   *big.Int
	amount    *big.Int
	rate      *big.Int
	duration  int64
}

func oneEther() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:      newMockState(),
		collateral: newMockCollateral(),
		emitter:    &captureEmitter{},
		now:        1_700_000_000,
		applicant:  newTestAddress(0x11),
		supplier:   newTestAddress(0x22),
		contract:   newTestAddress(0xCC),
		tokenID:    big.NewInt(1),
		amount:     oneEther(),
		rate:       oneEther(),
		duration:   SecondsPerYear,
	}
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetCollateral(f.collateral)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetNowFunc(func() int64 { return f.now })

	f.collateral.mint(f.contract, f.tokenID, f.applicant)
	f.collateral.approve(f.contract, f.tokenID, VaultAddress())
	require.NoError(t, f.state.PutAccount(f.supplier, &types.Account{Balance: new(big.Int).Mul(oneEther(), big.NewInt(10))}))
	return f
}

func (f *fixture) id() [32]byte {
	return LoanID(f.applicant, f.contract, f.tokenID)
}

func (f *fixture) request(t *testing.T) *LoanRequest {
	t.Helper()
	req, err := f.engine.RequestLoan(f.applicant, f.contract, f.tokenID, f.amount, f.duration, f.rate)
	require.NoError(t, err)
	return req
}

func (f *fixture) fund(t *testing.T) *Loan {
	t.Helper()
	loan, err := f.engine.ProvideLiquidity(f.supplier, f.id(), f.amount)
	require.NoError(t, err)
	return loan
}

func (f *fixture) withdraw(t *testing.T) *Loan {
	t.Helper()
	loan, err := f.engine.WithdrawLoan(f.applicant, f.id())
	require.NoError(t, err)
	return loan
}

func TestRequestLoanEscrowsCollateral(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)

	require.Equal(t, f.id(), req.ID)
	require.Equal(t, f.applicant, req.Applicant)
	require.Equal(t, 0, req.Amount.Cmp(f.amount))
	require.Equal(t, f.duration, req.Duration)

	owner, err := f.collateral.OwnerOf(f.contract, f.tokenID)
	require.NoError(t, err)
	require.Equal(t, VaultAddress(), owner, "collateral must be held by the vault")

	stored, err := f.engine.GetLoanRequest(f.id())
	require.NoError(t, err)
	require.Equal(t, 0, stored.Amount.Cmp(f.amount))
	require.Equal(t, EventTypeLoanRequested, f.emitter.lastType())
}

func TestRequestLoanRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.request(t)

	_, err := f.engine.RequestLoan(f.applicant, f.contract, f.tokenID, f.amount, f.duration, f.rate)
	require.ErrorIs(t, err, ErrDuplicateRequest)

	f.fund(t)
	_, err = f.engine.RequestLoan(f.applicant, f.contract, f.tokenID, f.amount, f.duration, f.rate)
	require.ErrorIs(t, err, ErrDuplicateLoan)
}

func TestRequestLoanRequiresOwnershipAndApproval(t *testing.T) {
	f := newFixture(t)

	stranger := newTestAddress(0x99)
	_, err := f.engine.RequestLoan(stranger, f.contract, f.tokenID, f.amount, f.duration, f.rate)
	require.ErrorIs(t, err, ErrNotTokenOwner)

	other := big.NewInt(7)
	f.collateral.mint(f.contract, other, f.applicant)
	_, err = f.engine.RequestLoan(f.applicant, f.contract, other, f.amount, f.duration, f.rate)
	require.ErrorIs(t, err, ErrTokenNotApproved)
}

func TestProvideLiquidityDemandsExactAmount(t *testing.T) {
	f := newFixture(t)
	f.request(t)

	short := new(big.Int).Sub(f.amount, big.NewInt(1))
	_, err := f.engine.ProvideLiquidity(f.supplier, f.id(), short)
	require.ErrorIs(t, err, ErrWrongAmount)

	over := new(big.Int).Add(f.amount, big.NewInt(1))
	_, err = f.engine.ProvideLiquidity(f.supplier, f.id(), over)
	require.ErrorIs(t, err, ErrWrongAmount)
}

func TestProvideLiquidityConsumesRequest(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	supplierBefore := f.state.balance(f.supplier)

	loan := f.fund(t)
	require.Equal(t, StatusFunded, loan.Status)
	require.Equal(t, f.supplier, loan.Supplier)

	_, err := f.engine.GetLoanRequest(f.id())
	require.ErrorIs(t, err, ErrRequestNotFound)

	expected := new(big.Int).Sub(supplierBefore, f.amount)
	require.Equal(t, 0, f.state.balance(f.supplier).Cmp(expected))
	require.Equal(t, 0, f.state.balance(VaultAddress()).Cmp(f.amount))

	escrowed, err := f.state.EscrowBalance(f.id())
	require.NoError(t, err)
	require.Equal(t, 0, escrowed.Cmp(f.amount))
	require.Equal(t, EventTypeLoanFunded, f.emitter.lastType())
}

func TestProvideLiquidityRaceLoses(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)

	rival := newTestAddress(0x33)
	require.NoError(t, f.state.PutAccount(rival, &types.Account{Balance: oneEther()}))
	_, err := f.engine.ProvideLiquidity(rival, f.id(), f.amount)
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestWithdrawLoanActivatesAndDisburses(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)

	_, err := f.engine.WithdrawLoan(f.supplier, f.id())
	require.ErrorIs(t, err, ErrNotYourLoan)

	loan := f.withdraw(t)
	require.Equal(t, StatusActive, loan.Status)
	require.Equal(t, f.now, loan.StartTimestamp)
	require.Equal(t, f.now+f.duration, loan.Deadline)

	require.Equal(t, 0, f.state.balance(f.applicant).Cmp(f.amount))
	require.Equal(t, 0, f.state.balance(VaultAddress()).Sign())
	require.Equal(t, 0, f.state.escrowTotal().Sign())

	// Double withdrawal must be rejected.
	_, err = f.engine.WithdrawLoan(f.applicant, f.id())
	require.ErrorIs(t, err, ErrWrongState)
}

func TestWithdrawLoanUnknownID(t *testing.T) {
	f := newFixture(t)
	var id [32]byte
	id[0] = 0xFF
	_, err := f.engine.WithdrawLoan(f.applicant, id)
	require.ErrorIs(t, err, ErrLoanNotFound)
}

func TestLoanInterestMonotonicAndCapped(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)
	f.withdraw(t)

	var previous *big.Int
	for _, elapsed := range []int64{0, 1, 3600, 86_400, f.duration / 2, f.duration - 1, f.duration} {
		f.now = 1_700_000_000 + elapsed
		interest, err := f.engine.LoanInterest(f.id())
		require.NoError(t, err)
		if previous != nil {
			require.True(t, interest.Cmp(previous) >= 0, "interest decreased at elapsed=%d", elapsed)
		}
		previous = interest
	}

	atDeadline := new(big.Int).Set(previous)
	f.now = 1_700_000_000 + f.duration + 123_456
	capped, err := f.engine.LoanInterest(f.id())
	require.NoError(t, err)
	require.Equal(t, 0, capped.Cmp(atDeadline), "interest must not accrue past the deadline")
}

func TestRepayLoanDeadlineEnforcement(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)
	f.withdraw(t)

	due := new(big.Int).Mul(f.amount, big.NewInt(3))
	require.NoError(t, f.state.PutAccount(f.applicant, &types.Account{Balance: new(big.Int).Mul(oneEther(), big.NewInt(10))}))

	f.now = 1_700_000_000 + f.duration + 1
	_, err := f.engine.RepayLoan(f.applicant, f.id(), due)
	require.ErrorIs(t, err, ErrTooLate)

	f.now = 1_700_000_000 + f.duration - 1
	loan, err := f.engine.RepayLoan(f.applicant, f.id(), due)
	require.NoError(t, err)
	require.Equal(t, StatusRepaid, loan.Status)
}

func TestRepayLoanGuards(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)

	// Not yet withdrawn.
	_, err := f.engine.RepayLoan(f.applicant, f.id(), f.amount)
	require.ErrorIs(t, err, ErrWrongState)

	f.withdraw(t)
	f.now += 1000

	_, err = f.engine.RepayLoan(f.supplier, f.id(), f.amount)
	require.ErrorIs(t, err, ErrNotYourLoan)

	interest, err := f.engine.LoanInterest(f.id())
	require.NoError(t, err)
	require.True(t, interest.Sign() > 0)

	// Principal alone is not enough once interest has accrued.
	_, err = f.engine.RepayLoan(f.applicant, f.id(), f.amount)
	require.ErrorIs(t, err, ErrInsufficientPayment)

	due := new(big.Int).Add(f.amount, interest)
	require.NoError(t, f.state.PutAccount(f.applicant, &types.Account{Balance: new(big.Int).Set(due)}))
	loan, err := f.engine.RepayLoan(f.applicant, f.id(), due)
	require.NoError(t, err)
	require.Equal(t, StatusRepaid, loan.Status)
	require.Equal(t, 0, loan.RepaidAmount.Cmp(due))

	// Double repayment must be rejected.
	_, err = f.engine.RepayLoan(f.applicant, f.id(), due)
	require.ErrorIs(t, err, ErrWrongState)
}

func TestRedeemAfterRepayment(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)
	f.withdraw(t)

	elapsed := f.duration - 536_000
	f.now = 1_700_000_000 + elapsed
	interest, err := f.engine.LoanInterest(f.id())
	require.NoError(t, err)
	require.True(t, interest.Sign() > 0)
	require.True(t, interest.Cmp(f.amount) < 0)

	// Client-side tolerance: overpay interest fourfold to absorb clock drift.
	value := new(big.Int).Add(f.amount, new(big.Int).Mul(interest, big.NewInt(4)))
	require.NoError(t, f.state.PutAccount(f.applicant, &types.Account{Balance: new(big.Int).Set(value)}))
	_, err = f.engine.RepayLoan(f.applicant, f.id(), value)
	require.NoError(t, err)

	supplierBefore := f.state.balance(f.supplier)
	loan, err := f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.NoError(t, err)
	require.Equal(t, StatusClosed, loan.Status)

	gain := new(big.Int).Sub(f.state.balance(f.supplier), supplierBefore)
	require.Equal(t, 0, gain.Cmp(value), "supplier collects the full escrowed repayment")

	owner, err := f.collateral.OwnerOf(f.contract, f.tokenID)
	require.NoError(t, err)
	require.Equal(t, f.applicant, owner, "collateral returns to the applicant")

	// Full settlement: registry holds nothing and the record is gone.
	require.Equal(t, 0, f.state.balance(VaultAddress()).Sign())
	require.Equal(t, 0, f.state.escrowTotal().Sign())
	_, err = f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.ErrorIs(t, err, ErrLoanNotFound)
	require.Equal(t, EventTypeLoanRedeemed, f.emitter.lastType())
}

func TestRedeemAfterDefault(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)
	f.withdraw(t)

	f.now = 1_700_000_000 + f.duration + 10
	supplierBefore := f.state.balance(f.supplier)

	loan, err := f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.NoError(t, err)
	require.Equal(t, StatusClosed, loan.Status)

	owner, err := f.collateral.OwnerOf(f.contract, f.tokenID)
	require.NoError(t, err)
	require.Equal(t, f.supplier, owner, "collateral moves to the supplier on default")

	// No currency moves on the default branch.
	require.Equal(t, 0, f.state.balance(f.supplier).Cmp(supplierBefore))
	require.Equal(t, 0, f.state.escrowTotal().Sign())

	_, err = f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.ErrorIs(t, err, ErrLoanNotFound)
	require.Equal(t, EventTypeLoanDefaulted, f.emitter.lastType())
}

func TestRedeemGuards(t *testing.T) {
	f := newFixture(t)
	f.request(t)
	f.fund(t)

	// Funded but never withdrawn: neither branch applies.
	_, err := f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.ErrorIs(t, err, ErrNotYetRedeemable)

	f.withdraw(t)

	_, err = f.engine.RedeemLoanOrNFT(f.applicant, f.id())
	require.ErrorIs(t, err, ErrNotFundedByYou)

	// Active and before the deadline.
	f.now = 1_700_000_000 + f.duration
	_, err = f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.ErrorIs(t, err, ErrNotYetRedeemable)
}

func TestEscrowConservationAcrossLifecycle(t *testing.T) {
	f := newFixture(t)

	check := func(stage string) {
		require.Equal(t, 0, f.state.balance(VaultAddress()).Cmp(f.state.escrowTotal()),
			"vault balance diverged from escrow records at %s", stage)
	}

	f.request(t)
	check("requested")
	f.fund(t)
	check("funded")
	f.withdraw(t)
	check("withdrawn")

	f.now += 100_000
	interest, err := f.engine.LoanInterest(f.id())
	require.NoError(t, err)
	value := new(big.Int).Add(f.amount, new(big.Int).Mul(interest, big.NewInt(2)))
	require.NoError(t, f.state.PutAccount(f.applicant, &types.Account{Balance: new(big.Int).Set(value)}))
	_, err = f.engine.RepayLoan(f.applicant, f.id(), value)
	require.NoError(t, err)
	check("repaid")

	_, err = f.engine.RedeemLoanOrNFT(f.supplier, f.id())
	require.NoError(t, err)
	check("redeemed")
	require.Equal(t, 0, f.state.balance(VaultAddress()).Sign(), "registry balance must return to zero after settlement")
}

func TestListSurfaces(t *testing.T) {
	f := newFixture(t)
	f.request(t)

	requests, err := f.engine.ListLoanRequests()
	require.NoError(t, err)
	require.Len(t, requests, 1)

	loans, err := f.engine.ListLoans()
	require.NoError(t, err)
	require.Len(t, loans, 0)

	f.fund(t)

	requests, err = f.engine.ListLoanRequests()
	require.NoError(t, err)
	require.Len(t, requests, 0)

	loans, err = f.engine.ListLoans()
	require.NoError(t, err)
	require.Len(t, loans, 1)
}
