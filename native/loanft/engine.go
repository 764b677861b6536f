package loanft

import (
	"errors"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"loanft/core/events"
	"loanft/core/types"
)

var (
	errNilState      = errors.New("loanft engine: state not configured")
	errNilCollateral = errors.New("loanft engine: collateral registry not configured")
)

// vaultAddress is the module-owned account that holds escrowed funds and
// custodies collateral for the lifetime of a request or loan.
var vaultAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("loanft/module/vault"))[12:])
	return addr
}()

// VaultAddress returns the registry vault account. Applicants approve this
// address on the collateral registry before submitting a request.
func VaultAddress() [20]byte { return vaultAddress }

// engineState is the subset of state-manager functionality required by the
// loan engine.
type engineState interface {
	LoanRequestPut(*LoanRequest) error
	LoanRequestGet(id [32]byte) (*LoanRequest, bool, error)
	LoanRequestDelete(id [32]byte) error
	LoanRequestList() ([]*LoanRequest, error)
	LoanPut(*Loan) error
	LoanGet(id [32]byte) (*Loan, bool, error)
	LoanDelete(id [32]byte) error
	LoanList() ([]*Loan, error)
	EscrowCredit(id [32]byte, amount *big.Int) error
	EscrowDebit(id [32]byte, amount *big.Int) error
	EscrowBalance(id [32]byte) (*big.Int, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
}

// CollateralRegistry is the NFT ownership collaborator the engine consumes.
// Transfer must fail unless from currently owns the token.
type CollateralRegistry interface {
	OwnerOf(contract [20]byte, tokenID *big.Int) ([20]byte, error)
	Approved(contract [20]byte, tokenID *big.Int) ([20]byte, error)
	Transfer(contract [20]byte, tokenID *big.Int, from, to [20]byte) error
}

type loanEvent struct {
	evt *types.Event
}

func (e loanEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loanEvent) Attributes() map[string]string {
	if e.evt == nil {
		return map[string]string{}
	}
	return e.evt.Attributes
}

func (e loanEvent) Event() *types.Event { return e.evt }

// Engine owns the loan request registry, the loan registry and the escrow
// bookkeeping around them. All five state-transition entry points run under a
// single mutex so concurrent RPC calls observe serialized, all-or-nothing
// transitions; validation happens before the first write of each transition so
// a failed call leaves no partial effects behind.
type Engine struct {
	mu         sync.Mutex
	state      engineState
	collateral CollateralRegistry
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine creates a loan engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollateral configures the NFT registry the engine escrows tokens with.
func (e *Engine) SetCollateral(registry CollateralRegistry) { e.collateral = registry }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(loanEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil {
		return errNilCollateral
	}
	return nil
}

// transferValue moves native currency between ledger accounts.
func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrInvalidParams
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) hasBalance(addr [20]byte, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	if types.EnsureAccount(acc).Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// RequestLoan registers a pending loan request and escrows the collateral NFT
// with the registry vault. The caller becomes the applicant. No currency moves
// here.
func (e *Engine) RequestLoan(applicant, nftContract [20]byte, tokenID, amount *big.Int, duration int64, yearlyInterestRate *big.Int) (*LoanRequest, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || duration <= 0 {
		return nil, ErrInvalidParams
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, ErrInvalidParams
	}
	if yearlyInterestRate == nil || yearlyInterestRate.Sign() < 0 {
		return nil, ErrInvalidParams
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id := LoanID(applicant, nftContract, tokenID)
	if _, ok, err := e.state.LoanRequestGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrDuplicateRequest
	}
	if _, ok, err := e.state.LoanGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrDuplicateLoan
	}
	owner, err := e.collateral.OwnerOf(nftContract, tokenID)
	if err != nil {
		return nil, err
	}
	if owner != applicant {
		return nil, ErrNotTokenOwner
	}
	approved, err := e.collateral.Approved(nftContract, tokenID)
	if err != nil {
		return nil, err
	}
	if approved != vaultAddress {
		return nil, ErrTokenNotApproved
	}
	req := &LoanRequest{
		ID:                 id,
		Applicant:          applicant,
		NFTContract:        nftContract,
		TokenID:            cloneBigInt(tokenID),
		Amount:             cloneBigInt(amount),
		YearlyInterestRate: cloneBigInt(yearlyInterestRate),
		Duration:           duration,
		CreatedAt:          e.now(),
	}
	if err := e.state.LoanRequestPut(req); err != nil {
		return nil, err
	}
	if err := e.collateral.Transfer(nftContract, tokenID, applicant, vaultAddress); err != nil {
		// Roll the registration back so a failed custody transfer leaves no
		// pending request behind.
		_ = e.state.LoanRequestDelete(id)
		return nil, err
	}
	e.emit(NewRequestedEvent(req))
	return req.Clone(), nil
}

// ProvideLiquidity funds a pending request with exactly the requested amount.
// The request is consumed and a loan record with the same identifier is
// created; the funds stay escrowed until the applicant withdraws. The first
// supplier to execute wins: a racing second call observes the request as
// already deleted and fails with ErrRequestNotFound.
func (e *Engine) ProvideLiquidity(supplier [20]byte, id [32]byte, value *big.Int) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidParams
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok, err := e.state.LoanRequestGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Amount.Cmp(value) != 0 {
		return nil, ErrWrongAmount
	}
	if err := e.hasBalance(supplier, value); err != nil {
		return nil, err
	}
	// Consume the request before accepting funds so the id can never be funded
	// twice, then create the loan under the same identifier.
	if err := e.state.LoanRequestDelete(id); err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:                 id,
		Applicant:          req.Applicant,
		Supplier:           supplier,
		NFTContract:        req.NFTContract,
		TokenID:            cloneBigInt(req.TokenID),
		Amount:             cloneBigInt(req.Amount),
		YearlyInterestRate: cloneBigInt(req.YearlyInterestRate),
		Duration:           req.Duration,
		FundedAt:           e.now(),
		RepaidAmount:       big.NewInt(0),
		Status:             StatusFunded,
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.transferValue(supplier, vaultAddress, value); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(id, value); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(loan))
	return loan.Clone(), nil
}

// WithdrawLoan disburses the escrowed principal to the applicant and activates
// the loan. Interest accrues and the repayment deadline runs from this moment,
// not from funding.
func (e *Engine) WithdrawLoan(applicant [20]byte, id [32]byte) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Applicant != applicant {
		return nil, ErrNotYourLoan
	}
	if loan.Status != StatusFunded {
		return nil, ErrWrongState
	}
	now := e.now()
	loan.StartTimestamp = now
	loan.Deadline = now + loan.Duration
	loan.Status = StatusActive
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.state.EscrowDebit(id, loan.Amount); err != nil {
		return nil, err
	}
	if err := e.transferValue(vaultAddress, applicant, loan.Amount); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(loan))
	return loan.Clone(), nil
}

// RepayLoan settles the applicant's debt before the deadline. The attached
// value must cover principal plus interest accrued as of this call; the full
// value is escrowed for the supplier, excess included. The collateral stays in
// custody until the supplier redeems.
func (e *Engine) RepayLoan(applicant [20]byte, id [32]byte, value *big.Int) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidParams
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Applicant != applicant {
		return nil, ErrNotYourLoan
	}
	if loan.Status != StatusActive {
		return nil, ErrWrongState
	}
	now := e.now()
	if now > loan.Deadline {
		return nil, ErrTooLate
	}
	due := new(big.Int).Add(loan.Amount, AccruedInterest(loan, now))
	if value.Cmp(due) < 0 {
		return nil, ErrInsufficientPayment
	}
	if err := e.hasBalance(applicant, value); err != nil {
		return nil, err
	}
	loan.Status = StatusRepaid
	loan.RepaidAmount = cloneBigInt(value)
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.transferValue(applicant, vaultAddress, value); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(id, value); err != nil {
		return nil, err
	}
	e.emit(NewRepaidEvent(loan))
	return loan.Clone(), nil
}

// RedeemLoanOrNFT is the single exit point that settles and deletes a loan.
// For a repaid loan the supplier collects the escrowed repayment and the
// collateral returns to the applicant. For an active loan past its deadline
// the supplier claims the collateral instead; the principal was disbursed at
// withdrawal and never came back. A second call on the same identifier fails
// with ErrLoanNotFound because the record is gone.
func (e *Engine) RedeemLoanOrNFT(supplier [20]byte, id [32]byte) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Supplier != supplier {
		return nil, ErrNotFundedByYou
	}
	now := e.now()
	switch {
	case loan.Status == StatusRepaid:
		payout, err := e.state.EscrowBalance(id)
		if err != nil {
			return nil, err
		}
		loan.Status = StatusClosed
		if err := e.state.LoanDelete(id); err != nil {
			return nil, err
		}
		if err := e.state.EscrowDebit(id, payout); err != nil {
			return nil, err
		}
		if err := e.transferValue(vaultAddress, supplier, payout); err != nil {
			return nil, err
		}
		if err := e.collateral.Transfer(loan.NFTContract, loan.TokenID, vaultAddress, loan.Applicant); err != nil {
			return nil, err
		}
		e.emit(NewRedeemedEvent(loan, payout))
		return loan.Clone(), nil
	case loan.Status == StatusActive && now > loan.Deadline:
		loan.Status = StatusClosed
		if err := e.state.LoanDelete(id); err != nil {
			return nil, err
		}
		if err := e.collateral.Transfer(loan.NFTContract, loan.TokenID, vaultAddress, supplier); err != nil {
			return nil, err
		}
		e.emit(NewDefaultedEvent(loan))
		return loan.Clone(), nil
	default:
		return nil, ErrNotYetRedeemable
	}
}

// GetLoanRequest returns the pending request stored under id.
func (e *Engine) GetLoanRequest(id [32]byte) (*LoanRequest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	req, ok, err := e.state.LoanRequestGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req.Clone(), nil
}

// GetLoan returns the loan stored under id.
func (e *Engine) GetLoan(id [32]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

// ListLoanRequests enumerates every pending request.
func (e *Engine) ListLoanRequests() ([]*LoanRequest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.LoanRequestList()
}

// ListLoans enumerates every unsettled loan.
func (e *Engine) ListLoans() ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.LoanList()
}

// LoanInterest computes the interest owed on the loan as of now. The value is
// derived from the loan terms on every call and never cached.
func (e *Engine) LoanInterest(id [32]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return AccruedInterest(loan, e.now()), nil
}

// EscrowedFunds reports the currency currently escrowed under a loan id.
func (e *Engine) EscrowedFunds(id [32]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowBalance(id)
}
