package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"loanft/native/loanft"
	"loanft/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testID(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	addr := testAddr(0x01)

	acc, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, 0, acc.Balance.Sign(), "unknown accounts read as zero balance")

	acc.Balance = big.NewInt(12345)
	acc.Nonce = 7
	require.NoError(t, m.PutAccount(addr, acc))

	got, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, 0, got.Balance.Cmp(big.NewInt(12345)))
	require.Equal(t, uint64(7), got.Nonce)
}

func TestInitGenesisRunsOnce(t *testing.T) {
	m := newTestManager(t)
	addr := testAddr(0x02)
	allocs := map[[20]byte]*big.Int{addr: big.NewInt(1000)}

	seeded, err := m.InitGenesis(allocs)
	require.NoError(t, err)
	require.True(t, seeded)

	acc, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, 0, acc.Balance.Cmp(big.NewInt(1000)))

	// Mutate the balance, then attempt a reseed: nothing may change.
	acc.Balance = big.NewInt(1)
	require.NoError(t, m.PutAccount(addr, acc))

	seeded, err = m.InitGenesis(allocs)
	require.NoError(t, err)
	require.False(t, seeded)

	acc, err = m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, 0, acc.Balance.Cmp(big.NewInt(1)))
}

func TestLoanRequestCRUD(t *testing.T) {
	m := newTestManager(t)
	req := &loanft.LoanRequest{
		ID:                 testID(0x10),
		Applicant:          testAddr(0x11),
		NFTContract:        testAddr(0x12),
		TokenID:            big.NewInt(5),
		Amount:             big.NewInt(1_000_000),
		YearlyInterestRate: big.NewInt(50_000),
		Duration:           3600,
		CreatedAt:          1_700_000_000,
	}
	require.NoError(t, m.LoanRequestPut(req))

	got, ok, err := m.LoanRequestGet(req.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, req.Applicant, got.Applicant)
	require.Equal(t, 0, got.Amount.Cmp(req.Amount))
	require.Equal(t, req.Duration, got.Duration)

	list, err := m.LoanRequestList()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, m.LoanRequestDelete(req.ID))
	_, ok, err = m.LoanRequestGet(req.ID)
	require.NoError(t, err)
	require.False(t, ok)

	list, err = m.LoanRequestList()
	require.NoError(t, err)
	require.Len(t, list, 0)
}

func TestLoanCRUD(t *testing.T) {
	m := newTestManager(t)
	loan := &loanft.Loan{
		ID:                 testID(0x20),
		Applicant:          testAddr(0x21),
		Supplier:           testAddr(0x22),
		NFTContract:        testAddr(0x23),
		TokenID:            big.NewInt(9),
		Amount:             big.NewInt(500),
		YearlyInterestRate: big.NewInt(100),
		Duration:           7200,
		FundedAt:           1_700_000_000,
		StartTimestamp:     1_700_000_100,
		Deadline:           1_700_007_300,
		RepaidAmount:       big.NewInt(0),
		Status:             loanft.StatusActive,
	}
	require.NoError(t, m.LoanPut(loan))

	got, ok, err := m.LoanGet(loan.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, loanft.StatusActive, got.Status)
	require.Equal(t, loan.Deadline, got.Deadline)
	require.Equal(t, loan.Supplier, got.Supplier)

	list, err := m.LoanList()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, m.LoanDelete(loan.ID))
	_, ok, err = m.LoanGet(loan.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEscrowAccounting(t *testing.T) {
	m := newTestManager(t)
	first := testID(0x31)
	second := testID(0x32)

	require.NoError(t, m.EscrowCredit(first, big.NewInt(100)))
	require.NoError(t, m.EscrowCredit(first, big.NewInt(50)))
	require.NoError(t, m.EscrowCredit(second, big.NewInt(25)))

	balance, err := m.EscrowBalance(first)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(big.NewInt(150)))

	total, err := m.EscrowTotal()
	require.NoError(t, err)
	require.Equal(t, 0, total.Cmp(big.NewInt(175)))

	require.ErrorIs(t, m.EscrowDebit(first, big.NewInt(151)), ErrEscrowUnderflow)

	require.NoError(t, m.EscrowDebit(first, big.NewInt(150)))
	balance, err = m.EscrowBalance(first)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Sign(), "fully debited escrow reads as zero")

	total, err = m.EscrowTotal()
	require.NoError(t, err)
	require.Equal(t, 0, total.Cmp(big.NewInt(25)))
}

func TestNFTRecords(t *testing.T) {
	m := newTestManager(t)
	contract := testAddr(0x41)
	tokenID := big.NewInt(3)
	owner := testAddr(0x42)
	operator := testAddr(0x43)

	_, ok, err := m.NFTOwner(contract, tokenID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.NFTSetOwner(contract, tokenID, owner))
	got, ok, err := m.NFTOwner(contract, tokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, owner, got)

	require.NoError(t, m.NFTSetApproved(contract, tokenID, operator))
	approved, ok, err := m.NFTApproved(contract, tokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, operator, approved)

	require.NoError(t, m.NFTClearApproved(contract, tokenID))
	_, ok, err = m.NFTApproved(contract, tokenID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEventJournal(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.AppendEvent("loanft.requested", map[string]string{"id": "01"}))
	require.NoError(t, m.AppendEvent("loanft.funded", map[string]string{"id": "01"}))
	require.NoError(t, m.AppendEvent("nft.minted", map[string]string{"token": "1"}))

	all, err := m.ListEvents("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(1), all[0].Sequence)
	require.Equal(t, uint64(3), all[2].Sequence)
	require.Equal(t, "loanft.requested", all[0].Type)

	filtered, err := m.ListEvents("loanft.", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	limited, err := m.ListEvents("", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, uint64(2), limited[0].Sequence, "limit keeps the most recent entries")
}
