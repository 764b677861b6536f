package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"loanft/core/types"
	"loanft/native/loanft"
	"loanft/storage"
)

// ErrEscrowUnderflow marks a debit exceeding the escrowed balance for a loan.
var ErrEscrowUnderflow = errors.New("state: escrow balance underflow")

// Manager provides typed access to the ledger's keyed store: accounts, loan
// requests, loans, per-loan escrow balances, NFT custody records and the event
// journal. Records are JSON-encoded under prefixed keys.
type Manager struct {
	db storage.Database

	seqMu sync.Mutex
}

// NewManager constructs a state manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put(key, raw)
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

// --- Accounts ---

// GetAccount loads the account stored for addr, returning a zero-balance
// account when none exists yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	acc := &types.Account{}
	ok, err := m.getJSON(accountKey(addr), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return types.EnsureAccount(acc), nil
}

// PutAccount persists the account for addr.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	return m.putJSON(accountKey(addr), types.EnsureAccount(acc))
}

// InitGenesis applies the configured balance allocations exactly once per
// database. It reports whether the seed ran.
func (m *Manager) InitGenesis(allocs map[[20]byte]*big.Int) (bool, error) {
	applied, err := m.db.Has(genesisAppliedKey)
	if err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	for addr, balance := range allocs {
		acc, err := m.GetAccount(addr)
		if err != nil {
			return false, err
		}
		acc.Balance = new(big.Int).Set(balance)
		if err := m.PutAccount(addr, acc); err != nil {
			return false, err
		}
	}
	if err := m.db.Put(genesisAppliedKey, []byte{1}); err != nil {
		return false, err
	}
	return true, nil
}

// --- Loan requests ---

func (m *Manager) LoanRequestPut(req *loanft.LoanRequest) error {
	if req == nil {
		return fmt.Errorf("state: nil loan request")
	}
	return m.putJSON(loanRequestKey(req.ID), req)
}

func (m *Manager) LoanRequestGet(id [32]byte) (*loanft.LoanRequest, bool, error) {
	req := &loanft.LoanRequest{}
	ok, err := m.getJSON(loanRequestKey(id), req)
	if err != nil || !ok {
		return nil, false, err
	}
	return req, true, nil
}

func (m *Manager) LoanRequestDelete(id [32]byte) error {
	return m.db.Delete(loanRequestKey(id))
}

func (m *Manager) LoanRequestList() ([]*loanft.LoanRequest, error) {
	out := []*loanft.LoanRequest{}
	err := m.db.Iterate(loanRequestPrefix, func(_, value []byte) error {
		req := &loanft.LoanRequest{}
		if err := json.Unmarshal(value, req); err != nil {
			return fmt.Errorf("state: decode loan request: %w", err)
		}
		out = append(out, req)
		return nil
	})
	return out, err
}

// --- Loans ---

func (m *Manager) LoanPut(loan *loanft.Loan) error {
	if loan == nil {
		return fmt.Errorf("state: nil loan")
	}
	return m.putJSON(loanKey(loan.ID), loan)
}

func (m *Manager) LoanGet(id [32]byte) (*loanft.Loan, bool, error) {
	loan := &loanft.Loan{}
	ok, err := m.getJSON(loanKey(id), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan, true, nil
}

func (m *Manager) LoanDelete(id [32]byte) error {
	return m.db.Delete(loanKey(id))
}

func (m *Manager) LoanList() ([]*loanft.Loan, error) {
	out := []*loanft.Loan{}
	err := m.db.Iterate(loanPrefix, func(_, value []byte) error {
		loan := &loanft.Loan{}
		if err := json.Unmarshal(value, loan); err != nil {
			return fmt.Errorf("state: decode loan: %w", err)
		}
		out = append(out, loan)
		return nil
	})
	return out, err
}

// --- Escrow balances ---

// EscrowCredit increases the currency amount recorded against a loan id.
func (m *Manager) EscrowCredit(id [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: escrow credit must be non-negative")
	}
	balance, err := m.EscrowBalance(id)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return m.putJSON(escrowKey(id), balance)
}

// EscrowDebit decreases the currency amount recorded against a loan id. The
// record is removed once it reaches zero.
func (m *Manager) EscrowDebit(id [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: escrow debit must be non-negative")
	}
	balance, err := m.EscrowBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrEscrowUnderflow
	}
	balance.Sub(balance, amount)
	if balance.Sign() == 0 {
		return m.db.Delete(escrowKey(id))
	}
	return m.putJSON(escrowKey(id), balance)
}

// EscrowBalance reports the currency currently escrowed under a loan id.
func (m *Manager) EscrowBalance(id [32]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.getJSON(escrowKey(id), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// EscrowTotal sums every per-loan escrow record. The invariant checked by the
// test suite: this total always equals the vault account balance and drops to
// zero once all loans are settled.
func (m *Manager) EscrowTotal() (*big.Int, error) {
	total := big.NewInt(0)
	err := m.db.Iterate(escrowPrefix, func(_, value []byte) error {
		entry := new(big.Int)
		if err := json.Unmarshal(value, entry); err != nil {
			return fmt.Errorf("state: decode escrow balance: %w", err)
		}
		total.Add(total, entry)
		return nil
	})
	return total, err
}

// --- NFT custody records ---

type nftRecord struct {
	Address [20]byte `json:"address"`
}

// NFTOwner reports the current owner of a token, if the token exists.
func (m *Manager) NFTOwner(contract [20]byte, tokenID *big.Int) ([20]byte, bool, error) {
	rec := &nftRecord{}
	ok, err := m.getJSON(nftKey(nftOwnerPrefix, contract, tokenID), rec)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return rec.Address, true, nil
}

// NFTSetOwner records the owner of a token.
func (m *Manager) NFTSetOwner(contract [20]byte, tokenID *big.Int, owner [20]byte) error {
	return m.putJSON(nftKey(nftOwnerPrefix, contract, tokenID), &nftRecord{Address: owner})
}

// NFTApproved reports the account approved to transfer a token, if any.
func (m *Manager) NFTApproved(contract [20]byte, tokenID *big.Int) ([20]byte, bool, error) {
	rec := &nftRecord{}
	ok, err := m.getJSON(nftKey(nftApprovalPrefix, contract, tokenID), rec)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return rec.Address, true, nil
}

// NFTSetApproved records the transfer approval for a token.
func (m *Manager) NFTSetApproved(contract [20]byte, tokenID *big.Int, operator [20]byte) error {
	return m.putJSON(nftKey(nftApprovalPrefix, contract, tokenID), &nftRecord{Address: operator})
}

// NFTClearApproved removes any transfer approval for a token.
func (m *Manager) NFTClearApproved(contract [20]byte, tokenID *big.Int) error {
	return m.db.Delete(nftKey(nftApprovalPrefix, contract, tokenID))
}

// --- Event journal ---

// StoredEvent is a journalled state-transition notification.
type StoredEvent struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// AppendEvent journals an emitted event under the next sequence number.
func (m *Manager) AppendEvent(eventType string, attributes map[string]string) error {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	var seq uint64
	ok, err := m.getJSON(eventSequenceKey, &seq)
	if err != nil {
		return err
	}
	if !ok {
		seq = 0
	}
	seq++
	evt := &StoredEvent{Sequence: seq, Type: eventType, Attributes: attributes}
	if err := m.putJSON(eventKey(seq), evt); err != nil {
		return err
	}
	return m.putJSON(eventSequenceKey, seq)
}

// ListEvents returns journalled events in sequence order. A non-empty
// typePrefix filters by event type; limit > 0 caps the result length,
// returning the most recent entries.
func (m *Manager) ListEvents(typePrefix string, limit int) ([]*StoredEvent, error) {
	out := []*StoredEvent{}
	err := m.db.Iterate(eventPrefix, func(_, value []byte) error {
		evt := &StoredEvent{}
		if err := json.Unmarshal(value, evt); err != nil {
			return fmt.Errorf("state: decode event: %w", err)
		}
		if typePrefix != "" && !hasPrefix(evt.Type, typePrefix) {
			return nil
		}
		out = append(out, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
