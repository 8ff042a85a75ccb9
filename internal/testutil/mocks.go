// Package testutil provides in-memory fakes of the payment core's external
// collaborators (the ledger, the custodian, and the payment protocol
// client) with call counting for at-most-once and no-side-effect
// assertions.
package testutil

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/darkresearch/paykit/pkg/custodian"
	"github.com/darkresearch/paykit/pkg/ledger"
)

// MockLedger is an in-memory ledger. Balances are keyed by owner address;
// broadcasting a transaction drains the fee payer's balances into
// SweepTarget and confirms the signature, which is enough to model the
// reclaim sweep without replaying program semantics.
type MockLedger struct {
	mu sync.Mutex

	lamports map[solana.PublicKey]uint64
	tokens   map[solana.PublicKey]ledger.TokenBalance
	status   map[solana.Signature]ledger.ConfirmationStatus

	// SweepTarget receives drained balances on Broadcast.
	SweepTarget solana.PublicKey
	// BroadcastErr makes Broadcast fail without moving balances.
	BroadcastErr error
	// Calls counts invocations by method name.
	Calls map[string]int
}

// NewMockLedger returns an empty ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		lamports: make(map[solana.PublicKey]uint64),
		tokens:   make(map[solana.PublicKey]ledger.TokenBalance),
		status:   make(map[solana.Signature]ledger.ConfirmationStatus),
		Calls:    make(map[string]int),
	}
}

// CreditLamports adds native balance to addr.
func (m *MockLedger) CreditLamports(addr solana.PublicKey, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lamports[addr] += amount
}

// CreditTokens adds token balance to owner, creating the account.
func (m *MockLedger) CreditTokens(owner solana.PublicKey, amount uint64, decimals uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.tokens[owner]
	bal.Units += amount
	bal.Decimals = decimals
	bal.Exists = true
	m.tokens[owner] = bal
}

// SetStatus scripts the confirmation status of a signature.
func (m *MockLedger) SetStatus(sig solana.Signature, st ledger.ConfirmationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[sig] = st
}

// TotalCalls returns the number of ledger invocations across all methods.
func (m *MockLedger) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		n += c
	}
	return n
}

// Broadcast drains the fee payer into SweepTarget and confirms the
// signature, unless BroadcastErr is scripted.
func (m *MockLedger) Broadcast(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Broadcast"]++

	if m.BroadcastErr != nil {
		return solana.Signature{}, m.BroadcastErr
	}

	payer := tx.Message.AccountKeys[0]
	m.lamports[m.SweepTarget] += m.lamports[payer]
	m.lamports[payer] = 0
	if bal, ok := m.tokens[payer]; ok {
		target := m.tokens[m.SweepTarget]
		target.Units += bal.Units
		target.Decimals = bal.Decimals
		target.Exists = true
		m.tokens[m.SweepTarget] = target
		delete(m.tokens, payer)
	}

	sig := randomSignature()
	m.status[sig] = ledger.StatusConfirmed
	return sig, nil
}

// Confirmation reports a scripted status, defaulting to pending.
func (m *MockLedger) Confirmation(_ context.Context, sig solana.Signature) (ledger.ConfirmationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Confirmation"]++
	return m.status[sig], nil
}

// Lamports returns the native balance of addr.
func (m *MockLedger) Lamports(_ context.Context, addr solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Lamports"]++
	return m.lamports[addr], nil
}

// TokenBalance returns owner's token balance for any mint.
func (m *MockLedger) TokenBalance(_ context.Context, owner, _ solana.PublicKey) (ledger.TokenBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["TokenBalance"]++
	return m.tokens[owner], nil
}

// LatestBlockhash returns a random hash.
func (m *MockLedger) LatestBlockhash(_ context.Context) (solana.Hash, error) {
	m.mu.Lock()
	m.Calls["LatestBlockhash"]++
	m.mu.Unlock()
	var h solana.Hash
	_, _ = rand.Read(h[:])
	return h, nil
}

// MockCustodian implements custodian.Handle against a MockLedger: a
// successful transfer credits the destination and confirms its signature
// immediately. Native and token legs can be failed or left unconfirmed
// independently.
type MockCustodian struct {
	mu sync.Mutex

	Addr   solana.PublicKey
	Ledger *MockLedger

	// NativeErr / TokenErr fail the respective leg.
	NativeErr error
	TokenErr  error
	// NativePending / TokenPending broadcast the leg but never confirm it
	// and never credit the destination.
	NativePending bool
	TokenPending  bool

	Transfers []custodian.TransferRequest
}

// Address returns the mock custodial address.
func (m *MockCustodian) Address() solana.PublicKey {
	return m.Addr
}

// Transfer records the request and applies it to the mock ledger.
func (m *MockCustodian) Transfer(_ context.Context, req custodian.TransferRequest) (string, error) {
	m.mu.Lock()
	m.Transfers = append(m.Transfers, req)
	m.mu.Unlock()

	native := req.Mint == nil
	if native && m.NativeErr != nil {
		return "", m.NativeErr
	}
	if !native && m.TokenErr != nil {
		return "", m.TokenErr
	}

	sig := randomSignature()
	if (native && m.NativePending) || (!native && m.TokenPending) {
		m.Ledger.SetStatus(sig, ledger.StatusPending)
		return sig.String(), nil
	}

	if native {
		m.Ledger.CreditLamports(req.Destination, req.Amount)
	} else {
		m.Ledger.CreditTokens(req.Destination, req.Amount, 6)
	}
	m.Ledger.SetStatus(sig, ledger.StatusConfirmed)
	return sig.String(), nil
}

// TransferCount returns how many transfers were requested.
func (m *MockCustodian) TransferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Transfers)
}

// MockFetcher implements the orchestrator's ResourceFetcher.
type MockFetcher struct {
	mu sync.Mutex

	Body []byte
	Err  error

	Calls   int
	LastURL string
	LastMax *big.Int
}

// FetchPaidResource records the call and returns the scripted result.
func (m *MockFetcher) FetchPaidResource(_ context.Context, url string, _ solana.PrivateKey, maxAmount *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.LastURL = url
	m.LastMax = new(big.Int).Set(maxAmount)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Body, nil
}

func randomSignature() solana.Signature {
	var sig solana.Signature
	_, _ = rand.Read(sig[:])
	return sig
}
